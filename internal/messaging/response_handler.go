// Package messaging connects chat transports to the screening engine.
package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/BTreeMap/ScreenPipe/internal/models"
	"github.com/BTreeMap/ScreenPipe/internal/store"
)

// Processor turns one inbound message into a reply.
type Processor interface {
	Process(ctx context.Context, sender, message string) (models.Reply, error)
}

// ResponseHandler routes inbound messages from a Service through the engine
// and sends text replies back. Silent and completion outcomes send nothing.
type ResponseHandler struct {
	svc    Service
	engine Processor
	dedup  store.DedupRepo
	wg     sync.WaitGroup
}

// NewResponseHandler wires svc to engine. dedup may be nil.
func NewResponseHandler(svc Service, engine Processor, dedup store.DedupRepo) *ResponseHandler {
	return &ResponseHandler{svc: svc, engine: engine, dedup: dedup}
}

// claim reports whether msgID is new. Messages without an id are always new.
func (rh *ResponseHandler) claim(ctx context.Context, msgID, sender string) (bool, error) {
	if rh.dedup == nil || msgID == "" {
		return true, nil
	}
	return rh.dedup.RecordInbound(ctx, msgID, sender)
}

// release undoes claim after a failed attempt so the redelivery is processed.
func (rh *ResponseHandler) release(ctx context.Context, msgID string) {
	if rh.dedup == nil || msgID == "" {
		return
	}
	if err := rh.dedup.ForgetInbound(ctx, msgID); err != nil {
		slog.Error("ResponseHandler ForgetInbound failed", "id", msgID, "error", err)
	}
}

func (rh *ResponseHandler) done(ctx context.Context, msgID string) {
	if rh.dedup == nil || msgID == "" {
		return
	}
	if err := rh.dedup.MarkProcessed(ctx, msgID); err != nil {
		slog.Warn("ResponseHandler MarkProcessed failed", "id", msgID, "error", err)
	}
}

// ProcessResponse handles one inbound message. A redelivered message id is
// skipped so an interview never advances twice for the same message, unless
// the engine failed on the earlier attempt.
func (rh *ResponseHandler) ProcessResponse(ctx context.Context, msg models.Response) error {
	sender, err := rh.svc.ValidateAndCanonicalizeRecipient(msg.From)
	if err != nil {
		slog.Warn("ResponseHandler rejected sender", "from", msg.From, "error", err)
		return fmt.Errorf("invalid sender %q: %w", msg.From, err)
	}

	first, err := rh.claim(ctx, msg.ID, sender)
	if err != nil {
		return fmt.Errorf("dedup %s: %w", msg.ID, err)
	}
	if !first {
		slog.Info("ResponseHandler duplicate delivery ignored", "from", sender, "id", msg.ID)
		return nil
	}

	reply, err := rh.engine.Process(ctx, sender, msg.Body)
	if err != nil {
		rh.release(ctx, msg.ID)
		return fmt.Errorf("engine process for %s: %w", sender, err)
	}
	if reply.Kind == models.ReplyText && reply.Text != "" {
		if err := rh.svc.SendMessage(ctx, sender, reply.Text); err != nil {
			return fmt.Errorf("send reply to %s: %w", sender, err)
		}
	}
	slog.Debug("ResponseHandler handled message", "from", sender, "reply_kind", reply.Kind)
	rh.done(ctx, msg.ID)
	return nil
}

// Start consumes Responses in a goroutine until the channel closes or ctx ends.
func (rh *ResponseHandler) Start(ctx context.Context) {
	rh.wg.Add(1)
	go rh.run(ctx)
}

func (rh *ResponseHandler) run(ctx context.Context) {
	defer rh.wg.Done()
	slog.Info("ResponseHandler running")
	defer slog.Info("ResponseHandler exited")

	inbound := rh.svc.Responses()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-inbound:
			if !ok {
				return
			}
			if err := rh.ProcessResponse(ctx, msg); err != nil {
				slog.Error("ResponseHandler ProcessResponse failed", "from", msg.From, "error", err)
			}
		}
	}
}

// Wait blocks until the goroutine started by Start has returned.
func (rh *ResponseHandler) Wait() {
	rh.wg.Wait()
}
