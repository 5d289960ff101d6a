// Package flow implements the screening interview engine: one inbound message
// at a time, it loads the sender's conversation state, runs the classifiers
// through an ordered pipeline of guards, walks the step catalog, and returns
// the next prompt, silence, or the completion signal.
package flow

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/ScreenPipe/internal/catalog"
	"github.com/BTreeMap/ScreenPipe/internal/classify"
	"github.com/BTreeMap/ScreenPipe/internal/metrics"
	"github.com/BTreeMap/ScreenPipe/internal/models"
	"github.com/BTreeMap/ScreenPipe/internal/store"
)

const (
	// DefaultAdminID receives completed interview summaries unless overridden.
	DefaultAdminID = "916200083509@c.us"
	// DefaultNotifyTimeout bounds one background notification.
	DefaultNotifyTimeout = 10 * time.Second
)

// Opts holds optional collaborators of the Engine.
type Opts struct {
	Notifier      Notifier
	Transcript    store.TranscriptLogger
	Metrics       *metrics.Metrics
	AdminID       string
	NotifyTimeout time.Duration
	Now           func() time.Time
}

// Option configures the Engine.
type Option func(*Opts)

// WithNotifier sets the completion notifier.
func WithNotifier(n Notifier) Option {
	return func(o *Opts) { o.Notifier = n }
}

// WithTranscript sets the chat log sink.
func WithTranscript(t store.TranscriptLogger) Option {
	return func(o *Opts) { o.Transcript = t }
}

// WithMetrics sets the Prometheus counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Opts) { o.Metrics = m }
}

// WithAdminID sets the recipient of completion summaries.
func WithAdminID(id string) Option {
	return func(o *Opts) { o.AdminID = id }
}

// WithNotifyTimeout bounds each background notification.
func WithNotifyTimeout(d time.Duration) Option {
	return func(o *Opts) { o.NotifyTimeout = d }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// Engine is safe for concurrent use. Messages from the same sender are
// processed one at a time; different senders proceed in parallel.
type Engine struct {
	catalog    *catalog.Catalog
	faq        *catalog.FAQTable
	classifier *classify.Classifier
	states     *StateManager
	transcript store.TranscriptLogger
	notifier   Notifier
	metrics    *metrics.Metrics

	adminID       string
	notifyTimeout time.Duration
	now           func() time.Time

	guards    []guard
	stepRules map[models.StepID]guardFunc

	locks    *senderLocks
	inflight sync.WaitGroup
}

// New wires an Engine. The catalog, FAQ table, classifier and state store are required.
func New(cat *catalog.Catalog, faq *catalog.FAQTable, cls *classify.Classifier, states store.StateStore, opts ...Option) (*Engine, error) {
	if cat == nil || faq == nil || cls == nil || states == nil {
		return nil, errors.New("flow: catalog, faq table, classifier and state store are required")
	}
	cfg := Opts{
		AdminID:       DefaultAdminID,
		NotifyTimeout: DefaultNotifyTimeout,
		Now:           time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = DefaultNotifyTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	sm := NewStateManager(states, cat)
	sm.now = cfg.Now
	e := &Engine{
		catalog:       cat,
		faq:           faq,
		classifier:    cls,
		states:        sm,
		transcript:    cfg.Transcript,
		notifier:      cfg.Notifier,
		metrics:       cfg.Metrics,
		adminID:       cfg.AdminID,
		notifyTimeout: cfg.NotifyTimeout,
		now:           cfg.Now,
		locks:         newSenderLocks(),
	}
	e.guards = e.pipeline()
	e.stepRules = e.rules()
	slog.Debug("Engine created", "steps", cat.Len(), "faq", len(faq.Entries()), "notifier", cfg.Notifier != nil)
	return e, nil
}

// Process handles one inbound message and returns the reply for the sender.
// An error means the state store failed; the caller should not expose it.
func (e *Engine) Process(ctx context.Context, sender, message string) (models.Reply, error) {
	sender = strings.TrimSpace(sender)
	if sender == "" {
		return models.Reply{}, models.ErrEmptySender
	}
	message = strings.TrimSpace(message)

	unlock := e.locks.Lock(sender)
	defer unlock()

	slog.Debug("Engine Process invoked", "sender", sender, "len", len(message))
	state, err := e.states.Load(ctx, sender)
	if err != nil {
		e.metrics.Message(metrics.OutcomeError)
		return models.Reply{}, err
	}

	t := &turn{sender: sender, message: message, state: state}
	reply, err := e.run(ctx, t)
	if err != nil {
		slog.Error("Engine Process failed", "sender", sender, "step", state.CurrentStep, "error", err)
		e.metrics.Message(metrics.OutcomeError)
		return models.Reply{}, err
	}
	e.metrics.Message(outcomeLabel(reply))
	slog.Debug("Engine Process reply", "sender", sender, "kind", reply.Kind, "step", t.state.CurrentStep)
	return reply, nil
}

// State returns the stored conversation for a sender, or nil if there is none.
func (e *Engine) State(ctx context.Context, sender string) (*models.ConversationState, error) {
	unlock := e.locks.Lock(sender)
	defer unlock()
	return e.states.Peek(ctx, sender)
}

// Reset discards the sender's conversation so the next message starts over.
func (e *Engine) Reset(ctx context.Context, sender string) error {
	unlock := e.locks.Lock(sender)
	defer unlock()
	slog.Info("Engine Reset", "sender", sender)
	return e.states.Delete(ctx, sender)
}

// Close waits for in-flight notifications to finish.
func (e *Engine) Close() error {
	e.inflight.Wait()
	return nil
}

func outcomeLabel(r models.Reply) string {
	switch r.Kind {
	case models.ReplyText:
		return metrics.OutcomeText
	case models.ReplyCompleted:
		return metrics.OutcomeCompleted
	default:
		return metrics.OutcomeSilent
	}
}
