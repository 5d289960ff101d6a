// Package notify delivers completed-interview summaries to the recruiter.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/ScreenPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/ScreenPipe/internal/whatsapp"
)

// Notification modes accepted by New.
const (
	ModeRelay    = "relay"
	ModeTwilio   = "twilio"
	ModeWhatsApp = "whatsapp"
	ModeLog      = "log"
)

// Notifier sends one message to one recipient.
type Notifier interface {
	Notify(ctx context.Context, to, message string) error
	Name() string
}

// Twilio sends summaries through the Twilio WhatsApp API.
type Twilio struct {
	client twiliowhatsapp.Sender
}

var _ Notifier = (*Twilio)(nil)

// NewTwilio wraps a Twilio sender.
func NewTwilio(client twiliowhatsapp.Sender) *Twilio {
	return &Twilio{client: client}
}

func (t *Twilio) Notify(ctx context.Context, to, message string) error {
	if err := t.client.SendMessage(ctx, to, message); err != nil {
		return fmt.Errorf("twilio notify %s: %w", to, err)
	}
	return nil
}

func (t *Twilio) Name() string { return ModeTwilio }

// WhatsApp sends summaries through the logged-in whatsmeow session.
type WhatsApp struct {
	client whatsapp.WhatsAppSender
}

var _ Notifier = (*WhatsApp)(nil)

// NewWhatsApp wraps a WhatsApp sender.
func NewWhatsApp(client whatsapp.WhatsAppSender) *WhatsApp {
	return &WhatsApp{client: client}
}

func (w *WhatsApp) Notify(ctx context.Context, to, message string) error {
	if err := w.client.SendMessage(ctx, to, message); err != nil {
		return fmt.Errorf("whatsapp notify %s: %w", to, err)
	}
	return nil
}

func (w *WhatsApp) Name() string { return ModeWhatsApp }

// Log writes summaries to the structured log instead of sending them.
type Log struct{}

var _ Notifier = Log{}

func (Log) Notify(ctx context.Context, to, message string) error {
	slog.Info("Notify summary", "to", to, "message", message)
	return nil
}

func (Log) Name() string { return ModeLog }
