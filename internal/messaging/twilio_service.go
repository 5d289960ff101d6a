package messaging

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/ScreenPipe/internal/models"
	"github.com/BTreeMap/ScreenPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/ScreenPipe/internal/whatsapp"
)

// emptyTwiML acknowledges a webhook without an inline reply; replies go out
// through the REST API instead.
const emptyTwiML = "<Response></Response>"

// TwilioService sends through the Twilio REST API and receives through
// TwilioWebhookHandler.
type TwilioService struct {
	sender twiliowhatsapp.Sender
	in     *inbox
}

var _ Service = (*TwilioService)(nil)

// NewTwilioService wraps a Twilio sender (real or mock).
func NewTwilioService(sender twiliowhatsapp.Sender) *TwilioService {
	return &TwilioService{sender: sender, in: newInbox("TwilioService")}
}

// ValidateAndCanonicalizeRecipient maps "whatsapp:+91..." and other forms to "<digits>@c.us".
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return whatsapp.ChatID(recipient)
}

// Start does nothing; inbound traffic is pushed by the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes Responses. Repeated calls are no-ops.
func (s *TwilioService) Stop() error {
	if s.in.close() {
		slog.Info("TwilioService stopped")
	}
	return nil
}

// SendMessage canonicalizes to and hands the message to Twilio.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	if s.in.isClosed() {
		return ErrServiceStopped
	}
	chatID, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendMessage bad recipient", "to", to, "error", err)
		return err
	}
	return s.sender.SendMessage(ctx, chatID, body)
}

// Responses yields webhook messages until Stop.
func (s *TwilioService) Responses() <-chan models.Response {
	return s.in.ch
}

// TwilioWebhookHandler accepts Twilio's form-encoded inbound message callback
// and queues it on Responses.
func (s *TwilioService) TwilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		slog.Warn("TwilioService webhook form unreadable", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	rawFrom, body := r.PostFormValue("From"), r.PostFormValue("Body")
	if rawFrom == "" || body == "" {
		slog.Warn("TwilioService webhook incomplete", "has_from", rawFrom != "", "has_body", body != "")
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}
	from, err := s.ValidateAndCanonicalizeRecipient(rawFrom)
	if err != nil {
		slog.Warn("TwilioService webhook sender rejected", "from", rawFrom, "error", err)
		http.Error(w, "Invalid sender", http.StatusBadRequest)
		return
	}

	s.in.push(models.Response{
		ID:   r.PostFormValue("MessageSid"),
		From: from,
		Body: body,
		Time: time.Now().Unix(),
	})

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, emptyTwiML)
}
