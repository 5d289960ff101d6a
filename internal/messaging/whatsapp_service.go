package messaging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/ScreenPipe/internal/models"
	"github.com/BTreeMap/ScreenPipe/internal/whatsapp"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"
)

// WhatsAppService carries the screening conversation over a whatsmeow session.
// A bare WhatsAppSender (such as whatsapp.MockClient) can send but never
// receives; inbound events need a connected *whatsapp.Client.
type WhatsAppService struct {
	sender  whatsapp.WhatsAppSender
	session *whatsapp.Client
	in      *inbox
}

var _ Service = (*WhatsAppService)(nil)

// NewWhatsAppService wraps sender. Event subscription happens in Start.
func NewWhatsAppService(sender whatsapp.WhatsAppSender) *WhatsAppService {
	s := &WhatsAppService{sender: sender, in: newInbox("WhatsAppService")}
	s.session, _ = sender.(*whatsapp.Client)
	slog.Debug("WhatsAppService created", "receives_events", s.session != nil)
	return s
}

// ValidateAndCanonicalizeRecipient maps any phone or chat id form to "<digits>@c.us".
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return whatsapp.ChatID(recipient)
}

// Start subscribes to whatsmeow message events.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.session == nil || s.session.GetClient() == nil {
		slog.Debug("WhatsAppService Start: send-only sender, no events to subscribe")
		return nil
	}
	s.session.GetClient().AddEventHandler(s.onEvent)
	slog.Info("WhatsAppService listening for messages")
	return nil
}

// Stop closes Responses. Repeated calls are no-ops.
func (s *WhatsAppService) Stop() error {
	if s.in.close() {
		slog.Info("WhatsAppService stopped")
	}
	return nil
}

// SendMessage delivers body to the chat id to.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	if s.in.isClosed() {
		return ErrServiceStopped
	}
	if err := s.sender.SendMessage(ctx, to, body); err != nil {
		slog.Error("WhatsAppService SendMessage failed", "to", to, "error", err)
		return err
	}
	slog.Debug("WhatsAppService SendMessage ok", "to", to, "body_length", len(body))
	return nil
}

// Responses yields inbound candidate messages until Stop.
func (s *WhatsAppService) Responses() <-chan models.Response {
	return s.in.ch
}

func (s *WhatsAppService) onEvent(evt interface{}) {
	msg, ok := evt.(*events.Message)
	if !ok {
		slog.Debug("WhatsAppService skipping event", "type", fmt.Sprintf("%T", evt))
		return
	}
	s.handleIncomingMessage(msg)
}

// handleIncomingMessage queues one-to-one text messages; everything else is dropped.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil || evt.Info.IsFromMe || evt.Info.IsGroup {
		return
	}
	text, ok := plainText(evt.Message)
	if !ok {
		slog.Debug("WhatsAppService skipping non-text message", "sender", evt.Info.Sender.String())
		return
	}
	from, err := whatsapp.ChatID(evt.Info.Sender.User)
	if err != nil {
		slog.Warn("WhatsAppService sender not a phone number", "sender", evt.Info.Sender.String(), "error", err)
		return
	}
	s.in.push(models.Response{
		ID:   string(evt.Info.ID),
		From: from,
		Body: text,
		Time: evt.Info.Timestamp.Unix(),
	})
}

// plainText extracts the body of a plain or extended text message.
func plainText(m *waE2E.Message) (string, bool) {
	if m.Conversation != nil {
		return m.GetConversation(), true
	}
	if ext := m.GetExtendedTextMessage(); ext != nil && ext.Text != nil {
		return ext.GetText(), true
	}
	return "", false
}
