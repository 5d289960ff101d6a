package whatsapp

import (
	"context"
	"sync"
)

// SentMessage is one message captured by MockClient.
type SentMessage struct {
	To   string
	Body string
}

// MockClient is a WhatsAppSender that records instead of sending. Setting
// Err makes every send fail.
type MockClient struct {
	Err error

	mu   sync.Mutex
	sent []SentMessage
}

var _ WhatsAppSender = (*MockClient)(nil)

func NewMockClient() *MockClient { return &MockClient{} }

func (m *MockClient) SendMessage(_ context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.sent = append(m.sent, SentMessage{To: to, Body: body})
	return nil
}

// Sent returns a copy of the recorded messages.
func (m *MockClient) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.sent...)
}
