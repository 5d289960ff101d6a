package store

import (
	"context"
	"sync"
	"time"

	"github.com/BTreeMap/ScreenPipe/internal/models"
)

// InMemoryStore keeps everything in process memory. Used for tests and when no
// DSN is configured.
type InMemoryStore struct {
	mu          sync.RWMutex
	states      map[string]models.ConversationState
	transcripts map[string][]models.TranscriptEntry
	dedup       map[string]*DedupRecord
}

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		states:      make(map[string]models.ConversationState),
		transcripts: make(map[string][]models.TranscriptEntry),
		dedup:       make(map[string]*DedupRecord),
	}
}

func (s *InMemoryStore) GetState(ctx context.Context, sender string) (*models.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[sender]
	if !ok {
		return nil, nil
	}
	return st.Clone(), nil
}

func (s *InMemoryStore) SaveState(ctx context.Context, state models.ConversationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.Sender] = *state.Clone()
	return nil
}

func (s *InMemoryStore) DeleteState(ctx context.Context, sender string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, sender)
	return nil
}

func (s *InMemoryStore) AppendTranscript(ctx context.Context, entry models.TranscriptEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcripts[entry.Sender] = append(s.transcripts[entry.Sender], entry)
	return nil
}

func (s *InMemoryStore) GetTranscript(ctx context.Context, sender string) ([]models.TranscriptEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.TranscriptEntry(nil), s.transcripts[sender]...), nil
}

func (s *InMemoryStore) ForgetInbound(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.dedup, messageID)
	return nil
}

func (s *InMemoryStore) RecordInbound(ctx context.Context, messageID, sender string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dedup[messageID]; ok {
		return false, nil
	}
	s.dedup[messageID] = &DedupRecord{MessageID: messageID, Sender: sender, ReceivedAt: time.Now()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.dedup[messageID]; ok {
		now := time.Now()
		rec.ProcessedAt = &now
	}
	return nil
}

// Close is a no-op.
func (s *InMemoryStore) Close() error {
	return nil
}
