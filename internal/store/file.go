// JSON snapshot store: all states live in one JSON document keyed by sender,
// and each sender's transcript is a plain text log under chatlogs/ next to it.

package store

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/ScreenPipe/internal/models"
)

const (
	// ChatLogDirName is the transcript directory created beside the snapshot file.
	ChatLogDirName = "chatlogs"
	// DefaultFilePermissions is used for the snapshot and transcript files.
	DefaultFilePermissions = 0644
)

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9@._+-]`)

// FileStore persists the state snapshot to a JSON file. Inbound dedup ids are
// only kept in memory.
type FileStore struct {
	mu     sync.Mutex
	path   string
	logDir string
	states map[string]models.ConversationState
	dedup  *InMemoryStore
}

// Compile-time check that FileStore implements Store.
var _ Store = (*FileStore)(nil)

// NewFileStore loads (or creates) the snapshot at the DSN path.
func NewFileStore(opts ...Option) (*FileStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Error("FileStore path not set")
		return nil, fmt.Errorf("state file path not set")
	}
	dir := filepath.Dir(cfg.DSN)
	logDir := filepath.Join(dir, ChatLogDirName)
	if err := os.MkdirAll(logDir, DefaultDirPermissions); err != nil {
		slog.Error("FileStore failed to create directories", "error", err, "dir", logDir)
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	s := &FileStore{
		path:   cfg.DSN,
		logDir: logDir,
		states: make(map[string]models.ConversationState),
		dedup:  NewInMemoryStore(),
	}
	raw, err := os.ReadFile(cfg.DSN)
	switch {
	case errors.Is(err, os.ErrNotExist):
		slog.Debug("FileStore starting with empty snapshot", "path", cfg.DSN)
	case err != nil:
		return nil, fmt.Errorf("failed to read state file: %w", err)
	case len(strings.TrimSpace(string(raw))) > 0:
		if err := json.Unmarshal(raw, &s.states); err != nil {
			slog.Error("FileStore snapshot is corrupt", "error", err, "path", cfg.DSN)
			return nil, fmt.Errorf("corrupt state file %s: %w", cfg.DSN, err)
		}
		slog.Debug("FileStore loaded snapshot", "path", cfg.DSN, "senders", len(s.states))
	}
	return s, nil
}

func (s *FileStore) GetState(ctx context.Context, sender string) (*models.ConversationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[sender]
	if !ok {
		return nil, nil
	}
	return st.Clone(), nil
}

func (s *FileStore) SaveState(ctx context.Context, state models.ConversationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.states[state.Sender]
	s.states[state.Sender] = *state.Clone()
	if err := s.flushLocked(); err != nil {
		if had {
			s.states[state.Sender] = prev
		} else {
			delete(s.states, state.Sender)
		}
		return err
	}
	return nil
}

func (s *FileStore) DeleteState(ctx context.Context, sender string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.states[sender]
	if !had {
		return nil
	}
	delete(s.states, sender)
	if err := s.flushLocked(); err != nil {
		s.states[sender] = prev
		return err
	}
	return nil
}

// flushLocked rewrites the snapshot through a temporary file and rename.
func (s *FileStore) flushLocked() error {
	raw, err := json.MarshalIndent(s.states, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state snapshot: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, DefaultFilePermissions); err != nil {
		slog.Error("FileStore write failed", "error", err, "path", tmp)
		return fmt.Errorf("failed to write state snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		slog.Error("FileStore rename failed", "error", err, "path", s.path)
		return fmt.Errorf("failed to replace state snapshot: %w", err)
	}
	return nil
}

func (s *FileStore) logPath(sender string) string {
	return filepath.Join(s.logDir, unsafeFileChars.ReplaceAllString(sender, "_")+".txt")
}

// AppendTranscript writes "{timestamp} - {step}: {message}" to the sender's log.
func (s *FileStore) AppendTranscript(ctx context.Context, entry models.TranscriptEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.logPath(entry.Sender), os.O_APPEND|os.O_CREATE|os.O_WRONLY, DefaultFilePermissions)
	if err != nil {
		slog.Error("FileStore AppendTranscript open failed", "error", err, "sender", entry.Sender)
		return fmt.Errorf("failed to open chat log: %w", err)
	}
	defer f.Close()
	line := fmt.Sprintf("%s - %s: %s\n", entry.Time.Format(time.RFC3339Nano), entry.Step, entry.Message)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("failed to write chat log: %w", err)
	}
	return nil
}

// GetTranscript parses the sender's log. Lines without a timestamp prefix
// continue the previous message.
func (s *FileStore) GetTranscript(ctx context.Context, sender string) ([]models.TranscriptEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.Open(s.logPath(sender))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open chat log: %w", err)
	}
	defer f.Close()

	var entries []models.TranscriptEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if e, ok := parseLogLine(sender, line); ok {
			entries = append(entries, e)
			continue
		}
		if n := len(entries); n > 0 {
			entries[n-1].Message += "\n" + line
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read chat log: %w", err)
	}
	return entries, nil
}

func parseLogLine(sender, line string) (models.TranscriptEntry, bool) {
	ts, rest, ok := strings.Cut(line, " - ")
	if !ok {
		return models.TranscriptEntry{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return models.TranscriptEntry{}, false
	}
	step, msg, ok := strings.Cut(rest, ": ")
	if !ok {
		return models.TranscriptEntry{}, false
	}
	return models.TranscriptEntry{Sender: sender, Time: t, Step: models.StepID(step), Message: msg}, true
}

func (s *FileStore) ForgetInbound(ctx context.Context, messageID string) error {
	return s.dedup.ForgetInbound(ctx, messageID)
}

func (s *FileStore) RecordInbound(ctx context.Context, messageID, sender string) (bool, error) {
	return s.dedup.RecordInbound(ctx, messageID, sender)
}

func (s *FileStore) MarkProcessed(ctx context.Context, messageID string) error {
	return s.dedup.MarkProcessed(ctx, messageID)
}

// Close is a no-op; every write is flushed immediately.
func (s *FileStore) Close() error {
	return nil
}
