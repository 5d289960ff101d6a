package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/BTreeMap/ScreenPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions is the mode for directories created to hold database files.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore keeps states, transcripts and the inbound dedup log in one SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens the file named by the DSN option, creating its parent
// directory when missing.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return nil, ErrDSNNotSet
	}

	dir := filepath.Dir(cfg.DSN)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		return nil, fmt.Errorf("sqlite data dir %s: %w", dir, err)
	}
	// One connection serializes writers and avoids SQLITE_BUSY under load.
	db, err := openSQL("sqlite3", cfg.DSN, sqliteMigrations, func(db *sql.DB) { db.SetMaxOpenConns(1) })
	if err != nil {
		slog.Error("SQLiteStore open failed", "dir", dir, "error", err)
		return nil, err
	}
	slog.Debug("SQLiteStore opened", "dir", dir)
	return &SQLiteStore{db: db}, nil
}

// GetState retrieves the conversation state for a sender.
func (s *SQLiteStore) GetState(ctx context.Context, sender string) (*models.ConversationState, error) {
	query := `SELECT sender, current_step, answers, flags, created_at, updated_at
			  FROM conversation_states WHERE sender = ?`

	var state models.ConversationState
	var answers, flags sql.NullString
	err := s.db.QueryRowContext(ctx, query, sender).Scan(
		&state.Sender, &state.CurrentStep, &answers, &flags, &state.CreatedAt, &state.UpdatedAt)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetState not found", "sender", sender)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetState failed", "error", err, "sender", sender)
		return nil, fmt.Errorf("failed to load state for %s: %w", sender, err)
	}
	if err := decodeStateColumns(&state, []byte(answers.String), []byte(flags.String)); err != nil {
		return nil, err
	}
	slog.Debug("SQLiteStore GetState found", "sender", sender, "step", state.CurrentStep)
	return &state, nil
}

// SaveState stores or updates the conversation state for a sender.
func (s *SQLiteStore) SaveState(ctx context.Context, state models.ConversationState) error {
	answers, flags, err := encodeStateColumns(state)
	if err != nil {
		return err
	}
	query := `
		INSERT OR REPLACE INTO conversation_states (sender, current_step, answers, flags, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query, state.Sender, string(state.CurrentStep), answers, flags,
		state.CreatedAt, state.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveState failed", "error", err, "sender", state.Sender)
		return fmt.Errorf("failed to save state for %s: %w", state.Sender, err)
	}
	slog.Debug("SQLiteStore SaveState succeeded", "sender", state.Sender, "step", state.CurrentStep)
	return nil
}

// DeleteState removes the conversation state for a sender.
func (s *SQLiteStore) DeleteState(ctx context.Context, sender string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversation_states WHERE sender = ?`, sender)
	if err != nil {
		slog.Error("SQLiteStore DeleteState failed", "error", err, "sender", sender)
		return fmt.Errorf("failed to delete state for %s: %w", sender, err)
	}
	slog.Debug("SQLiteStore DeleteState succeeded", "sender", sender)
	return nil
}

// AppendTranscript adds one line to the sender's chat log.
func (s *SQLiteStore) AppendTranscript(ctx context.Context, entry models.TranscriptEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcripts (sender, step, message, logged_at) VALUES (?, ?, ?, ?)`,
		entry.Sender, string(entry.Step), entry.Message, entry.Time)
	if err != nil {
		slog.Error("SQLiteStore AppendTranscript failed", "error", err, "sender", entry.Sender)
		return fmt.Errorf("failed to append transcript for %s: %w", entry.Sender, err)
	}
	return nil
}

// GetTranscript returns the sender's chat log in insertion order.
func (s *SQLiteStore) GetTranscript(ctx context.Context, sender string) ([]models.TranscriptEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sender, step, message, logged_at FROM transcripts WHERE sender = ? ORDER BY id`, sender)
	if err != nil {
		slog.Error("SQLiteStore GetTranscript query failed", "error", err, "sender", sender)
		return nil, fmt.Errorf("failed to query transcript: %w", err)
	}
	defer rows.Close()
	return scanTranscript(rows)
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return closeSQL("sqlite3", s.db)
}

// scanTranscript reads transcript rows shared by the SQL backends.
func scanTranscript(rows *sql.Rows) ([]models.TranscriptEntry, error) {
	var entries []models.TranscriptEntry
	for rows.Next() {
		var e models.TranscriptEntry
		if err := rows.Scan(&e.Sender, &e.Step, &e.Message, &e.Time); err != nil {
			slog.Error("store scan transcript failed", "error", err)
			return nil, fmt.Errorf("failed to scan transcript row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transcript rows: %w", err)
	}
	return entries, nil
}
