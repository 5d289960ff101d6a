package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/ScreenPipe/internal/models"
	_ "github.com/lib/pq"
)

// Pool limits for the Postgres handle.
const (
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 25
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is the Store for multi-instance deployments.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to the DSN option and applies the schema.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return nil, ErrDSNNotSet
	}
	db, err := openSQL("postgres", cfg.DSN, postgresMigrations, func(db *sql.DB) {
		db.SetMaxOpenConns(DefaultMaxOpenConns)
		db.SetMaxIdleConns(DefaultMaxIdleConns)
		db.SetConnMaxLifetime(DefaultConnMaxLifetime)
	})
	if err != nil {
		slog.Error("PostgresStore open failed", "error", err)
		return nil, err
	}
	slog.Debug("PostgresStore connected")
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreWithDB applies the schema to an existing handle. Tests pass
// a sqlmock connection here.
func NewPostgresStoreWithDB(db *sql.DB) (*PostgresStore, error) {
	if err := applySchema(db, "postgres", postgresMigrations); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// GetState retrieves the conversation state for a sender.
func (s *PostgresStore) GetState(ctx context.Context, sender string) (*models.ConversationState, error) {
	query := `SELECT sender, current_step, answers, flags, created_at, updated_at
			  FROM conversation_states WHERE sender = $1`

	var state models.ConversationState
	var answers, flags []byte
	err := s.db.QueryRowContext(ctx, query, sender).Scan(
		&state.Sender, &state.CurrentStep, &answers, &flags, &state.CreatedAt, &state.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetState failed", "error", err, "sender", sender)
		return nil, fmt.Errorf("failed to load state for %s: %w", sender, err)
	}
	if err := decodeStateColumns(&state, answers, flags); err != nil {
		return nil, err
	}
	slog.Debug("PostgresStore GetState found", "sender", sender, "step", state.CurrentStep)
	return &state, nil
}

// SaveState stores or updates the conversation state for a sender.
func (s *PostgresStore) SaveState(ctx context.Context, state models.ConversationState) error {
	answers, flags, err := encodeStateColumns(state)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO conversation_states (sender, current_step, answers, flags, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (sender)
		DO UPDATE SET current_step = EXCLUDED.current_step, answers = EXCLUDED.answers,
			flags = EXCLUDED.flags, updated_at = EXCLUDED.updated_at`
	_, err = s.db.ExecContext(ctx, query, state.Sender, string(state.CurrentStep), answers, flags,
		state.CreatedAt, state.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveState failed", "error", err, "sender", state.Sender)
		return fmt.Errorf("failed to save state for %s: %w", state.Sender, err)
	}
	slog.Debug("PostgresStore SaveState succeeded", "sender", state.Sender, "step", state.CurrentStep)
	return nil
}

// DeleteState removes the conversation state for a sender.
func (s *PostgresStore) DeleteState(ctx context.Context, sender string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversation_states WHERE sender = $1`, sender)
	if err != nil {
		slog.Error("PostgresStore DeleteState failed", "error", err, "sender", sender)
		return fmt.Errorf("failed to delete state for %s: %w", sender, err)
	}
	slog.Debug("PostgresStore DeleteState succeeded", "sender", sender)
	return nil
}

// AppendTranscript adds one line to the sender's chat log.
func (s *PostgresStore) AppendTranscript(ctx context.Context, entry models.TranscriptEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcripts (sender, step, message, logged_at) VALUES ($1, $2, $3, $4)`,
		entry.Sender, string(entry.Step), entry.Message, entry.Time)
	if err != nil {
		slog.Error("PostgresStore AppendTranscript failed", "error", err, "sender", entry.Sender)
		return fmt.Errorf("failed to append transcript for %s: %w", entry.Sender, err)
	}
	return nil
}

// GetTranscript returns the sender's chat log in insertion order.
func (s *PostgresStore) GetTranscript(ctx context.Context, sender string) ([]models.TranscriptEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sender, step, message, logged_at FROM transcripts WHERE sender = $1 ORDER BY id`, sender)
	if err != nil {
		slog.Error("PostgresStore GetTranscript query failed", "error", err, "sender", sender)
		return nil, fmt.Errorf("failed to query transcript: %w", err)
	}
	defer rows.Close()
	return scanTranscript(rows)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return closeSQL("postgres", s.db)
}
