// Package store provides storage backends for ScreenPipe.
//
// A backend keeps three things per sender: the current conversation state (a
// best-effort snapshot, deleted when the interview completes), an append-only
// transcript, and inbound message ids for deduplication. In-memory, JSON file,
// SQLite, PostgreSQL and Redis implementations are interchangeable.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/BTreeMap/ScreenPipe/internal/models"
)

// DSN types recognized by DetectDSNType.
const (
	DSNTypePostgres = "postgres"
	DSNTypeRedis    = "redis"
	DSNTypeFile     = "file"
	DSNTypeSQLite   = "sqlite"
	DSNTypeMemory   = "memory"
)

// StateStore persists one conversation state per sender. GetState returns nil
// and no error when the sender has no state.
type StateStore interface {
	GetState(ctx context.Context, sender string) (*models.ConversationState, error)
	SaveState(ctx context.Context, state models.ConversationState) error
	DeleteState(ctx context.Context, sender string) error
}

// TranscriptLogger is the append-only chat log.
type TranscriptLogger interface {
	AppendTranscript(ctx context.Context, entry models.TranscriptEntry) error
	GetTranscript(ctx context.Context, sender string) ([]models.TranscriptEntry, error)
}

// Store is a complete backend.
type Store interface {
	StateStore
	TranscriptLogger
	DedupRepo
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithDSN sets the connection string or path of the backend.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets a PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return WithDSN(dsn)
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return WithDSN(dsn)
}

// postgresKeyValueRegex matches libpq key/value connection strings.
var postgresKeyValueRegex = regexp.MustCompile(`(^|\s)(host|dbname|user)=`)

// DetectDSNType classifies a DSN: PostgreSQL URLs or key/value strings, Redis
// URLs, JSON snapshot files, and anything else as a SQLite path. An empty DSN
// selects the in-memory store.
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(dsn)
	switch {
	case d == "":
		return DSNTypeMemory
	case strings.HasPrefix(d, "postgres://"), strings.HasPrefix(d, "postgresql://"), postgresKeyValueRegex.MatchString(d):
		return DSNTypePostgres
	case strings.HasPrefix(d, "redis://"), strings.HasPrefix(d, "rediss://"):
		return DSNTypeRedis
	case strings.HasSuffix(strings.ToLower(d), ".json"):
		return DSNTypeFile
	default:
		return DSNTypeSQLite
	}
}

// Open builds the backend selected by the DSN.
func Open(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	kind := DetectDSNType(cfg.DSN)
	slog.Debug("store.Open selecting backend", "type", kind, "dsn_set", cfg.DSN != "")
	switch kind {
	case DSNTypeMemory:
		return NewInMemoryStore(), nil
	case DSNTypePostgres:
		return NewPostgresStore(opts...)
	case DSNTypeRedis:
		return NewRedisStore(opts...)
	case DSNTypeFile:
		return NewFileStore(opts...)
	case DSNTypeSQLite:
		return NewSQLiteStore(opts...)
	default:
		return nil, fmt.Errorf("unsupported store type %q", kind)
	}
}
