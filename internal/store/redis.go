// Redis store: states are JSON strings, the transcript is a list per sender,
// and dedup records expire after DedupTTL.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/ScreenPipe/internal/models"
	"github.com/redis/go-redis/v9"
)

// Redis key prefixes.
const (
	RedisStateKey      = "screenpipe:state:"
	RedisTranscriptKey = "screenpipe:transcript:"
	RedisDedupKey      = "screenpipe:dedup:"
)

// DedupTTL bounds how long inbound message ids are remembered in Redis.
const DedupTTL = 7 * 24 * time.Hour

type RedisStore struct {
	client *redis.Client
}

// Compile-time check that RedisStore implements Store.
var _ Store = (*RedisStore)(nil)

// NewRedisStore parses a redis:// URL from the options and connects.
func NewRedisStore(opts ...Option) (*RedisStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Error("RedisStore DSN not set")
		return nil, ErrDSNNotSet
	}
	ropts, err := redis.ParseURL(cfg.DSN)
	if err != nil {
		slog.Error("RedisStore invalid URL", "error", err)
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(ropts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		slog.Error("Redis ping failed", "error", err)
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	slog.Debug("Redis ping successful", "addr", ropts.Addr)
	return &RedisStore{client: client}, nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) GetState(ctx context.Context, sender string) (*models.ConversationState, error) {
	raw, err := s.client.Get(ctx, RedisStateKey+sender).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		slog.Error("RedisStore GetState failed", "error", err, "sender", sender)
		return nil, fmt.Errorf("failed to load state for %s: %w", sender, err)
	}
	var state models.ConversationState
	if err := json.Unmarshal(raw, &state); err != nil {
		slog.Error("RedisStore GetState corrupt record", "error", err, "sender", sender)
		return nil, fmt.Errorf("corrupt state for %s: %w", sender, err)
	}
	if state.Flags == nil {
		state.Flags = make(map[models.Flag]bool)
	}
	return &state, nil
}

func (s *RedisStore) SaveState(ctx context.Context, state models.ConversationState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode state for %s: %w", state.Sender, err)
	}
	if err := s.client.Set(ctx, RedisStateKey+state.Sender, raw, 0).Err(); err != nil {
		slog.Error("RedisStore SaveState failed", "error", err, "sender", state.Sender)
		return fmt.Errorf("failed to save state for %s: %w", state.Sender, err)
	}
	slog.Debug("RedisStore SaveState succeeded", "sender", state.Sender, "step", state.CurrentStep)
	return nil
}

func (s *RedisStore) DeleteState(ctx context.Context, sender string) error {
	if err := s.client.Del(ctx, RedisStateKey+sender).Err(); err != nil {
		slog.Error("RedisStore DeleteState failed", "error", err, "sender", sender)
		return fmt.Errorf("failed to delete state for %s: %w", sender, err)
	}
	return nil
}

func (s *RedisStore) AppendTranscript(ctx context.Context, entry models.TranscriptEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode transcript entry: %w", err)
	}
	if err := s.client.RPush(ctx, RedisTranscriptKey+entry.Sender, raw).Err(); err != nil {
		slog.Error("RedisStore AppendTranscript failed", "error", err, "sender", entry.Sender)
		return fmt.Errorf("failed to append transcript for %s: %w", entry.Sender, err)
	}
	return nil
}

func (s *RedisStore) GetTranscript(ctx context.Context, sender string) ([]models.TranscriptEntry, error) {
	items, err := s.client.LRange(ctx, RedisTranscriptKey+sender, 0, -1).Result()
	if err != nil {
		slog.Error("RedisStore GetTranscript failed", "error", err, "sender", sender)
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}
	entries := make([]models.TranscriptEntry, 0, len(items))
	for _, item := range items {
		var e models.TranscriptEntry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("corrupt transcript entry for %s: %w", sender, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *RedisStore) ForgetInbound(ctx context.Context, messageID string) error {
	if err := s.client.Del(ctx, RedisDedupKey+messageID).Err(); err != nil {
		return fmt.Errorf("forget inbound failed: %w", err)
	}
	return nil
}

func (s *RedisStore) RecordInbound(ctx context.Context, messageID, sender string) (bool, error) {
	raw, err := json.Marshal(DedupRecord{MessageID: messageID, Sender: sender, ReceivedAt: time.Now()})
	if err != nil {
		return false, fmt.Errorf("record inbound encode failed: %w", err)
	}
	ok, err := s.client.SetNX(ctx, RedisDedupKey+messageID, raw, DedupTTL).Result()
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) MarkProcessed(ctx context.Context, messageID string) error {
	key := RedisDedupKey + messageID
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	var rec DedupRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return fmt.Errorf("corrupt dedup record %s: %w", messageID, err)
	}
	now := time.Now()
	rec.ProcessedAt = &now
	if raw, err = json.Marshal(rec); err != nil {
		return fmt.Errorf("mark processed encode failed: %w", err)
	}
	if err := s.client.Set(ctx, key, raw, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
