package store

import (
	"context"
	"testing"
	"time"

	"github.com/BTreeMap/ScreenPipe/internal/models"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(WithDSN("redis://" + mr.Addr() + "/0"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestRedisStore(t *testing.T) {
	s, _ := newTestRedisStore(t)
	exerciseStore(t, s)
}

func TestRedisStoreKeysAndTTL(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t)

	st := models.NewConversationState("a", models.StepInterest)
	require.NoError(t, s.SaveState(ctx, *st))
	assert.True(t, mr.Exists(RedisStateKey+"a"))
	assert.Equal(t, time.Duration(0), mr.TTL(RedisStateKey+"a"))

	ok, err := s.RecordInbound(ctx, "wamid-1", "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, DedupTTL, mr.TTL(RedisDedupKey+"wamid-1"))

	require.NoError(t, s.MarkProcessed(ctx, "wamid-1"))
	assert.Equal(t, DedupTTL, mr.TTL(RedisDedupKey+"wamid-1"), "marking processed must keep the TTL")

	mr.FastForward(DedupTTL + time.Second)
	assert.False(t, mr.Exists(RedisDedupKey+"wamid-1"))

	_, err = s.RecordInbound(ctx, "wamid-2", "a")
	require.NoError(t, err)
	require.NoError(t, s.ForgetInbound(ctx, "wamid-2"))
	assert.False(t, mr.Exists(RedisDedupKey+"wamid-2"))
}

func TestRedisStoreCorruptState(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t)
	require.NoError(t, mr.Set(RedisStateKey+"a", "{broken"))
	_, err := s.GetState(ctx, "a")
	assert.Error(t, err)
}

func TestRedisStoreWithClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStoreWithClient(client)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.AppendTranscript(ctx, models.TranscriptEntry{Sender: "a", Time: time.Now(), Step: models.StepCTC, Message: "4 lpa"}))
	entries, err := s.GetTranscript(ctx, "a")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "4 lpa", entries[0].Message)
}

func TestNewRedisStoreBadURL(t *testing.T) {
	_, err := NewRedisStore(WithDSN("redis://%%bad"))
	assert.Error(t, err)
}
