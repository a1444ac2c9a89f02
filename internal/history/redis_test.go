package history

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/reviewqa/internal/config"
	"github.com/kalambet/reviewqa/internal/domain"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, string) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return mr, "redis://" + mr.Addr()
}

func TestRedisBackend_RoundTrip(t *testing.T) {
	_, url := setupTestRedis(t)
	b, err := NewRedisBackend(url, time.Hour)
	require.NoError(t, err)
	defer b.Close()
	ctx := context.Background()

	require.NoError(t, b.Ping(ctx))

	turns, err := b.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, turns)

	require.NoError(t, b.Append(ctx, "s1", []domain.Turn{domain.UserTurn("battery?"), domain.AssistantTurn("two days")}))
	require.NoError(t, b.Append(ctx, "s1", []domain.Turn{domain.UserTurn("screen?")}))

	turns, err = b.Load(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, domain.UserTurn("battery?"), turns[0])
	assert.Equal(t, domain.AssistantTurn("two days"), turns[1])
	assert.Equal(t, "screen?", turns[2].Text)

	require.NoError(t, b.Delete(ctx, "s1"))
	turns, err = b.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestRedisBackend_SetsTTL(t *testing.T) {
	mr, url := setupTestRedis(t)
	b, err := NewRedisBackend(url, 30*time.Minute)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.Append(context.Background(), "s1", []domain.Turn{domain.UserTurn("hi")}))
	assert.Equal(t, 30*time.Minute, mr.TTL(sessionKey("s1")))

	mr.FastForward(31 * time.Minute)
	assert.False(t, mr.Exists(sessionKey("s1")))
}

func TestRedisBackend_Unavailable(t *testing.T) {
	mr, url := setupTestRedis(t)
	b, err := NewRedisBackend(url, time.Minute)
	require.NoError(t, err)
	defer b.Close()
	mr.Close()

	err = b.Append(context.Background(), "s1", []domain.Turn{domain.UserTurn("hi")})
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	_, err = b.Load(context.Background(), "s1")
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestStoreWithRedis_SurvivesEviction(t *testing.T) {
	_, url := setupTestRedis(t)
	b, err := NewRedisBackend(url, time.Hour)
	require.NoError(t, err)
	defer b.Close()
	ctx := context.Background()

	s := NewStore(b, Options{MaxSessions: 1})
	require.NoError(t, s.Append(ctx, "a", domain.UserTurn("q"), domain.AssistantTurn("answer")))
	_, err = s.GetOrCreate(ctx, "b") // evicts a
	require.NoError(t, err)

	turns, err := s.Turns(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, turns, 2)
}

func TestNewBackend(t *testing.T) {
	_, url := setupTestRedis(t)

	cfg := config.Config{}
	cfg.Session.Backend = config.SessionMemory
	b, err := NewBackend(cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, b)

	cfg.Session.Backend = config.SessionSQLite
	_, err = NewBackend(cfg, nil)
	assert.Error(t, err)

	cfg.Session.Backend = config.SessionRedis
	cfg.Session.RedisURL = url
	cfg.Session.TTL = "30m"
	b, err = NewBackend(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &RedisBackend{}, b)
	b.(*RedisBackend).Close()

	cfg.Session.Backend = "etcd"
	_, err = NewBackend(cfg, nil)
	assert.Error(t, err)
}
