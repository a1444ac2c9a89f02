package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kalambet/reviewqa/internal/domain"
)

const redisKeyPrefix = "reviewqa:session:"

// RedisBackend stores each session as a Redis list of JSON-encoded turns.
// Every write and read refreshes the key TTL, so idle sessions expire
// server-side.
type RedisBackend struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisBackend connects to the Redis instance at url (redis:// or rediss://).
func NewRedisBackend(url string, ttl time.Duration) (*RedisBackend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return &RedisBackend{client: redis.NewClient(opts), ttl: ttl}, nil
}

// Ping checks connectivity.
func (b *RedisBackend) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return domain.StoreUnavailable("pinging redis", err)
	}
	return nil
}

// Close releases the connection pool.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}

func sessionKey(id string) string {
	return redisKeyPrefix + id
}

func (b *RedisBackend) Load(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	key := sessionKey(sessionID)
	pipe := b.client.TxPipeline()
	rng := pipe.LRange(ctx, key, 0, -1)
	if b.ttl > 0 {
		pipe.Expire(ctx, key, b.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, domain.StoreUnavailable("loading turns", err)
	}

	raw := rng.Val()
	turns := make([]domain.Turn, 0, len(raw))
	for i, s := range raw {
		var t domain.Turn
		if err := json.Unmarshal([]byte(s), &t); err != nil {
			return nil, fmt.Errorf("decoding turn %d of %s: %w", i, sessionID, err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}

func (b *RedisBackend) Append(ctx context.Context, sessionID string, turns []domain.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	values := make([]any, len(turns))
	for i, t := range turns {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("encoding turn: %w", err)
		}
		values[i] = data
	}

	key := sessionKey(sessionID)
	pipe := b.client.TxPipeline()
	pipe.RPush(ctx, key, values...)
	if b.ttl > 0 {
		pipe.Expire(ctx, key, b.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.StoreUnavailable("appending turns", err)
	}
	return nil
}

func (b *RedisBackend) Delete(ctx context.Context, sessionID string) error {
	if err := b.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil && err != redis.Nil {
		return domain.StoreUnavailable("deleting turns", err)
	}
	return nil
}
