// Package insight produces post-step and terminal LLM narratives with a
// content-addressed cache: identical atom facts yield the cached insight
// instead of a new LLM call.
package insight

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores rendered insights keyed by content hash.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
}

// keyPrefix namespaces insight entries in the shared Redis instance.
const keyPrefix = "insight:"

// RedisCache implements Cache on Redis. Failures degrade to cache misses;
// the generator then just calls the LLM again.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps a Redis client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get fetches a cached insight.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		slog.Warn("Insight cache read failed", "key", key, "error", err)
		return nil, false
	}
	return data, true
}

// Set stores an insight with the given TTL.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := c.client.Set(ctx, keyPrefix+key, value, ttl).Err(); err != nil {
		slog.Warn("Insight cache write failed", "key", key, "error", err)
	}
}
