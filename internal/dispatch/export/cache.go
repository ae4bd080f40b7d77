package export

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quarryline/quarryline/internal/shared"
)

// Cache stores rendered reports. A delivered delivery never changes, so
// entries only expire to bound memory.
type Cache interface {
	Get(ctx context.Context, deliveryID int64, format string) ([]byte, bool, error)
	Set(ctx context.Context, deliveryID int64, format string, body []byte) error
}

// RedisCache keeps rendered reports in Redis.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache builds the cache; a zero ttl defaults to 24h.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCache{client: client, ttl: ttl}
}

// Get returns the cached body if present.
func (c *RedisCache) Get(ctx context.Context, deliveryID int64, format string) ([]byte, bool, error) {
	body, err := c.client.Get(ctx, shared.ReportCacheKey(deliveryID, format)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return body, true, nil
}

// Set stores the body with the configured ttl.
func (c *RedisCache) Set(ctx context.Context, deliveryID int64, format string, body []byte) error {
	return c.client.Set(ctx, shared.ReportCacheKey(deliveryID, format), body, c.ttl).Err()
}
