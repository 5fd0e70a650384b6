package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache stores entries in redis so several patfam processes share lookups
type RedisCache struct {
	client     redis.UniversalClient
	prefix     string
	defaultTTL time.Duration
	opTimeout  time.Duration
}

// RedisOption configures a RedisCache
type RedisOption func(*RedisCache)

// WithPrefix namespaces every key
func WithPrefix(prefix string) RedisOption {
	return func(c *RedisCache) { c.prefix = prefix }
}

// WithDefaultTTL is applied when Set is called with ttl <= 0
func WithDefaultTTL(ttl time.Duration) RedisOption {
	return func(c *RedisCache) { c.defaultTTL = ttl }
}

// WithOpTimeout bounds every redis round trip
func WithOpTimeout(d time.Duration) RedisOption {
	return func(c *RedisCache) { c.opTimeout = d }
}

// NewRedisCache wraps an existing client
func NewRedisCache(client redis.UniversalClient, opts ...RedisOption) *RedisCache {
	c := &RedisCache{
		client:     client,
		prefix:     "patfam:",
		defaultTTL: 24 * time.Hour,
		opTimeout:  2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RedisCache) fullKey(key string) string {
	return c.prefix + key
}

func (c *RedisCache) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.opTimeout)
}

// Get retrieves a value; redis errors are reported as misses
func (c *RedisCache) Get(key string) ([]byte, bool) {
	ctx, cancel := c.ctx()
	defer cancel()

	data, err := c.client.Get(ctx, c.fullKey(key)).Bytes()
	if err != nil {
		return nil, false
	}
	return data, true
}

// Set stores a value with the given TTL
func (c *RedisCache) Set(key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	ctx, cancel := c.ctx()
	defer cancel()

	if err := c.client.Set(ctx, c.fullKey(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes a value
func (c *RedisCache) Delete(key string) error {
	ctx, cancel := c.ctx()
	defer cancel()

	if err := c.client.Del(ctx, c.fullKey(key)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Clear removes every key under the prefix
func (c *RedisCache) Clear() error {
	ctx, cancel := c.ctx()
	defer cancel()

	var cursor uint64
	match := c.prefix + "*"
	for {
		keys, next, err := c.client.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis del: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Ping checks connectivity
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
