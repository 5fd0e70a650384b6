package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ppiankov/patfam/internal/model"
)

// New builds the cache selected by cfg. It returns nil when caching is disabled.
func New(ctx context.Context, cfg model.CacheConfig) (Cache, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	switch cfg.Backend {
	case "memory":
		return NewMemoryCache(ttl, 10*time.Minute), nil
	case "disk":
		return NewDiskCache(cfg.Dir, ttl), nil
	case "", "layered":
		return NewLayeredCache(ttl, cfg.Dir, ttl), nil
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("cache.redis_addr is required for the redis backend")
		}
		rc := NewRedisCache(
			redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}),
			WithPrefix(cfg.RedisPrefix),
			WithDefaultTTL(ttl),
		)
		if err := rc.Ping(ctx); err != nil {
			return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}
		return NewLayeredOver(ttl, rc), nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.Backend)
	}
}
