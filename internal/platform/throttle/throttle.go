// Package throttle implements fixed-window counters used to cap how often a
// key may perform an action, such as resending a consent code.
package throttle

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// Limiter reports whether one more action for key fits the window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RedisConfig configures the shared Redis client.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
}

// NewRedisClient parses the URL, sizes the pool and verifies connectivity.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

// RedisLimiter counts with INCR and starts the window with EXPIRE NX, so
// every server instance shares the same counters.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	limit  int64
	window time.Duration
}

func NewRedisLimiter(client *redis.Client, prefix string, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: prefix, limit: int64(limit), window: window}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	k := l.prefix + ":" + key
	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.ExpireNX(ctx, k, l.window)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("throttle %s: %w", k, err)
	}
	return incr.Val() <= l.limit, nil
}

// Ping probes the backing Redis for health checks.
func (l *RedisLimiter) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// MemoryLimiter keeps counters in process memory. It is used when no Redis
// is configured and is only accurate for a single instance.
type MemoryLimiter struct {
	cache  *cache.Cache
	limit  int64
	window time.Duration
}

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		cache:  cache.New(window, 2*window),
		limit:  int64(limit),
		window: window,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	if err := l.cache.Add(key, int64(1), l.window); err == nil {
		return l.limit >= 1, nil
	}
	n, err := l.cache.IncrementInt64(key, 1)
	if err != nil {
		// Expired between Add and Increment; start a new window.
		l.cache.Set(key, int64(1), l.window)
		return l.limit >= 1, nil
	}
	return n <= l.limit, nil
}
