// Package ratelimit throttles keyed attempts, used for recovery-code guesses.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Limiter decides whether one more attempt for key is allowed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Redis is a fixed-window counter shared across instances.
type Redis struct {
	rdb    *redis.Client
	prefix string
	limit  int64
	window time.Duration
}

func NewRedis(rdb *redis.Client, prefix string, limit int, window time.Duration) *Redis {
	return &Redis{rdb: rdb, prefix: prefix, limit: int64(limit), window: window}
}

func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	k := fmt.Sprintf("%s:%s", r.prefix, key)

	pipe := r.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, r.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit %s: %w", k, err)
	}
	return incr.Val() <= r.limit, nil
}

// Memory is a per-key token bucket held in process. Limit attempts refill
// evenly over window.
type Memory struct {
	mu      sync.Mutex
	limit   int
	every   rate.Limit
	buckets map[string]*rate.Limiter
	now     func() time.Time
}

func NewMemory(limit int, window time.Duration) *Memory {
	return &Memory{
		limit:   limit,
		every:   rate.Every(window / time.Duration(max(limit, 1))),
		buckets: make(map[string]*rate.Limiter),
		now:     time.Now,
	}
}

func (m *Memory) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[key]
	if !ok {
		b = rate.NewLimiter(m.every, m.limit)
		m.buckets[key] = b
	}
	return b.AllowN(m.now(), 1), nil
}
