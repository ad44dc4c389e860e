package rateLimit

import (
	"context"
	"sync"
	"time"

	redisadapter "github.com/atl5d/pwyc-booking/internal/adapters/redis"
	"golang.org/x/time/rate"
)

// Limiter admits at most limit requests per period for a key.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, period time.Duration) bool
}

// RateLimiter is a fixed window counter shared through Redis.
type RateLimiter struct {
	redis *redisadapter.Cache
}

func NewRateLimiter(redis *redisadapter.Cache) *RateLimiter {
	return &RateLimiter{redis: redis}
}

func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, period time.Duration) bool {
	fullKey := "rl:" + key

	pipe := rl.redis.Client().Pipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.ExpireNX(ctx, fullKey, period)

	_, err := pipe.Exec(ctx)
	if err != nil {
		// Fail open when Redis is unavailable.
		return true
	}

	return incr.Val() <= int64(limit)
}

// LocalLimiter keeps a token bucket per key in process memory. Buckets idle
// for longer than their period are full again and get evicted.
type LocalLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*localBucket
	lastSweep time.Time
	now       func() time.Time
}

type localBucket struct {
	limiter  *rate.Limiter
	period   time.Duration
	lastSeen time.Time
}

const sweepInterval = time.Minute

func NewLocalLimiter() *LocalLimiter {
	return &LocalLimiter{limiters: make(map[string]*localBucket), now: time.Now}
}

func (l *LocalLimiter) Allow(ctx context.Context, key string, limit int, period time.Duration) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.lastSweep) >= sweepInterval {
		l.sweep(now)
	}
	b, ok := l.limiters[key]
	if !ok {
		b = &localBucket{
			limiter: rate.NewLimiter(rate.Every(period/time.Duration(limit)), limit),
			period:  period,
		}
		l.limiters[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

func (l *LocalLimiter) sweep(now time.Time) {
	for k, b := range l.limiters {
		if now.Sub(b.lastSeen) > b.period {
			delete(l.limiters, k)
		}
	}
	l.lastSweep = now
}

func (l *LocalLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
