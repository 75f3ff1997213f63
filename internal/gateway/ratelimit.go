package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Limiter enforces the per-client ingestion budget.
type Limiter interface {
	// Allow reports whether the keyed client may proceed. When it may
	// not, retryAfter hints when the budget reopens.
	Allow(ctx context.Context, key string) (ok bool, retryAfter time.Duration, err error)
}

// RedisLimiter is a fixed-window counter shared across gateway
// replicas: INCR on a per-window key, TTL set on the first hit. The
// window boundary resets the budget all at once, which is acceptable
// slack for an ingestion endpoint.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewRedisLimiter(client *redis.Client, perMinute int) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		limit:  perMinute,
		window: time.Minute,
		now:    time.Now,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	now := l.now()
	windowSecs := int64(l.window.Seconds())
	bucket := now.Unix() / windowSecs
	rkey := fmt.Sprintf("argus:ratelimit:%s:%d", key, bucket)

	count, err := l.client.Incr(ctx, rkey).Result()
	if err != nil {
		return false, 0, err
	}
	if count == 1 {
		if err := l.client.Expire(ctx, rkey, l.window).Err(); err != nil {
			return false, 0, err
		}
	}

	if count > int64(l.limit) {
		remaining := windowSecs - now.Unix()%windowSecs
		return false, time.Duration(remaining) * time.Second, nil
	}
	return true, 0, nil
}

// maxMemoryLimiterKeys caps the per-client bucket map. Past the cap
// the map is cleared; brief over-admission beats unbounded growth.
const maxMemoryLimiterKeys = 10000

// MemoryLimiter is the single-replica fallback when no Redis is
// configured: one token bucket per client, refilled continuously.
type MemoryLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*rate.Limiter
	perMinute int
}

func NewMemoryLimiter(perMinute int) *MemoryLimiter {
	return &MemoryLimiter{
		buckets:   make(map[string]*rate.Limiter),
		perMinute: perMinute,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.buckets) >= maxMemoryLimiterKeys {
		l.buckets = make(map[string]*rate.Limiter)
	}

	lim, ok := l.buckets[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(l.perMinute)/60.0), l.perMinute)
		l.buckets[key] = lim
	}

	if lim.Allow() {
		return true, 0, nil
	}
	return false, time.Second, nil
}
