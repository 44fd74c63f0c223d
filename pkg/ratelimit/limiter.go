// Package ratelimit consults a per-subject limiter once per chat
// completion request: an in-process golang.org/x/time/rate limiter by
// default, or a Redis-backed limiter (github.com/redis/go-redis/v9) when
// CORTEX_RATE_LIMIT_REDIS_URL is configured, so a multi-instance proxy
// deployment shares one limit.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Decision is the outcome of consulting the limiter for one request.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter is consulted once per chat-completion request for the
// resolved subject/API key.
type Limiter interface {
	Allow(ctx context.Context, subject string) (Decision, error)
	// Remaining reports the caller's current window allowance for
	// dashboard display; it never blocks or consumes a token.
	Remaining(ctx context.Context, subject string) (int, error)
}

// NewLimiter builds an in-process limiter when redisURL is empty, or a
// Redis-backed limiter otherwise.
func NewLimiter(redisURL string, rps float64, burst int) (Limiter, error) {
	if redisURL == "" {
		return newInProcessLimiter(rps, burst), nil
	}
	return newRedisLimiter(redisURL, rps, burst)
}

// inProcessLimiter keeps one golang.org/x/time/rate.Limiter per subject,
// created lazily and never evicted — acceptable for the proxy's expected
// subject cardinality (one brain's worth of API keys).
type inProcessLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newInProcessLimiter(rps float64, burst int) *inProcessLimiter {
	return &inProcessLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (l *inProcessLimiter) get(subject string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[subject]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[subject] = lim
	}
	return lim
}

func (l *inProcessLimiter) Allow(_ context.Context, subject string) (Decision, error) {
	lim := l.get(subject)
	res := lim.ReserveN(time.Now(), 1)
	if !res.OK() {
		return Decision{Allowed: false, RetryAfter: time.Second}, nil
	}
	delay := res.Delay()
	if delay > 0 {
		res.Cancel()
		return Decision{Allowed: false, RetryAfter: delay}, nil
	}
	return Decision{Allowed: true}, nil
}

func (l *inProcessLimiter) Remaining(_ context.Context, subject string) (int, error) {
	lim := l.get(subject)
	return int(lim.Tokens()), nil
}

// redisLimiter implements a fixed-window counter per subject in Redis,
// so every proxy instance behind a load balancer shares the same
// budget. It is deliberately simpler than the in-process token bucket —
// a shared, approximate limit is preferable to no shared limit at all.
type redisLimiter struct {
	client *redis.Client
	rps    float64
	burst  int
	window time.Duration
}

func newRedisLimiter(redisURL string, rps float64, burst int) (*redisLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: parse redis url: %w", err)
	}
	return &redisLimiter{
		client: redis.NewClient(opts),
		rps:    rps,
		burst:  burst,
		window: time.Second,
	}, nil
}

func (l *redisLimiter) key(subject string) string {
	return fmt.Sprintf("cortex:ratelimit:%s", subject)
}

func (l *redisLimiter) Allow(ctx context.Context, subject string) (Decision, error) {
	key := l.key(subject)
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: redis incr: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			return Decision{}, fmt.Errorf("ratelimit: redis expire: %w", err)
		}
	}

	limit := int64(l.burst)
	if limit <= 0 {
		limit = int64(l.rps)
	}
	if count > limit {
		ttl, err := l.client.TTL(ctx, key).Result()
		if err != nil || ttl < 0 {
			ttl = l.window
		}
		return Decision{Allowed: false, RetryAfter: ttl}, nil
	}
	return Decision{Allowed: true}, nil
}

func (l *redisLimiter) Remaining(ctx context.Context, subject string) (int, error) {
	count, err := l.client.Get(ctx, l.key(subject)).Int64()
	if err != nil && err != redis.Nil {
		return 0, fmt.Errorf("ratelimit: redis get: %w", err)
	}
	limit := int64(l.burst)
	if limit <= 0 {
		limit = int64(l.rps)
	}
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return int(remaining), nil
}
