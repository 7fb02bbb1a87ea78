package cache

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultRateLimitPrefix = "rate_limit_"

type RateLimiterConfig struct {
	Redis  redis.UniversalClient
	Prefix string
}

// RateLimiter counts requests per key in fixed windows. It allows requests when Redis fails.
type RateLimiter struct {
	redis  redis.UniversalClient
	prefix string
}

func NewRateLimiter(c RateLimiterConfig) *RateLimiter {
	prefix := c.Prefix
	if prefix == "" {
		prefix = DefaultRateLimitPrefix
	}

	return &RateLimiter{redis: c.Redis, prefix: prefix}
}

// Allow counts one request for key and reports whether it fits in limit requests per window.
// The window starts with the first request.
func (l *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) bool {
	k := l.prefix + key

	n, err := l.redis.Incr(ctx, k).Result()
	if err != nil {
		slog.WarnContext(ctx, "ratelimit: counting failed, allowing request", "key", key, "error", err)
		return true
	}

	if n == 1 {
		if err := l.redis.Expire(ctx, k, window).Err(); err != nil {
			slog.WarnContext(ctx, "ratelimit: set window failed", "key", key, "error", err)
		}
	}

	return n <= int64(limit)
}

// Remaining returns how many requests key may still make in the current window.
func (l *RateLimiter) Remaining(ctx context.Context, key string, limit int) int {
	n, err := l.redis.Get(ctx, l.prefix+key).Int()
	if stderrors.Is(err, redis.Nil) {
		return limit
	}
	if err != nil {
		slog.WarnContext(ctx, "ratelimit: read failed", "key", key, "error", err)
		return limit
	}

	return max(0, limit-n)
}
