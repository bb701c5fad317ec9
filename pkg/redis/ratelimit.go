package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter is a fixed-window counter: the first hit in a window sets the expiry.
type RateLimiter struct {
	client redis.Cmdable
	prefix string
}

// NewRateLimiter creates a limiter whose keys are namespaced by prefix.
func NewRateLimiter(client redis.Cmdable, prefix string) *RateLimiter {
	return &RateLimiter{client: client, prefix: prefix}
}

// Allow counts a hit for key and reports whether it is within limit for the window.
// A counter left without a TTL (an earlier EXPIRE failed) gets one on the next hit.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	fullKey := "rate_limit:" + r.prefix + ":" + key

	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	if _, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, fullKey)
		ttl = pipe.TTL(ctx, fullKey)
		return nil
	}); err != nil {
		return false, err
	}

	if ttl.Val() < 0 {
		if err := r.client.Expire(ctx, fullKey, window).Err(); err != nil {
			return false, err
		}
	}
	return incr.Val() <= int64(limit), nil
}
