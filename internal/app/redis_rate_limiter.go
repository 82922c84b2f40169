/**
 * @description
 * Fixed-window rate limiting shared by every replica through Redis.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9: MULTI/EXEC pipeline of INCR and EXPIREAT.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter shares rate limits across replicas. Each policy window gets its
// own counter key, so a counter never outlives the window it belongs to.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisRateLimiter(client redis.UniversalClient, prefix string) *RedisRateLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "learnary:rate_limit"
	}
	return &RedisRateLimiter{client: client, prefix: prefix, now: time.Now}
}

// Allow increments the subject's counter for the current window and sets the
// key to expire shortly after the window closes.
func (r *RedisRateLimiter) Allow(ctx context.Context, policy RateLimitPolicy, subject string) (RateLimitDecision, error) {
	subject = strings.TrimSpace(subject)
	if !policy.enabled() || subject == "" {
		return RateLimitDecision{Allowed: true}, nil
	}
	if r == nil || r.client == nil {
		return RateLimitDecision{}, errors.New("redis rate limiter is not configured")
	}

	now := r.now()
	windowStart := now.Truncate(policy.Window)
	windowEnd := windowStart.Add(policy.Window)
	key := r.counterKey(policy, subject, windowStart)

	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireAt(ctx, key, windowEnd.Add(time.Second))
		return nil
	})
	if err != nil {
		return RateLimitDecision{}, fmt.Errorf("rate limit counter %s: %w", policy.Scope, err)
	}

	return windowDecision(policy, int(incr.Val()), windowEnd.Sub(now)), nil
}

func (r *RedisRateLimiter) counterKey(policy RateLimitPolicy, subject string, windowStart time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%d", r.prefix, policy.Scope, subject, windowStart.Unix())
}

// windowDecision allows the first Limit attempts of a window; later attempts wait
// for the window to close.
func windowDecision(policy RateLimitPolicy, count int, untilWindowEnd time.Duration) RateLimitDecision {
	decision := RateLimitDecision{Allowed: count <= policy.Limit, Count: count}
	if !decision.Allowed {
		decision.RetryAfter = max(untilWindowEnd, time.Second)
	}
	return decision
}
