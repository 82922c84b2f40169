/**
 * @description
 * In-process token buckets used when the shared Redis limiter is unavailable.
 *
 * @dependencies
 * - golang.org/x/time/rate: Token bucket implementation.
 */

package app

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LocalRateLimiter keeps one token bucket per scope and subject in process memory.
// It is used when Redis is not configured or unreachable. A bucket left idle for a
// whole window has refilled completely, so it is dropped and recreated on demand.
type LocalRateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*localBucket
	lastSweep time.Time
	now       func() time.Time
}

type localBucket struct {
	limiter  *rate.Limiter
	window   time.Duration
	lastSeen time.Time
}

func NewLocalRateLimiter() *LocalRateLimiter {
	return &LocalRateLimiter{buckets: make(map[string]*localBucket), now: time.Now}
}

func (l *LocalRateLimiter) Allow(ctx context.Context, policy RateLimitPolicy, subject string) (RateLimitDecision, error) {
	if l == nil || !policy.enabled() {
		return RateLimitDecision{Allowed: true}, nil
	}
	key := policy.Scope + ":" + strings.TrimSpace(subject)

	l.mu.Lock()
	now := l.now()
	l.evictIdleLocked(now, policy.Window)
	bucket, ok := l.buckets[key]
	if !ok {
		bucket = &localBucket{
			limiter: rate.NewLimiter(rate.Every(policy.Window/time.Duration(policy.Limit)), policy.Limit),
			window:  policy.Window,
		}
		l.buckets[key] = bucket
	}
	bucket.lastSeen = now
	reservation := bucket.limiter.ReserveN(now, 1)
	l.mu.Unlock()

	if !reservation.OK() {
		return RateLimitDecision{Count: policy.Limit + 1, RetryAfter: policy.Window}, nil
	}
	delay := reservation.DelayFrom(now)
	if delay == 0 {
		return RateLimitDecision{Allowed: true, Count: 1}, nil
	}
	reservation.CancelAt(now)
	return RateLimitDecision{Count: policy.Limit + 1, RetryAfter: max(delay, time.Second)}, nil
}

// evictIdleLocked runs at most once per interval.
func (l *LocalRateLimiter) evictIdleLocked(now time.Time, interval time.Duration) {
	if now.Sub(l.lastSweep) < interval {
		return
	}
	l.lastSweep = now
	for key, bucket := range l.buckets {
		if now.Sub(bucket.lastSeen) >= bucket.window {
			delete(l.buckets, key)
		}
	}
}

// size reports how many buckets are held.
func (l *LocalRateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
