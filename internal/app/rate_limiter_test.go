package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/learnary/payment-service/internal/domain"
)

func TestLocalRateLimiter(t *testing.T) {
	limiter := NewLocalRateLimiter()
	ctx := context.Background()
	policy := RateLimitPolicy{Scope: rateLimitScopeWithdrawRequest, Limit: 3, Window: time.Minute}

	for i := 0; i < 3; i++ {
		decision, err := limiter.Allow(ctx, policy, "user-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !decision.Allowed {
			t.Fatalf("attempt %d should be allowed", i+1)
		}
	}

	decision, err := limiter.Allow(ctx, policy, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Allowed {
		t.Fatal("fourth attempt should be limited")
	}
	if decision.RetryAfter < time.Second {
		t.Fatalf("expected retry-after of at least a second, got %s", decision.RetryAfter)
	}

	if decision, _ := limiter.Allow(ctx, policy, "user-2"); !decision.Allowed {
		t.Fatal("limits must be per subject")
	}
	other := RateLimitPolicy{Scope: rateLimitScopePaymentLink, Limit: 1, Window: time.Minute}
	if decision, _ := limiter.Allow(ctx, other, "user-1"); !decision.Allowed {
		t.Fatal("limits must be per scope")
	}
}

func TestLocalRateLimiterEvictsIdleBuckets(t *testing.T) {
	limiter := NewLocalRateLimiter()
	now := time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	policy := RateLimitPolicy{Scope: rateLimitScopePaymentLink, Limit: 1, Window: time.Minute}

	for i := 0; i < 100; i++ {
		limiter.Allow(context.Background(), policy, uuid.NewString())
	}
	if got := limiter.size(); got != 100 {
		t.Fatalf("expected 100 buckets, got %d", got)
	}

	now = now.Add(2 * time.Minute)
	if decision, _ := limiter.Allow(context.Background(), policy, "fresh"); !decision.Allowed {
		t.Fatal("fresh subject should be allowed")
	}
	if got := limiter.size(); got != 1 {
		t.Fatalf("expected idle buckets to be evicted, %d left", got)
	}
}

func TestWindowDecision(t *testing.T) {
	policy := RateLimitPolicy{Scope: rateLimitScopePaymentLink, Limit: 2, Window: time.Minute}
	tests := []struct {
		name       string
		count      int
		remaining  time.Duration
		allowed    bool
		retryAfter time.Duration
	}{
		{name: "first", count: 1, remaining: 40 * time.Second, allowed: true},
		{name: "at limit", count: 2, remaining: 40 * time.Second, allowed: true},
		{name: "over limit", count: 3, remaining: 40 * time.Second, retryAfter: 40 * time.Second},
		{name: "window closing", count: 9, remaining: 10 * time.Millisecond, retryAfter: time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := windowDecision(policy, tt.count, tt.remaining)
			if got.Allowed != tt.allowed || got.RetryAfter != tt.retryAfter || got.Count != tt.count {
				t.Fatalf("unexpected decision %+v", got)
			}
		})
	}
}

func TestRedisRateLimiterKeysPerWindow(t *testing.T) {
	limiter := NewRedisRateLimiter(nil, "learnary:rate_limit:")
	if limiter.prefix != "learnary:rate_limit" {
		t.Fatalf("unexpected prefix %q", limiter.prefix)
	}

	policy := RateLimitPolicy{Scope: rateLimitScopeWithdrawRequest, Limit: 5, Window: time.Minute}
	start := time.Unix(1_790_000_040, 0)
	got := limiter.counterKey(policy, "user-1", start)
	if got != "learnary:rate_limit:withdraw_request:user-1:1790000040" {
		t.Fatalf("unexpected key %q", got)
	}

	if _, err := limiter.Allow(context.Background(), policy, "user-1"); err == nil {
		t.Fatal("expected an error without a redis client")
	}
}

type failingRateLimiter struct{ calls int }

func (f *failingRateLimiter) Allow(ctx context.Context, policy RateLimitPolicy, subject string) (RateLimitDecision, error) {
	f.calls++
	return RateLimitDecision{}, errors.New("redis: connection refused")
}

func TestEnforceRateLimitFallsBackToLocalLimiter(t *testing.T) {
	svc := newTestService(&ledgerRepoStub{}, nil, nil)
	svc.settings.WithdrawRequestRateLimitPerMinute = 1
	shared := &failingRateLimiter{}
	svc.SetRateLimiter(shared)

	subject := uuid.NewString()
	if err := svc.enforceRateLimit(context.Background(), rateLimitScopeWithdrawRequest, subject); err != nil {
		t.Fatalf("first attempt should pass, got %v", err)
	}
	err := svc.enforceRateLimit(context.Background(), rateLimitScopeWithdrawRequest, subject)
	var rateErr *domain.RateLimitError
	if !errors.As(err, &rateErr) || rateErr.Scope != rateLimitScopeWithdrawRequest {
		t.Fatalf("expected local limiter to reject the second attempt, got %v", err)
	}
	if shared.calls != 2 {
		t.Fatalf("expected shared limiter to be tried each time, got %d calls", shared.calls)
	}
}

func TestRateLimitPolicyFromSettings(t *testing.T) {
	svc := newTestService(&ledgerRepoStub{}, nil, nil)
	svc.settings.PaymentLinkRateLimitPerMinute = 7
	svc.settings.WithdrawRequestRateLimitPerMinute = 0

	if p := svc.rateLimitPolicy(rateLimitScopePaymentLink); p.Limit != 7 || p.Window != time.Minute || !p.enabled() {
		t.Fatalf("unexpected payment link policy %+v", p)
	}
	if p := svc.rateLimitPolicy(rateLimitScopeWithdrawRequest); p.enabled() {
		t.Fatalf("zero limit must disable the policy, got %+v", p)
	}
}
