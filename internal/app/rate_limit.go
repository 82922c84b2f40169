/**
 * @description
 * This file defines the rate limiting policies of the payment-service. Buyers are
 * limited on checkout link creation and instructors on withdraw requests; both
 * limits are per user over a fixed window.
 *
 * @dependencies
 * - context, log, time: Standard Go libraries.
 * - internal/domain: For the RateLimitError returned to the API layer.
 */

package app

import (
	"context"
	"log"
	"time"

	"github.com/learnary/payment-service/internal/domain"
)

const (
	rateLimitScopePaymentLink     = "payment_link"
	rateLimitScopeWithdrawRequest = "withdraw_request"
	rateLimitWindow               = time.Minute
)

// RateLimitPolicy is the allowance for one scope: Limit attempts per Window.
type RateLimitPolicy struct {
	Scope  string
	Limit  int
	Window time.Duration
}

func (p RateLimitPolicy) enabled() bool {
	return p.Scope != "" && p.Limit > 0 && p.Window > 0
}

// RateLimitDecision is the outcome of one counted attempt.
type RateLimitDecision struct {
	Allowed    bool
	Count      int
	RetryAfter time.Duration
}

// RateLimiter counts one attempt by subject against policy.
type RateLimiter interface {
	Allow(ctx context.Context, policy RateLimitPolicy, subject string) (RateLimitDecision, error)
}

func (s *Service) rateLimitPolicy(scope string) RateLimitPolicy {
	policy := RateLimitPolicy{Scope: scope, Window: rateLimitWindow}
	switch scope {
	case rateLimitScopePaymentLink:
		policy.Limit = s.settings.PaymentLinkRateLimitPerMinute
	case rateLimitScopeWithdrawRequest:
		policy.Limit = s.settings.WithdrawRequestRateLimitPerMinute
	}
	return policy
}

// enforceRateLimit uses the shared limiter when one is installed and falls back to
// the in-process limiter when it is missing or failing.
func (s *Service) enforceRateLimit(ctx context.Context, scope, subject string) error {
	policy := s.rateLimitPolicy(scope)
	if !policy.enabled() {
		return nil
	}

	var (
		decision RateLimitDecision
		err      error
	)
	if s.rateLimiter != nil {
		decision, err = s.rateLimiter.Allow(ctx, policy, subject)
		if err != nil {
			log.Printf("level=warn component=rate_limiter msg=\"shared limiter failed; using local limiter\" scope=%s err=%v", scope, err)
		}
	}
	if s.rateLimiter == nil || err != nil {
		decision, _ = s.fallbackLimiter.Allow(ctx, policy, subject)
	}

	if !decision.Allowed {
		return &domain.RateLimitError{Scope: scope, RetryAfter: decision.RetryAfter}
	}
	return nil
}
