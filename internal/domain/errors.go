package domain

import (
	"errors"
	"fmt"
	"time"
)

// Error taxonomy shared by the store, the engines and the HTTP layer. Concrete
// errors wrap one of these with %w so callers can branch with errors.Is.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrNotFound            = errors.New("not found")
	ErrAlreadyOwned        = errors.New("already owned")
	ErrInvalidState        = errors.New("invalid state")
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrTransientStorage    = errors.New("transient storage error")
	ErrRateLimited         = errors.New("rate limited")
	ErrPaymentGateway      = errors.New("payment gateway unavailable")
)

// InvalidInputf builds an ErrInvalidInput carrying a caller-facing message.
func InvalidInputf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// RateLimitError reports how long the caller should wait before retrying.
type RateLimitError struct {
	Scope      string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s; retry after %s", e.Scope, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}
