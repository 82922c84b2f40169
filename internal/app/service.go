/**
 * @description
 * This file contains the core business logic for the payment-service. The `Service`
 * struct hosts the Settlement Engine (payment links, provider webhooks, cancellation)
 * and the Withdrawal Engine (instructor payouts and ledger projections). It
 * coordinates between the ledger repository, the catalog and the payment gateway.
 *
 * Key features:
 * - Writes the Pending payment before calling the gateway so early webhooks always match.
 * - Delegates every balance mutation to a single store unit of work.
 * - Rate limits link creation and withdraw requests per user.
 *
 * @dependencies
 * - context, math/rand/v2, time: Standard Go libraries.
 * - github.com/google/uuid, github.com/shopspring/decimal: ids and money.
 * - internal/store: For data access.
 * - pkg/gatewayclient: For the payment provider wire types.
 */

package app

import (
	"context"
	"math/rand"
	"time"

	"github.com/learnary/payment-service/internal/store"
	"github.com/learnary/payment-service/pkg/gatewayclient"
	"github.com/shopspring/decimal"
)

const maxOrderCodeAttempts = 3

// PaymentGateway is the part of the provider client the engines depend on.
type PaymentGateway interface {
	CreateCheckout(ctx context.Context, req gatewayclient.CheckoutRequest) (*gatewayclient.CheckoutData, error)
	CancelPaymentLink(ctx context.Context, orderCode int64, reason string) error
	VerifyWebhook(body []byte) (*gatewayclient.WebhookEvent, error)
}

// Settings are the business parameters of the engines.
type Settings struct {
	Currency                          string
	CurrencyScale                     int32
	PlatformFeePercent                decimal.Decimal
	MinWithdrawAmount                 decimal.Decimal
	PendingPaymentTTL                 time.Duration
	ReturnURL                         string
	CancelURL                         string
	EventsExchange                    string
	PaymentLinkRateLimitPerMinute     int
	WithdrawRequestRateLimitPerMinute int
}

// Service provides the settlement and withdrawal use cases.
type Service struct {
	repo            store.Repository
	catalog         store.CatalogReader
	gateway         PaymentGateway
	settings        Settings
	rateLimiter     RateLimiter
	fallbackLimiter *LocalRateLimiter
	now             func() time.Time
	newOrderCode    func(time.Time) int64
}

// NewService creates a new payment service instance.
func NewService(repo store.Repository, catalog store.CatalogReader, gateway PaymentGateway, settings Settings) *Service {
	if settings.Currency == "" {
		settings.Currency = "VND"
	}
	if settings.PendingPaymentTTL <= 0 {
		settings.PendingPaymentTTL = 15 * time.Minute
	}
	return &Service{
		repo:            repo,
		catalog:         catalog,
		gateway:         gateway,
		settings:        settings,
		fallbackLimiter: NewLocalRateLimiter(),
		now:             time.Now,
		newOrderCode:    generateOrderCode,
	}
}

// SetRateLimiter installs a shared limiter. Without one, limits are enforced per process.
func (s *Service) SetRateLimiter(limiter RateLimiter) {
	s.rateLimiter = limiter
}

// generateOrderCode returns unixMillis*1000 plus three random digits. The result
// stays below 2^53 so the provider and JavaScript clients keep full precision.
func generateOrderCode(now time.Time) int64 {
	return now.UnixMilli()*1000 + rand.Int63n(1000)
}

// toMinorUnits converts a ledger amount to the integer the provider expects.
func (s *Service) toMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(s.settings.CurrencyScale).IntPart()
}

func (s *Service) fromMinorUnits(amount int64) decimal.Decimal {
	return decimal.New(amount, -s.settings.CurrencyScale)
}
