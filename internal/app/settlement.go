/**
 * @description
 * This file implements the buyer side of the ledger: creating checkout links,
 * settling provider webhooks and cancelling Pending payments. Settlement itself runs
 * in one database transaction in the store; this layer decides what a verified
 * notification means and acknowledges everything that can never settle.
 *
 * @dependencies
 * - context, errors, fmt, log, strconv, time: Standard Go libraries.
 * - github.com/google/uuid: Buyer, course and transaction identifiers.
 * - github.com/shopspring/decimal: Charge amounts.
 * - internal/store: Settlement parameters and catalog lookups.
 * - internal/metrics: Webhook outcome counters and settlement latency.
 * - pkg/gatewayclient: Checkout requests and verified webhook events.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/learnary/payment-service/internal/domain"
	"github.com/learnary/payment-service/internal/metrics"
	"github.com/learnary/payment-service/internal/store"
	"github.com/learnary/payment-service/pkg/gatewayclient"
	"github.com/shopspring/decimal"
)

// purchase is a resolved buy target: the courses it grants and what it costs.
type purchase struct {
	kind     domain.PurchaseKind
	courseID *uuid.UUID
	groupID  *uuid.UUID
	title    string
	courses  []domain.Course
	amount   decimal.Decimal
}

// CreatePaymentLink prices the purchase, durably records a Pending Pay transaction
// and then asks the provider for a hosted checkout.
func (s *Service) CreatePaymentLink(ctx context.Context, buyerID uuid.UUID, req domain.PaymentLinkRequest) (*domain.PaymentLink, error) {
	if buyerID == uuid.Nil {
		return nil, domain.InvalidInputf("buyer id is required")
	}
	if (req.CourseID == nil) == (req.GroupID == nil) {
		return nil, domain.InvalidInputf("exactly one of course_id or group_id is required")
	}

	if err := s.enforceRateLimit(ctx, rateLimitScopePaymentLink, buyerID.String()); err != nil {
		return nil, err
	}

	p, err := s.resolvePurchase(ctx, req)
	if err != nil {
		return nil, err
	}

	for _, course := range p.courses {
		if course.InstructorID == buyerID {
			return nil, domain.InvalidInputf("you cannot purchase your own course")
		}
	}

	courseIDs := courseIDsOf(p.courses)
	owned, err := s.repo.CountEnrollments(ctx, buyerID, courseIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to check enrollments: %w: %w", domain.ErrTransientStorage, err)
	}
	if owned >= len(courseIDs) {
		return nil, fmt.Errorf("%w: already purchased", domain.ErrAlreadyOwned)
	}

	if !p.amount.IsPositive() {
		return nil, domain.InvalidInputf("free courses do not require payment")
	}

	now := s.now()
	kind := p.kind
	var pending *domain.Transaction
	for attempt := 1; attempt <= maxOrderCodeAttempts; attempt++ {
		code := s.newOrderCode(now)
		candidate := &domain.Transaction{
			ID:           uuid.New(),
			OwnerID:      buyerID,
			CourseID:     p.courseID,
			GroupID:      p.groupID,
			Amount:       p.amount,
			Currency:     s.settings.Currency,
			Type:         domain.TransactionTypePay,
			Status:       domain.TransactionStatusPending,
			PurchaseKind: &kind,
			PaymentCode:  &code,
			Description:  fmt.Sprintf("Payment for %s %s", lowerKind(kind), p.title),
		}
		err = s.repo.CreatePendingPayment(ctx, candidate)
		if errors.Is(err, store.ErrDuplicatePaymentCode) {
			log.Printf("level=warn component=settlement msg=\"order code collision; regenerating\" attempt=%d", attempt)
			continue
		}
		if err != nil {
			return nil, err
		}
		pending = candidate
		break
	}
	if pending == nil {
		return nil, fmt.Errorf("failed to allocate a unique order code: %w", domain.ErrTransientStorage)
	}
	orderCode := *pending.PaymentCode

	expiresAt := now.Add(s.settings.PendingPaymentTTL)
	checkout, err := s.gateway.CreateCheckout(ctx, gatewayclient.CheckoutRequest{
		OrderCode:   orderCode,
		Amount:      s.toMinorUnits(pending.Amount),
		Description: "DH" + strconv.FormatInt(orderCode%1_000_000_000, 10),
		CancelURL:   s.settings.CancelURL,
		ReturnURL:   s.settings.ReturnURL,
		ExpiredAt:   expiresAt.Unix(),
	})
	if err != nil {
		log.Printf("level=error component=settlement msg=\"checkout creation failed\" order_code=%d err=%v", orderCode, err)
		if _, _, cancelErr := s.repo.CancelPendingPayment(ctx, orderCode, nil); cancelErr != nil {
			log.Printf("level=error component=settlement msg=\"failed to cancel orphaned pending payment\" order_code=%d err=%v", orderCode, cancelErr)
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrPaymentGateway, err)
	}

	metrics.PaymentLinksCreated.WithLabelValues(string(kind)).Inc()
	log.Printf("level=info component=settlement msg=\"payment link created\" order_code=%d buyer_id=%s kind=%s amount=%s", orderCode, buyerID, kind, pending.Amount)

	return &domain.PaymentLink{
		CheckoutURL:   checkout.CheckoutURL,
		QRCode:        checkout.QRCode,
		PaymentLinkID: checkout.PaymentLinkID,
		OrderCode:     orderCode,
		Amount:        pending.Amount,
		Currency:      pending.Currency,
		ExpiresAt:     expiresAt,
	}, nil
}

// ProcessWebhook verifies a provider notification and settles the matching payment.
// Every verified event is acknowledged unless storage fails, so the provider stops
// retrying events that can never settle.
func (s *Service) ProcessWebhook(ctx context.Context, body []byte) (*domain.WebhookResult, error) {
	event, err := s.gateway.VerifyWebhook(body)
	if err != nil {
		metrics.WebhookSignatureFailures.Inc()
		log.Printf("level=warn component=settlement msg=\"webhook rejected\" err=%v", err)
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}

	orderCode := event.Data.OrderCode
	result, err := s.settleWebhook(ctx, event)
	if err != nil {
		return nil, err
	}
	metrics.WebhooksProcessed.WithLabelValues(string(result.Outcome)).Inc()
	log.Printf("level=info component=settlement msg=\"webhook processed\" order_code=%d outcome=%s", orderCode, result.Outcome)
	return result, nil
}

func (s *Service) settleWebhook(ctx context.Context, event *gatewayclient.WebhookEvent) (*domain.WebhookResult, error) {
	orderCode := event.Data.OrderCode
	result := &domain.WebhookResult{OrderCode: orderCode}

	payment, err := s.repo.FindTransactionByPaymentCode(ctx, orderCode)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			result.Outcome = domain.WebhookOutcomeUnmatched
			return result, nil
		}
		return nil, fmt.Errorf("failed to load payment %d: %w: %w", orderCode, domain.ErrTransientStorage, err)
	}
	result.TransactionID = &payment.ID

	if !event.Successful() {
		result.Outcome = domain.WebhookOutcomeNotSuccessful
		return result, nil
	}

	switch payment.Status {
	case domain.TransactionStatusPending:
	case domain.TransactionStatusCancel:
		return s.recordLatePayment(ctx, payment, event)
	default:
		result.Outcome = domain.WebhookOutcomeAlreadySettled
		return result, nil
	}

	paid := s.fromMinorUnits(event.Data.Amount)
	if !paid.Equal(payment.Amount) {
		log.Printf("level=error component=settlement msg=\"webhook amount does not match charge; manual reconciliation required\" order_code=%d expected=%s received=%s", orderCode, payment.Amount, paid)
		result.Outcome = domain.WebhookOutcomeAmountMismatch
		return result, nil
	}

	courses, err := s.coursesForPayment(ctx, payment)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrInvalidState) {
			return s.recordBlockedSettlement(ctx, payment, event, err)
		}
		return nil, err
	}

	paidAt := parseProviderTime(event.Data.TransactionDateTime, s.now())
	start := time.Now()
	settled, err := s.repo.SettlePayment(ctx, store.SettlePaymentParams{
		PaymentCode: orderCode,
		CourseIDs:   courseIDsOf(courses),
		Credits:     SplitCredits(payment.Amount, courses, s.settings.PlatformFeePercent, s.settings.CurrencyScale),
		Currency:    payment.Currency,
		PaidAt:      paidAt,
		Exchange:    s.settings.EventsExchange,
	})
	if err != nil {
		log.Printf("level=error component=settlement msg=\"settlement aborted\" order_code=%d err=%v", orderCode, err)
		return nil, err
	}
	metrics.SettlementDuration.Observe(time.Since(start).Seconds())

	if !settled.Settled {
		if settled.Transaction != nil && settled.Transaction.Status == domain.TransactionStatusCancel {
			return s.recordLatePayment(ctx, settled.Transaction, event)
		}
		result.Outcome = domain.WebhookOutcomeAlreadySettled
		return result, nil
	}

	log.Printf("level=info component=settlement msg=\"payment settled\" order_code=%d learner_id=%s enrolled=%d deposits=%d", orderCode, payment.OwnerID, len(settled.EnrolledCourseIDs), len(settled.Deposits))
	result.Outcome = domain.WebhookOutcomeSettled
	return result, nil
}

// recordLatePayment leaves a cancelled payment cancelled and tells operators that
// money arrived for it anyway. Redeliveries of the same notification are not
// reported twice.
func (s *Service) recordLatePayment(ctx context.Context, payment *domain.Transaction, event *gatewayclient.WebhookEvent) (*domain.WebhookResult, error) {
	orderCode := event.Data.OrderCode
	late := domain.LatePaymentEvent{
		LearnerID:     payment.OwnerID,
		TransactionID: payment.ID,
		OrderCode:     strconv.FormatInt(orderCode, 10),
		Amount:        s.fromMinorUnits(event.Data.Amount),
		Reference:     event.Data.Reference,
		ReceivedAt:    s.now(),
	}
	if err := s.enqueueOperatorEvent(ctx, domain.RoutingKeyLatePaymentAfterCancel, orderCode, late); err != nil {
		return nil, fmt.Errorf("failed to record late payment: %w", err)
	}
	return &domain.WebhookResult{
		OrderCode:     orderCode,
		Outcome:       domain.WebhookOutcomeLateAfterCancel,
		TransactionID: &payment.ID,
	}, nil
}

// recordBlockedSettlement acknowledges a paid order whose purchase target cannot be
// resolved any more. The payment is left untouched for manual enrollment or refund.
func (s *Service) recordBlockedSettlement(ctx context.Context, payment *domain.Transaction, event *gatewayclient.WebhookEvent, cause error) (*domain.WebhookResult, error) {
	orderCode := event.Data.OrderCode
	blocked := domain.SettlementBlockedEvent{
		LearnerID:     payment.OwnerID,
		TransactionID: payment.ID,
		OrderCode:     strconv.FormatInt(orderCode, 10),
		CourseID:      payment.CourseID,
		GroupID:       payment.GroupID,
		Amount:        payment.Amount,
		Reference:     event.Data.Reference,
		Reason:        cause.Error(),
		ReceivedAt:    s.now(),
	}
	if err := s.enqueueOperatorEvent(ctx, domain.RoutingKeySettlementBlocked, orderCode, blocked); err != nil {
		return nil, fmt.Errorf("failed to record blocked settlement: %w", err)
	}
	return &domain.WebhookResult{
		OrderCode:     orderCode,
		Outcome:       domain.WebhookOutcomeSettlementBlocked,
		TransactionID: &payment.ID,
	}, nil
}

// enqueueOperatorEvent writes at most one outbox row per routing key and order.
func (s *Service) enqueueOperatorEvent(ctx context.Context, routingKey string, orderCode int64, payload interface{}) error {
	inserted, err := s.repo.EnqueueEventOnce(ctx, s.settings.EventsExchange, routingKey, domain.OperatorEventKey(routingKey, orderCode), payload)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrTransientStorage, err)
	}
	if inserted {
		log.Printf("level=error component=settlement msg=\"manual reconciliation required\" order_code=%d event=%s", orderCode, routingKey)
	} else {
		log.Printf("level=info component=settlement msg=\"operator event already recorded\" order_code=%d event=%s", orderCode, routingKey)
	}
	return nil
}

// CancelPayment cancels the requester's own payment if it is still Pending. Calling
// it for a paid or already cancelled order is a no-op.
func (s *Service) CancelPayment(ctx context.Context, requesterID uuid.UUID, orderCode int64) (*domain.CancelResult, error) {
	if orderCode <= 0 {
		return nil, domain.InvalidInputf("order_code must be a positive integer")
	}

	payment, cancelled, err := s.repo.CancelPendingPayment(ctx, orderCode, &requesterID)
	if err != nil {
		return nil, err
	}

	if cancelled {
		metrics.PaymentsCancelled.WithLabelValues("user").Inc()
		log.Printf("level=info component=settlement msg=\"payment cancelled\" order_code=%d owner_id=%s", orderCode, requesterID)
		if err := s.gateway.CancelPaymentLink(ctx, orderCode, "Cancelled by buyer"); err != nil {
			log.Printf("level=warn component=settlement msg=\"provider link cancellation failed\" order_code=%d err=%v", orderCode, err)
		}
	}

	return &domain.CancelResult{
		OrderCode: orderCode,
		Status:    payment.Status,
		Cancelled: cancelled,
	}, nil
}

func (s *Service) resolvePurchase(ctx context.Context, req domain.PaymentLinkRequest) (*purchase, error) {
	if req.CourseID != nil {
		course, err := s.catalog.FindCourseByID(ctx, *req.CourseID)
		if err != nil {
			return nil, err
		}
		courseID := course.ID
		return &purchase{
			kind:     domain.PurchaseKindCourse,
			courseID: &courseID,
			title:    course.Title,
			courses:  []domain.Course{*course},
			amount:   ComputeCharge([]decimal.Decimal{course.Price}, decimal.Zero, s.settings.CurrencyScale),
		}, nil
	}

	group, err := s.catalog.FindGroupByID(ctx, *req.GroupID)
	if err != nil {
		return nil, err
	}
	if len(group.Courses) == 0 {
		return nil, domain.InvalidInputf("combo %s has no courses", group.ID)
	}
	groupID := group.ID
	return &purchase{
		kind:    domain.PurchaseKindCombo,
		groupID: &groupID,
		title:   group.Name,
		courses: group.Courses,
		amount:  ComputeCharge(coursePrices(group.Courses), group.DiscountPercent, s.settings.CurrencyScale),
	}, nil
}

// coursesForPayment resolves the instructor split targets from the typed purchase
// kind stored on the payment.
func (s *Service) coursesForPayment(ctx context.Context, payment *domain.Transaction) ([]domain.Course, error) {
	kind := domain.PurchaseKindCourse
	if payment.PurchaseKind != nil {
		kind = *payment.PurchaseKind
	}

	switch {
	case kind == domain.PurchaseKindCourse && payment.CourseID != nil:
		course, err := s.catalog.FindCourseByID(ctx, *payment.CourseID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve purchased course: %w", err)
		}
		return []domain.Course{*course}, nil
	case kind == domain.PurchaseKindCombo && payment.GroupID != nil:
		group, err := s.catalog.FindGroupByID(ctx, *payment.GroupID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve purchased combo: %w", err)
		}
		if len(group.Courses) == 0 {
			return nil, fmt.Errorf("combo %s has no courses: %w", group.ID, domain.ErrInvalidState)
		}
		return group.Courses, nil
	}
	return nil, fmt.Errorf("payment %s has no purchase target: %w", payment.ID, domain.ErrInvalidState)
}

func parseProviderTime(raw string, fallback time.Time) time.Time {
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return fallback
}

func courseIDsOf(courses []domain.Course) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(courses))
	for _, course := range courses {
		ids = append(ids, course.ID)
	}
	return ids
}

func coursePrices(courses []domain.Course) []decimal.Decimal {
	prices := make([]decimal.Decimal, 0, len(courses))
	for _, course := range courses {
		prices = append(prices, course.Price)
	}
	return prices
}

func lowerKind(kind domain.PurchaseKind) string {
	if kind == domain.PurchaseKindCombo {
		return "combo"
	}
	return "course"
}
