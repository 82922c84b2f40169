package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/learnary/payment-service/internal/domain"
	"github.com/learnary/payment-service/internal/store"
	"github.com/learnary/payment-service/pkg/gatewayclient"
	"github.com/shopspring/decimal"
)

type ledgerRepoStub struct {
	store.Repository

	enrollments int
	duplicates  int

	created     []*domain.Transaction
	createErr   error
	payments    map[int64]*domain.Transaction
	findErr     error
	cancelCalls []cancelCall

	settleParams []store.SettlePaymentParams
	settleResult *store.SettlePaymentResult
	settleErr    error

	enqueued []enqueuedEvent

	wallet         *domain.Wallet
	walletErr      error
	withdrawParams []store.CreateWithdrawRequestParams
	withdrawErr    error
	processParams  []store.ProcessWithdrawRequestParams
	processErr     error

	txListOpts       []domain.TransactionListOptions
	withdrawListOpts []domain.WithdrawRequestListOptions
}

type cancelCall struct {
	orderCode int64
	ownerID   *uuid.UUID
}

type enqueuedEvent struct {
	routingKey string
	dedupeKey  string
	payload    interface{}
}

func (s *ledgerRepoStub) CountEnrollments(ctx context.Context, learnerID uuid.UUID, courseIDs []uuid.UUID) (int, error) {
	return s.enrollments, nil
}

func (s *ledgerRepoStub) CreatePendingPayment(ctx context.Context, tx *domain.Transaction) error {
	if s.duplicates > 0 {
		s.duplicates--
		return store.ErrDuplicatePaymentCode
	}
	if s.createErr != nil {
		return s.createErr
	}
	tx.CreatedAt = time.Now()
	s.created = append(s.created, tx)
	if s.payments == nil {
		s.payments = map[int64]*domain.Transaction{}
	}
	s.payments[*tx.PaymentCode] = tx
	return nil
}

func (s *ledgerRepoStub) FindTransactionByPaymentCode(ctx context.Context, paymentCode int64) (*domain.Transaction, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	tx, ok := s.payments[paymentCode]
	if !ok {
		return nil, store.ErrTransactionNotFound
	}
	return tx, nil
}

func (s *ledgerRepoStub) CancelPendingPayment(ctx context.Context, paymentCode int64, ownerID *uuid.UUID) (*domain.Transaction, bool, error) {
	s.cancelCalls = append(s.cancelCalls, cancelCall{orderCode: paymentCode, ownerID: ownerID})
	tx, ok := s.payments[paymentCode]
	if !ok || (ownerID != nil && tx.OwnerID != *ownerID) {
		return nil, false, store.ErrTransactionNotFound
	}
	if tx.Status != domain.TransactionStatusPending {
		return tx, false, nil
	}
	tx.Status = domain.TransactionStatusCancel
	return tx, true, nil
}

func (s *ledgerRepoStub) SettlePayment(ctx context.Context, params store.SettlePaymentParams) (*store.SettlePaymentResult, error) {
	s.settleParams = append(s.settleParams, params)
	if s.settleErr != nil {
		return nil, s.settleErr
	}
	if s.settleResult != nil {
		return s.settleResult, nil
	}
	tx := s.payments[params.PaymentCode]
	if tx.Status != domain.TransactionStatusPending {
		return &store.SettlePaymentResult{Transaction: tx}, nil
	}
	tx.Status = domain.TransactionStatusSuccess
	return &store.SettlePaymentResult{Transaction: tx, Settled: true, EnrolledCourseIDs: params.CourseIDs}, nil
}

func (s *ledgerRepoStub) EnqueueEvent(ctx context.Context, exchange, routingKey string, payload interface{}) error {
	s.enqueued = append(s.enqueued, enqueuedEvent{routingKey: routingKey, payload: payload})
	return nil
}

func (s *ledgerRepoStub) EnqueueEventOnce(ctx context.Context, exchange, routingKey, dedupeKey string, payload interface{}) (bool, error) {
	for _, event := range s.enqueued {
		if event.dedupeKey == dedupeKey {
			return false, nil
		}
	}
	s.enqueued = append(s.enqueued, enqueuedEvent{routingKey: routingKey, dedupeKey: dedupeKey, payload: payload})
	return true, nil
}

func (s *ledgerRepoStub) FindWalletByOwnerID(ctx context.Context, ownerID uuid.UUID) (*domain.Wallet, error) {
	if s.walletErr != nil {
		return nil, s.walletErr
	}
	return s.wallet, nil
}

func (s *ledgerRepoStub) CreateWithdrawRequest(ctx context.Context, params store.CreateWithdrawRequestParams) (*domain.WithdrawRequest, error) {
	s.withdrawParams = append(s.withdrawParams, params)
	if s.withdrawErr != nil {
		return nil, s.withdrawErr
	}
	return &domain.WithdrawRequest{
		ID:           uuid.New(),
		InstructorID: params.InstructorID,
		Amount:       params.Amount,
		Status:       domain.WithdrawStatusPending,
		Note:         params.Note,
	}, nil
}

func (s *ledgerRepoStub) ProcessWithdrawRequest(ctx context.Context, params store.ProcessWithdrawRequestParams) (*store.ProcessWithdrawRequestResult, error) {
	s.processParams = append(s.processParams, params)
	if s.processErr != nil {
		return nil, s.processErr
	}
	status := domain.WithdrawStatusSuccess
	if params.Action == domain.WithdrawActionReject {
		status = domain.WithdrawStatusRejected
	}
	adminID := params.AdminID
	return &store.ProcessWithdrawRequestResult{
		Request: &domain.WithdrawRequest{ID: params.RequestID, Status: status, AdminID: &adminID, AdminNote: params.Note},
	}, nil
}

func (s *ledgerRepoStub) ListTransactions(ctx context.Context, opts domain.TransactionListOptions) ([]domain.Transaction, error) {
	s.txListOpts = append(s.txListOpts, opts)
	return []domain.Transaction{}, nil
}

func (s *ledgerRepoStub) ListWithdrawRequests(ctx context.Context, opts domain.WithdrawRequestListOptions) ([]domain.WithdrawRequest, error) {
	s.withdrawListOpts = append(s.withdrawListOpts, opts)
	return []domain.WithdrawRequest{}, nil
}

type catalogStub struct {
	courses map[uuid.UUID]domain.Course
	groups  map[uuid.UUID]domain.Group
}

func (c *catalogStub) FindCourseByID(ctx context.Context, courseID uuid.UUID) (*domain.Course, error) {
	course, ok := c.courses[courseID]
	if !ok {
		return nil, store.ErrCourseNotFound
	}
	return &course, nil
}

func (c *catalogStub) FindGroupByID(ctx context.Context, groupID uuid.UUID) (*domain.Group, error) {
	group, ok := c.groups[groupID]
	if !ok {
		return nil, store.ErrGroupNotFound
	}
	return &group, nil
}

type gatewayStub struct {
	checkoutRequests []gatewayclient.CheckoutRequest
	checkoutErr      error
	onCheckout       func(req gatewayclient.CheckoutRequest)
	cancelled        []int64
	event            *gatewayclient.WebhookEvent
	verifyErr        error
}

func (g *gatewayStub) CreateCheckout(ctx context.Context, req gatewayclient.CheckoutRequest) (*gatewayclient.CheckoutData, error) {
	g.checkoutRequests = append(g.checkoutRequests, req)
	if g.onCheckout != nil {
		g.onCheckout(req)
	}
	if g.checkoutErr != nil {
		return nil, g.checkoutErr
	}
	return &gatewayclient.CheckoutData{
		OrderCode:     req.OrderCode,
		Amount:        req.Amount,
		CheckoutURL:   "https://pay.example/" + uuid.NewString(),
		QRCode:        "qr",
		PaymentLinkID: "pl_test",
	}, nil
}

func (g *gatewayStub) CancelPaymentLink(ctx context.Context, orderCode int64, reason string) error {
	g.cancelled = append(g.cancelled, orderCode)
	return nil
}

func (g *gatewayStub) VerifyWebhook(body []byte) (*gatewayclient.WebhookEvent, error) {
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	return g.event, nil
}

func testSettings() Settings {
	return Settings{
		Currency:                          "VND",
		CurrencyScale:                     0,
		PlatformFeePercent:                decimal.NewFromInt(10),
		MinWithdrawAmount:                 decimal.NewFromInt(50000),
		PendingPaymentTTL:                 15 * time.Minute,
		ReturnURL:                         "https://app/return",
		CancelURL:                         "https://app/cancel",
		EventsExchange:                    "learnary.events",
		PaymentLinkRateLimitPerMinute:     100,
		WithdrawRequestRateLimitPerMinute: 100,
	}
}

func newTestService(repo *ledgerRepoStub, catalog *catalogStub, gateway *gatewayStub) *Service {
	if catalog == nil {
		catalog = &catalogStub{}
	}
	if gateway == nil {
		gateway = &gatewayStub{}
	}
	svc := NewService(repo, catalog, gateway, testSettings())
	next := int64(1_700_000_000_000_000)
	svc.newOrderCode = func(time.Time) int64 {
		next++
		return next
	}
	return svc
}

func successfulEvent(orderCode, amount int64) *gatewayclient.WebhookEvent {
	return &gatewayclient.WebhookEvent{
		Code:    "00",
		Desc:    "success",
		Success: true,
		Data: gatewayclient.WebhookData{
			OrderCode:           orderCode,
			Amount:              amount,
			Reference:           "FT0001",
			TransactionDateTime: "2026-10-17 10:00:00",
			Code:                "00",
		},
	}
}
