/**
 * @description
 * This file defines the contracts of the Ledger Store. `Repository` is the only way
 * the engines read or mutate balances, ledger rows, withdraw requests, enrollments and
 * the notification outbox. `CatalogReader` is the read-only view of courses and combos
 * that the settlement needs for pricing and instructor lookup.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid, github.com/shopspring/decimal: ids and money.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/learnary/payment-service/internal/domain"
	"github.com/shopspring/decimal"
)

// Repository defines the set of methods for interacting with the ledger database.
type Repository interface {
	// Buyer-side payments
	CreatePendingPayment(ctx context.Context, tx *domain.Transaction) error
	FindTransactionByPaymentCode(ctx context.Context, paymentCode int64) (*domain.Transaction, error)
	CancelPendingPayment(ctx context.Context, paymentCode int64, ownerID *uuid.UUID) (*domain.Transaction, bool, error)
	SettlePayment(ctx context.Context, params SettlePaymentParams) (*SettlePaymentResult, error)
	CancelStalePayments(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Transaction, error)
	CountEnrollments(ctx context.Context, learnerID uuid.UUID, courseIDs []uuid.UUID) (int, error)

	// Wallet and withdrawal methods
	FindWalletByOwnerID(ctx context.Context, ownerID uuid.UUID) (*domain.Wallet, error)
	CreateWithdrawRequest(ctx context.Context, params CreateWithdrawRequestParams) (*domain.WithdrawRequest, error)
	ProcessWithdrawRequest(ctx context.Context, params ProcessWithdrawRequestParams) (*ProcessWithdrawRequestResult, error)

	// Projections
	ListTransactions(ctx context.Context, opts domain.TransactionListOptions) ([]domain.Transaction, error)
	ListWithdrawRequests(ctx context.Context, opts domain.WithdrawRequestListOptions) ([]domain.WithdrawRequest, error)

	// Outbox methods
	EnqueueEvent(ctx context.Context, exchange, routingKey string, payload interface{}) error
	EnqueueEventOnce(ctx context.Context, exchange, routingKey, dedupeKey string, payload interface{}) (bool, error)
	ClaimOutboxMessages(ctx context.Context, limit int, staleAfterSeconds int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, id int64) error
	MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, reason string) error
	PurgePublishedOutbox(ctx context.Context, publishedBefore time.Time) (int64, error)
}

// CatalogReader resolves purchase targets.
type CatalogReader interface {
	FindCourseByID(ctx context.Context, courseID uuid.UUID) (*domain.Course, error)
	FindGroupByID(ctx context.Context, groupID uuid.UUID) (*domain.Group, error)
}

// SettlePaymentParams carries everything the settlement unit of work writes.
// Credits must already be split and fee-adjusted.
type SettlePaymentParams struct {
	PaymentCode int64
	CourseIDs   []uuid.UUID
	Credits     []domain.InstructorCredit
	Currency    string
	PaidAt      time.Time
	Exchange    string
}

// SettlePaymentResult describes the committed settlement. Settled is false when
// the payment had already left Pending; in that case nothing was written.
type SettlePaymentResult struct {
	Transaction       *domain.Transaction
	Settled           bool
	EnrolledCourseIDs []uuid.UUID
	Deposits          []domain.Transaction
}

type CreateWithdrawRequestParams struct {
	InstructorID uuid.UUID
	Amount       decimal.Decimal
	Currency     string
	Note         *string
}

type ProcessWithdrawRequestParams struct {
	RequestID uuid.UUID
	AdminID   uuid.UUID
	Action    domain.WithdrawAction
	Note      *string
	Currency  string
	Exchange  string
}

// ProcessWithdrawRequestResult holds the resolved request plus the refund row
// written on rejection.
type ProcessWithdrawRequestResult struct {
	Request *domain.WithdrawRequest
	Refund  *domain.Transaction
	Wallet  *domain.Wallet
}

// OutboxMessage is one claimed event_outbox row.
type OutboxMessage struct {
	ID         int64
	Exchange   string
	RoutingKey string
	Payload    []byte
	Attempts   int
}
