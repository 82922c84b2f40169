/**
 * @description
 * Notification events written to the outbox inside the same database
 * transaction as the ledger change they describe. The outbox dispatcher
 * publishes them to RabbitMQ after commit; the notification collaborator
 * consumes them and delivers e-mails.
 */

package domain

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	RoutingKeyEnrollmentConfirmed    = "payment.enrollment.confirmed"
	RoutingKeyWithdrawApproved       = "withdraw.approved"
	RoutingKeyWithdrawRejected       = "withdraw.rejected"
	RoutingKeyLatePaymentAfterCancel = "payment.late_after_cancel"
	RoutingKeySettlementBlocked      = "payment.settlement_blocked"
)

// EnrollmentConfirmedEvent drives notifyEnrollmentConfirmed.
type EnrollmentConfirmedEvent struct {
	LearnerID     uuid.UUID       `json:"learner_id"`
	CourseIDs     []uuid.UUID     `json:"course_ids"`
	GroupID       *uuid.UUID      `json:"group_id,omitempty"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	OrderCode     string          `json:"order_code"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	PaidAt        time.Time       `json:"paid_at"`
}

// WithdrawDecisionEvent drives notifyWithdrawApproved and notifyWithdrawRejected.
type WithdrawDecisionEvent struct {
	InstructorID  uuid.UUID       `json:"instructor_id"`
	RequestID     uuid.UUID       `json:"request_id"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Decision      WithdrawAction  `json:"decision"`
	Reason        *string         `json:"reason,omitempty"`
	DecidedAt     time.Time       `json:"decided_at"`
}

// LatePaymentEvent flags money received for a payment that was already
// cancelled. Operators reconcile these by hand.
type LatePaymentEvent struct {
	LearnerID     uuid.UUID       `json:"learner_id"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	OrderCode     string          `json:"order_code"`
	Amount        decimal.Decimal `json:"amount"`
	Reference     string          `json:"reference,omitempty"`
	ReceivedAt    time.Time       `json:"received_at"`
}

// SettlementBlockedEvent flags a paid order whose course or combo can no longer
// be resolved from the catalog.
type SettlementBlockedEvent struct {
	LearnerID     uuid.UUID       `json:"learner_id"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	OrderCode     string          `json:"order_code"`
	CourseID      *uuid.UUID      `json:"course_id,omitempty"`
	GroupID       *uuid.UUID      `json:"group_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Reference     string          `json:"reference,omitempty"`
	Reason        string          `json:"reason"`
	ReceivedAt    time.Time       `json:"received_at"`
}

// OperatorEventKey is the outbox dedupe key for a one-off operator event about an order.
func OperatorEventKey(routingKey string, orderCode int64) string {
	return routingKey + ":" + strconv.FormatInt(orderCode, 10)
}
