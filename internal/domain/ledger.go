/**
 * @description
 * Core ledger models for the payment-service: wallets, ledger transactions,
 * withdraw requests and the enrollments produced by a successful settlement.
 *
 * @notes
 * - Money is always decimal.Decimal. Floats never touch an amount.
 * - PaymentCode is the provider order code and the idempotency key of a
 *   buyer-side payment. It is a BIGINT in storage and a string on the wire.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType classifies a ledger row.
type TransactionType string

const (
	TransactionTypePay      TransactionType = "Pay"
	TransactionTypeDeposit  TransactionType = "Deposit"
	TransactionTypeWithdraw TransactionType = "Withdraw"
	TransactionTypeRefund   TransactionType = "Refund"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypePay, TransactionTypeDeposit, TransactionTypeWithdraw, TransactionTypeRefund:
		return true
	}
	return false
}

// TransactionStatus is monotonic: Pending moves to Success or Cancel once.
// Refund is only used by compensating rows.
type TransactionStatus string

const (
	TransactionStatusPending TransactionStatus = "Pending"
	TransactionStatusSuccess TransactionStatus = "Success"
	TransactionStatusCancel  TransactionStatus = "Cancel"
	TransactionStatusRefund  TransactionStatus = "Refund"
)

func (s TransactionStatus) Valid() bool {
	switch s {
	case TransactionStatusPending, TransactionStatusSuccess, TransactionStatusCancel, TransactionStatusRefund:
		return true
	}
	return false
}

// PurchaseKind tells the settlement what a Pay transaction bought.
type PurchaseKind string

const (
	PurchaseKindCourse PurchaseKind = "Course"
	PurchaseKindCombo  PurchaseKind = "Combo"
)

func (k PurchaseKind) Valid() bool {
	return k == PurchaseKindCourse || k == PurchaseKindCombo
}

// Wallet holds the withdrawable earnings of one instructor.
type Wallet struct {
	ID        uuid.UUID       `json:"id"`
	OwnerID   uuid.UUID       `json:"owner_id"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Transaction maps to the `transactions` table.
type Transaction struct {
	ID                  uuid.UUID         `json:"id"`
	OwnerID             uuid.UUID         `json:"owner_id"`
	CourseID            *uuid.UUID        `json:"course_id,omitempty"`
	GroupID             *uuid.UUID        `json:"group_id,omitempty"`
	WalletID            *uuid.UUID        `json:"wallet_id,omitempty"`
	SourceTransactionID *uuid.UUID        `json:"source_transaction_id,omitempty"`
	Amount              decimal.Decimal   `json:"amount"`
	Currency            string            `json:"currency"`
	Type                TransactionType   `json:"type"`
	Status              TransactionStatus `json:"status"`
	PurchaseKind        *PurchaseKind     `json:"purchase_kind,omitempty"`
	PaymentCode         *int64            `json:"payment_code,omitempty,string"`
	Description         string            `json:"description"`
	Note                *string           `json:"note,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// WithdrawStatus tracks the payout lifecycle.
type WithdrawStatus string

const (
	WithdrawStatusPending  WithdrawStatus = "Pending"
	WithdrawStatusSuccess  WithdrawStatus = "Success"
	WithdrawStatusRejected WithdrawStatus = "Rejected"
)

func (s WithdrawStatus) Valid() bool {
	switch s {
	case WithdrawStatusPending, WithdrawStatusSuccess, WithdrawStatusRejected:
		return true
	}
	return false
}

// WithdrawAction is the administrator's decision on a pending request.
type WithdrawAction string

const (
	WithdrawActionApprove WithdrawAction = "Approve"
	WithdrawActionReject  WithdrawAction = "Reject"
)

// WithdrawRequest is an instructor payout intent. The held amount left the
// wallet when the request was filed.
type WithdrawRequest struct {
	ID            uuid.UUID       `json:"id"`
	InstructorID  uuid.UUID       `json:"instructor_id"`
	WalletID      uuid.UUID       `json:"wallet_id"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	AdminID       *uuid.UUID      `json:"admin_id,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Status        WithdrawStatus  `json:"status"`
	Note          *string         `json:"note,omitempty"`
	AdminNote     *string         `json:"admin_note,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
}

// EnrollmentStatus values for learner_courses.status.
const (
	EnrollmentStatusEnrolled = "Enrolled"
)

// Enrollment is one learner_courses row.
type Enrollment struct {
	LearnerID  uuid.UUID `json:"learner_id"`
	CourseID   uuid.UUID `json:"course_id"`
	Status     string    `json:"status"`
	Progress   int       `json:"progress"`
	EnrolledAt time.Time `json:"enrolled_at"`
}

// TransactionListOptions filters ledger projections. A nil OwnerID lists
// every owner.
type TransactionListOptions struct {
	OwnerID *uuid.UUID
	Type    *TransactionType
	Status  *TransactionStatus
	Limit   int
	Offset  int
}

// WithdrawRequestListOptions filters withdraw request projections.
type WithdrawRequestListOptions struct {
	InstructorID *uuid.UUID
	Status       *WithdrawStatus
	Limit        int
	Offset       int
}
