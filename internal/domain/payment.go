/**
 * @description
 * Request and result types of the buyer-side operations.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentLinkRequest names exactly one purchase target.
type PaymentLinkRequest struct {
	CourseID *uuid.UUID `json:"course_id,omitempty"`
	GroupID  *uuid.UUID `json:"group_id,omitempty"`
}

// PaymentLink is returned to the buyer after the Pending transaction is durable.
type PaymentLink struct {
	CheckoutURL   string          `json:"checkout_url"`
	QRCode        string          `json:"qr_code,omitempty"`
	PaymentLinkID string          `json:"payment_link_id,omitempty"`
	OrderCode     int64           `json:"order_code,string"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	ExpiresAt     time.Time       `json:"expires_at"`
}

// WebhookOutcome records what a verified provider callback did to the ledger.
type WebhookOutcome string

const (
	WebhookOutcomeSettled           WebhookOutcome = "settled"
	WebhookOutcomeAlreadySettled    WebhookOutcome = "already_settled"
	WebhookOutcomeUnmatched         WebhookOutcome = "unmatched"
	WebhookOutcomeNotSuccessful     WebhookOutcome = "not_successful"
	WebhookOutcomeAmountMismatch    WebhookOutcome = "amount_mismatch"
	WebhookOutcomeLateAfterCancel   WebhookOutcome = "late_after_cancel"
	// The payment matched but the course or combo it bought is gone from the catalog.
	WebhookOutcomeSettlementBlocked WebhookOutcome = "settlement_blocked"
)

// WebhookResult is the acknowledgement-side summary of processWebhook.
type WebhookResult struct {
	OrderCode     int64          `json:"order_code,string"`
	Outcome       WebhookOutcome `json:"outcome"`
	TransactionID *uuid.UUID     `json:"transaction_id,omitempty"`
}

// CancelResult reports whether cancelPayment actually moved a row.
type CancelResult struct {
	OrderCode int64             `json:"order_code,string"`
	Status    TransactionStatus `json:"status"`
	Cancelled bool              `json:"cancelled"`
}

// InstructorCredit is one instructor payout produced by a settlement.
type InstructorCredit struct {
	CourseID     uuid.UUID       `json:"course_id"`
	InstructorID uuid.UUID       `json:"instructor_id"`
	Share        decimal.Decimal `json:"share"`
	Credit       decimal.Decimal `json:"credit"`
}
