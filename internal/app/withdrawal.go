/**
 * @description
 * Instructor withdrawals and the read-side projections. A withdraw request holds
 * the amount immediately; an admin decision either finalizes it or refunds it.
 *
 * @dependencies
 * - github.com/shopspring/decimal: Withdraw amounts and the configured minimum.
 * - internal/store: Withdraw request parameters.
 * - internal/metrics: Withdraw decision counters.
 */

package app

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/learnary/payment-service/internal/domain"
	"github.com/learnary/payment-service/internal/metrics"
	"github.com/learnary/payment-service/internal/store"
	"github.com/shopspring/decimal"
)

// Viewer identifies who is reading a ledger projection.
type Viewer struct {
	ID      uuid.UUID
	IsAdmin bool
}

// CreateWithdrawRequest files a payout request and holds the amount immediately.
func (s *Service) CreateWithdrawRequest(ctx context.Context, instructorID uuid.UUID, amount decimal.Decimal, note *string) (*domain.WithdrawRequest, error) {
	if instructorID == uuid.Nil {
		return nil, domain.InvalidInputf("instructor id is required")
	}
	if !amount.IsPositive() {
		return nil, domain.InvalidInputf("amount must be greater than zero")
	}
	if !amount.Equal(amount.Truncate(s.settings.CurrencyScale)) {
		return nil, domain.InvalidInputf("amount has more than %d decimal places", s.settings.CurrencyScale)
	}
	if amount.LessThan(s.settings.MinWithdrawAmount) {
		return nil, domain.InvalidInputf("minimum withdraw amount is %s %s", s.settings.MinWithdrawAmount.StringFixed(s.settings.CurrencyScale), s.settings.Currency)
	}

	if err := s.enforceRateLimit(ctx, rateLimitScopeWithdrawRequest, instructorID.String()); err != nil {
		return nil, err
	}

	request, err := s.repo.CreateWithdrawRequest(ctx, store.CreateWithdrawRequestParams{
		InstructorID: instructorID,
		Amount:       amount,
		Currency:     s.settings.Currency,
		Note:         trimNote(note),
	})
	if err != nil {
		return nil, err
	}

	metrics.WithdrawRequests.Inc()
	log.Printf("level=info component=withdrawal msg=\"withdraw request created\" request_id=%s instructor_id=%s amount=%s", request.ID, instructorID, amount)
	return request, nil
}

// ProcessWithdrawRequest approves or rejects a Pending request exactly once.
func (s *Service) ProcessWithdrawRequest(ctx context.Context, adminID, requestID uuid.UUID, action domain.WithdrawAction, note *string) (*domain.WithdrawRequest, error) {
	if requestID == uuid.Nil {
		return nil, domain.InvalidInputf("request_id is required")
	}
	if action != domain.WithdrawActionApprove && action != domain.WithdrawActionReject {
		return nil, domain.InvalidInputf("action must be Approve or Reject")
	}

	result, err := s.repo.ProcessWithdrawRequest(ctx, store.ProcessWithdrawRequestParams{
		RequestID: requestID,
		AdminID:   adminID,
		Action:    action,
		Note:      trimNote(note),
		Currency:  s.settings.Currency,
		Exchange:  s.settings.EventsExchange,
	})
	if err != nil {
		return nil, err
	}

	metrics.WithdrawDecisions.WithLabelValues(string(action)).Inc()
	log.Printf("level=info component=withdrawal msg=\"withdraw request processed\" request_id=%s admin_id=%s action=%s", requestID, adminID, action)
	return result.Request, nil
}

// GetWalletBalance returns the owner's wallet. Owners without a wallet see a zero
// balance; no wallet is created by reading.
func (s *Service) GetWalletBalance(ctx context.Context, ownerID uuid.UUID) (*domain.Wallet, error) {
	wallet, err := s.repo.FindWalletByOwnerID(ctx, ownerID)
	if err != nil {
		if errors.Is(err, store.ErrWalletNotFound) {
			return &domain.Wallet{OwnerID: ownerID, Balance: decimal.Zero, Currency: s.settings.Currency}, nil
		}
		return nil, err
	}
	return wallet, nil
}

// GetAllTransactions lists ledger rows. Non-admin viewers only see their own.
func (s *Service) GetAllTransactions(ctx context.Context, viewer Viewer, opts domain.TransactionListOptions) ([]domain.Transaction, error) {
	if opts.Type != nil && !opts.Type.Valid() {
		return nil, domain.InvalidInputf("unknown transaction type %q", *opts.Type)
	}
	if opts.Status != nil && !opts.Status.Valid() {
		return nil, domain.InvalidInputf("unknown transaction status %q", *opts.Status)
	}
	if !viewer.IsAdmin {
		ownerID := viewer.ID
		opts.OwnerID = &ownerID
	}
	return s.repo.ListTransactions(ctx, opts)
}

// GetWithdrawRequests lists withdraw requests, optionally filtered by status.
// Non-admin viewers only see their own.
func (s *Service) GetWithdrawRequests(ctx context.Context, viewer Viewer, opts domain.WithdrawRequestListOptions) ([]domain.WithdrawRequest, error) {
	if opts.Status != nil && !opts.Status.Valid() {
		return nil, domain.InvalidInputf("unknown withdraw status %q", *opts.Status)
	}
	if !viewer.IsAdmin {
		instructorID := viewer.ID
		opts.InstructorID = &instructorID
	}
	return s.repo.ListWithdrawRequests(ctx, opts)
}

func trimNote(note *string) *string {
	if note == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*note)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
