/**
 * @description
 * Withdraw request storage. Creating a request debits the locked wallet; deciding
 * one either finalizes the Withdraw transaction or refunds the wallet with a Refund
 * row. Both paths write their notification to the outbox in the same transaction.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: Transactions and row locks.
 * - internal/domain: Withdraw requests, ledger rows and events.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/learnary/payment-service/internal/domain"
)

const withdrawRequestColumns = `id, instructor_id, wallet_id, transaction_id, admin_id, amount, status,
	note, admin_note, created_at, processed_at`

// CreateWithdrawRequest holds the requested amount: the wallet is locked, checked
// and debited in the same unit of work that records the request and its Pending
// Withdraw transaction.
func (r *PostgresRepository) CreateWithdrawRequest(ctx context.Context, params CreateWithdrawRequestParams) (*domain.WithdrawRequest, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, transientError("begin withdraw request", err)
	}
	defer tx.Rollback(ctx)

	var wallet domain.Wallet
	err = tx.QueryRow(ctx, `
		SELECT id, owner_id, balance, currency
		FROM wallets
		WHERE owner_id = $1
		FOR UPDATE
	`, params.InstructorID).Scan(&wallet.ID, &wallet.OwnerID, &wallet.Balance, &wallet.Currency)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, transientError("lock wallet", err)
	}

	if wallet.Balance.LessThan(params.Amount) {
		return nil, ErrInsufficientFunds
	}

	if _, err := tx.Exec(ctx, `UPDATE wallets SET balance = balance - $1, updated_at = NOW() WHERE id = $2`, params.Amount, wallet.ID); err != nil {
		return nil, transientError("debit wallet", err)
	}

	walletID := wallet.ID
	withdrawTx := domain.Transaction{
		ID:          uuid.New(),
		OwnerID:     params.InstructorID,
		WalletID:    &walletID,
		Amount:      params.Amount,
		Currency:    params.Currency,
		Type:        domain.TransactionTypeWithdraw,
		Status:      domain.TransactionStatusPending,
		Description: "Withdraw request",
		Note:        params.Note,
	}
	if err := insertLedgerRowTx(ctx, tx, &withdrawTx); err != nil {
		return nil, err
	}

	request := domain.WithdrawRequest{
		ID:            uuid.New(),
		InstructorID:  params.InstructorID,
		WalletID:      wallet.ID,
		TransactionID: withdrawTx.ID,
		Amount:        params.Amount,
		Status:        domain.WithdrawStatusPending,
		Note:          params.Note,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO withdraw_requests (id, instructor_id, wallet_id, transaction_id, amount, status, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, request.ID, request.InstructorID, request.WalletID, request.TransactionID, request.Amount, string(request.Status), request.Note).Scan(&request.CreatedAt)
	if err != nil {
		return nil, transientError("insert withdraw request", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, transientError("commit withdraw request", err)
	}
	return &request, nil
}

// ProcessWithdrawRequest resolves a Pending request exactly once. Approval only
// flips statuses because the money already left the wallet. Rejection returns the
// hold and records a compensating Refund row.
func (r *PostgresRepository) ProcessWithdrawRequest(ctx context.Context, params ProcessWithdrawRequestParams) (*ProcessWithdrawRequestResult, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, transientError("begin withdraw decision", err)
	}
	defer tx.Rollback(ctx)

	request, err := scanWithdrawRequest(tx.QueryRow(ctx, `SELECT `+withdrawRequestColumns+` FROM withdraw_requests WHERE id = $1 FOR UPDATE`, params.RequestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWithdrawRequestNotFound
		}
		return nil, transientError("lock withdraw request", err)
	}
	if request.Status != domain.WithdrawStatusPending {
		return nil, ErrWithdrawRequestNotPending
	}

	var (
		newStatus   domain.WithdrawStatus
		txStatus    domain.TransactionStatus
		routingKey  string
		eventTxID   = request.TransactionID
		result      = &ProcessWithdrawRequestResult{}
		processedAt time.Time
	)
	switch params.Action {
	case domain.WithdrawActionApprove:
		newStatus = domain.WithdrawStatusSuccess
		txStatus = domain.TransactionStatusSuccess
		routingKey = domain.RoutingKeyWithdrawApproved
	case domain.WithdrawActionReject:
		newStatus = domain.WithdrawStatusRejected
		txStatus = domain.TransactionStatusCancel
		routingKey = domain.RoutingKeyWithdrawRejected
	default:
		return nil, domain.InvalidInputf("unknown withdraw action %q", params.Action)
	}

	err = tx.QueryRow(ctx, `
		UPDATE withdraw_requests
		SET status = $1, admin_id = $2, admin_note = $3, processed_at = NOW()
		WHERE id = $4 AND status = 'Pending'
		RETURNING processed_at
	`, string(newStatus), params.AdminID, params.Note, request.ID).Scan(&processedAt)
	if err != nil {
		return nil, transientError("update withdraw request", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE transactions
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND type = 'Withdraw' AND status = 'Pending'
	`, string(txStatus), request.TransactionID)
	if err != nil {
		return nil, transientError("update withdraw transaction", err)
	}
	if tag.RowsAffected() != 1 {
		return nil, fmt.Errorf("withdraw transaction %s is not pending: %w", request.TransactionID, domain.ErrInvalidState)
	}

	if params.Action == domain.WithdrawActionReject {
		var wallet domain.Wallet
		err = tx.QueryRow(ctx, `
			UPDATE wallets
			SET balance = balance + $1, updated_at = NOW()
			WHERE id = $2
			RETURNING id, owner_id, balance, currency, created_at, updated_at
		`, request.Amount, request.WalletID).Scan(&wallet.ID, &wallet.OwnerID, &wallet.Balance, &wallet.Currency, &wallet.CreatedAt, &wallet.UpdatedAt)
		if err != nil {
			return nil, transientError("refund wallet", err)
		}
		result.Wallet = &wallet

		walletID := request.WalletID
		sourceID := request.TransactionID
		refund := domain.Transaction{
			ID:                  uuid.New(),
			OwnerID:             request.InstructorID,
			WalletID:            &walletID,
			SourceTransactionID: &sourceID,
			Amount:              request.Amount,
			Currency:            params.Currency,
			Type:                domain.TransactionTypeRefund,
			Status:              domain.TransactionStatusRefund,
			Description:         "Withdraw request rejected",
			Note:                params.Note,
		}
		if err := insertLedgerRowTx(ctx, tx, &refund); err != nil {
			return nil, err
		}
		result.Refund = &refund
		eventTxID = refund.ID
	}

	event := domain.WithdrawDecisionEvent{
		InstructorID:  request.InstructorID,
		RequestID:     request.ID,
		TransactionID: eventTxID,
		Amount:        request.Amount,
		Currency:      params.Currency,
		Decision:      params.Action,
		Reason:        params.Note,
		DecidedAt:     processedAt,
	}
	if err := enqueueEventTx(ctx, tx, params.Exchange, routingKey, event); err != nil {
		return nil, transientError("enqueue withdraw event", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, transientError("commit withdraw decision", err)
	}

	adminID := params.AdminID
	request.Status = newStatus
	request.AdminID = &adminID
	request.AdminNote = params.Note
	request.ProcessedAt = &processedAt
	result.Request = request
	return result, nil
}

// ListWithdrawRequests returns withdraw requests newest first.
func (r *PostgresRepository) ListWithdrawRequests(ctx context.Context, opts domain.WithdrawRequestListOptions) ([]domain.WithdrawRequest, error) {
	limit, offset := normalizePage(opts.Limit, opts.Offset)

	query := `SELECT ` + withdrawRequestColumns + ` FROM withdraw_requests WHERE 1 = 1`
	args := []interface{}{}
	argPos := 1
	if opts.InstructorID != nil {
		query += fmt.Sprintf(" AND instructor_id = $%d", argPos)
		args = append(args, *opts.InstructorID)
		argPos++
	}
	if opts.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argPos)
		args = append(args, string(*opts.Status))
		argPos++
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	requests := make([]domain.WithdrawRequest, 0, limit)
	for rows.Next() {
		request, err := scanWithdrawRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *request)
	}
	return requests, rows.Err()
}

func scanWithdrawRequest(row pgx.Row) (*domain.WithdrawRequest, error) {
	var (
		request domain.WithdrawRequest
		status  string
	)
	err := row.Scan(
		&request.ID,
		&request.InstructorID,
		&request.WalletID,
		&request.TransactionID,
		&request.AdminID,
		&request.Amount,
		&status,
		&request.Note,
		&request.AdminNote,
		&request.CreatedAt,
		&request.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	request.Status = domain.WithdrawStatus(status)
	return &request, nil
}
