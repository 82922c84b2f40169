/**
 * @description
 * This file contains the settlement unit of work. A conditional Pending to Success
 * update claims the Pay transaction; the same transaction enrolls the learner,
 * credits every instructor wallet with a Deposit row and writes the enrollment
 * event to the outbox. A payment that is no longer Pending is returned untouched.
 *
 * @dependencies
 * - context, errors, fmt, log, sort, strconv: Standard Go libraries.
 * - github.com/jackc/pgx/v5: Transactions and row locks.
 * - github.com/shopspring/decimal: Wallet credits.
 * - internal/domain: Ledger rows and events.
 */

package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/learnary/payment-service/internal/domain"
	"github.com/shopspring/decimal"
)

// SettlePayment finalizes a buyer payment in one unit of work: the Pending to
// Success transition, enrollments, instructor credits with their Deposit rows and
// the enrollment notification. The status transition is the idempotency guard, so
// a duplicate delivery that loses the race commits nothing.
func (r *PostgresRepository) SettlePayment(ctx context.Context, params SettlePaymentParams) (*SettlePaymentResult, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, transientError("begin settlement", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE transactions
		SET status = 'Success', updated_at = NOW()
		WHERE payment_code = $1
		  AND type = 'Pay'
		  AND status = 'Pending'
		RETURNING ` + transactionColumns
	payment, err := scanTransaction(tx.QueryRow(ctx, query, params.PaymentCode))
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, transientError("mark payment success", err)
		}
		// Not Pending any more (or never existed). Report the current state and write nothing.
		current, findErr := r.FindTransactionByPaymentCode(ctx, params.PaymentCode)
		if findErr != nil {
			return nil, findErr
		}
		return &SettlePaymentResult{Transaction: current, Settled: false}, nil
	}

	result := &SettlePaymentResult{Transaction: payment, Settled: true}

	for _, courseID := range params.CourseIDs {
		tag, err := tx.Exec(ctx, `
			INSERT INTO learner_courses (learner_id, course_id, status, progress, enrolled_at)
			VALUES ($1, $2, $3, 0, NOW())
			ON CONFLICT (learner_id, course_id) DO NOTHING
		`, payment.OwnerID, courseID, domain.EnrollmentStatusEnrolled)
		if err != nil {
			return nil, transientError("enroll learner", err)
		}
		if tag.RowsAffected() == 1 {
			result.EnrolledCourseIDs = append(result.EnrolledCourseIDs, courseID)
		} else {
			log.Printf("level=info component=store op=settle msg=\"learner already enrolled\" learner_id=%s course_id=%s", payment.OwnerID, courseID)
		}
	}

	// Lock wallets in a stable order so two combos sharing instructors cannot deadlock.
	credits := make([]domain.InstructorCredit, len(params.Credits))
	copy(credits, params.Credits)
	sort.SliceStable(credits, func(i, j int) bool {
		if c := bytes.Compare(credits[i].InstructorID[:], credits[j].InstructorID[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(credits[i].CourseID[:], credits[j].CourseID[:]) < 0
	})

	for _, credit := range credits {
		if !credit.Credit.IsPositive() {
			continue
		}
		walletID, err := creditWalletTx(ctx, tx, credit.InstructorID, credit.Credit, params.Currency)
		if err != nil {
			return nil, err
		}
		courseID := credit.CourseID
		deposit := domain.Transaction{
			ID:                  uuid.New(),
			OwnerID:             credit.InstructorID,
			CourseID:            &courseID,
			WalletID:            &walletID,
			SourceTransactionID: &payment.ID,
			Amount:              credit.Credit,
			Currency:            params.Currency,
			Type:                domain.TransactionTypeDeposit,
			Status:              domain.TransactionStatusSuccess,
			Description:         fmt.Sprintf("Instructor earning for order %d", params.PaymentCode),
		}
		if err := insertLedgerRowTx(ctx, tx, &deposit); err != nil {
			return nil, err
		}
		result.Deposits = append(result.Deposits, deposit)
	}

	event := domain.EnrollmentConfirmedEvent{
		LearnerID:     payment.OwnerID,
		CourseIDs:     params.CourseIDs,
		GroupID:       payment.GroupID,
		TransactionID: payment.ID,
		OrderCode:     strconv.FormatInt(params.PaymentCode, 10),
		Amount:        payment.Amount,
		Currency:      payment.Currency,
		PaidAt:        params.PaidAt,
	}
	if err := enqueueEventTx(ctx, tx, params.Exchange, domain.RoutingKeyEnrollmentConfirmed, event); err != nil {
		return nil, transientError("enqueue enrollment event", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, transientError("commit settlement", err)
	}
	return result, nil
}

// creditWalletTx lazily creates the owner's wallet, locks it and adds amount.
func creditWalletTx(ctx context.Context, tx pgx.Tx, ownerID uuid.UUID, amount decimal.Decimal, currency string) (uuid.UUID, error) {
	_, err := tx.Exec(ctx, `
		INSERT INTO wallets (id, owner_id, balance, currency)
		VALUES ($1, $2, 0, $3)
		ON CONFLICT (owner_id) DO NOTHING
	`, uuid.New(), ownerID, currency)
	if err != nil {
		return uuid.Nil, transientError("ensure wallet", err)
	}

	var walletID uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM wallets WHERE owner_id = $1 FOR UPDATE`, ownerID).Scan(&walletID)
	if err != nil {
		return uuid.Nil, transientError("lock wallet", err)
	}

	_, err = tx.Exec(ctx, `UPDATE wallets SET balance = balance + $1, updated_at = NOW() WHERE id = $2`, amount, walletID)
	if err != nil {
		return uuid.Nil, transientError("credit wallet", err)
	}
	return walletID, nil
}

// insertLedgerRowTx writes an internal ledger row (Deposit, Withdraw, Refund).
func insertLedgerRowTx(ctx context.Context, tx pgx.Tx, row *domain.Transaction) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO transactions (
			id, owner_id, course_id, wallet_id, source_transaction_id, amount, currency,
			type, status, description, note
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`,
		row.ID,
		row.OwnerID,
		row.CourseID,
		row.WalletID,
		row.SourceTransactionID,
		row.Amount,
		row.Currency,
		string(row.Type),
		string(row.Status),
		row.Description,
		row.Note,
	).Scan(&row.CreatedAt, &row.UpdatedAt)
	if err != nil {
		return transientError("insert "+string(row.Type)+" transaction", err)
	}
	return nil
}
