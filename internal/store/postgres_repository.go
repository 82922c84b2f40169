/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains the buyer-side payment queries, wallet reads and the ledger projections.
 * Multi-row units of work (settlement, withdrawals, outbox) live in sibling files.
 *
 * @dependencies
 * - context, errors, fmt, strings, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/learnary/payment-service/internal/domain"
)

var (
	ErrTransactionNotFound       = fmt.Errorf("transaction %w", domain.ErrNotFound)
	ErrWalletNotFound            = fmt.Errorf("wallet %w", domain.ErrNotFound)
	ErrWithdrawRequestNotFound   = fmt.Errorf("withdraw request %w", domain.ErrNotFound)
	ErrCourseNotFound            = fmt.Errorf("course %w", domain.ErrNotFound)
	ErrGroupNotFound             = fmt.Errorf("group %w", domain.ErrNotFound)
	ErrWithdrawRequestNotPending = fmt.Errorf("withdraw request is not pending: %w", domain.ErrInvalidState)
	ErrInsufficientFunds         = fmt.Errorf("wallet balance is too low: %w", domain.ErrInsufficientBalance)
	ErrDuplicatePaymentCode      = errors.New("payment code already exists")
)

const transactionColumns = `id, owner_id, course_id, group_id, wallet_id, source_transaction_id,
	amount, currency, type, status, purchase_kind, payment_code, description, note, created_at, updated_at`

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreatePendingPayment inserts the buyer-side Pay row before the gateway is called.
func (r *PostgresRepository) CreatePendingPayment(ctx context.Context, tx *domain.Transaction) error {
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	query := `
		INSERT INTO transactions (
			id, owner_id, course_id, group_id, amount, currency, type, status,
			purchase_kind, payment_code, description, note
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`
	var kind *string
	if tx.PurchaseKind != nil {
		value := string(*tx.PurchaseKind)
		kind = &value
	}
	err := r.db.QueryRow(ctx, query,
		tx.ID,
		tx.OwnerID,
		tx.CourseID,
		tx.GroupID,
		tx.Amount,
		tx.Currency,
		string(tx.Type),
		string(tx.Status),
		kind,
		tx.PaymentCode,
		tx.Description,
		tx.Note,
	).Scan(&tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicatePaymentCode
		}
		return transientError("create pending payment", err)
	}
	return nil
}

// FindTransactionByPaymentCode returns the buyer-side row for a provider order code.
func (r *PostgresRepository) FindTransactionByPaymentCode(ctx context.Context, paymentCode int64) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE payment_code = $1 AND type = 'Pay'`
	tx, err := scanTransaction(r.db.QueryRow(ctx, query, paymentCode))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return tx, nil
}

// CancelPendingPayment moves a Pending payment to Cancel with a single conditional
// update. A row that already left Pending is returned unchanged with cancelled=false.
// When ownerID is set, rows owned by someone else are reported as not found.
func (r *PostgresRepository) CancelPendingPayment(ctx context.Context, paymentCode int64, ownerID *uuid.UUID) (*domain.Transaction, bool, error) {
	query := `
		UPDATE transactions
		SET status = 'Cancel', updated_at = NOW()
		WHERE payment_code = $1
		  AND type = 'Pay'
		  AND status = 'Pending'
		  AND ($2::uuid IS NULL OR owner_id = $2::uuid)
		RETURNING ` + transactionColumns
	tx, err := scanTransaction(r.db.QueryRow(ctx, query, paymentCode, ownerID))
	if err == nil {
		return tx, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, transientError("cancel pending payment", err)
	}

	current, err := r.FindTransactionByPaymentCode(ctx, paymentCode)
	if err != nil {
		return nil, false, err
	}
	if ownerID != nil && current.OwnerID != *ownerID {
		return nil, false, ErrTransactionNotFound
	}
	return current, false, nil
}

// CancelStalePayments cancels buyer payments still Pending after the cutoff. Rows
// locked by a concurrent settlement are skipped and picked up on a later sweep.
func (r *PostgresRepository) CancelStalePayments(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = 200
	}
	query := `
		WITH stale AS (
			SELECT id
			FROM transactions
			WHERE type = 'Pay'
			  AND status = 'Pending'
			  AND created_at < $1
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE transactions AS t
		SET status = 'Cancel', updated_at = NOW()
		FROM stale
		WHERE t.id = stale.id
		  AND t.status = 'Pending'
		RETURNING ` + qualifiedColumns("t", transactionColumns)

	rows, err := r.db.Query(ctx, query, createdBefore, limit)
	if err != nil {
		return nil, transientError("cancel stale payments", err)
	}
	defer rows.Close()

	var cancelled []domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		cancelled = append(cancelled, *tx)
	}
	return cancelled, rows.Err()
}

// CountEnrollments counts how many of courseIDs the learner is already enrolled in.
func (r *PostgresRepository) CountEnrollments(ctx context.Context, learnerID uuid.UUID, courseIDs []uuid.UUID) (int, error) {
	if len(courseIDs) == 0 {
		return 0, nil
	}
	var count int
	query := `SELECT COUNT(DISTINCT course_id) FROM learner_courses WHERE learner_id = $1 AND course_id = ANY($2::uuid[])`
	if err := r.db.QueryRow(ctx, query, learnerID, courseIDs).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// FindWalletByOwnerID retrieves an instructor wallet without locking it.
func (r *PostgresRepository) FindWalletByOwnerID(ctx context.Context, ownerID uuid.UUID) (*domain.Wallet, error) {
	var wallet domain.Wallet
	query := `SELECT id, owner_id, balance, currency, created_at, updated_at FROM wallets WHERE owner_id = $1`
	err := r.db.QueryRow(ctx, query, ownerID).Scan(
		&wallet.ID,
		&wallet.OwnerID,
		&wallet.Balance,
		&wallet.Currency,
		&wallet.CreatedAt,
		&wallet.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

// ListTransactions returns ledger rows newest first.
func (r *PostgresRepository) ListTransactions(ctx context.Context, opts domain.TransactionListOptions) ([]domain.Transaction, error) {
	limit, offset := normalizePage(opts.Limit, opts.Offset)

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE 1 = 1`
	args := []interface{}{}
	argPos := 1
	if opts.OwnerID != nil {
		query += fmt.Sprintf(" AND owner_id = $%d", argPos)
		args = append(args, *opts.OwnerID)
		argPos++
	}
	if opts.Type != nil {
		query += fmt.Sprintf(" AND type = $%d", argPos)
		args = append(args, string(*opts.Type))
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

	transactions := make([]domain.Transaction, 0, limit)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *tx)
	}
	return transactions, rows.Err()
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var (
		tx     domain.Transaction
		txType string
		status string
		kind   *string
	)
	err := row.Scan(
		&tx.ID,
		&tx.OwnerID,
		&tx.CourseID,
		&tx.GroupID,
		&tx.WalletID,
		&tx.SourceTransactionID,
		&tx.Amount,
		&tx.Currency,
		&txType,
		&status,
		&kind,
		&tx.PaymentCode,
		&tx.Description,
		&tx.Note,
		&tx.CreatedAt,
		&tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	tx.Type = domain.TransactionType(txType)
	tx.Status = domain.TransactionStatus(status)
	if kind != nil {
		pk := domain.PurchaseKind(*kind)
		tx.PurchaseKind = &pk
	}
	return &tx, nil
}

func qualifiedColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, part := range parts {
		parts[i] = alias + "." + strings.TrimSpace(part)
	}
	return strings.Join(parts, ", ")
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// transientError marks a failed unit of work as safe to retry in full.
func transientError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrTransientStorage, err)
}
