/**
 * @description
 * Idempotent schema statements for the ledger, the outbox and the catalog tables
 * this service reads. Money columns are NUMERIC(18,2).
 *
 * @dependencies
 * - github.com/jackc/pgx/v5/pgxpool: Statements run on the shared pool.
 */

package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is applied in order by Migrate. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS courses (
		id UUID PRIMARY KEY,
		title TEXT NOT NULL,
		price NUMERIC(18,2) NOT NULL CHECK (price >= 0),
		instructor_id UUID NOT NULL,
		deleted_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS course_groups (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		discount_percent NUMERIC(5,2) NOT NULL DEFAULT 0 CHECK (discount_percent >= 0 AND discount_percent <= 100),
		deleted_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS course_group_members (
		group_id UUID NOT NULL REFERENCES course_groups(id),
		course_id UUID NOT NULL REFERENCES courses(id),
		position INT NOT NULL DEFAULT 0,
		PRIMARY KEY (group_id, course_id)
	)`,
	`CREATE TABLE IF NOT EXISTS wallets (
		id UUID PRIMARY KEY,
		owner_id UUID NOT NULL UNIQUE,
		balance NUMERIC(18,2) NOT NULL DEFAULT 0 CHECK (balance >= 0),
		currency TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id UUID PRIMARY KEY,
		owner_id UUID NOT NULL,
		course_id UUID,
		group_id UUID,
		wallet_id UUID REFERENCES wallets(id),
		source_transaction_id UUID REFERENCES transactions(id),
		amount NUMERIC(18,2) NOT NULL CHECK (amount > 0),
		currency TEXT NOT NULL,
		type TEXT NOT NULL CHECK (type IN ('Pay', 'Deposit', 'Withdraw', 'Refund')),
		status TEXT NOT NULL CHECK (status IN ('Pending', 'Success', 'Cancel', 'Refund')),
		purchase_kind TEXT CHECK (purchase_kind IN ('Course', 'Combo')),
		payment_code BIGINT UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		note TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_pending_pay ON transactions (created_at) WHERE type = 'Pay' AND status = 'Pending'`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_owner ON transactions (owner_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS withdraw_requests (
		id UUID PRIMARY KEY,
		instructor_id UUID NOT NULL,
		wallet_id UUID NOT NULL REFERENCES wallets(id),
		transaction_id UUID NOT NULL UNIQUE REFERENCES transactions(id),
		admin_id UUID,
		amount NUMERIC(18,2) NOT NULL CHECK (amount > 0),
		status TEXT NOT NULL CHECK (status IN ('Pending', 'Success', 'Rejected')),
		note TEXT,
		admin_note TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		processed_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_withdraw_requests_status ON withdraw_requests (status, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS learner_courses (
		learner_id UUID NOT NULL,
		course_id UUID NOT NULL,
		status TEXT NOT NULL,
		progress INT NOT NULL DEFAULT 0,
		enrolled_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT learner_courses_learner_course_key UNIQUE (learner_id, course_id)
	)`,
	`CREATE TABLE IF NOT EXISTS event_outbox (
		id BIGSERIAL PRIMARY KEY,
		exchange TEXT NOT NULL,
		routing_key TEXT NOT NULL,
		payload JSONB NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INT NOT NULL DEFAULT 0,
		next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		processing_started_at TIMESTAMPTZ,
		published_at TIMESTAMPTZ,
		last_error TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_event_outbox_due ON event_outbox (status, next_attempt_at)`,
	`ALTER TABLE event_outbox ADD COLUMN IF NOT EXISTS dedupe_key TEXT`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_event_outbox_dedupe ON event_outbox (dedupe_key) WHERE dedupe_key IS NOT NULL`,
}

// Migrate creates the tables the payment-service owns, plus the catalog tables it
// reads when they do not exist yet.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	for i, statement := range schema {
		if _, err := db.Exec(ctx, statement); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
