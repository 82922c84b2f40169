package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/learnary/payment-service/internal/domain"
)

func TestNormalizePage(t *testing.T) {
	tests := []struct {
		name                  string
		limit, offset         int
		wantLimit, wantOffset int
	}{
		{name: "defaults", limit: 0, offset: 0, wantLimit: 50, wantOffset: 0},
		{name: "passthrough", limit: 10, offset: 30, wantLimit: 10, wantOffset: 30},
		{name: "capped", limit: 1000, offset: 0, wantLimit: 200, wantOffset: 0},
		{name: "negative offset", limit: 5, offset: -3, wantLimit: 5, wantOffset: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limit, offset := normalizePage(tt.limit, tt.offset)
			if limit != tt.wantLimit || offset != tt.wantOffset {
				t.Fatalf("expected (%d, %d), got (%d, %d)", tt.wantLimit, tt.wantOffset, limit, offset)
			}
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	unique := &pgconn.PgError{Code: "23505"}
	if !isUniqueViolation(unique) {
		t.Fatalf("expected 23505 to be a unique violation")
	}
	if !isUniqueViolation(fmt.Errorf("insert: %w", unique)) {
		t.Fatalf("expected wrapped 23505 to be a unique violation")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatalf("foreign key violation must not count as unique violation")
	}
	if isUniqueViolation(errors.New("boom")) {
		t.Fatalf("plain error must not count as unique violation")
	}
}

func TestTransientErrorWrapsTaxonomy(t *testing.T) {
	cause := errors.New("connection reset")
	err := transientError("commit settlement", cause)
	if !errors.Is(err, domain.ErrTransientStorage) {
		t.Fatalf("expected ErrTransientStorage, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to stay in the chain")
	}
}

func TestSentinelsWrapTaxonomy(t *testing.T) {
	tests := []struct {
		err  error
		want error
	}{
		{err: ErrTransactionNotFound, want: domain.ErrNotFound},
		{err: ErrWalletNotFound, want: domain.ErrNotFound},
		{err: ErrWithdrawRequestNotFound, want: domain.ErrNotFound},
		{err: ErrCourseNotFound, want: domain.ErrNotFound},
		{err: ErrGroupNotFound, want: domain.ErrNotFound},
		{err: ErrWithdrawRequestNotPending, want: domain.ErrInvalidState},
		{err: ErrInsufficientFunds, want: domain.ErrInsufficientBalance},
	}

	for _, tt := range tests {
		if !errors.Is(tt.err, tt.want) {
			t.Fatalf("expected %v to wrap %v", tt.err, tt.want)
		}
	}
}

func TestQualifiedColumns(t *testing.T) {
	got := qualifiedColumns("t", "id, owner_id,amount")
	if got != "t.id, t.owner_id, t.amount" {
		t.Fatalf("unexpected columns %q", got)
	}
}
