package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/learnary/payment-service/internal/domain"
	"github.com/learnary/payment-service/internal/store"
)

type sweeperRepoStub struct {
	store.Repository

	batches    [][]domain.Transaction
	cutoffs    []time.Time
	err        error
	purgedFrom time.Time
	purged     int64
}

func (s *sweeperRepoStub) CancelStalePayments(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Transaction, error) {
	s.cutoffs = append(s.cutoffs, createdBefore)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.batches) == 0 {
		return nil, nil
	}
	batch := s.batches[0]
	s.batches = s.batches[1:]
	return batch, nil
}

func (s *sweeperRepoStub) PurgePublishedOutbox(ctx context.Context, publishedBefore time.Time) (int64, error) {
	s.purgedFrom = publishedBefore
	return s.purged, nil
}

type linkCancellerStub struct {
	codes []int64
	err   error
}

func (l *linkCancellerStub) CancelPaymentLink(ctx context.Context, orderCode int64, reason string) error {
	l.codes = append(l.codes, orderCode)
	return l.err
}

func stalePayments(n int) []domain.Transaction {
	out := make([]domain.Transaction, n)
	for i := range out {
		code := int64(1_700_000_000_000_000 + i)
		out[i] = domain.Transaction{ID: uuid.New(), OwnerID: uuid.New(), Status: domain.TransactionStatusCancel, PaymentCode: &code}
	}
	return out
}

func newTestSweeper(repo store.Repository, links LinkCanceller, cfg SweeperConfig) *ExpirySweeper {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewExpirySweeper(repo, links, logger, cfg)
}

func TestExpirySweeper_RunOnceUsesTTLCutoff(t *testing.T) {
	repo := &sweeperRepoStub{batches: [][]domain.Transaction{stalePayments(2)}}
	links := &linkCancellerStub{}
	sweeper := newTestSweeper(repo, links, SweeperConfig{PendingTTL: 15 * time.Minute, BatchSize: 10})
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	sweeper.now = func() time.Time { return now }

	cancelled, err := sweeper.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if cancelled != 2 {
		t.Fatalf("expected 2 cancellations, got %d", cancelled)
	}
	if !repo.cutoffs[0].Equal(now.Add(-15 * time.Minute)) {
		t.Fatalf("unexpected cutoff %s", repo.cutoffs[0])
	}
	if len(links.codes) != 2 {
		t.Fatalf("expected provider cancellation for each payment, got %d", len(links.codes))
	}
}

func TestExpirySweeper_DrainsFullBatches(t *testing.T) {
	repo := &sweeperRepoStub{batches: [][]domain.Transaction{stalePayments(2), stalePayments(2), stalePayments(1)}}
	sweeper := newTestSweeper(repo, nil, SweeperConfig{BatchSize: 2})

	cancelled, err := sweeper.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if cancelled != 5 || len(repo.cutoffs) != 3 {
		t.Fatalf("expected 5 cancellations over 3 batches, got %d over %d", cancelled, len(repo.cutoffs))
	}
}

func TestExpirySweeper_ProviderFailureDoesNotFailSweep(t *testing.T) {
	repo := &sweeperRepoStub{batches: [][]domain.Transaction{stalePayments(1)}}
	sweeper := newTestSweeper(repo, &linkCancellerStub{err: errors.New("provider down")}, SweeperConfig{BatchSize: 10})

	if _, err := sweeper.RunOnce(context.Background()); err != nil {
		t.Fatalf("provider failures must be swallowed, got %v", err)
	}
}

func TestExpirySweeper_StoreErrorIsReturned(t *testing.T) {
	repo := &sweeperRepoStub{err: errors.New("db down")}
	sweeper := newTestSweeper(repo, nil, SweeperConfig{})

	if _, err := sweeper.RunOnce(context.Background()); err == nil {
		t.Fatal("expected store error")
	}
}

func TestExpirySweeper_PurgeOutbox(t *testing.T) {
	repo := &sweeperRepoStub{purged: 3}
	sweeper := newTestSweeper(repo, nil, SweeperConfig{OutboxRetention: 24 * time.Hour})
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	sweeper.now = func() time.Time { return now }

	purged, err := sweeper.PurgeOutbox(context.Background())
	if err != nil {
		t.Fatalf("PurgeOutbox returned error: %v", err)
	}
	if purged != 3 || !repo.purgedFrom.Equal(now.Add(-24*time.Hour)) {
		t.Fatalf("unexpected purge result %d from %s", purged, repo.purgedFrom)
	}
}

func TestExpirySweeper_StartAndStop(t *testing.T) {
	sweeper := newTestSweeper(&sweeperRepoStub{}, nil, SweeperConfig{SweepSchedule: "@every 1h", CleanupSchedule: "@hourly", OutboxRetention: time.Hour})

	if err := sweeper.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if got := len(sweeper.cron.Entries()); got != 2 {
		t.Fatalf("expected 2 scheduled jobs, got %d", got)
	}

	select {
	case <-sweeper.Stop().Done():
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestExpirySweeper_StartRejectsBadSchedule(t *testing.T) {
	sweeper := newTestSweeper(&sweeperRepoStub{}, nil, SweeperConfig{SweepSchedule: "not a schedule"})
	if err := sweeper.Start(); err == nil {
		t.Fatal("expected schedule parse error")
	}
}
