/**
 * @description
 * Cron-driven expiry sweeper. It cancels buyer payments that stayed Pending longer
 * than the configured TTL and purges old published outbox rows. The sweeper is owned
 * by the process lifecycle: main calls Start and Stop, tests call RunOnce directly.
 */
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/learnary/payment-service/internal/metrics"
	"github.com/learnary/payment-service/internal/store"
	"github.com/robfig/cron/v3"
)

const maxSweepBatches = 20

// LinkCanceller cancels the provider side of an expired payment link.
type LinkCanceller interface {
	CancelPaymentLink(ctx context.Context, orderCode int64, reason string) error
}

// SweeperConfig holds the schedules and limits of the sweeper jobs.
type SweeperConfig struct {
	PendingTTL      time.Duration
	BatchSize       int
	SweepSchedule   string
	CleanupSchedule string
	OutboxRetention time.Duration
	JobTimeout      time.Duration
}

// ExpirySweeper manages the expiry and cleanup cron jobs.
type ExpirySweeper struct {
	cron    *cron.Cron
	repo    store.Repository
	links   LinkCanceller
	logger  *slog.Logger
	config  SweeperConfig
	now     func() time.Time
	started bool
}

// NewExpirySweeper creates a new sweeper. links may be nil.
func NewExpirySweeper(repo store.Repository, links LinkCanceller, logger *slog.Logger, cfg SweeperConfig) *ExpirySweeper {
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = 15 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = "@every 1m"
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 50 * time.Second
	}

	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &ExpirySweeper{
		cron:   c,
		repo:   repo,
		links:  links,
		logger: logger,
		config: cfg,
		now:    time.Now,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *ExpirySweeper) Start() error {
	if s.started {
		return nil
	}
	if _, err := s.cron.AddFunc(s.config.SweepSchedule, s.sweepJob); err != nil {
		return fmt.Errorf("failed to schedule expiry sweep: %w", err)
	}
	s.logger.Info("scheduled expiry sweep job", "schedule", s.config.SweepSchedule, "ttl", s.config.PendingTTL)

	if s.config.CleanupSchedule != "" && s.config.OutboxRetention > 0 {
		if _, err := s.cron.AddFunc(s.config.CleanupSchedule, s.cleanupJob); err != nil {
			return fmt.Errorf("failed to schedule outbox cleanup: %w", err)
		}
		s.logger.Info("scheduled outbox cleanup job", "schedule", s.config.CleanupSchedule, "retention", s.config.OutboxRetention)
	}

	s.cron.Start()
	s.started = true
	return nil
}

// Stop stops scheduling new runs. The returned context is done once running jobs finish.
func (s *ExpirySweeper) Stop() context.Context {
	s.started = false
	return s.cron.Stop()
}

func (s *ExpirySweeper) sweepJob() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.JobTimeout)
	defer cancel()
	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error("expiry sweep failed", "error", err)
	}
}

func (s *ExpirySweeper) cleanupJob() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.JobTimeout)
	defer cancel()
	if _, err := s.PurgeOutbox(ctx); err != nil {
		s.logger.Error("outbox cleanup failed", "error", err)
	}
}

// RunOnce cancels every payment that has been Pending longer than the TTL and
// returns how many rows it moved to Cancel. Wallets are never touched.
func (s *ExpirySweeper) RunOnce(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.config.PendingTTL)
	total := 0

	for batch := 0; batch < maxSweepBatches; batch++ {
		cancelled, err := s.repo.CancelStalePayments(ctx, cutoff, s.config.BatchSize)
		if err != nil {
			return total, err
		}
		total += len(cancelled)

		for _, payment := range cancelled {
			if payment.PaymentCode == nil {
				continue
			}
			s.logger.Info("cancelled stale payment", "order_code", *payment.PaymentCode, "owner_id", payment.OwnerID, "created_at", payment.CreatedAt)
			if s.links == nil {
				continue
			}
			if err := s.links.CancelPaymentLink(ctx, *payment.PaymentCode, "Payment expired"); err != nil {
				s.logger.Warn("provider link cancellation failed", "order_code", *payment.PaymentCode, "error", err)
			}
		}

		if len(cancelled) < s.config.BatchSize {
			break
		}
	}

	if total > 0 {
		metrics.PaymentsCancelled.WithLabelValues("expired").Add(float64(total))
		s.logger.Info("expiry sweep finished", "cancelled", total)
	}
	return total, nil
}

// PurgeOutbox deletes published outbox rows older than the retention window.
func (s *ExpirySweeper) PurgeOutbox(ctx context.Context) (int64, error) {
	if s.config.OutboxRetention <= 0 {
		return 0, nil
	}
	purged, err := s.repo.PurgePublishedOutbox(ctx, s.now().Add(-s.config.OutboxRetention))
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		s.logger.Info("purged published outbox rows", "count", purged)
	}
	return purged, nil
}
