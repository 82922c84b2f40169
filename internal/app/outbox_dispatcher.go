/**
 * @description
 * The outbox dispatcher polls event_outbox, publishes claimed rows to RabbitMQ and
 * schedules failed rows for a later attempt with exponential backoff.
 *
 * @dependencies
 * - log/slog: Structured worker logs.
 * - internal/store: Outbox claims and status updates.
 * - pkg/rabbitmq: The Publisher the rows are sent through.
 */

package app

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/learnary/payment-service/internal/metrics"
	"github.com/learnary/payment-service/internal/store"
	"github.com/learnary/payment-service/pkg/rabbitmq"
)

const (
	defaultOutboxBatchSize    = 50
	defaultOutboxPollInterval = 1200 * time.Millisecond
	defaultStaleProcessing    = 2 * time.Minute
)

// OutboxDispatcher publishes committed notification events to RabbitMQ. A failed
// publish never affects the ledger; the row is retried with exponential backoff.
type OutboxDispatcher struct {
	repo                store.Repository
	publisher           rabbitmq.Publisher
	logger              *slog.Logger
	batchSize           int
	pollInterval        time.Duration
	staleProcessingTime time.Duration
}

func NewOutboxDispatcher(repo store.Repository, publisher rabbitmq.Publisher, logger *slog.Logger, batchSize int, pollInterval time.Duration) *OutboxDispatcher {
	if batchSize <= 0 {
		batchSize = defaultOutboxBatchSize
	}
	if pollInterval <= 0 {
		pollInterval = defaultOutboxPollInterval
	}
	return &OutboxDispatcher{
		repo:                repo,
		publisher:           publisher,
		logger:              logger,
		batchSize:           batchSize,
		pollInterval:        pollInterval,
		staleProcessingTime: defaultStaleProcessing,
	}
}

// Run polls the outbox until ctx is cancelled.
func (d *OutboxDispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.flushOnce(ctx); err != nil {
				d.logger.Error("outbox flush failed", "error", err)
			}
		}
	}
}

// flushOnce publishes one claimed batch and returns how many messages went out.
func (d *OutboxDispatcher) flushOnce(ctx context.Context) (int, error) {
	staleAfterSeconds := int(d.staleProcessingTime.Seconds())
	messages, err := d.repo.ClaimOutboxMessages(ctx, d.batchSize, staleAfterSeconds)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, message := range messages {
		messageID := strconv.FormatInt(message.ID, 10)
		if err := d.publisher.Publish(ctx, message.Exchange, message.RoutingKey, message.Payload, messageID); err != nil {
			metrics.OutboxPublishFailures.Inc()
			retryAfter := retryDelaySeconds(message.Attempts)
			d.logger.Warn("outbox publish failed", "id", message.ID, "routing_key", message.RoutingKey, "attempts", message.Attempts, "retry_after_seconds", retryAfter, "error", err)
			if markErr := d.repo.MarkOutboxFailed(ctx, message.ID, retryAfter, err.Error()); markErr != nil {
				d.logger.Error("failed to mark outbox message as failed", "id", message.ID, "error", markErr)
			}
			continue
		}
		if err := d.repo.MarkOutboxPublished(ctx, message.ID); err != nil {
			d.logger.Error("failed to mark outbox message as published", "id", message.ID, "error", err)
			continue
		}
		published++
	}
	return published, nil
}

func retryDelaySeconds(attempt int) int {
	if attempt < 1 {
		return 1
	}
	delay := 1 << min(attempt, 8)
	if delay > 300 {
		return 300
	}
	return delay
}
