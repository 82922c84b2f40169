/**
 * @description
 * Prometheus collectors for checkout links, webhooks, settlements, cancellations,
 * withdrawals and the outbox. Register is called once when metrics are enabled.
 *
 * @dependencies
 * - github.com/prometheus/client_golang/prometheus: Counters and histograms.
 */

package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	PaymentLinksCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_links_created_total",
			Help: "Number of payment links created, by purchase kind",
		},
		[]string{"kind"},
	)

	WebhooksProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhooks_processed_total",
			Help: "Number of verified provider webhooks, by outcome",
		},
		[]string{"outcome"},
	)

	WebhookSignatureFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "payment_webhook_signature_failures_total",
			Help: "Number of webhooks rejected for a bad checksum",
		},
	)

	SettlementDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "payment_settlement_duration_seconds",
			Help:    "Time taken to commit a settlement",
			Buckets: prometheus.DefBuckets,
		},
	)

	PaymentsCancelled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_cancelled_total",
			Help: "Number of pending payments cancelled, by source",
		},
		[]string{"source"},
	)

	WithdrawRequests = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "withdraw_requests_created_total",
			Help: "Number of withdraw requests created",
		},
	)

	WithdrawDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "withdraw_decisions_total",
			Help: "Number of withdraw requests resolved, by action",
		},
		[]string{"action"},
	)

	OutboxPublishFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "event_outbox_publish_failures_total",
			Help: "Number of outbox messages that failed to publish",
		},
	)
)

var registerOnce sync.Once

func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			PaymentLinksCreated,
			WebhooksProcessed,
			WebhookSignatureFailures,
			SettlementDuration,
			PaymentsCancelled,
			WithdrawRequests,
			WithdrawDecisions,
			OutboxPublishFailures,
		)
	})
}
