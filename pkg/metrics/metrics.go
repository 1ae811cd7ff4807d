// pkg/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LedgerTransactions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_transactions_total",
		Help: "Ledger transactions by type and terminal status.",
	}, []string{"type", "status"})

	FraudBlocks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_fraud_blocks_total",
		Help: "Operations blocked by fraud rules.",
	}, []string{"rule"})

	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_deliveries_total",
		Help: "Webhook delivery outcomes.",
	}, []string{"outcome"})

	WebhookRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_retries_total",
		Help: "Webhook retry attempts drained from the queue.",
	})

	WebhookDeadLettered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_dead_lettered_total",
		Help: "Webhook attempts moved to the dead-letter list.",
	})

	CacheBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cache_breaker_state",
		Help: "Cache circuit breaker state (0 closed, 1 open, 2 half-open).",
	})

	StoreConflictRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_store_conflict_retries_total",
		Help: "Store transactions retried after serialization conflicts.",
	})
)
