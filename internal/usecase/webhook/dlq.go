// internal/usecase/webhook/dlq.go
package webhook

import (
	"context"

	"ledger-service/internal/domain"
	"ledger-service/pkg/metrics"

	"go.uber.org/zap"
)

// MoveToDeadLetter appends an exhausted attempt to the global dead-letter
// list and persists the terminal FAILED status. The DLQ is the engine's
// terminal failure sink; draining it is an operational concern, nothing
// in-core polls it.
func (e *Engine) MoveToDeadLetter(ctx context.Context, attempt *domain.WebhookAttempt) {
	attempt.Status = domain.WebhookAttemptFailed
	attempt.LastAttemptAt = e.now()

	raw, err := marshalAttempt(attempt)
	if err != nil {
		e.logger.Error("failed to encode dead-letter record",
			zap.String("attempt_id", attempt.ID),
			zap.Error(err))
	} else if err := e.cache.RPush(ctx, dlqNamespace, dlqKey, raw); err != nil {
		// Both the queue and the DLQ are down; the durable attempt row is
		// the record of what was lost.
		e.logger.Error("failed to append to dead-letter list",
			zap.String("attempt_id", attempt.ID),
			zap.String("transaction_id", attempt.TransactionID),
			zap.Error(err))
	}

	if err := e.attempts.Update(ctx, attempt); err != nil {
		e.logger.Error("failed to persist terminal attempt failure",
			zap.String("attempt_id", attempt.ID),
			zap.Error(err))
	}
	if err := e.store.SetTransactionWebhookStatus(ctx, attempt.TransactionID, domain.WebhookStatusFailed); err != nil {
		e.logger.Error("failed to record webhook failed status",
			zap.String("transaction_id", attempt.TransactionID),
			zap.Error(err))
	}

	metrics.WebhookDeadLettered.Inc()
	e.logger.Warn("webhook attempt dead-lettered",
		zap.String("attempt_id", attempt.ID),
		zap.String("transaction_id", attempt.TransactionID),
		zap.String("event", attempt.EventType),
		zap.Int("attempts", attempt.Attempts))

	e.notifier.NotifyPermanentFailure(ctx, attempt.TransactionID, attempt.EventType)
}

// DeadLetterDepth reports the dead-letter list length.
func (e *Engine) DeadLetterDepth(ctx context.Context) (int64, error) {
	return e.cache.LLen(ctx, dlqNamespace, dlqKey)
}
