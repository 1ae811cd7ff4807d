// internal/usecase/webhook/queue.go
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"ledger-service/internal/domain"
	"ledger-service/pkg/cache"
	"ledger-service/pkg/metrics"

	"go.uber.org/zap"
)

// QueueRetry pushes an attempt record onto the per-transaction FIFO list
// and registers the transaction with the drain loop.
func (e *Engine) QueueRetry(ctx context.Context, attempt *domain.WebhookAttempt) error {
	raw, err := marshalAttempt(attempt)
	if err != nil {
		return err
	}
	if err := e.cache.LPush(ctx, queueNamespace, attempt.TransactionID, raw); err != nil {
		return fmt.Errorf("push retry record: %w", err)
	}
	if err := e.cache.LPush(ctx, dlqNamespace, pendingKey, attempt.TransactionID); err != nil {
		return fmt.Errorf("register pending transaction: %w", err)
	}
	return nil
}

// ProcessQueue drains one attempt for a transaction: pop the most recent
// record, dead-letter it when the attempt budget is spent, otherwise retry
// the POST once with a single jittered inner retry. A still-failing record
// is re-enqueued for a later pass; cache unavailability mid-retry moves the
// record directly to the dead-letter list rather than losing it.
func (e *Engine) ProcessQueue(ctx context.Context, transactionID string) error {
	raw, err := e.cache.LPop(ctx, queueNamespace, transactionID)
	if err != nil {
		if errors.Is(err, cache.Nil) {
			return nil
		}
		return fmt.Errorf("pop retry record: %w", err)
	}

	var attempt domain.WebhookAttempt
	if err := json.Unmarshal([]byte(raw), &attempt); err != nil {
		e.logger.Error("corrupt retry record dropped",
			zap.String("transaction_id", transactionID),
			zap.Error(err))
		return fmt.Errorf("decode retry record: %w", err)
	}

	if attempt.Attempts >= e.cfg.MaxAttempts {
		e.logger.Warn("webhook attempt budget exhausted",
			zap.String("transaction_id", attempt.TransactionID),
			zap.String("event", attempt.EventType),
			zap.Int("attempts", attempt.Attempts))
		e.MoveToDeadLetter(ctx, &attempt)
		return nil
	}

	metrics.WebhookRetries.Inc()

	if e.deliverWithInnerRetry(ctx, &attempt) {
		attempt.Status = domain.WebhookAttemptSuccess
		attempt.LastAttemptAt = e.now()
		if err := e.attempts.Update(ctx, &attempt); err != nil {
			e.logger.Error("failed to persist attempt success",
				zap.String("attempt_id", attempt.ID),
				zap.Error(err))
		}
		if err := e.store.SetTransactionWebhookStatus(ctx, attempt.TransactionID, domain.WebhookStatusSent); err != nil {
			e.logger.Error("failed to record webhook sent status",
				zap.String("transaction_id", attempt.TransactionID),
				zap.Error(err))
		}
		metrics.WebhookDeliveries.WithLabelValues("success").Inc()
		e.logger.Info("queued webhook delivered",
			zap.String("transaction_id", attempt.TransactionID),
			zap.String("event", attempt.EventType),
			zap.Int("attempts", attempt.Attempts))
		return nil
	}

	// Still failing: bump bookkeeping and hand it back to the queue.
	attempt.LastAttemptAt = e.now()
	if err := e.attempts.Update(ctx, &attempt); err != nil {
		e.logger.Error("failed to persist attempt progress",
			zap.String("attempt_id", attempt.ID),
			zap.Error(err))
	}
	if err := e.QueueRetry(ctx, &attempt); err != nil {
		e.logger.Error("re-enqueue failed, dead-lettering attempt",
			zap.String("transaction_id", attempt.TransactionID),
			zap.Error(err))
		e.MoveToDeadLetter(ctx, &attempt)
	}
	return nil
}

// deliverWithInnerRetry performs one POST plus a single jittered inner
// retry, incrementing the attempt counter per POST. Reports whether either
// POST succeeded.
func (e *Engine) deliverWithInnerRetry(ctx context.Context, attempt *domain.WebhookAttempt) bool {
	for inner := 0; inner < 2; inner++ {
		if attempt.Attempts >= e.cfg.MaxAttempts && inner > 0 {
			return false
		}
		if inner > 0 {
			e.sleep(e.jitterDelay(attempt.Attempts))
		}

		attempt.Attempts++
		err := e.sender.Post(ctx, attempt.TargetURL, attempt.Payload, "")
		if err == nil {
			return true
		}
		metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
		e.logger.Warn("webhook retry failed",
			zap.String("transaction_id", attempt.TransactionID),
			zap.String("event", attempt.EventType),
			zap.Int("attempt", attempt.Attempts),
			zap.Error(err))
	}
	return false
}

// jitterDelay backs off exponentially on the attempt count with jitter,
// clamped to the configured 1-30s band.
func (e *Engine) jitterDelay(attempts int) time.Duration {
	base := e.cfg.RetryMinDelay * time.Duration(1<<uint(attempts))
	if base > e.cfg.RetryMaxDelay {
		base = e.cfg.RetryMaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(e.cfg.RetryMinDelay)))
	d := base + jitter
	if d > e.cfg.RetryMaxDelay {
		d = e.cfg.RetryMaxDelay
	}
	if d < e.cfg.RetryMinDelay {
		d = e.cfg.RetryMinDelay
	}
	return d
}

// PendingDepth reports how many transactions are waiting for a drain pass.
func (e *Engine) PendingDepth(ctx context.Context) (int64, error) {
	return e.cache.LLen(ctx, dlqNamespace, pendingKey)
}
