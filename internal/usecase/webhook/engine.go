// internal/usecase/webhook/engine.go
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ledger-service/internal/domain"
	"ledger-service/internal/repository"
	"ledger-service/pkg/cache"
	"ledger-service/pkg/client"
	"ledger-service/pkg/metrics"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const (
	queueNamespace = "webhook:retry"
	dlqNamespace   = "webhook"
	dlqKey         = "dlq"
	pendingKey     = "pending"
)

// TransactionStore is the slice of the ledger store the delivery engine
// needs: webhook status bookkeeping and user resolution via payments.
type TransactionStore interface {
	SetTransactionWebhookStatus(ctx context.Context, txID string, status domain.WebhookStatus) error
	ResolveUserByPayment(ctx context.Context, paymentID string) (string, error)
}

// Notifier is the external notification collaborator; dispatch is
// best-effort and never influences delivery outcomes.
type Notifier interface {
	NotifyDeliveryFailure(ctx context.Context, userID, transactionID, event string)
	NotifyPermanentFailure(ctx context.Context, transactionID, event string)
}

type Config struct {
	// URLs maps an event category to its consumer endpoints.
	URLs map[domain.EventCategory][]string
	// MaxAttempts bounds total POSTs per enqueued record before dead-letter.
	MaxAttempts int
	// RetryMinDelay/RetryMaxDelay bound the jittered backoff between the
	// drain POST and its single inner retry.
	RetryMinDelay time.Duration
	RetryMaxDelay time.Duration
}

func DefaultConfig(urls map[domain.EventCategory][]string) Config {
	return Config{
		URLs:          urls,
		MaxAttempts:   5,
		RetryMinDelay: time.Second,
		RetryMaxDelay: 30 * time.Second,
	}
}

// Engine delivers ledger events to configured consumers: one synchronous
// attempt at trigger time, then a cache-backed per-transaction retry queue
// drained with backoff until SUCCESS or the dead-letter list.
type Engine struct {
	cfg      Config
	cache    cache.Cache
	attempts repository.WebhookAttemptRepository
	store    TransactionStore
	sender   *client.WebhookClient
	notifier Notifier
	logger   *zap.Logger

	// sleep is swappable so drain backoff is testable without waiting.
	sleep func(time.Duration)
	now   func() time.Time
}

func NewEngine(
	cfg Config,
	c cache.Cache,
	attempts repository.WebhookAttemptRepository,
	store TransactionStore,
	sender *client.WebhookClient,
	notifier Notifier,
	logger *zap.Logger,
) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.RetryMinDelay <= 0 {
		cfg.RetryMinDelay = time.Second
	}
	if cfg.RetryMaxDelay < cfg.RetryMinDelay {
		cfg.RetryMaxDelay = 30 * time.Second
	}
	return &Engine{
		cfg:      cfg,
		cache:    c,
		attempts: attempts,
		store:    store,
		sender:   sender,
		notifier: notifier,
		logger:   logger,
		sleep:    time.Sleep,
		now:      time.Now,
	}
}

// Trigger attempts synchronous delivery of eventType for a committed
// transaction. A 2xx marks the transaction SENT; anything else queues a
// retry record and, when a user can be resolved, dispatches a failure
// notification. Trigger never returns delivery failures to ledger callers.
func (e *Engine) Trigger(ctx context.Context, userID *string, tx *domain.WalletTransaction, eventType string) {
	urls := e.cfg.URLs[domain.CategoryForEvent(eventType)]
	if len(urls) == 0 {
		e.logger.Debug("no webhook consumers for event",
			zap.String("event", eventType),
			zap.String("transaction_id", tx.ID))
		return
	}

	if userID == nil && tx.PaymentID != nil {
		if resolved, err := e.store.ResolveUserByPayment(ctx, *tx.PaymentID); err == nil {
			userID = &resolved
		}
	}

	payload, err := json.Marshal(domain.NewWebhookEvent(eventType, tx, userID, e.now()))
	if err != nil {
		e.logger.Error("failed to marshal webhook payload",
			zap.String("transaction_id", tx.ID),
			zap.String("event", eventType),
			zap.Error(err))
		return
	}

	for _, url := range urls {
		if err := e.sender.Post(ctx, url, payload, ""); err != nil {
			e.logger.Warn("synchronous webhook delivery failed, queueing retry",
				zap.String("transaction_id", tx.ID),
				zap.String("event", eventType),
				zap.String("url", url),
				zap.Error(err))
			metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
			e.queueFailure(ctx, tx, eventType, url, payload, userID)
			continue
		}

		metrics.WebhookDeliveries.WithLabelValues("success").Inc()
		if err := e.store.SetTransactionWebhookStatus(ctx, tx.ID, domain.WebhookStatusSent); err != nil {
			e.logger.Error("failed to record webhook sent status",
				zap.String("transaction_id", tx.ID),
				zap.Error(err))
		}
		e.logger.Info("webhook delivered",
			zap.String("transaction_id", tx.ID),
			zap.String("event", eventType),
			zap.String("url", url))
	}
}

// queueFailure creates the attempt record (first failure) and enqueues it
// for the drain loop.
func (e *Engine) queueFailure(ctx context.Context, tx *domain.WalletTransaction, eventType, url string, payload []byte, userID *string) {
	attempt := &domain.WebhookAttempt{
		ID:            ulid.Make().String(),
		TransactionID: tx.ID,
		EventType:     eventType,
		TargetURL:     url,
		Payload:       payload,
		Status:        domain.WebhookAttemptPending,
		Attempts:      1,
		LastAttemptAt: e.now(),
	}
	if err := e.attempts.Create(ctx, attempt); err != nil {
		e.logger.Error("failed to persist webhook attempt",
			zap.String("transaction_id", tx.ID),
			zap.Error(err))
	}
	if err := e.store.SetTransactionWebhookStatus(ctx, tx.ID, domain.WebhookStatusQueued); err != nil {
		e.logger.Error("failed to record webhook queued status",
			zap.String("transaction_id", tx.ID),
			zap.Error(err))
	}

	if err := e.QueueRetry(ctx, attempt); err != nil {
		// Queue unreachable: the record goes straight to the dead-letter
		// list so it is never lost.
		e.logger.Error("retry queue unavailable, dead-lettering attempt",
			zap.String("transaction_id", tx.ID),
			zap.Error(err))
		e.MoveToDeadLetter(ctx, attempt)
		return
	}

	if userID != nil {
		e.notifier.NotifyDeliveryFailure(ctx, *userID, tx.ID, eventType)
	}
}

func marshalAttempt(a *domain.WebhookAttempt) (string, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("encode webhook attempt: %w", err)
	}
	return string(raw), nil
}
