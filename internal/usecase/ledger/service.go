// internal/usecase/ledger/service.go
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ledger-service/internal/domain"
	"ledger-service/internal/provider/gateway"
	"ledger-service/internal/repository"
	"ledger-service/pkg/cache"
	"ledger-service/pkg/idempotency"
	"ledger-service/pkg/metrics"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	balanceNamespace = "wallet_balance"
	balanceTTL       = 5 * time.Minute

	txMaxRetries   = 3
	txBackoffBase  = time.Second
	txBackoffCap   = 5 * time.Second
)

// FraudChecker guards every mutation. Satisfied by *fraud.Guard.
type FraudChecker interface {
	Check(ctx context.Context, userID string, amount decimal.Decimal, operationType string, entityType, entityID string) error
}

// EventTrigger hands committed (or failed-path audit) transactions to the
// webhook delivery engine. Delivery failures never propagate back here.
type EventTrigger interface {
	Trigger(ctx context.Context, userID *string, tx *domain.WalletTransaction, eventType string)
}

// Service is the ledger engine: one state-machine operation per intent, all
// sharing validate -> ensure wallet -> fraud check -> store transaction ->
// webhook. Store conflicts are retried with exponential backoff before a
// terminal error surfaces.
type Service struct {
	store    repository.LedgerStore
	settings repository.UserSettingsRepository
	fraud    FraudChecker
	gateway  gateway.PaymentGateway
	cache    cache.Cache
	events   EventTrigger
	idem     *idempotency.Store
	logger   *zap.Logger

	sleep func(time.Duration)
	now   func() time.Time
}

func New(
	store repository.LedgerStore,
	settings repository.UserSettingsRepository,
	fraud FraudChecker,
	gw gateway.PaymentGateway,
	c cache.Cache,
	events EventTrigger,
	idem *idempotency.Store,
	logger *zap.Logger,
) *Service {
	return &Service{
		store:    store,
		settings: settings,
		fraud:    fraud,
		gateway:  gw,
		cache:    c,
		events:   events,
		idem:     idem,
		logger:   logger,
		sleep:    time.Sleep,
		now:      time.Now,
	}
}

// runTx drives the optimistic retry loop around a store transaction:
// up to 3 attempts, backoff 1s doubling to a 5s cap, retrying only on
// serialization conflicts.
func (s *Service) runTx(ctx context.Context, fn func(tx repository.LedgerTx) error) error {
	backoff := txBackoffBase
	var err error
	for attempt := 0; attempt < txMaxRetries; attempt++ {
		if attempt > 0 {
			metrics.StoreConflictRetries.Inc()
			s.logger.Warn("store transaction conflict, retrying",
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff))
			s.sleep(backoff)
			backoff *= 2
			if backoff > txBackoffCap {
				backoff = txBackoffCap
			}
		}
		err = s.store.WithTx(ctx, fn)
		if err == nil || !errors.Is(err, domain.ErrStoreConflict) {
			return err
		}
	}
	return err
}

// ensureWallet returns the caller's wallet locked for update. Credit paths
// self-heal a missing wallet with a zero balance; debit paths surface
// domain.ErrWalletNotFound instead.
func (s *Service) ensureWallet(ctx context.Context, tx repository.LedgerTx, userID string, createIfAbsent bool) (*domain.Wallet, error) {
	w, err := tx.GetWalletForUpdate(ctx, userID)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, domain.ErrWalletNotFound) || !createIfAbsent {
		return nil, err
	}

	if err := tx.CreateWallet(ctx, &domain.Wallet{
		ID:      ulid.Make().String(),
		UserID:  userID,
		Balance: decimal.Zero,
	}); err != nil {
		return nil, err
	}
	return tx.GetWalletForUpdate(ctx, userID)
}

// invalidateBalance drops the cached balance after a committed mutation.
// The cache is invalidated, never updated in place; failures (including an
// open breaker) are logged and swallowed, never escalated to the caller.
func (s *Service) invalidateBalance(ctx context.Context, userID string) {
	if err := s.cache.Delete(ctx, balanceNamespace, userID); err != nil {
		s.logger.Warn("failed to invalidate balance cache",
			zap.String("user_id", userID),
			zap.Error(err))
	}
}

// auditFailure persists the FAILED-path audit transaction and emits the
// <OPERATION>_FAILED event, so operational visibility does not depend on
// the caller's success path. Best-effort: audit problems are logged only.
func (s *Service) auditFailure(ctx context.Context, userID string, amount decimal.Decimal, txType domain.TransactionType, meta domain.Metadata, operation string, cause error) {
	failed := &domain.WalletTransaction{
		ID:       ulid.Make().String(),
		UserID:   userID,
		Amount:   amount,
		Type:     txType,
		Status:   domain.TxStatusFailed,
		Metadata: meta,
	}
	if oid := meta.OrderID(); oid != "" {
		failed.OrderID = &oid
	}

	err := s.store.WithTx(ctx, func(tx repository.LedgerTx) error {
		w, werr := s.ensureWallet(ctx, tx, userID, true)
		if werr != nil {
			return werr
		}
		failed.WalletID = w.ID
		return tx.CreateTransaction(ctx, failed)
	})
	if err != nil {
		s.logger.Error("failed to persist failure audit entry",
			zap.String("user_id", userID),
			zap.String("operation", operation),
			zap.NamedError("cause", cause),
			zap.Error(err))
		return
	}

	metrics.LedgerTransactions.WithLabelValues(string(txType), string(domain.TxStatusFailed)).Inc()
	s.events.Trigger(ctx, &userID, failed, operation+"_FAILED")
}

// GetBalance reads the cached balance, falling back to the store when the
// cache misses or is unavailable (breaker open).
func (s *Service) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	if raw, err := s.cache.Get(ctx, balanceNamespace, userID); err == nil {
		if bal, perr := decimal.NewFromString(raw); perr == nil {
			return bal, nil
		}
	} else if !errors.Is(err, cache.Nil) {
		s.logger.Debug("balance cache unavailable, reading store",
			zap.String("user_id", userID),
			zap.Error(err))
	}

	w, err := s.store.GetWallet(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	if err := s.cache.Set(ctx, balanceNamespace, userID, w.Balance.String(), balanceTTL); err != nil {
		s.logger.Debug("failed to prime balance cache",
			zap.String("user_id", userID),
			zap.Error(err))
	}
	return w.Balance, nil
}

// ListTransactions returns the user's transaction history, newest first.
func (s *Service) ListTransactions(ctx context.Context, userID string, limit, offset int) ([]*domain.WalletTransaction, error) {
	return s.store.ListUserTransactions(ctx, userID, limit, offset)
}

func validateUserAmount(userID string, amount decimal.Decimal) error {
	if userID == "" {
		return fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: amount must be positive", domain.ErrValidation)
	}
	return nil
}
