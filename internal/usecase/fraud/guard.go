// internal/usecase/fraud/guard.go
package fraud

import (
	"context"
	"fmt"
	"time"

	"ledger-service/internal/domain"
	"ledger-service/internal/repository"
	"ledger-service/pkg/cache"
	"ledger-service/pkg/metrics"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	rateNamespace  = "fraud:rate"
	velocityWindow = 60 * time.Second
	dailyWindow    = 24 * time.Hour
)

type Config struct {
	// MaxAmount is the absolute per-operation ceiling.
	MaxAmount decimal.Decimal
	// VelocityCap is the per-minute operation cap per (user, operation).
	VelocityCap int64
	// DailyCap bounds the trailing-24h volume including the new amount.
	DailyCap decimal.Decimal
	// Lookback bounds the 24h aggregate query to the most recent records.
	Lookback int
}

// Guard evaluates fraud rules in order; the first violation wins. Every
// violation and every internal evaluation error appends a FraudAlert before
// the caller sees the rejection. Internal errors block the operation
// (fail-closed); alert persistence itself is best-effort.
type Guard struct {
	cfg    Config
	cache  cache.Cache
	alerts repository.FraudAlertRepository
	logger *zap.Logger
	now    func() time.Time
}

func NewGuard(cfg Config, c cache.Cache, alerts repository.FraudAlertRepository, logger *zap.Logger) *Guard {
	if cfg.Lookback <= 0 {
		cfg.Lookback = 100
	}
	return &Guard{cfg: cfg, cache: c, alerts: alerts, logger: logger, now: time.Now}
}

// Check returns nil when the operation may proceed, or an error wrapping
// domain.ErrFraudBlocked.
func (g *Guard) Check(ctx context.Context, userID string, amount decimal.Decimal, operationType string, entityType, entityID string) error {
	// Rule 1: absolute amount ceiling.
	if amount.GreaterThan(g.cfg.MaxAmount) {
		reason := fmt.Sprintf("amount %s exceeds ceiling %s", amount.String(), g.cfg.MaxAmount.String())
		g.raise(ctx, userID, domain.FraudRuleAmountCeiling, entityType, entityID, reason)
		return fmt.Errorf("%w: %s", domain.ErrFraudBlocked, reason)
	}

	// Rule 2: velocity, atomic counter with a 60s window.
	count, err := g.cache.IncrWithExpire(ctx, rateNamespace, userID+":"+operationType, velocityWindow)
	if err != nil {
		return g.engineFailure(ctx, userID, entityType, entityID, fmt.Errorf("velocity counter: %w", err))
	}
	if count > g.cfg.VelocityCap {
		reason := fmt.Sprintf("%d %s operations in the last minute exceeds cap %d", count, operationType, g.cfg.VelocityCap)
		g.raise(ctx, userID, domain.FraudRuleVelocity, entityType, entityID, reason)
		return fmt.Errorf("%w: %s", domain.ErrFraudBlocked, reason)
	}

	// Rule 3: rolling 24h aggregate, bounded lookback.
	since := g.now().Add(-dailyWindow)
	sum, err := g.alerts.SumRecentTransactionAmounts(ctx, userID, since, g.cfg.Lookback)
	if err != nil {
		return g.engineFailure(ctx, userID, entityType, entityID, fmt.Errorf("daily aggregate: %w", err))
	}
	if sum.Add(amount).GreaterThan(g.cfg.DailyCap) {
		reason := fmt.Sprintf("daily volume %s plus %s exceeds cap %s", sum.String(), amount.String(), g.cfg.DailyCap.String())
		g.raise(ctx, userID, domain.FraudRuleDailyVolume, entityType, entityID, reason)
		return fmt.Errorf("%w: %s", domain.ErrFraudBlocked, reason)
	}

	return nil
}

// engineFailure blocks the operation when the rule engine itself errors.
// A detection failure is never silently swallowed.
func (g *Guard) engineFailure(ctx context.Context, userID, entityType, entityID string, cause error) error {
	g.logger.Error("fraud rule evaluation failed, blocking operation",
		zap.String("user_id", userID),
		zap.Error(cause))
	g.raise(ctx, userID, domain.FraudRuleEngineError, entityType, entityID, cause.Error())
	return fmt.Errorf("%w: rule evaluation failed: %v", domain.ErrFraudBlocked, cause)
}

func (g *Guard) raise(ctx context.Context, userID string, rule domain.FraudRule, entityType, entityID, reason string) {
	metrics.FraudBlocks.WithLabelValues(string(rule)).Inc()

	alert := &domain.FraudAlert{
		ID:         ulid.Make().String(),
		UserID:     userID,
		Rule:       rule,
		EntityType: entityType,
		EntityID:   entityID,
		Reason:     reason,
		Status:     domain.FraudAlertPending,
	}
	if err := g.alerts.Create(ctx, alert); err != nil {
		g.logger.Error("failed to persist fraud alert",
			zap.String("user_id", userID),
			zap.String("rule", string(rule)),
			zap.String("reason", reason),
			zap.Error(err))
		return
	}
	g.logger.Warn("fraud alert raised",
		zap.String("alert_id", alert.ID),
		zap.String("user_id", userID),
		zap.String("rule", string(rule)),
		zap.String("reason", reason))
}
