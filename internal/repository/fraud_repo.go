// internal/repository/fraud_repo.go
package repository

import (
	"context"
	"time"

	"ledger-service/internal/domain"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type FraudAlertRepository interface {
	Create(ctx context.Context, alert *domain.FraudAlert) error
	// SumRecentTransactionAmounts totals the user's transaction amounts in
	// the trailing window, bounded to the most recent lookback records.
	SumRecentTransactionAmounts(ctx context.Context, userID string, since time.Time, lookback int) (decimal.Decimal, error)
}

type pgFraudAlertRepo struct {
	db *pgxpool.Pool
}

func NewFraudAlertRepository(db *pgxpool.Pool) FraudAlertRepository {
	return &pgFraudAlertRepo{db: db}
}

func (r *pgFraudAlertRepo) Create(ctx context.Context, alert *domain.FraudAlert) error {
	query := `INSERT INTO fraud_alerts (id, user_id, rule, entity_type, entity_id, reason, status, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
			  RETURNING created_at`
	return r.db.QueryRow(ctx, query, alert.ID, alert.UserID, alert.Rule,
		alert.EntityType, alert.EntityID, alert.Reason, alert.Status).
		Scan(&alert.CreatedAt)
}

func (r *pgFraudAlertRepo) SumRecentTransactionAmounts(ctx context.Context, userID string, since time.Time, lookback int) (decimal.Decimal, error) {
	if lookback <= 0 {
		lookback = 100
	}
	query := `SELECT COALESCE(SUM(amount), 0) FROM (
				  SELECT amount FROM wallet_transactions
				  WHERE user_id = $1 AND created_at >= $2 AND status != $3
				  ORDER BY created_at DESC
				  LIMIT $4
			  ) recent`
	var sum decimal.Decimal
	err := r.db.QueryRow(ctx, query, userID, since, domain.TxStatusFailed, lookback).Scan(&sum)
	return sum, err
}
