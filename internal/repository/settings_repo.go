// internal/repository/settings_repo.go
package repository

import (
	"context"
	"errors"

	"ledger-service/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type UserSettingsRepository interface {
	Get(ctx context.Context, userID string) (*domain.UserSettings, error)
}

type pgUserSettingsRepo struct {
	db *pgxpool.Pool
}

func NewUserSettingsRepository(db *pgxpool.Pool) UserSettingsRepository {
	return &pgUserSettingsRepo{db: db}
}

// Get returns the user's withdrawal policy. Users without a settings row
// get the default role with zero withdrawal ceilings, which the engine
// rejects on role grounds before looking at amounts.
func (r *pgUserSettingsRepo) Get(ctx context.Context, userID string) (*domain.UserSettings, error) {
	query := `SELECT user_id, role, max_withdrawal, daily_withdrawal_cap
			  FROM user_settings WHERE user_id = $1`
	var s domain.UserSettings
	err := r.db.QueryRow(ctx, query, userID).
		Scan(&s.UserID, &s.Role, &s.MaxWithdrawal, &s.DailyWithdrawalCap)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &domain.UserSettings{
				UserID:             userID,
				Role:               domain.RoleUser,
				MaxWithdrawal:      decimal.Zero,
				DailyWithdrawalCap: decimal.Zero,
			}, nil
		}
		return nil, err
	}
	return &s, nil
}
