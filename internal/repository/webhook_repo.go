// internal/repository/webhook_repo.go
package repository

import (
	"context"
	"errors"

	"ledger-service/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type WebhookAttemptRepository interface {
	Create(ctx context.Context, a *domain.WebhookAttempt) error
	Update(ctx context.Context, a *domain.WebhookAttempt) error
	GetByID(ctx context.Context, id string) (*domain.WebhookAttempt, error)
}

type pgWebhookAttemptRepo struct {
	db *pgxpool.Pool
}

func NewWebhookAttemptRepository(db *pgxpool.Pool) WebhookAttemptRepository {
	return &pgWebhookAttemptRepo{db: db}
}

func (r *pgWebhookAttemptRepo) Create(ctx context.Context, a *domain.WebhookAttempt) error {
	query := `INSERT INTO webhook_attempts
			  (id, transaction_id, event_type, target_url, payload, status, attempts, last_attempt_at, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
			  RETURNING created_at`
	return r.db.QueryRow(ctx, query, a.ID, a.TransactionID, a.EventType,
		a.TargetURL, a.Payload, a.Status, a.Attempts, a.LastAttemptAt).
		Scan(&a.CreatedAt)
}

func (r *pgWebhookAttemptRepo) Update(ctx context.Context, a *domain.WebhookAttempt) error {
	query := `UPDATE webhook_attempts
			  SET status = $1, attempts = $2, last_attempt_at = $3
			  WHERE id = $4`
	_, err := r.db.Exec(ctx, query, a.Status, a.Attempts, a.LastAttemptAt, a.ID)
	return err
}

func (r *pgWebhookAttemptRepo) GetByID(ctx context.Context, id string) (*domain.WebhookAttempt, error) {
	query := `SELECT id, transaction_id, event_type, target_url, payload, status, attempts, last_attempt_at, created_at
			  FROM webhook_attempts WHERE id = $1`
	var a domain.WebhookAttempt
	err := r.db.QueryRow(ctx, query, id).Scan(&a.ID, &a.TransactionID, &a.EventType,
		&a.TargetURL, &a.Payload, &a.Status, &a.Attempts, &a.LastAttemptAt, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}
