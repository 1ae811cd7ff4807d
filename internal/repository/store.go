// internal/repository/store.go
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ledger-service/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// LedgerStore is the transactional store contract the ledger engine owns.
// Mutations run inside WithTx; reads outside a transaction see the latest
// committed state.
type LedgerStore interface {
	WithTx(ctx context.Context, fn func(tx LedgerTx) error) error

	GetWallet(ctx context.Context, userID string) (*domain.Wallet, error)
	GetTransaction(ctx context.Context, id string) (*domain.WalletTransaction, error)
	GetTransactionByGatewayRef(ctx context.Context, gatewayRef string) (*domain.WalletTransaction, error)
	GetCompletedDeduction(ctx context.Context, orderID string) (*domain.WalletTransaction, error)
	ListUserTransactions(ctx context.Context, userID string, limit, offset int) ([]*domain.WalletTransaction, error)
	SumCompletedWithdrawalsSince(ctx context.Context, userID string, since time.Time) (decimal.Decimal, error)
	SetTransactionWebhookStatus(ctx context.Context, txID string, status domain.WebhookStatus) error
	ResolveUserByPayment(ctx context.Context, paymentID string) (string, error)

	GetVoucherByCode(ctx context.Context, code string) (*domain.Voucher, error)
	CreateVoucher(ctx context.Context, v *domain.Voucher) error
	DeactivateVoucher(ctx context.Context, code string) error
}

// LedgerTx is the slice of the store visible inside one serializable
// transaction. Balance mutations and their transaction records commit or
// abort together.
type LedgerTx interface {
	GetWalletForUpdate(ctx context.Context, userID string) (*domain.Wallet, error)
	CreateWallet(ctx context.Context, w *domain.Wallet) error
	IncrementBalance(ctx context.Context, walletID string, amount decimal.Decimal) error
	DecrementBalance(ctx context.Context, walletID string, amount decimal.Decimal) error

	CreateTransaction(ctx context.Context, tx *domain.WalletTransaction) error
	UpdateTransactionStatus(ctx context.Context, id string, status domain.TransactionStatus) error
	UpdateTransactionMetadata(ctx context.Context, id string, m domain.Metadata) error
	// ClaimTransaction moves a transaction from one status to another only
	// while it still holds the expected status; false means another caller
	// already claimed it.
	ClaimTransaction(ctx context.Context, id string, from, to domain.TransactionStatus) (bool, error)

	GetVoucherForUpdate(ctx context.Context, code string) (*domain.Voucher, error)
	CountVoucherUsage(ctx context.Context, voucherID, userID string) (int, error)
	CreateVoucherUsage(ctx context.Context, u *domain.VoucherUsage) error
	IncrementVoucherUsage(ctx context.Context, voucherID string) error

	UpdateOrderStatus(ctx context.Context, orderID string, entity domain.EntityType, status string) error
}

type PgLedgerStore struct {
	db *pgxpool.Pool
}

func NewPgLedgerStore(db *pgxpool.Pool) *PgLedgerStore {
	return &PgLedgerStore{db: db}
}

// WithTx runs fn inside a serializable transaction. Serialization and
// deadlock aborts surface as domain.ErrStoreConflict so the engine's
// optimistic retry loop can distinguish them from terminal failures.
func (s *PgLedgerStore) WithTx(ctx context.Context, fn func(tx LedgerTx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgLedgerTx{tx: tx}); err != nil {
		return mapConflict(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapConflict(fmt.Errorf("commit failed: %w", err))
	}
	return nil
}

func mapConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 40001 serialization_failure, 40P01 deadlock_detected
		if pgErr.Code == "40001" || pgErr.Code == "40P01" {
			return fmt.Errorf("%w: %s", domain.ErrStoreConflict, pgErr.Message)
		}
	}
	return err
}

const txColumns = `id, user_id, wallet_id, amount, type, status, payment_id, order_id, metadata, created_at, updated_at`

func scanTransaction(row pgx.Row) (*domain.WalletTransaction, error) {
	var t domain.WalletTransaction
	var metadata []byte
	err := row.Scan(&t.ID, &t.UserID, &t.WalletID, &t.Amount, &t.Type, &t.Status,
		&t.PaymentID, &t.OrderID, &metadata, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, err
	}
	if len(metadata) > 0 {
		if err := t.Metadata.UnmarshalJSON(metadata); err != nil {
			return nil, err
		}
	}
	return &t, nil
}

func (s *PgLedgerStore) GetWallet(ctx context.Context, userID string) (*domain.Wallet, error) {
	query := `SELECT id, user_id, balance, created_at, updated_at FROM wallets WHERE user_id = $1`
	var w domain.Wallet
	err := s.db.QueryRow(ctx, query, userID).
		Scan(&w.ID, &w.UserID, &w.Balance, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWalletNotFound
		}
		return nil, err
	}
	return &w, nil
}

func (s *PgLedgerStore) GetTransaction(ctx context.Context, id string) (*domain.WalletTransaction, error) {
	query := `SELECT ` + txColumns + ` FROM wallet_transactions WHERE id = $1`
	return scanTransaction(s.db.QueryRow(ctx, query, id))
}

func (s *PgLedgerStore) GetTransactionByGatewayRef(ctx context.Context, gatewayRef string) (*domain.WalletTransaction, error) {
	query := `SELECT ` + txColumns + ` FROM wallet_transactions
			  WHERE metadata->'deposit'->>'gateway_ref' = $1`
	return scanTransaction(s.db.QueryRow(ctx, query, gatewayRef))
}

func (s *PgLedgerStore) GetCompletedDeduction(ctx context.Context, orderID string) (*domain.WalletTransaction, error) {
	query := `SELECT ` + txColumns + ` FROM wallet_transactions
			  WHERE order_id = $1 AND type = $2 AND status = $3
			  ORDER BY created_at DESC LIMIT 1`
	return scanTransaction(s.db.QueryRow(ctx, query, orderID, domain.TxTypeDeduction, domain.TxStatusCompleted))
}

func (s *PgLedgerStore) ListUserTransactions(ctx context.Context, userID string, limit, offset int) ([]*domain.WalletTransaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + txColumns + ` FROM wallet_transactions
			  WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := s.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []*domain.WalletTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func (s *PgLedgerStore) SumCompletedWithdrawalsSince(ctx context.Context, userID string, since time.Time) (decimal.Decimal, error) {
	query := `SELECT COALESCE(SUM(amount), 0) FROM wallet_transactions
			  WHERE user_id = $1 AND type = $2 AND status != $3 AND created_at >= $4`
	var sum decimal.Decimal
	err := s.db.QueryRow(ctx, query, userID, domain.TxTypeWithdrawal, domain.TxStatusFailed, since).Scan(&sum)
	return sum, err
}

func (s *PgLedgerStore) SetTransactionWebhookStatus(ctx context.Context, txID string, status domain.WebhookStatus) error {
	query := `UPDATE wallet_transactions
			  SET metadata = jsonb_set(metadata, '{webhook_status}', to_jsonb($1::text)), updated_at = NOW()
			  WHERE id = $2`
	_, err := s.db.Exec(ctx, query, string(status), txID)
	return err
}

func (s *PgLedgerStore) ResolveUserByPayment(ctx context.Context, paymentID string) (string, error) {
	query := `SELECT user_id FROM wallet_transactions WHERE payment_id = $1 LIMIT 1`
	var userID string
	err := s.db.QueryRow(ctx, query, paymentID).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrTransactionNotFound
		}
		return "", err
	}
	return userID, nil
}

const voucherColumns = `id, code, discount, type, scope, max_uses, max_uses_per_user, used_count, valid_from, valid_until, active, created_at`

func scanVoucher(row pgx.Row) (*domain.Voucher, error) {
	var v domain.Voucher
	err := row.Scan(&v.ID, &v.Code, &v.Discount, &v.Type, &v.Scope, &v.MaxUses,
		&v.MaxUsesPerUser, &v.UsedCount, &v.ValidFrom, &v.ValidUntil, &v.Active, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrVoucherInvalid
		}
		return nil, err
	}
	return &v, nil
}

func (s *PgLedgerStore) GetVoucherByCode(ctx context.Context, code string) (*domain.Voucher, error) {
	query := `SELECT ` + voucherColumns + ` FROM vouchers WHERE code = $1`
	return scanVoucher(s.db.QueryRow(ctx, query, code))
}

func (s *PgLedgerStore) CreateVoucher(ctx context.Context, v *domain.Voucher) error {
	query := `INSERT INTO vouchers
			  (id, code, discount, type, scope, max_uses, max_uses_per_user, used_count, valid_from, valid_until, active, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9, $10, NOW())`
	_, err := s.db.Exec(ctx, query, v.ID, v.Code, v.Discount, v.Type, v.Scope,
		v.MaxUses, v.MaxUsesPerUser, v.ValidFrom, v.ValidUntil, v.Active)
	return err
}

func (s *PgLedgerStore) DeactivateVoucher(ctx context.Context, code string) error {
	query := `UPDATE vouchers SET active = FALSE WHERE code = $1`
	ct, err := s.db.Exec(ctx, query, code)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrVoucherInvalid
	}
	return nil
}
