// internal/repository/ledger_tx.go
package repository

import (
	"context"
	"errors"
	"fmt"

	"ledger-service/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// pgLedgerTx implements LedgerTx over a live pgx transaction.
type pgLedgerTx struct {
	tx pgx.Tx
}

func (t *pgLedgerTx) GetWalletForUpdate(ctx context.Context, userID string) (*domain.Wallet, error) {
	query := `SELECT id, user_id, balance, created_at, updated_at
			  FROM wallets WHERE user_id = $1 FOR UPDATE`
	var w domain.Wallet
	err := t.tx.QueryRow(ctx, query, userID).
		Scan(&w.ID, &w.UserID, &w.Balance, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWalletNotFound
		}
		return nil, err
	}
	return &w, nil
}

func (t *pgLedgerTx) CreateWallet(ctx context.Context, w *domain.Wallet) error {
	query := `INSERT INTO wallets (id, user_id, balance, created_at, updated_at)
			  VALUES ($1, $2, $3, NOW(), NOW())
			  ON CONFLICT (user_id) DO NOTHING`
	_, err := t.tx.Exec(ctx, query, w.ID, w.UserID, w.Balance)
	return err
}

func (t *pgLedgerTx) IncrementBalance(ctx context.Context, walletID string, amount decimal.Decimal) error {
	query := `UPDATE wallets SET balance = balance + $1, updated_at = NOW() WHERE id = $2`
	ct, err := t.tx.Exec(ctx, query, amount, walletID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrWalletNotFound
	}
	return nil
}

// DecrementBalance debits the wallet guarded by a balance check in the same
// statement, so the balance can never be observed negative at commit.
func (t *pgLedgerTx) DecrementBalance(ctx context.Context, walletID string, amount decimal.Decimal) error {
	query := `UPDATE wallets SET balance = balance - $1, updated_at = NOW()
			  WHERE id = $2 AND balance >= $1`
	ct, err := t.tx.Exec(ctx, query, amount, walletID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrInsufficientFunds
	}
	return nil
}

func (t *pgLedgerTx) CreateTransaction(ctx context.Context, wt *domain.WalletTransaction) error {
	metadata, err := wt.Metadata.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode transaction metadata: %w", err)
	}
	query := `INSERT INTO wallet_transactions
			  (id, user_id, wallet_id, amount, type, status, payment_id, order_id, metadata, created_at, updated_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
			  RETURNING created_at, updated_at`
	return t.tx.QueryRow(ctx, query, wt.ID, wt.UserID, wt.WalletID, wt.Amount,
		wt.Type, wt.Status, wt.PaymentID, wt.OrderID, metadata).
		Scan(&wt.CreatedAt, &wt.UpdatedAt)
}

func (t *pgLedgerTx) UpdateTransactionStatus(ctx context.Context, id string, status domain.TransactionStatus) error {
	query := `UPDATE wallet_transactions SET status = $1, updated_at = NOW() WHERE id = $2`
	ct, err := t.tx.Exec(ctx, query, status, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrTransactionNotFound
	}
	return nil
}

func (t *pgLedgerTx) UpdateTransactionMetadata(ctx context.Context, id string, m domain.Metadata) error {
	metadata, err := m.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode transaction metadata: %w", err)
	}
	query := `UPDATE wallet_transactions SET metadata = $1, updated_at = NOW() WHERE id = $2`
	ct, err := t.tx.Exec(ctx, query, metadata, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrTransactionNotFound
	}
	return nil
}

// ClaimTransaction is the guard against duplicate gateway callbacks: the
// status predicate rides in the UPDATE itself, so under any interleaving
// exactly one caller sees the row transition.
func (t *pgLedgerTx) ClaimTransaction(ctx context.Context, id string, from, to domain.TransactionStatus) (bool, error) {
	query := `UPDATE wallet_transactions SET status = $1, updated_at = NOW()
			  WHERE id = $2 AND status = $3`
	ct, err := t.tx.Exec(ctx, query, to, id, from)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (t *pgLedgerTx) GetVoucherForUpdate(ctx context.Context, code string) (*domain.Voucher, error) {
	query := `SELECT ` + voucherColumns + ` FROM vouchers WHERE code = $1 FOR UPDATE`
	return scanVoucher(t.tx.QueryRow(ctx, query, code))
}

func (t *pgLedgerTx) CountVoucherUsage(ctx context.Context, voucherID, userID string) (int, error) {
	query := `SELECT COUNT(*) FROM voucher_usages WHERE voucher_id = $1 AND user_id = $2`
	var n int
	err := t.tx.QueryRow(ctx, query, voucherID, userID).Scan(&n)
	return n, err
}

func (t *pgLedgerTx) CreateVoucherUsage(ctx context.Context, u *domain.VoucherUsage) error {
	query := `INSERT INTO voucher_usages (id, voucher_id, user_id, created_at)
			  VALUES ($1, $2, $3, NOW())`
	_, err := t.tx.Exec(ctx, query, u.ID, u.VoucherID, u.UserID)
	return err
}

func (t *pgLedgerTx) IncrementVoucherUsage(ctx context.Context, voucherID string) error {
	query := `UPDATE vouchers SET used_count = used_count + 1 WHERE id = $1`
	_, err := t.tx.Exec(ctx, query, voucherID)
	return err
}

func (t *pgLedgerTx) UpdateOrderStatus(ctx context.Context, orderID string, entity domain.EntityType, status string) error {
	table := "product_orders"
	if entity == domain.EntityServiceOrder {
		table = "service_orders"
	}
	query := fmt.Sprintf(`UPDATE %s SET status = $1, updated_at = NOW() WHERE id = $2`, table)
	_, err := t.tx.Exec(ctx, query, status, orderID)
	return err
}
