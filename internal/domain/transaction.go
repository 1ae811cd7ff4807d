// internal/domain/transaction.go
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string
type TransactionStatus string
type EntityType string

const (
	TxTypeDeposit    TransactionType = "DEPOSIT"
	TxTypeDeduction  TransactionType = "DEDUCTION"
	TxTypeRefund     TransactionType = "REFUND"
	TxTypeWithdrawal TransactionType = "WITHDRAWAL"
)

const (
	TxStatusPending   TransactionStatus = "PENDING"
	TxStatusCompleted TransactionStatus = "COMPLETED"
	TxStatusFailed    TransactionStatus = "FAILED"
)

const (
	EntityServiceOrder EntityType = "SERVICE_ORDER"
	EntityProductOrder EntityType = "PRODUCT_ORDER"
	EntityWalletTopup  EntityType = "WALLET_TOPUP"
)

// WalletTransaction is the durable record of a single ledger mutation.
// Amount is always positive; the effect on the balance is implied by Type.
// Records are created PENDING inside the store transaction that moves the
// balance delta and transition to COMPLETED or FAILED, never deleted.
type WalletTransaction struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	WalletID  string            `json:"wallet_id"`
	Amount    decimal.Decimal   `json:"amount"`
	Type      TransactionType   `json:"type"`
	Status    TransactionStatus `json:"status"`
	PaymentID *string           `json:"payment_id,omitempty"`
	OrderID   *string           `json:"order_id,omitempty"`
	Metadata  Metadata          `json:"metadata"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

type Wallet struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// UserSettings carries the per-user withdrawal policy read by the ledger
// engine before a withdrawal is allowed.
type UserSettings struct {
	UserID             string          `json:"user_id"`
	Role               Role            `json:"role"`
	MaxWithdrawal      decimal.Decimal `json:"max_withdrawal"`
	DailyWithdrawalCap decimal.Decimal `json:"daily_withdrawal_cap"`
}

type Role string

const (
	RoleUser   Role = "user"
	RoleVendor Role = "vendor"
	RoleAdmin  Role = "admin"
	RoleAgent  Role = "agent"
)

// CanWithdraw reports whether the role is permitted to move funds out of
// the platform.
func (r Role) CanWithdraw() bool {
	switch r {
	case RoleVendor, RoleAdmin, RoleAgent:
		return true
	}
	return false
}
