// internal/domain/voucher.go
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type VoucherType string
type VoucherScope string

const (
	VoucherTypePercentage VoucherType = "PERCENTAGE"
	VoucherTypeFixed      VoucherType = "FIXED"
)

const (
	VoucherScopeGlobal  VoucherScope = "GLOBAL"
	VoucherScopeProduct VoucherScope = "PRODUCT"
	VoucherScopeService VoucherScope = "SERVICE"
)

// Voucher is consumed through VoucherUsage rows; once used it is only ever
// deactivated or expired, never hard-deleted.
type Voucher struct {
	ID            string          `json:"id"`
	Code          string          `json:"code"`
	Discount      decimal.Decimal `json:"discount"`
	Type          VoucherType     `json:"type"`
	Scope         VoucherScope    `json:"scope"`
	MaxUses       int             `json:"max_uses"`
	MaxUsesPerUser int            `json:"max_uses_per_user"`
	UsedCount     int             `json:"used_count"`
	ValidFrom     time.Time       `json:"valid_from"`
	ValidUntil    time.Time       `json:"valid_until"`
	Active        bool            `json:"active"`
	CreatedAt     time.Time       `json:"created_at"`
}

type VoucherUsage struct {
	ID        string    `json:"id"`
	VoucherID string    `json:"voucher_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// UsableAt checks the time window and active flag. Cap checks need store
// counts and live in the ledger transaction.
func (v *Voucher) UsableAt(now time.Time) bool {
	if !v.Active {
		return false
	}
	if now.Before(v.ValidFrom) || now.After(v.ValidUntil) {
		return false
	}
	return true
}

// DiscountFor resolves the credit a voucher yields against a base amount.
func (v *Voucher) DiscountFor(base decimal.Decimal) decimal.Decimal {
	if v.Type == VoucherTypePercentage {
		return base.Mul(v.Discount).Div(decimal.NewFromInt(100))
	}
	return v.Discount
}
