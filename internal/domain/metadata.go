// internal/domain/metadata.go
package domain

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

type WebhookStatus string

const (
	WebhookStatusNone    WebhookStatus = ""
	WebhookStatusSent    WebhookStatus = "SENT"
	WebhookStatusQueued  WebhookStatus = "QUEUED"
	WebhookStatusFailed  WebhookStatus = "FAILED"
	WebhookStatusSkipped WebhookStatus = "SKIPPED"
)

// Metadata is a tagged union keyed by transaction type. Exactly one variant
// is set, matching WalletTransaction.Type; WebhookStatus is shared by all
// kinds. It is encoded to a flat JSON object only at the storage and wire
// boundaries.
type Metadata struct {
	Kind          TransactionType
	WebhookStatus WebhookStatus

	Deposit    *DepositMeta
	Payment    *PaymentMeta
	Refund     *RefundMeta
	Withdrawal *WithdrawalMeta
}

// DepositMeta carries the gateway linkage for the two-phase deposit flow.
type DepositMeta struct {
	GatewayRef  string `json:"gateway_ref"`
	PaymentLink string `json:"payment_link,omitempty"`
	VoucherCode string `json:"voucher_code,omitempty"`
}

// PaymentMeta carries the order linkage and fee breakdown for a wallet payment.
type PaymentMeta struct {
	OrderID        string          `json:"order_id"`
	EntityType     EntityType      `json:"entity_type"`
	BaseAmount     decimal.Decimal `json:"base_amount"`
	ServiceCharge  decimal.Decimal `json:"service_charge"`
	VAT            decimal.Decimal `json:"vat"`
	Tax            decimal.Decimal `json:"tax"`
	VoucherCode    string          `json:"voucher_code,omitempty"`
	VoucherCredit  decimal.Decimal `json:"voucher_credit"`
	VendorRef      string          `json:"vendor_ref,omitempty"`
	PlatformFeeRef string          `json:"platform_fee_ref,omitempty"`
}

// RefundMeta links a refund back to the deduction it reverses.
type RefundMeta struct {
	OriginalTxID string `json:"original_tx_id"`
	OrderID      string `json:"order_id,omitempty"`
	Partial      bool   `json:"partial"`
	GatewayRef   string `json:"gateway_ref,omitempty"`
	Destination  string `json:"destination,omitempty"`
}

// WithdrawalMeta records the external transfer backing a withdrawal.
type WithdrawalMeta struct {
	TransferRef string `json:"transfer_ref"`
	Destination string `json:"destination"`
}

type metadataJSON struct {
	Kind          TransactionType `json:"kind"`
	WebhookStatus WebhookStatus   `json:"webhook_status,omitempty"`

	Deposit    *DepositMeta    `json:"deposit,omitempty"`
	Payment    *PaymentMeta    `json:"payment,omitempty"`
	Refund     *RefundMeta     `json:"refund,omitempty"`
	Withdrawal *WithdrawalMeta `json:"withdrawal,omitempty"`
}

func (m Metadata) MarshalJSON() ([]byte, error) {
	return json.Marshal(metadataJSON{
		Kind:          m.Kind,
		WebhookStatus: m.WebhookStatus,
		Deposit:       m.Deposit,
		Payment:       m.Payment,
		Refund:        m.Refund,
		Withdrawal:    m.Withdrawal,
	})
}

func (m *Metadata) UnmarshalJSON(data []byte) error {
	var raw metadataJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode transaction metadata: %w", err)
	}
	m.Kind = raw.Kind
	m.WebhookStatus = raw.WebhookStatus
	m.Deposit = raw.Deposit
	m.Payment = raw.Payment
	m.Refund = raw.Refund
	m.Withdrawal = raw.Withdrawal
	return nil
}

// Validate checks that the variant set matches the tag.
func (m Metadata) Validate() error {
	switch m.Kind {
	case TxTypeDeposit:
		if m.Deposit == nil {
			return fmt.Errorf("metadata kind %s without deposit variant", m.Kind)
		}
	case TxTypeDeduction:
		if m.Payment == nil {
			return fmt.Errorf("metadata kind %s without payment variant", m.Kind)
		}
	case TxTypeRefund:
		if m.Refund == nil {
			return fmt.Errorf("metadata kind %s without refund variant", m.Kind)
		}
	case TxTypeWithdrawal:
		if m.Withdrawal == nil {
			return fmt.Errorf("metadata kind %s without withdrawal variant", m.Kind)
		}
	default:
		return fmt.Errorf("unknown metadata kind %q", m.Kind)
	}
	return nil
}

// OrderID returns the order linkage for kinds that carry one.
func (m Metadata) OrderID() string {
	switch {
	case m.Payment != nil:
		return m.Payment.OrderID
	case m.Refund != nil:
		return m.Refund.OrderID
	}
	return ""
}

// EntityType returns the entity classification for the webhook payload.
func (m Metadata) EntityType() EntityType {
	switch {
	case m.Payment != nil:
		return m.Payment.EntityType
	case m.Deposit != nil:
		return EntityWalletTopup
	}
	return ""
}
