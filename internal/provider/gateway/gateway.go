// internal/provider/gateway/gateway.go
package gateway

import (
	"context"

	"github.com/shopspring/decimal"
)

// PaymentGateway is the opaque external payment collaborator: every call
// either succeeds with a reference string or fails. The ledger engine wraps
// failures as domain.ErrGatewayFailure.
type PaymentGateway interface {
	// CreateIntent opens a payment intent and returns a redirect link the
	// caller completes out-of-band. The balance is not touched until the
	// confirmation callback arrives.
	CreateIntent(ctx context.Context, req *IntentRequest) (*IntentResponse, error)
	// Transfer pushes funds to an external account (vendor payout,
	// platform fee, withdrawal destination).
	Transfer(ctx context.Context, req *TransferRequest) (*TransferResponse, error)
	// Refund returns funds to an external destination account.
	Refund(ctx context.Context, req *RefundRequest) (*RefundResponse, error)
}

type IntentRequest struct {
	UserID    string          `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Reference string          `json:"reference"`
}

type IntentResponse struct {
	GatewayRef  string `json:"gateway_ref"`
	PaymentLink string `json:"payment_link"`
}

type TransferRequest struct {
	Account   string          `json:"account"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Reference string          `json:"reference"`
	Narration string          `json:"narration,omitempty"`
}

type TransferResponse struct {
	GatewayRef string `json:"gateway_ref"`
	// Completed reports immediate settlement; otherwise the transfer is
	// accepted and settles asynchronously.
	Completed bool `json:"completed"`
}

type RefundRequest struct {
	Account   string          `json:"account"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Reference string          `json:"reference"`
}

type RefundResponse struct {
	GatewayRef string `json:"gateway_ref"`
}
