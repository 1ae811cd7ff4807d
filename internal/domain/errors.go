// internal/domain/errors.go
package domain

import "errors"

// Expected business outcomes are sentinel errors so callers branch with
// errors.Is instead of matching strings. GatewayFailure and StoreConflict
// wrap the underlying cause.
var (
	ErrValidation        = errors.New("validation failed")
	ErrUnauthorized      = errors.New("operation not permitted for role")
	ErrInsufficientFunds = errors.New("insufficient wallet balance")
	ErrWalletNotFound    = errors.New("wallet not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrFraudBlocked      = errors.New("operation blocked by fraud rules")
	ErrVoucherInvalid    = errors.New("voucher invalid")
	ErrGatewayFailure    = errors.New("payment gateway call failed")
	ErrStoreConflict     = errors.New("store transaction conflict")
	ErrInvariantViolation = errors.New("invariant violation")
)
