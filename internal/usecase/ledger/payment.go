// internal/usecase/ledger/payment.go
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ledger-service/internal/domain"
	"ledger-service/internal/provider/gateway"
	"ledger-service/internal/repository"
	"ledger-service/pkg/idempotency"
	"ledger-service/pkg/metrics"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type PaymentRequest struct {
	UserID        string            `json:"user_id"`
	OrderID       string            `json:"order_id"`
	EntityType    domain.EntityType `json:"entity_type"`
	BaseAmount    decimal.Decimal   `json:"base_amount"`
	ServiceCharge decimal.Decimal   `json:"service_charge"`
	VAT           decimal.Decimal   `json:"vat"`
	Tax           decimal.Decimal   `json:"tax"`
	VoucherCode   string            `json:"voucher_code,omitempty"`
	// VendorAccount / PlatformAccount, when set, receive downstream
	// gateway transfers inside the same logical operation.
	VendorAccount   string `json:"vendor_account,omitempty"`
	PlatformAccount string `json:"platform_account,omitempty"`
	Currency        string `json:"currency"`
	IdempotencyKey  string `json:"idempotency_key,omitempty"`
}

type PaymentResponse struct {
	TransactionID string                   `json:"transaction_id"`
	Status        domain.TransactionStatus `json:"status"`
	Total         decimal.Decimal          `json:"total"`
	VoucherCredit decimal.Decimal          `json:"voucher_credit"`
	Balance       decimal.Decimal          `json:"balance"`
}

func (r *PaymentRequest) validate() error {
	if err := validateUserAmount(r.UserID, r.BaseAmount); err != nil {
		return err
	}
	if r.OrderID == "" {
		return fmt.Errorf("%w: order id is required", domain.ErrValidation)
	}
	switch r.EntityType {
	case domain.EntityServiceOrder, domain.EntityProductOrder:
	default:
		return fmt.Errorf("%w: unsupported entity type %q", domain.ErrValidation, r.EntityType)
	}
	for _, v := range []decimal.Decimal{r.ServiceCharge, r.VAT, r.Tax} {
		if v.IsNegative() {
			return fmt.Errorf("%w: fee components must not be negative", domain.ErrValidation)
		}
	}
	return nil
}

// Pay debits the wallet for an order: total = base + serviceCharge + vat +
// tax - voucherDiscount. Voucher caps are enforced inside the same store
// transaction as the debit, so a voucher can never be double-spent; a
// failed downstream payout transfer aborts the whole transaction so funds
// are never debited without the transfer having been attempted.
func (s *Service) Pay(ctx context.Context, req *PaymentRequest) (*PaymentResponse, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	key := req.IdempotencyKey
	if key == "" {
		key = idempotency.Key("payWithWallet", req.OrderID, req.UserID)
	}

	raw, replayed, err := s.idem.Do(ctx, key, func(ctx context.Context) ([]byte, error) {
		resp, err := s.pay(ctx, req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)
	})
	if err != nil {
		return nil, err
	}
	if replayed {
		s.logger.Info("payment request replayed from idempotency cache",
			zap.String("order_id", req.OrderID),
			zap.String("user_id", req.UserID))
	}

	var resp PaymentResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode cached payment response: %w", err)
	}
	return &resp, nil
}

func (s *Service) pay(ctx context.Context, req *PaymentRequest) (*PaymentResponse, error) {
	gross := req.BaseAmount.Add(req.ServiceCharge).Add(req.VAT).Add(req.Tax)

	if err := s.fraud.Check(ctx, req.UserID, gross, "PAYMENT", string(req.EntityType), req.OrderID); err != nil {
		s.auditFailure(ctx, req.UserID, gross, domain.TxTypeDeduction, paymentMeta(req, decimal.Zero), "PAYMENT", err)
		return nil, err
	}

	txID := ulid.Make().String()
	var (
		record        *domain.WalletTransaction
		voucherCredit decimal.Decimal
		total         decimal.Decimal
		balance       decimal.Decimal
	)

	err := s.runTx(ctx, func(tx repository.LedgerTx) error {
		voucherCredit = decimal.Zero

		var voucher *domain.Voucher
		if req.VoucherCode != "" {
			var verr error
			voucher, verr = s.redeemableVoucher(ctx, tx, req.VoucherCode, req.UserID, req.EntityType)
			if verr != nil {
				return verr
			}
			voucherCredit = voucher.DiscountFor(req.BaseAmount)
		}

		total = gross.Sub(voucherCredit)
		if total.IsNegative() {
			return fmt.Errorf("%w: resulting total %s is negative", domain.ErrInvariantViolation, total.String())
		}

		// Debit path: a missing wallet is an error, not a self-heal.
		w, err := s.ensureWallet(ctx, tx, req.UserID, false)
		if err != nil {
			return err
		}
		if w.Balance.LessThan(total) {
			return fmt.Errorf("%w: balance %s, required %s", domain.ErrInsufficientFunds, w.Balance.String(), total.String())
		}

		meta := paymentMeta(req, voucherCredit)
		record = &domain.WalletTransaction{
			ID:       txID,
			UserID:   req.UserID,
			WalletID: w.ID,
			Amount:   total,
			Type:     domain.TxTypeDeduction,
			Status:   domain.TxStatusPending,
			OrderID:  &req.OrderID,
			Metadata: meta,
		}
		if err := tx.CreateTransaction(ctx, record); err != nil {
			return err
		}
		if err := tx.DecrementBalance(ctx, w.ID, total); err != nil {
			return err
		}
		balance = w.Balance.Sub(total)

		if voucher != nil {
			if err := tx.CreateVoucherUsage(ctx, &domain.VoucherUsage{
				ID:        ulid.Make().String(),
				VoucherID: voucher.ID,
				UserID:    req.UserID,
			}); err != nil {
				return err
			}
			if err := tx.IncrementVoucherUsage(ctx, voucher.ID); err != nil {
				return err
			}
		}

		if err := tx.UpdateOrderStatus(ctx, req.OrderID, req.EntityType, "PAID"); err != nil {
			return err
		}

		// Downstream payouts run before commit: a transfer failure aborts
		// the debit.
		if req.VendorAccount != "" && req.BaseAmount.IsPositive() {
			ref, _, err := s.transfer(ctx, req.VendorAccount, req.BaseAmount, txID+":vendor")
			if err != nil {
				return err
			}
			record.Metadata.Payment.VendorRef = ref
		}
		platformFee := req.ServiceCharge.Add(req.VAT).Add(req.Tax)
		if req.PlatformAccount != "" && platformFee.IsPositive() {
			ref, _, err := s.transfer(ctx, req.PlatformAccount, platformFee, txID+":fee")
			if err != nil {
				return err
			}
			record.Metadata.Payment.PlatformFeeRef = ref
		}

		// The transfer references were assigned after the insert; write the
		// metadata back so the durable row carries them.
		if err := tx.UpdateTransactionMetadata(ctx, record.ID, record.Metadata); err != nil {
			return err
		}
		return tx.UpdateTransactionStatus(ctx, record.ID, domain.TxStatusCompleted)
	})
	if err != nil {
		if !errors.Is(err, domain.ErrValidation) {
			s.auditFailure(ctx, req.UserID, gross, domain.TxTypeDeduction, paymentMeta(req, voucherCredit), "PAYMENT", err)
		}
		return nil, err
	}

	record.Status = domain.TxStatusCompleted
	s.invalidateBalance(ctx, req.UserID)
	metrics.LedgerTransactions.WithLabelValues(string(domain.TxTypeDeduction), string(domain.TxStatusCompleted)).Inc()
	s.logger.Info("wallet payment completed",
		zap.String("transaction_id", record.ID),
		zap.String("user_id", req.UserID),
		zap.String("order_id", req.OrderID),
		zap.String("total", total.String()))

	s.events.Trigger(ctx, &req.UserID, record, "PAYMENT_COMPLETED")

	return &PaymentResponse{
		TransactionID: record.ID,
		Status:        record.Status,
		Total:         total,
		VoucherCredit: voucherCredit,
		Balance:       balance,
	}, nil
}

// redeemableVoucher revalidates a voucher under lock: active, in window,
// right scope, global and per-user caps not exhausted.
func (s *Service) redeemableVoucher(ctx context.Context, tx repository.LedgerTx, code, userID string, entity domain.EntityType) (*domain.Voucher, error) {
	v, err := tx.GetVoucherForUpdate(ctx, code)
	if err != nil {
		return nil, err
	}
	if !v.UsableAt(s.now()) {
		return nil, fmt.Errorf("%w: code %s is inactive or outside its validity window", domain.ErrVoucherInvalid, code)
	}
	if (v.Scope == domain.VoucherScopeProduct && entity != domain.EntityProductOrder) ||
		(v.Scope == domain.VoucherScopeService && entity != domain.EntityServiceOrder) {
		return nil, fmt.Errorf("%w: code %s does not apply to %s", domain.ErrVoucherInvalid, code, entity)
	}
	if v.MaxUses > 0 && v.UsedCount >= v.MaxUses {
		return nil, fmt.Errorf("%w: code %s usage cap exhausted", domain.ErrVoucherInvalid, code)
	}
	if v.MaxUsesPerUser > 0 {
		used, err := tx.CountVoucherUsage(ctx, v.ID, userID)
		if err != nil {
			return nil, err
		}
		if used >= v.MaxUsesPerUser {
			return nil, fmt.Errorf("%w: per-user cap for code %s exhausted", domain.ErrVoucherInvalid, code)
		}
	}
	return v, nil
}

func (s *Service) transfer(ctx context.Context, account string, amount decimal.Decimal, reference string) (string, bool, error) {
	resp, err := s.gateway.Transfer(ctx, &gateway.TransferRequest{
		Account:   account,
		Amount:    amount,
		Reference: reference,
	})
	if err != nil {
		return "", false, fmt.Errorf("%w: transfer to %s: %v", domain.ErrGatewayFailure, account, err)
	}
	return resp.GatewayRef, resp.Completed, nil
}

func paymentMeta(req *PaymentRequest, voucherCredit decimal.Decimal) domain.Metadata {
	return domain.Metadata{
		Kind: domain.TxTypeDeduction,
		Payment: &domain.PaymentMeta{
			OrderID:       req.OrderID,
			EntityType:    req.EntityType,
			BaseAmount:    req.BaseAmount,
			ServiceCharge: req.ServiceCharge,
			VAT:           req.VAT,
			Tax:           req.Tax,
			VoucherCode:   req.VoucherCode,
			VoucherCredit: voucherCredit,
		},
	}
}
