// internal/usecase/ledger/voucher.go
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ledger-service/internal/domain"
	"ledger-service/internal/repository"
	"ledger-service/pkg/idempotency"
	"ledger-service/pkg/metrics"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type RedeemVoucherRequest struct {
	Code   string `json:"code"`
	UserID string `json:"user_id"`
}

type RedeemVoucherResponse struct {
	TransactionID string          `json:"transaction_id"`
	Credit        decimal.Decimal `json:"credit"`
}

// RedeemVoucher credits a FIXED-value voucher to the wallet. The per-user
// cap, global cap and usage row are all enforced inside one store
// transaction, so two concurrent redemptions of a single-use voucher yield
// exactly one success.
func (s *Service) RedeemVoucher(ctx context.Context, req *RedeemVoucherRequest) (*RedeemVoucherResponse, error) {
	if req.Code == "" || req.UserID == "" {
		return nil, fmt.Errorf("%w: code and user id are required", domain.ErrValidation)
	}

	key := idempotency.Key("redeemVoucher", req.Code, req.UserID)
	raw, _, err := s.idem.Do(ctx, key, func(ctx context.Context) ([]byte, error) {
		resp, err := s.redeemVoucher(ctx, req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)
	})
	if err != nil {
		return nil, err
	}

	var resp RedeemVoucherResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode cached voucher response: %w", err)
	}
	return &resp, nil
}

func (s *Service) redeemVoucher(ctx context.Context, req *RedeemVoucherRequest) (*RedeemVoucherResponse, error) {
	// Cheap pre-checks outside the transaction; everything is re-verified
	// under lock.
	preview, err := s.store.GetVoucherByCode(ctx, req.Code)
	if err != nil {
		return nil, err
	}
	if preview.Type != domain.VoucherTypeFixed {
		return nil, fmt.Errorf("%w: code %s is not redeemable for wallet credit", domain.ErrVoucherInvalid, req.Code)
	}

	if err := s.fraud.Check(ctx, req.UserID, preview.Discount, "VOUCHER_REDEEM", "VOUCHER", preview.ID); err != nil {
		return nil, err
	}

	var record *domain.WalletTransaction
	var credit decimal.Decimal

	err = s.runTx(ctx, func(tx repository.LedgerTx) error {
		v, err := tx.GetVoucherForUpdate(ctx, req.Code)
		if err != nil {
			return err
		}
		if !v.UsableAt(s.now()) {
			return fmt.Errorf("%w: code %s is inactive or outside its validity window", domain.ErrVoucherInvalid, req.Code)
		}
		if v.MaxUses > 0 && v.UsedCount >= v.MaxUses {
			return fmt.Errorf("%w: code %s usage cap exhausted", domain.ErrVoucherInvalid, req.Code)
		}
		if v.MaxUsesPerUser > 0 {
			used, err := tx.CountVoucherUsage(ctx, v.ID, req.UserID)
			if err != nil {
				return err
			}
			if used >= v.MaxUsesPerUser {
				return fmt.Errorf("%w: per-user cap for code %s exhausted", domain.ErrVoucherInvalid, req.Code)
			}
		}
		credit = v.Discount

		w, err := s.ensureWallet(ctx, tx, req.UserID, true)
		if err != nil {
			return err
		}
		record = &domain.WalletTransaction{
			ID:       ulid.Make().String(),
			UserID:   req.UserID,
			WalletID: w.ID,
			Amount:   credit,
			Type:     domain.TxTypeDeposit,
			Status:   domain.TxStatusPending,
			Metadata: domain.Metadata{
				Kind:    domain.TxTypeDeposit,
				Deposit: &domain.DepositMeta{VoucherCode: req.Code},
			},
		}
		if err := tx.CreateTransaction(ctx, record); err != nil {
			return err
		}
		if err := tx.IncrementBalance(ctx, w.ID, credit); err != nil {
			return err
		}
		if err := tx.CreateVoucherUsage(ctx, &domain.VoucherUsage{
			ID:        ulid.Make().String(),
			VoucherID: v.ID,
			UserID:    req.UserID,
		}); err != nil {
			return err
		}
		if err := tx.IncrementVoucherUsage(ctx, v.ID); err != nil {
			return err
		}
		return tx.UpdateTransactionStatus(ctx, record.ID, domain.TxStatusCompleted)
	})
	if err != nil {
		return nil, err
	}

	record.Status = domain.TxStatusCompleted
	s.invalidateBalance(ctx, req.UserID)
	metrics.LedgerTransactions.WithLabelValues(string(domain.TxTypeDeposit), string(domain.TxStatusCompleted)).Inc()
	s.logger.Info("voucher redeemed",
		zap.String("transaction_id", record.ID),
		zap.String("code", req.Code),
		zap.String("user_id", req.UserID),
		zap.String("credit", credit.String()))

	s.events.Trigger(ctx, &req.UserID, record, "VOUCHER_REDEEM_COMPLETED")

	return &RedeemVoucherResponse{TransactionID: record.ID, Credit: credit}, nil
}

type CreateVoucherRequest struct {
	Code           string              `json:"code"`
	Discount       decimal.Decimal     `json:"discount"`
	Type           domain.VoucherType  `json:"type"`
	Scope          domain.VoucherScope `json:"scope"`
	MaxUses        int                 `json:"max_uses"`
	MaxUsesPerUser int                 `json:"max_uses_per_user"`
	ValidFrom      time.Time           `json:"valid_from"`
	ValidUntil     time.Time           `json:"valid_until"`
}

// CreateVoucher is restricted to admins; the actor role comes from the
// external auth collaborator.
func (s *Service) CreateVoucher(ctx context.Context, actor domain.Role, req *CreateVoucherRequest) (*domain.Voucher, error) {
	if actor != domain.RoleAdmin {
		return nil, fmt.Errorf("%w: only admins may create vouchers", domain.ErrUnauthorized)
	}
	if req.Code == "" || req.Discount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: code and positive discount are required", domain.ErrValidation)
	}
	switch req.Type {
	case domain.VoucherTypeFixed, domain.VoucherTypePercentage:
	default:
		return nil, fmt.Errorf("%w: unsupported voucher type %q", domain.ErrValidation, req.Type)
	}
	if !req.ValidUntil.After(req.ValidFrom) {
		return nil, fmt.Errorf("%w: validity window is empty", domain.ErrValidation)
	}

	v := &domain.Voucher{
		ID:             ulid.Make().String(),
		Code:           req.Code,
		Discount:       req.Discount,
		Type:           req.Type,
		Scope:          req.Scope,
		MaxUses:        req.MaxUses,
		MaxUsesPerUser: req.MaxUsesPerUser,
		ValidFrom:      req.ValidFrom,
		ValidUntil:     req.ValidUntil,
		Active:         true,
	}
	if err := s.store.CreateVoucher(ctx, v); err != nil {
		return nil, err
	}

	s.logger.Info("voucher created",
		zap.String("voucher_id", v.ID),
		zap.String("code", v.Code),
		zap.String("type", string(v.Type)))
	return v, nil
}

// DeactivateVoucher disables further redemptions; used vouchers are never
// hard-deleted.
func (s *Service) DeactivateVoucher(ctx context.Context, actor domain.Role, code string) error {
	if actor != domain.RoleAdmin {
		return fmt.Errorf("%w: only admins may deactivate vouchers", domain.ErrUnauthorized)
	}
	if err := s.store.DeactivateVoucher(ctx, code); err != nil {
		return err
	}
	s.logger.Info("voucher deactivated", zap.String("code", code))
	return nil
}
