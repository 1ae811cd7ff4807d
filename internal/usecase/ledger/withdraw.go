// internal/usecase/ledger/withdraw.go
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ledger-service/internal/domain"
	"ledger-service/internal/provider/gateway"
	"ledger-service/internal/repository"
	"ledger-service/pkg/idempotency"
	"ledger-service/pkg/metrics"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type WithdrawRequest struct {
	UserID         string          `json:"user_id"`
	Amount         decimal.Decimal `json:"amount"`
	Destination    string          `json:"destination"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

type WithdrawResponse struct {
	TransactionID string                   `json:"transaction_id"`
	Status        domain.TransactionStatus `json:"status"`
	TransferRef   string                   `json:"transfer_ref"`
}

// Withdraw moves funds out through the gateway. Restricted to roles with
// payout permission; per-transaction and daily ceilings come from the
// user's settings row. The wallet is debited only after the external
// transfer call is accepted, and the transfer's terminal state becomes the
// transaction's initial status.
func (s *Service) Withdraw(ctx context.Context, req *WithdrawRequest) (*WithdrawResponse, error) {
	if err := validateUserAmount(req.UserID, req.Amount); err != nil {
		return nil, err
	}
	if req.Destination == "" {
		return nil, fmt.Errorf("%w: destination account is required", domain.ErrValidation)
	}

	settings, err := s.settings.Get(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if !settings.Role.CanWithdraw() {
		return nil, fmt.Errorf("%w: role %s cannot withdraw", domain.ErrUnauthorized, settings.Role)
	}
	if settings.MaxWithdrawal.IsPositive() && req.Amount.GreaterThan(settings.MaxWithdrawal) {
		return nil, fmt.Errorf("%w: amount %s exceeds per-transaction ceiling %s",
			domain.ErrValidation, req.Amount.String(), settings.MaxWithdrawal.String())
	}

	key := req.IdempotencyKey
	if key == "" {
		key = idempotency.Key("withdraw", req.UserID, req.Destination, req.Amount.String())
	}

	raw, _, err := s.idem.Do(ctx, key, func(ctx context.Context) ([]byte, error) {
		resp, err := s.withdraw(ctx, req, settings)
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)
	})
	if err != nil {
		return nil, err
	}

	var resp WithdrawResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode cached withdrawal response: %w", err)
	}
	return &resp, nil
}

func (s *Service) withdraw(ctx context.Context, req *WithdrawRequest, settings *domain.UserSettings) (*WithdrawResponse, error) {
	meta := domain.Metadata{
		Kind:       domain.TxTypeWithdrawal,
		Withdrawal: &domain.WithdrawalMeta{Destination: req.Destination},
	}

	if settings.DailyWithdrawalCap.IsPositive() {
		since := s.now().Add(-24 * time.Hour)
		drawn, err := s.store.SumCompletedWithdrawalsSince(ctx, req.UserID, since)
		if err != nil {
			return nil, err
		}
		if drawn.Add(req.Amount).GreaterThan(settings.DailyWithdrawalCap) {
			return nil, fmt.Errorf("%w: daily withdrawal cap %s exceeded",
				domain.ErrValidation, settings.DailyWithdrawalCap.String())
		}
	}

	if err := s.fraud.Check(ctx, req.UserID, req.Amount, "WITHDRAWAL", "", req.Destination); err != nil {
		s.auditFailure(ctx, req.UserID, req.Amount, domain.TxTypeWithdrawal, meta, "WITHDRAWAL", err)
		return nil, err
	}

	// Sufficiency pre-check before touching the gateway; the debit itself
	// is re-guarded inside the transaction.
	wallet, err := s.store.GetWallet(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if wallet.Balance.LessThan(req.Amount) {
		err := fmt.Errorf("%w: balance %s, requested %s",
			domain.ErrInsufficientFunds, wallet.Balance.String(), req.Amount.String())
		s.auditFailure(ctx, req.UserID, req.Amount, domain.TxTypeWithdrawal, meta, "WITHDRAWAL", err)
		return nil, err
	}

	txID := ulid.Make().String()
	transferRef, completed, err := s.transfer(ctx, req.Destination, req.Amount, txID)
	if err != nil {
		s.auditFailure(ctx, req.UserID, req.Amount, domain.TxTypeWithdrawal, meta, "WITHDRAWAL", err)
		return nil, err
	}
	meta.Withdrawal.TransferRef = transferRef

	status := domain.TxStatusPending
	if completed {
		status = domain.TxStatusCompleted
	}
	record := &domain.WalletTransaction{
		ID:       txID,
		UserID:   req.UserID,
		Amount:   req.Amount,
		Type:     domain.TxTypeWithdrawal,
		Status:   status,
		Metadata: meta,
	}

	err = s.runTx(ctx, func(tx repository.LedgerTx) error {
		w, err := s.ensureWallet(ctx, tx, req.UserID, false)
		if err != nil {
			return err
		}
		record.WalletID = w.ID
		if err := tx.CreateTransaction(ctx, record); err != nil {
			return err
		}
		return tx.DecrementBalance(ctx, w.ID, req.Amount)
	})
	if err != nil {
		// The transfer was accepted but the local debit did not commit:
		// compensate explicitly instead of leaving it to reconciliation.
		s.logger.Error("withdrawal debit failed after transfer accepted, compensating",
			zap.String("transaction_id", txID),
			zap.String("transfer_ref", transferRef),
			zap.Error(err))
		if _, rerr := s.gateway.Refund(ctx, &gateway.RefundRequest{
			Account:   req.Destination,
			Amount:    req.Amount,
			Reference: txID + ":compensation",
		}); rerr != nil {
			s.logger.Error("withdrawal compensation failed, manual reconciliation required",
				zap.String("transaction_id", txID),
				zap.String("transfer_ref", transferRef),
				zap.Error(rerr))
		}
		s.auditFailure(ctx, req.UserID, req.Amount, domain.TxTypeWithdrawal, meta, "WITHDRAWAL", err)
		return nil, err
	}

	s.invalidateBalance(ctx, req.UserID)
	metrics.LedgerTransactions.WithLabelValues(string(domain.TxTypeWithdrawal), string(status)).Inc()
	s.logger.Info("withdrawal accepted",
		zap.String("transaction_id", record.ID),
		zap.String("user_id", req.UserID),
		zap.String("transfer_ref", transferRef),
		zap.String("status", string(status)))

	event := "WITHDRAWAL_PENDING"
	if completed {
		event = "WITHDRAWAL_COMPLETED"
	}
	s.events.Trigger(ctx, &req.UserID, record, event)

	return &WithdrawResponse{
		TransactionID: record.ID,
		Status:        status,
		TransferRef:   transferRef,
	}, nil
}
