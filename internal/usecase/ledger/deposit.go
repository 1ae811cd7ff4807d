// internal/usecase/ledger/deposit.go
package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"ledger-service/internal/domain"
	"ledger-service/internal/provider/gateway"
	"ledger-service/internal/repository"
	"ledger-service/pkg/idempotency"
	"ledger-service/pkg/metrics"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type DepositRequest struct {
	UserID         string          `json:"user_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

type DepositResponse struct {
	TransactionID string                   `json:"transaction_id"`
	Status        domain.TransactionStatus `json:"status"`
	PaymentLink   string                   `json:"payment_link"`
	GatewayRef    string                   `json:"gateway_ref"`
}

// Deposit opens the first phase of a top-up: a gateway payment intent plus
// a PENDING transaction carrying the gateway reference. The balance is only
// incremented when ConfirmDeposit sees gateway success.
func (s *Service) Deposit(ctx context.Context, req *DepositRequest) (*DepositResponse, error) {
	if err := validateUserAmount(req.UserID, req.Amount); err != nil {
		return nil, err
	}
	if req.Currency == "" {
		return nil, fmt.Errorf("%w: currency is required", domain.ErrValidation)
	}

	key := req.IdempotencyKey
	if key == "" {
		key = uuid.New().String()
	}
	key = idempotency.Key("deposit", req.UserID, key)

	raw, replayed, err := s.idem.Do(ctx, key, func(ctx context.Context) ([]byte, error) {
		resp, err := s.deposit(ctx, req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)
	})
	if err != nil {
		return nil, err
	}
	if replayed {
		s.logger.Info("deposit request replayed from idempotency cache",
			zap.String("user_id", req.UserID),
			zap.String("key", key))
	}

	var resp DepositResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode cached deposit response: %w", err)
	}
	return &resp, nil
}

func (s *Service) deposit(ctx context.Context, req *DepositRequest) (*DepositResponse, error) {
	if err := s.fraud.Check(ctx, req.UserID, req.Amount, "DEPOSIT", string(domain.EntityWalletTopup), ""); err != nil {
		s.auditFailure(ctx, req.UserID, req.Amount, domain.TxTypeDeposit, domain.Metadata{
			Kind:    domain.TxTypeDeposit,
			Deposit: &domain.DepositMeta{},
		}, "DEPOSIT", err)
		return nil, err
	}

	txID := ulid.Make().String()
	intent, err := s.gateway.CreateIntent(ctx, &gateway.IntentRequest{
		UserID:    req.UserID,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Reference: txID,
	})
	if err != nil {
		wrapped := fmt.Errorf("%w: %v", domain.ErrGatewayFailure, err)
		s.auditFailure(ctx, req.UserID, req.Amount, domain.TxTypeDeposit, domain.Metadata{
			Kind:    domain.TxTypeDeposit,
			Deposit: &domain.DepositMeta{},
		}, "DEPOSIT", wrapped)
		return nil, wrapped
	}

	record := &domain.WalletTransaction{
		ID:        txID,
		UserID:    req.UserID,
		Amount:    req.Amount,
		Type:      domain.TxTypeDeposit,
		Status:    domain.TxStatusPending,
		PaymentID: &intent.GatewayRef,
		Metadata: domain.Metadata{
			Kind: domain.TxTypeDeposit,
			Deposit: &domain.DepositMeta{
				GatewayRef:  intent.GatewayRef,
				PaymentLink: intent.PaymentLink,
			},
		},
	}

	err = s.runTx(ctx, func(tx repository.LedgerTx) error {
		w, err := s.ensureWallet(ctx, tx, req.UserID, true)
		if err != nil {
			return err
		}
		record.WalletID = w.ID
		return tx.CreateTransaction(ctx, record)
	})
	if err != nil {
		s.auditFailure(ctx, req.UserID, req.Amount, domain.TxTypeDeposit, record.Metadata, "DEPOSIT", err)
		return nil, err
	}

	metrics.LedgerTransactions.WithLabelValues(string(domain.TxTypeDeposit), string(domain.TxStatusPending)).Inc()
	s.logger.Info("deposit intent created",
		zap.String("transaction_id", record.ID),
		zap.String("user_id", req.UserID),
		zap.String("gateway_ref", intent.GatewayRef),
		zap.String("amount", req.Amount.String()))

	s.events.Trigger(ctx, &req.UserID, record, "DEPOSIT_PENDING")

	return &DepositResponse{
		TransactionID: record.ID,
		Status:        record.Status,
		PaymentLink:   intent.PaymentLink,
		GatewayRef:    intent.GatewayRef,
	}, nil
}

// ConfirmDeposit is the second phase, driven by the signature-verified
// gateway callback. It is idempotent: the PENDING to terminal transition is
// claimed inside the store transaction, so of any number of concurrent or
// redelivered callbacks exactly one credits the wallet.
func (s *Service) ConfirmDeposit(ctx context.Context, gatewayRef string, success bool) (*domain.WalletTransaction, error) {
	record, err := s.store.GetTransactionByGatewayRef(ctx, gatewayRef)
	if err != nil {
		return nil, err
	}
	if record.Status != domain.TxStatusPending {
		s.logger.Info("deposit confirmation replayed, transaction already terminal",
			zap.String("transaction_id", record.ID),
			zap.String("status", string(record.Status)))
		return record, nil
	}

	target := domain.TxStatusCompleted
	if !success {
		target = domain.TxStatusFailed
	}

	claimed := false
	err = s.runTx(ctx, func(tx repository.LedgerTx) error {
		claimed = false
		ok, err := tx.ClaimTransaction(ctx, record.ID, domain.TxStatusPending, target)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		claimed = true
		if !success {
			return nil
		}
		w, err := s.ensureWallet(ctx, tx, record.UserID, true)
		if err != nil {
			return err
		}
		return tx.IncrementBalance(ctx, w.ID, record.Amount)
	})
	if err != nil {
		if success {
			s.auditFailure(ctx, record.UserID, record.Amount, domain.TxTypeDeposit, record.Metadata, "DEPOSIT", err)
		}
		return nil, err
	}
	if !claimed {
		// A concurrent callback won the claim; hand back the terminal row.
		s.logger.Info("deposit confirmation lost claim, transaction already terminal",
			zap.String("transaction_id", record.ID))
		return s.store.GetTransactionByGatewayRef(ctx, gatewayRef)
	}

	record.Status = target
	metrics.LedgerTransactions.WithLabelValues(string(domain.TxTypeDeposit), string(target)).Inc()

	if !success {
		s.events.Trigger(ctx, &record.UserID, record, "DEPOSIT_FAILED")
		return record, nil
	}

	s.invalidateBalance(ctx, record.UserID)
	s.logger.Info("deposit confirmed",
		zap.String("transaction_id", record.ID),
		zap.String("user_id", record.UserID),
		zap.String("amount", record.Amount.String()))

	s.events.Trigger(ctx, &record.UserID, record, "DEPOSIT_COMPLETED")
	return record, nil
}
