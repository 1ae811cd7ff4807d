// internal/usecase/ledger/refund.go
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

type RefundRequest struct {
	UserID  string          `json:"user_id"`
	OrderID string          `json:"order_id"`
	// Amount zero means refund the full original deduction.
	Amount  decimal.Decimal `json:"amount"`
	Partial bool            `json:"partial"`
	// DestinationAccount switches the refund from a local wallet credit to
	// a gateway refund; exactly one of the two paths executes.
	DestinationAccount string `json:"destination_account,omitempty"`
	IdempotencyKey     string `json:"idempotency_key,omitempty"`
}

type RefundResponse struct {
	TransactionID string                   `json:"transaction_id"`
	Status        domain.TransactionStatus `json:"status"`
	Amount        decimal.Decimal          `json:"amount"`
	GatewayRef    string                   `json:"gateway_ref,omitempty"`
}

// Refund reverses a completed order deduction, either by crediting the
// wallet or by a gateway refund to a destination account. A new REFUND
// transaction referencing the original is created; the original record is
// never edited.
func (s *Service) Refund(ctx context.Context, req *RefundRequest) (*RefundResponse, error) {
	if req.UserID == "" || req.OrderID == "" {
		return nil, fmt.Errorf("%w: user id and order id are required", domain.ErrValidation)
	}
	if req.Amount.IsNegative() {
		return nil, fmt.Errorf("%w: amount must not be negative", domain.ErrValidation)
	}

	key := req.IdempotencyKey
	if key == "" {
		key = idempotency.Key("refund", req.OrderID, req.UserID)
	}

	raw, _, err := s.idem.Do(ctx, key, func(ctx context.Context) ([]byte, error) {
		resp, err := s.refund(ctx, req)
		if err != nil {
			return nil, err
		}
		return json.Marshal(resp)
	})
	if err != nil {
		return nil, err
	}

	var resp RefundResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode cached refund response: %w", err)
	}
	return &resp, nil
}

func (s *Service) refund(ctx context.Context, req *RefundRequest) (*RefundResponse, error) {
	original, err := s.store.GetCompletedDeduction(ctx, req.OrderID)
	if err != nil {
		if errors.Is(err, domain.ErrTransactionNotFound) {
			return nil, fmt.Errorf("%w: no completed deduction for order %s", domain.ErrValidation, req.OrderID)
		}
		return nil, err
	}
	if original.UserID != req.UserID {
		return nil, fmt.Errorf("%w: order %s does not belong to caller", domain.ErrUnauthorized, req.OrderID)
	}

	amount := req.Amount
	if amount.IsZero() {
		amount = original.Amount
	}
	if !req.Partial && amount.GreaterThan(original.Amount) {
		return nil, fmt.Errorf("%w: refund %s exceeds original amount %s",
			domain.ErrValidation, amount.String(), original.Amount.String())
	}

	if err := s.fraud.Check(ctx, req.UserID, amount, "REFUND", string(original.Metadata.EntityType()), req.OrderID); err != nil {
		s.auditFailure(ctx, req.UserID, amount, domain.TxTypeRefund, refundMeta(req, original, ""), "REFUND", err)
		return nil, err
	}

	meta := refundMeta(req, original, "")

	// Gateway path: funds leave through the provider, the wallet is not
	// credited.
	if req.DestinationAccount != "" {
		txID := ulid.Make().String()
		gwResp, err := s.gateway.Refund(ctx, &gateway.RefundRequest{
			Account:   req.DestinationAccount,
			Amount:    amount,
			Reference: txID,
		})
		if err != nil {
			wrapped := fmt.Errorf("%w: %v", domain.ErrGatewayFailure, err)
			s.auditFailure(ctx, req.UserID, amount, domain.TxTypeRefund, meta, "REFUND", wrapped)
			return nil, wrapped
		}
		meta.Refund.GatewayRef = gwResp.GatewayRef
		meta.Refund.Destination = req.DestinationAccount

		record := &domain.WalletTransaction{
			ID:       txID,
			UserID:   req.UserID,
			Amount:   amount,
			Type:     domain.TxTypeRefund,
			Status:   domain.TxStatusCompleted,
			OrderID:  &req.OrderID,
			Metadata: meta,
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
			s.auditFailure(ctx, req.UserID, amount, domain.TxTypeRefund, meta, "REFUND", err)
			return nil, err
		}

		metrics.LedgerTransactions.WithLabelValues(string(domain.TxTypeRefund), string(domain.TxStatusCompleted)).Inc()
		s.logger.Info("gateway refund completed",
			zap.String("transaction_id", record.ID),
			zap.String("order_id", req.OrderID),
			zap.String("gateway_ref", gwResp.GatewayRef))
		s.events.Trigger(ctx, &req.UserID, record, "REFUND_COMPLETED")

		return &RefundResponse{
			TransactionID: record.ID,
			Status:        record.Status,
			Amount:        amount,
			GatewayRef:    gwResp.GatewayRef,
		}, nil
	}

	// Wallet path: credit locally.
	record := &domain.WalletTransaction{
		ID:       ulid.Make().String(),
		UserID:   req.UserID,
		Amount:   amount,
		Type:     domain.TxTypeRefund,
		Status:   domain.TxStatusPending,
		OrderID:  &req.OrderID,
		Metadata: meta,
	}
	err = s.runTx(ctx, func(tx repository.LedgerTx) error {
		w, err := s.ensureWallet(ctx, tx, req.UserID, true)
		if err != nil {
			return err
		}
		record.WalletID = w.ID
		if err := tx.CreateTransaction(ctx, record); err != nil {
			return err
		}
		if err := tx.IncrementBalance(ctx, w.ID, amount); err != nil {
			return err
		}
		return tx.UpdateTransactionStatus(ctx, record.ID, domain.TxStatusCompleted)
	})
	if err != nil {
		s.auditFailure(ctx, req.UserID, amount, domain.TxTypeRefund, meta, "REFUND", err)
		return nil, err
	}

	record.Status = domain.TxStatusCompleted
	s.invalidateBalance(ctx, req.UserID)
	metrics.LedgerTransactions.WithLabelValues(string(domain.TxTypeRefund), string(domain.TxStatusCompleted)).Inc()
	s.logger.Info("wallet refund completed",
		zap.String("transaction_id", record.ID),
		zap.String("order_id", req.OrderID),
		zap.String("amount", amount.String()))
	s.events.Trigger(ctx, &req.UserID, record, "REFUND_COMPLETED")

	return &RefundResponse{
		TransactionID: record.ID,
		Status:        record.Status,
		Amount:        amount,
	}, nil
}

func refundMeta(req *RefundRequest, original *domain.WalletTransaction, gatewayRef string) domain.Metadata {
	return domain.Metadata{
		Kind: domain.TxTypeRefund,
		Refund: &domain.RefundMeta{
			OriginalTxID: original.ID,
			OrderID:      req.OrderID,
			Partial:      req.Partial,
			GatewayRef:   gatewayRef,
			Destination:  req.DestinationAccount,
		},
	}
}
