// internal/handler/ledger_handler.go
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"ledger-service/internal/domain"
	"ledger-service/internal/usecase/ledger"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type LedgerHandler struct {
	svc    *ledger.Service
	logger *zap.Logger
}

func NewLedgerHandler(svc *ledger.Service, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{svc: svc, logger: logger}
}

func (h *LedgerHandler) HandleDeposit(w http.ResponseWriter, r *http.Request) {
	var req ledger.DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		req.IdempotencyKey = key
	}

	resp, err := h.svc.Deposit(r.Context(), &req)
	if err != nil {
		h.sendDomainError(w, "deposit failed", err)
		return
	}
	h.sendSuccess(w, http.StatusAccepted, "deposit initiated", resp)
}

func (h *LedgerHandler) HandlePay(w http.ResponseWriter, r *http.Request) {
	var req ledger.PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		req.IdempotencyKey = key
	}

	resp, err := h.svc.Pay(r.Context(), &req)
	if err != nil {
		h.sendDomainError(w, "payment failed", err)
		return
	}
	h.sendSuccess(w, http.StatusOK, "payment completed", resp)
}

func (h *LedgerHandler) HandleRefund(w http.ResponseWriter, r *http.Request) {
	var req ledger.RefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		req.IdempotencyKey = key
	}

	resp, err := h.svc.Refund(r.Context(), &req)
	if err != nil {
		h.sendDomainError(w, "refund failed", err)
		return
	}
	h.sendSuccess(w, http.StatusOK, "refund completed", resp)
}

func (h *LedgerHandler) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req ledger.WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		req.IdempotencyKey = key
	}

	resp, err := h.svc.Withdraw(r.Context(), &req)
	if err != nil {
		h.sendDomainError(w, "withdrawal failed", err)
		return
	}
	h.sendSuccess(w, http.StatusOK, "withdrawal accepted", resp)
}

func (h *LedgerHandler) HandleRedeemVoucher(w http.ResponseWriter, r *http.Request) {
	var req ledger.RedeemVoucherRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	resp, err := h.svc.RedeemVoucher(r.Context(), &req)
	if err != nil {
		h.sendDomainError(w, "voucher redemption failed", err)
		return
	}
	h.sendSuccess(w, http.StatusOK, "voucher redeemed", resp)
}

func (h *LedgerHandler) HandleCreateVoucher(w http.ResponseWriter, r *http.Request) {
	var req ledger.CreateVoucherRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	// Role resolution is the auth service's job; it arrives as a header.
	actor := domain.Role(r.Header.Get("X-User-Role"))
	v, err := h.svc.CreateVoucher(r.Context(), actor, &req)
	if err != nil {
		h.sendDomainError(w, "voucher creation failed", err)
		return
	}
	h.sendSuccess(w, http.StatusCreated, "voucher created", v)
}

func (h *LedgerHandler) HandleDeactivateVoucher(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	actor := domain.Role(r.Header.Get("X-User-Role"))
	if err := h.svc.DeactivateVoucher(r.Context(), actor, code); err != nil {
		h.sendDomainError(w, "voucher deactivation failed", err)
		return
	}
	h.sendSuccess(w, http.StatusOK, "voucher deactivated", map[string]string{"code": code})
}

func (h *LedgerHandler) HandleGetBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	balance, err := h.svc.GetBalance(r.Context(), userID)
	if err != nil {
		h.sendDomainError(w, "balance lookup failed", err)
		return
	}
	h.sendSuccess(w, http.StatusOK, "balance", map[string]interface{}{
		"user_id": userID,
		"balance": balance,
	})
}

func (h *LedgerHandler) HandleListTransactions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	txs, err := h.svc.ListTransactions(r.Context(), userID, limit, offset)
	if err != nil {
		h.sendDomainError(w, "transaction listing failed", err)
		return
	}
	h.sendSuccess(w, http.StatusOK, "transactions", txs)
}

// sendDomainError maps the error taxonomy onto HTTP statuses.
func (h *LedgerHandler) sendDomainError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvariantViolation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrInsufficientFunds):
		status = http.StatusPaymentRequired
	case errors.Is(err, domain.ErrFraudBlocked):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrVoucherInvalid):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrWalletNotFound),
		errors.Is(err, domain.ErrTransactionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrGatewayFailure):
		status = http.StatusBadGateway
	case errors.Is(err, domain.ErrStoreConflict):
		status = http.StatusConflict
	}

	h.logger.Warn(message,
		zap.Int("status", status),
		zap.Error(err))
	h.sendError(w, status, message, err)
}

func (h *LedgerHandler) sendSuccess(w http.ResponseWriter, statusCode int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": message,
		"data":    data,
	})
}

func (h *LedgerHandler) sendError(w http.ResponseWriter, statusCode int, message string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"message": message,
		"error":   err.Error(),
	})
}
