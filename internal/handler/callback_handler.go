// internal/handler/callback_handler.go
package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"ledger-service/internal/usecase/ledger"
	"ledger-service/pkg/security"

	"go.uber.org/zap"
)

// CallbackHandler receives gateway confirmations for two-phase deposits.
// The raw body is HMAC-verified against the shared gateway secret before
// any state changes.
type CallbackHandler struct {
	svc    *ledger.Service
	secret string
	logger *zap.Logger
}

func NewCallbackHandler(svc *ledger.Service, secret string, logger *zap.Logger) *CallbackHandler {
	return &CallbackHandler{svc: svc, secret: secret, logger: logger}
}

type gatewayCallback struct {
	GatewayRef string `json:"gateway_ref"`
	Status     string `json:"status"`
}

func (h *CallbackHandler) HandleDepositCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	sig := r.Header.Get("X-Gateway-Signature")
	if err := security.VerifySignature(body, sig, h.secret); err != nil {
		h.logger.Warn("rejected gateway callback with bad signature",
			zap.String("remote", r.RemoteAddr),
			zap.Error(err))
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var cb gatewayCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if cb.GatewayRef == "" {
		http.Error(w, "gateway_ref is required", http.StatusBadRequest)
		return
	}

	success := cb.Status == "SUCCESS" || cb.Status == "COMPLETED"
	record, err := h.svc.ConfirmDeposit(r.Context(), cb.GatewayRef, success)
	if err != nil {
		h.logger.Error("deposit confirmation failed",
			zap.String("gateway_ref", cb.GatewayRef),
			zap.Error(err))
		// Non-2xx makes the gateway redeliver; confirmation is idempotent.
		http.Error(w, "confirmation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":        true,
		"transaction_id": record.ID,
		"status":         record.Status,
	})
}
