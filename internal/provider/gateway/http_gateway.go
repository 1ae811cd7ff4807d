// internal/provider/gateway/http_gateway.go
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPGateway talks to the payment provider's REST API. All calls are
// bounded by the client timeout; a non-2xx response is a gateway failure.
type HTTPGateway struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewHTTPGateway(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *HTTPGateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPGateway{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (g *HTTPGateway) CreateIntent(ctx context.Context, req *IntentRequest) (*IntentResponse, error) {
	g.logger.Info("creating payment intent",
		zap.String("user_id", req.UserID),
		zap.String("reference", req.Reference),
		zap.String("amount", req.Amount.String()))

	var resp IntentResponse
	if err := g.post(ctx, "/v1/intents", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (g *HTTPGateway) Transfer(ctx context.Context, req *TransferRequest) (*TransferResponse, error) {
	g.logger.Info("initiating transfer",
		zap.String("account", req.Account),
		zap.String("reference", req.Reference),
		zap.String("amount", req.Amount.String()))

	var resp TransferResponse
	if err := g.post(ctx, "/v1/transfers", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (g *HTTPGateway) Refund(ctx context.Context, req *RefundRequest) (*RefundResponse, error) {
	g.logger.Info("initiating gateway refund",
		zap.String("account", req.Account),
		zap.String("reference", req.Reference),
		zap.String("amount", req.Amount.String()))

	var resp RefundResponse
	if err := g.post(ctx, "/v1/refunds", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (g *HTTPGateway) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal gateway request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read gateway response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		g.logger.Error("gateway returned non-success",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", respBody))
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode gateway response: %w", err)
		}
	}
	return nil
}
