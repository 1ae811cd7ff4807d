// pkg/client/webhook_client.go
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"ledger-service/pkg/security"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultTimeout = 10 * time.Second

// WebhookClient posts signed event payloads to consumer endpoints. The body
// is signed with HMAC-SHA256 and attached as X-Webhook-Signature; every
// delivery attempt carries a unique X-Webhook-Attempt-Id.
type WebhookClient struct {
	httpClient *http.Client
	secret     string
	logger     *zap.Logger
}

func NewWebhookClient(secret string, timeout time.Duration, logger *zap.Logger) *WebhookClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &WebhookClient{
		httpClient: &http.Client{Timeout: timeout},
		secret:     secret,
		logger:     logger,
	}
}

// Post delivers payload to url. Any 2xx response is success; a non-2xx
// status or transport error is a delivery failure. attemptID may be empty,
// in which case a fresh one is generated.
func (c *WebhookClient) Post(ctx context.Context, url string, payload []byte, attemptID string) error {
	if attemptID == "" {
		attemptID = uuid.New().String()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", security.SignSHA256(payload, c.secret))
	req.Header.Set("X-Webhook-Attempt-Id", attemptID)

	c.logger.Debug("posting webhook",
		zap.String("url", url),
		zap.String("attempt_id", attemptID),
		zap.Int("payload_size", len(payload)))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post failed: %w", err)
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook post returned status %d", resp.StatusCode)
	}

	c.logger.Debug("webhook delivered",
		zap.String("url", url),
		zap.String("attempt_id", attemptID),
		zap.Int("status", resp.StatusCode))
	return nil
}
