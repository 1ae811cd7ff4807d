// internal/usecase/webhook/notifier.go
package webhook

import (
	"context"

	"go.uber.org/zap"
)

// LogNotifier satisfies Notifier by logging. Chat and push dispatch live in
// a separate service; this is the in-core default.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyDeliveryFailure(ctx context.Context, userID, transactionID, event string) {
	n.logger.Info("user notification: webhook delivery failed, retrying",
		zap.String("user_id", userID),
		zap.String("transaction_id", transactionID),
		zap.String("event", event))
}

func (n *LogNotifier) NotifyPermanentFailure(ctx context.Context, transactionID, event string) {
	n.logger.Warn("user notification: webhook permanently failed",
		zap.String("transaction_id", transactionID),
		zap.String("event", event))
}
