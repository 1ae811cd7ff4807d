// internal/domain/webhook.go
package domain

import (
	"encoding/json"
	"time"
)

type WebhookAttemptStatus string

const (
	WebhookAttemptPending WebhookAttemptStatus = "PENDING"
	WebhookAttemptSuccess WebhookAttemptStatus = "SUCCESS"
	WebhookAttemptFailed  WebhookAttemptStatus = "FAILED"
)

// EventCategory selects which configured URL set receives an event.
type EventCategory string

const (
	EventCategoryInternal EventCategory = "internal"
	EventCategoryGateway  EventCategory = "gateway"
	EventCategoryGeneral  EventCategory = "general"
)

// WebhookAttempt is created on the first delivery failure of an event and
// mutated by the queue drain loop until it terminates at SUCCESS or, after
// the attempt budget is exhausted, in the dead-letter list with status FAILED.
type WebhookAttempt struct {
	ID            string               `json:"id"`
	TransactionID string               `json:"transaction_id"`
	EventType     string               `json:"event_type"`
	TargetURL     string               `json:"target_url"`
	Payload       json.RawMessage      `json:"payload"`
	Status        WebhookAttemptStatus `json:"status"`
	Attempts      int                  `json:"attempts"`
	LastAttemptAt time.Time            `json:"last_attempt_at"`
	CreatedAt     time.Time            `json:"created_at"`
}

// WebhookEvent is the JSON body posted to configured consumer URLs.
type WebhookEvent struct {
	Event         string                 `json:"event"`
	TransactionID string                 `json:"transactionId"`
	UserID        *string                `json:"userId"`
	Amount        float64                `json:"amount"`
	Status        TransactionStatus      `json:"status"`
	CreatedAt     string                 `json:"createdAt"`
	Metadata      map[string]interface{} `json:"metadata"`
	Timestamp     string                 `json:"timestamp"`
	OrderID       string                 `json:"orderId,omitempty"`
	EntityType    EntityType             `json:"entityType,omitempty"`
}

// NewWebhookEvent snapshots a committed transaction into the wire payload.
func NewWebhookEvent(event string, tx *WalletTransaction, userID *string, now time.Time) *WebhookEvent {
	amount, _ := tx.Amount.Float64()
	meta := map[string]interface{}{
		"kind": string(tx.Metadata.Kind),
	}
	if ws := tx.Metadata.WebhookStatus; ws != WebhookStatusNone {
		meta["webhookStatus"] = string(ws)
	}
	if raw, err := json.Marshal(tx.Metadata); err == nil {
		var full map[string]interface{}
		if json.Unmarshal(raw, &full) == nil {
			for k, v := range full {
				meta[k] = v
			}
		}
	}
	return &WebhookEvent{
		Event:         event,
		TransactionID: tx.ID,
		UserID:        userID,
		Amount:        amount,
		Status:        tx.Status,
		CreatedAt:     tx.CreatedAt.UTC().Format(time.RFC3339),
		Metadata:      meta,
		Timestamp:     now.UTC().Format(time.RFC3339),
		OrderID:       tx.Metadata.OrderID(),
		EntityType:    tx.Metadata.EntityType(),
	}
}

// Category maps an event type to its URL set. Internal PENDING events and
// gateway-sourced confirmations go to distinct consumer sets.
func CategoryForEvent(event string) EventCategory {
	switch event {
	case "DEPOSIT_PENDING", "WITHDRAWAL_PENDING":
		return EventCategoryInternal
	case "DEPOSIT_COMPLETED", "DEPOSIT_FAILED", "WITHDRAWAL_COMPLETED", "WITHDRAWAL_FAILED":
		return EventCategoryGateway
	}
	return EventCategoryGeneral
}
