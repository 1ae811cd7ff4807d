// internal/domain/fraud.go
package domain

import "time"

type FraudRule string

const (
	FraudRuleAmountCeiling FraudRule = "AMOUNT_CEILING"
	FraudRuleVelocity      FraudRule = "VELOCITY"
	FraudRuleDailyVolume   FraudRule = "DAILY_VOLUME"
	FraudRuleEngineError   FraudRule = "ENGINE_ERROR"
)

type FraudAlertStatus string

const (
	FraudAlertPending  FraudAlertStatus = "PENDING"
	FraudAlertReviewed FraudAlertStatus = "REVIEWED"
)

// FraudAlert is append-only: one row per tripped rule, written whether or
// not the triggering operation was ultimately blocked.
type FraudAlert struct {
	ID         string           `json:"id"`
	UserID     string           `json:"user_id"`
	Rule       FraudRule        `json:"rule"`
	EntityType string           `json:"entity_type,omitempty"`
	EntityID   string           `json:"entity_id,omitempty"`
	Reason     string           `json:"reason"`
	Status     FraudAlertStatus `json:"status"`
	CreatedAt  time.Time        `json:"created_at"`
}
