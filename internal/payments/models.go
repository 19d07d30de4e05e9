package payments

import (
	"time"

	"gorm.io/gorm"
)

// Webhook processing statuses.
const (
	StatusReceived   = "received"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Payment transaction statuses.
const (
	TxPending   = "pending"
	TxCompleted = "completed"
	TxFailed    = "failed"
)

// WebhookLog is a raw, persisted payment-provider callback. Every inbound
// webhook is written before any validation runs, so a webhook is never lost
// to a validation crash. Rows are never deleted; duplicates from provider
// retries are logged too and deduplicated downstream by the reconciler.
type WebhookLog struct {
	gorm.Model       `json:"-"`
	WebhookID        string    `gorm:"uniqueIndex" json:"webhook_id"`
	PaymentMethod    string    `gorm:"index" json:"payment_method"`
	WebhookType      string    `json:"webhook_type"`
	Payload          string    `json:"payload"`
	Headers          string    `json:"headers"`
	SignatureValid   *bool     `json:"signature_valid"` // nil when the method has no signature scheme
	ProcessingStatus string    `gorm:"index" json:"processing_status"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	UserID           string    `gorm:"index" json:"user_id,omitempty"` // resolved during reconciliation
	PaymentID        string    `gorm:"index" json:"payment_id,omitempty"`
	PlanID           string    `json:"plan_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (WebhookLog) TableName() string {
	return "webhook_logs"
}

// PaymentTransaction is the ledger row for one provider payment. The
// provider transaction id is unique; its status transition to completed is
// the serialization point that makes duplicate webhook deliveries harmless.
type PaymentTransaction struct {
	gorm.Model    `json:"-"`
	TransactionID string     `gorm:"uniqueIndex" json:"transaction_id"`
	ProviderTxID  string     `gorm:"uniqueIndex" json:"provider_tx_id"`
	PaymentMethod string     `json:"payment_method"`
	UserID        string     `gorm:"index" json:"user_id"`
	PlanID        string     `json:"plan_id"`
	Amount        float64    `json:"amount"`
	Currency      string     `json:"currency"`
	Status        string     `gorm:"index" json:"status"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (PaymentTransaction) TableName() string {
	return "payment_transactions"
}

// PaymentEvent is the normalized, validated form of a webhook payload.
type PaymentEvent struct {
	Kind         string  `json:"event"` // payment_created, payment_confirmed, payment_failed
	UserID       string  `json:"user_id"`
	PlanID       string  `json:"plan_id"`
	Amount       float64 `json:"amount"`
	Currency     string  `json:"currency"`
	ProviderTxID string  `json:"provider_tx_id"`
}

// Event kinds.
const (
	EventCreated   = "payment_created"
	EventConfirmed = "payment_confirmed"
	EventFailed    = "payment_failed"
)
