package subscriptions

import (
	"time"

	"gorm.io/gorm"
)

// Subscription statuses.
const (
	StatusInactive = "inactive"
	StatusTrial    = "trial"
	StatusActive   = "active"
	StatusPastDue  = "past_due"
)

// TierFree is the registration default.
const TierFree = "free"

// Activation sources recorded on subscription events.
const (
	SourceWebhook = "webhook"
	SourceManual  = "manual"
)

// User carries the subscription columns of the users table. Subscription
// state is mutated only by the reconciler (confirmed payments), the trial
// operations, and operator-triggered manual activation.
type User struct {
	gorm.Model                `json:"-"`
	UserID                    string     `gorm:"uniqueIndex" json:"user_id"`
	Email                     string     `json:"email"`
	SubscriptionTier          string     `json:"subscription_tier"`
	SubscriptionStatus        string     `gorm:"index" json:"subscription_status"`
	TrialUsed                 bool       `json:"trial_used"`
	TrialStartDate            *time.Time `json:"trial_start_date,omitempty"`
	TrialDashboardAccessCount int        `json:"trial_dashboard_access_count"`
	PaymentDueDate            *time.Time `json:"payment_due_date,omitempty"`
	AccessRevokedAt           *time.Time `json:"access_revoked_at,omitempty"`
	LastPaymentDate           *time.Time `json:"last_payment_date,omitempty"`
	CreatedAt                 time.Time  `json:"created_at"`
	UpdatedAt                 time.Time  `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// SubscriptionEvent is the audit record for every subscription mutation.
type SubscriptionEvent struct {
	gorm.Model `json:"-"`
	EventID    string    `gorm:"uniqueIndex" json:"event_id"`
	UserID     string    `gorm:"index" json:"user_id"`
	EventType  string    `json:"event_type"` // activated, trial_started, payment_failed
	PlanID     string    `json:"plan_id,omitempty"`
	Source     string    `json:"source"` // webhook, manual
	Reason     string    `json:"reason,omitempty"`
	PaymentID  string    `json:"payment_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (SubscriptionEvent) TableName() string {
	return "subscription_events"
}

// PaymentActivationGap is a derived view row, never stored: a completed
// payment whose user's subscription state does not reflect the paid plan
// within the grace window.
type PaymentActivationGap struct {
	ProviderTxID       string     `json:"provider_tx_id"`
	UserID             string     `json:"user_id"`
	PlanID             string     `json:"plan_id"`
	Amount             float64    `json:"amount"`
	CompletedAt        *time.Time `json:"completed_at"`
	SubscriptionStatus string     `json:"subscription_status"`
	SubscriptionTier   string     `json:"subscription_tier"`
}
