package migrations

import (
	"github.com/winubot/trading-engine/internal/payments"
	"github.com/winubot/trading-engine/internal/subscriptions"
	"gorm.io/gorm"
)

// AddBillingTables creates the payment and subscription schema.
func AddBillingTables(db *gorm.DB) error {
	return db.AutoMigrate(
		&payments.WebhookLog{},
		&payments.PaymentTransaction{},
		&subscriptions.User{},
		&subscriptions.SubscriptionEvent{},
	)
}
