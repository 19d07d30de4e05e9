package subscriptions

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/winubot/trading-engine/internal/payments"
	"gorm.io/gorm"
)

var (
	// ErrDuplicatePayment means the provider transaction was already
	// completed. Per the idempotency contract this is a success-no-op for
	// callers, never an error surfaced to the provider.
	ErrDuplicatePayment = errors.New("payment already completed")

	ErrUserNotFound         = errors.New("user not found")
	ErrTrialUsed            = errors.New("trial already used")
	ErrTrialAccessExhausted = errors.New("trial dashboard access exhausted")
)

// subscriptionInterval is how long one confirmed payment keeps a
// subscription current.
const subscriptionInterval = 30 * 24 * time.Hour

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateUser(user *User) error {
	if user.SubscriptionTier == "" {
		user.SubscriptionTier = TierFree
	}
	if user.SubscriptionStatus == "" {
		user.SubscriptionStatus = StatusInactive
	}
	user.CreatedAt = time.Now()
	user.UpdatedAt = time.Now()
	return d.db.Create(user).Error
}

func (d *Database) GetUser(userID string) (*User, error) {
	var user User
	if err := d.db.Where("user_id = ?", userID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// ActivateFromPayment atomically completes the provider transaction and
// activates the user's subscription in one database transaction. This
// single-transaction shape is the core correctness requirement: a crash can
// never leave a completed payment without its activation, which is exactly
// the gap class the monitor exists to catch.
//
// The conditional status update on provider_tx_id is the serialization
// point: of two concurrent deliveries for the same transaction, exactly one
// flips the row to completed; the other observes ErrDuplicatePayment.
func (d *Database) ActivateFromPayment(event payments.PaymentEvent, paymentMethod string) (string, error) {
	paymentID := ""
	err := d.db.Transaction(func(tx *gorm.DB) error {
		existing, err := getTransaction(tx, event.ProviderTxID)
		if err != nil {
			return err
		}

		if existing == nil {
			now := time.Now()
			record := payments.PaymentTransaction{
				TransactionID: "PAY_" + uuid.New().String(),
				ProviderTxID:  event.ProviderTxID,
				PaymentMethod: paymentMethod,
				UserID:        event.UserID,
				PlanID:        event.PlanID,
				Amount:        event.Amount,
				Currency:      event.Currency,
				Status:        payments.TxCompleted,
				CompletedAt:   &now,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if err := tx.Create(&record).Error; err != nil {
				return err
			}
			paymentID = record.TransactionID
		} else {
			result := tx.Model(&payments.PaymentTransaction{}).
				Where("provider_tx_id = ? AND status <> ?", event.ProviderTxID, payments.TxCompleted).
				Updates(map[string]interface{}{
					"status":       payments.TxCompleted,
					"completed_at": time.Now(),
					"updated_at":   time.Now(),
				})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return ErrDuplicatePayment
			}
			paymentID = existing.TransactionID
		}

		if err := activateUser(tx, event.UserID, event.PlanID); err != nil {
			return err
		}

		return createEvent(tx, &SubscriptionEvent{
			UserID:    event.UserID,
			EventType: "activated",
			PlanID:    event.PlanID,
			Source:    SourceWebhook,
			PaymentID: paymentID,
		})
	})
	return paymentID, err
}

// ManualActivate performs the same atomic activation for operator-driven
// gap recovery, tagged as manual with the operator's reason. It does not
// require a payment row; the missing-webhook case is the one it exists for.
func (d *Database) ManualActivate(userID, planID, reason string) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		if err := activateUser(tx, userID, planID); err != nil {
			return err
		}
		return createEvent(tx, &SubscriptionEvent{
			UserID:    userID,
			EventType: "activated",
			PlanID:    planID,
			Source:    SourceManual,
			Reason:    reason,
		})
	})
}

// MarkPaymentFailed records a failed payment; subscription state is
// untouched. A transaction already completed stays completed.
func (d *Database) MarkPaymentFailed(event payments.PaymentEvent, paymentMethod string) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		existing, err := getTransaction(tx, event.ProviderTxID)
		if err != nil {
			return err
		}

		if existing == nil {
			now := time.Now()
			return tx.Create(&payments.PaymentTransaction{
				TransactionID: "PAY_" + uuid.New().String(),
				ProviderTxID:  event.ProviderTxID,
				PaymentMethod: paymentMethod,
				UserID:        event.UserID,
				PlanID:        event.PlanID,
				Amount:        event.Amount,
				Currency:      event.Currency,
				Status:        payments.TxFailed,
				CreatedAt:     now,
				UpdatedAt:     now,
			}).Error
		}

		return tx.Model(&payments.PaymentTransaction{}).
			Where("provider_tx_id = ? AND status <> ?", event.ProviderTxID, payments.TxCompleted).
			Updates(map[string]interface{}{"status": payments.TxFailed, "updated_at": time.Now()}).Error
	})
}

// RecordPendingPayment idempotently records a created-but-unconfirmed
// payment.
func (d *Database) RecordPendingPayment(event payments.PaymentEvent, paymentMethod string) error {
	existing, err := getTransaction(d.db, event.ProviderTxID)
	if err != nil || existing != nil {
		return err
	}
	now := time.Now()
	return d.db.Create(&payments.PaymentTransaction{
		TransactionID: "PAY_" + uuid.New().String(),
		ProviderTxID:  event.ProviderTxID,
		PaymentMethod: paymentMethod,
		UserID:        event.UserID,
		PlanID:        event.PlanID,
		Amount:        event.Amount,
		Currency:      event.Currency,
		Status:        payments.TxPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}).Error
}

// StartTrial begins the one-and-only trial for a user. The trial_used guard
// sits in the UPDATE itself so two concurrent starts cannot both win.
func (d *Database) StartTrial(userID string) error {
	result := d.db.Model(&User{}).
		Where("user_id = ? AND trial_used = ?", userID, false).
		Updates(map[string]interface{}{
			"trial_used":          true,
			"trial_start_date":    time.Now(),
			"subscription_status": StatusTrial,
			"updated_at":          time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		user, err := d.GetUser(userID)
		if err != nil {
			return err
		}
		if user == nil {
			return ErrUserNotFound
		}
		return ErrTrialUsed
	}
	return nil
}

// RecordDashboardAccess counts a dashboard access. While a free-tier trial
// is active the count may not exceed one; the guard is part of the UPDATE so
// concurrent accesses cannot both slip through.
func (d *Database) RecordDashboardAccess(userID string) error {
	result := d.db.Model(&User{}).
		Where("user_id = ?", userID).
		Where("NOT (subscription_tier = ? AND subscription_status = ? AND trial_dashboard_access_count >= 1)",
			TierFree, StatusTrial).
		Updates(map[string]interface{}{
			"trial_dashboard_access_count": gorm.Expr("trial_dashboard_access_count + 1"),
			"updated_at":                   time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		user, err := d.GetUser(userID)
		if err != nil {
			return err
		}
		if user == nil {
			return ErrUserNotFound
		}
		return ErrTrialAccessExhausted
	}
	return nil
}

// GetRecentEvents returns the newest subscription events.
func (d *Database) GetRecentEvents(limit int) ([]SubscriptionEvent, error) {
	var events []SubscriptionEvent
	if err := d.db.Order("created_at DESC").Limit(limit).Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// ScanGaps joins completed payments against users whose subscription does
// not reflect the paid plan. Payments completed within the grace cutoff are
// excluded: reconciliation may still be in flight for them.
func (d *Database) ScanGaps(windowStart, graceCutoff time.Time) ([]PaymentActivationGap, error) {
	var gaps []PaymentActivationGap
	err := d.db.Table("payment_transactions").
		Select(`payment_transactions.provider_tx_id,
			payment_transactions.user_id,
			payment_transactions.plan_id,
			payment_transactions.amount,
			payment_transactions.completed_at,
			users.subscription_status,
			users.subscription_tier`).
		Joins("JOIN users ON users.user_id = payment_transactions.user_id").
		Where("payment_transactions.status = ?", payments.TxCompleted).
		Where("payment_transactions.completed_at >= ?", windowStart).
		Where("payment_transactions.completed_at <= ?", graceCutoff).
		Where("users.subscription_status <> ? OR users.subscription_tier <> payment_transactions.plan_id", StatusActive).
		Scan(&gaps).Error
	if err != nil {
		return nil, err
	}
	return gaps, nil
}

func getTransaction(tx *gorm.DB, providerTxID string) (*payments.PaymentTransaction, error) {
	var record payments.PaymentTransaction
	if err := tx.Where("provider_tx_id = ?", providerTxID).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func activateUser(tx *gorm.DB, userID, planID string) error {
	now := time.Now()
	due := now.Add(subscriptionInterval)
	result := tx.Model(&User{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"subscription_tier":   planID,
			"subscription_status": StatusActive,
			"last_payment_date":   now,
			"payment_due_date":    due,
			"access_revoked_at":   nil,
			"updated_at":          now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func createEvent(tx *gorm.DB, event *SubscriptionEvent) error {
	event.EventID = "EVT_" + uuid.New().String()
	event.CreatedAt = time.Now()
	return tx.Create(event).Error
}
