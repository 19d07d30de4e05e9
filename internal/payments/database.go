package payments

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateLog(log *WebhookLog) error {
	log.CreatedAt = time.Now()
	log.UpdatedAt = time.Now()
	return d.db.Create(log).Error
}

func (d *Database) GetLog(webhookID string) (*WebhookLog, error) {
	var log WebhookLog
	if err := d.db.Where("webhook_id = ?", webhookID).First(&log).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &log, nil
}

// UpdateLogStatus transitions a webhook log's processing status.
func (d *Database) UpdateLogStatus(webhookID, status, errorMessage string) error {
	updates := map[string]interface{}{
		"processing_status": status,
		"updated_at":        time.Now(),
	}
	if errorMessage != "" {
		updates["error_message"] = errorMessage
	}

	result := d.db.Model(&WebhookLog{}).
		Where("webhook_id = ?", webhookID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.New("webhook log not found")
	}
	return nil
}

// ResolveLog attaches the reconciled identifiers to the log row.
func (d *Database) ResolveLog(webhookID, userID, paymentID, planID string) error {
	return d.db.Model(&WebhookLog{}).
		Where("webhook_id = ?", webhookID).
		Updates(map[string]interface{}{
			"user_id":    userID,
			"payment_id": paymentID,
			"plan_id":    planID,
			"updated_at": time.Now(),
		}).Error
}

// GetRecentLogs returns the newest webhook logs for the admin dashboard.
func (d *Database) GetRecentLogs(limit int) ([]WebhookLog, error) {
	var logs []WebhookLog
	if err := d.db.Order("created_at DESC").Limit(limit).Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

// GetFailedLogs returns failed webhook logs for monitoring review.
func (d *Database) GetFailedLogs(limit int) ([]WebhookLog, error) {
	var logs []WebhookLog
	err := d.db.Where("processing_status = ?", StatusFailed).
		Order("created_at DESC").Limit(limit).Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}

func (d *Database) GetTransactionByProviderTxID(providerTxID string) (*PaymentTransaction, error) {
	var tx PaymentTransaction
	if err := d.db.Where("provider_tx_id = ?", providerTxID).First(&tx).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tx, nil
}

// GetRecentTransactions returns the newest payment transactions.
func (d *Database) GetRecentTransactions(limit int) ([]PaymentTransaction, error) {
	var txs []PaymentTransaction
	if err := d.db.Order("created_at DESC").Limit(limit).Find(&txs).Error; err != nil {
		return nil, err
	}
	return txs, nil
}
