package accounts

import (
	"errors"
	"fmt"
	"time"

	"github.com/winubot/trading-engine/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// Create validates and persists a new account configuration.
func (d *Database) Create(account *AccountConfig) error {
	if err := validate(account); err != nil {
		return err
	}
	account.CreatedAt = time.Now()
	account.UpdatedAt = time.Now()
	return d.db.Create(account).Error
}

func (d *Database) Get(apiKeyID string) (*AccountConfig, error) {
	var account AccountConfig
	if err := d.db.Where("api_key_id = ?", apiKeyID).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

// GetEligible returns every account a fanout should consider: active, with
// auto-trading enabled. Symbol compatibility is checked upstream by the
// signal producer, so eligibility here is flag-only.
func (d *Database) GetEligible() ([]AccountConfig, error) {
	var list []AccountConfig
	if err := d.db.Where("is_active = ? AND auto_trade_enabled = ?", true, true).Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (d *Database) Update(account *AccountConfig) error {
	if err := validate(account); err != nil {
		return err
	}
	account.UpdatedAt = time.Now()
	return d.db.Save(account).Error
}

// Deactivate soft-deletes the account by clearing IsActive.
func (d *Database) Deactivate(apiKeyID string) error {
	result := d.db.Model(&AccountConfig{}).
		Where("api_key_id = ?", apiKeyID).
		Updates(map[string]interface{}{"is_active": false, "updated_at": time.Now()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.New("account not found")
	}
	return nil
}

// MarkUnverified flags an account whose credentials failed to decrypt or
// were rejected by the exchange, so it is skipped until the user re-enters
// its keys.
func (d *Database) MarkUnverified(apiKeyID string) error {
	return d.db.Model(&AccountConfig{}).
		Where("api_key_id = ?", apiKeyID).
		Updates(map[string]interface{}{"is_verified": false, "updated_at": time.Now()}).Error
}

func validate(account *AccountConfig) error {
	if account.Leverage <= 0 {
		return fmt.Errorf("leverage must be positive, got %v", account.Leverage)
	}
	if account.MaxRiskPerTrade <= 0 || account.MaxRiskPerTrade > 1 {
		return fmt.Errorf("max_risk_per_trade must be in (0,1], got %v", account.MaxRiskPerTrade)
	}
	if account.MaxDailyLoss <= 0 || account.MaxDailyLoss > 1 {
		return fmt.Errorf("max_daily_loss must be in (0,1], got %v", account.MaxDailyLoss)
	}
	switch account.PositionSizingMode {
	case types.SizingFixed, types.SizingPercentage, types.SizingKelly:
	default:
		return fmt.Errorf("unknown position sizing mode %q", account.PositionSizingMode)
	}
	return nil
}
