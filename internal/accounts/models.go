package accounts

import (
	"time"

	"gorm.io/gorm"
)

// AccountConfig is one user's configured exchange account. Accounts are
// soft-deleted by flipping IsActive; rows are never removed while orders
// reference them.
type AccountConfig struct {
	gorm.Model         `json:"-"`
	APIKeyID           string    `gorm:"uniqueIndex" json:"api_key_id"`
	UserID             string    `gorm:"index" json:"user_id"`
	Exchange           string    `json:"exchange"`
	AccountType        string    `json:"account_type"` // spot, futures, both
	TestMode           bool      `json:"test_mode"`
	IsActive           bool      `json:"is_active"`
	IsVerified         bool      `json:"is_verified"`
	AutoTradeEnabled   bool      `json:"auto_trade_enabled"`
	MaxPositionSizeUSD float64   `json:"max_position_size_usd"`
	Leverage           float64   `json:"leverage"`
	MaxDailyTrades     int       `json:"max_daily_trades"`
	MaxRiskPerTrade    float64   `json:"max_risk_per_trade"` // fraction in (0,1]
	MaxDailyLoss       float64   `json:"max_daily_loss"`     // fraction in (0,1]
	PositionSizingMode string    `json:"position_sizing_mode"`
	PositionSizeValue  float64   `json:"position_size_value"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (AccountConfig) TableName() string {
	return "user_api_keys"
}
