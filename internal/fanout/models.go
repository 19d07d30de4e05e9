package fanout

import (
	"time"

	"gorm.io/gorm"
)

// MultiAccountOrder is one execution attempt for one account against one
// signal. The (order_group_id, api_key_id) pair is unique: at most one order
// per account per signal, which is what makes fanout idempotent under
// at-least-once signal delivery. Rows are never deleted; rejected and failed
// attempts stay as the audit trail.
type MultiAccountOrder struct {
	gorm.Model      `json:"-"`
	OrderID         string    `gorm:"uniqueIndex" json:"order_id"`
	OrderGroupID    string    `gorm:"uniqueIndex:idx_group_account;index" json:"order_group_id"`
	APIKeyID        string    `gorm:"uniqueIndex:idx_group_account;index" json:"api_key_id"`
	UserID          string    `gorm:"index" json:"user_id"`
	Symbol          string    `json:"symbol"`
	Side            string    `json:"side"`
	OrderType       string    `json:"order_type"`
	Quantity        float64   `json:"quantity"`
	Price           float64   `json:"price"`
	ExchangeOrderID string    `json:"exchange_order_id,omitempty"`
	Status          string    `json:"status"`
	FilledQuantity  float64   `json:"filled_quantity"`
	AveragePrice    float64   `json:"average_price"`
	StopLoss        float64   `json:"stop_loss"`
	TakeProfit      float64   `json:"take_profit"`
	Pnl             float64   `json:"pnl"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	RetryCount      int       `json:"retry_count"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (MultiAccountOrder) TableName() string {
	return "multi_account_orders"
}

// AccountResult is the per-account outcome of one fanout call.
type AccountResult struct {
	APIKeyID string `json:"api_key_id"`
	OrderID  string `json:"order_id,omitempty"`
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
}

// FanoutResult summarises one fanout invocation.
type FanoutResult struct {
	OrderGroupID string          `json:"order_group_id"`
	Results      []AccountResult `json:"results"`
}
