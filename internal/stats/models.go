package stats

import (
	"time"

	"gorm.io/gorm"
)

// AccountDailyStat is one account's rollup for one calendar date. The
// (api_key_id, date) pair is unique and the row is mutated only through
// single-statement upserts, so concurrent fills cannot lose updates.
type AccountDailyStat struct {
	gorm.Model           `json:"-"`
	APIKeyID             string    `gorm:"uniqueIndex:idx_account_daily;index" json:"api_key_id"`
	Date                 string    `gorm:"uniqueIndex:idx_account_daily" json:"date"` // YYYY-MM-DD
	TotalTrades          int       `json:"total_trades"`
	SuccessfulTrades     int       `json:"successful_trades"`
	FailedTrades         int       `json:"failed_trades"`
	DailyPnl             float64   `json:"daily_pnl"`
	StartingBalance      float64   `json:"starting_balance"`
	EndingBalance        float64   `json:"ending_balance"`
	StopTradingTriggered bool      `json:"stop_trading_triggered"`
	DailyLossLimitHit    bool      `json:"daily_loss_limit_hit"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

func (AccountDailyStat) TableName() string {
	return "account_daily_stats"
}

// DateKey formats t as the canonical daily-stat date key.
func DateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
