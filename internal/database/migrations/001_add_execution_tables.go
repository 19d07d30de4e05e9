package migrations

import (
	"github.com/winubot/trading-engine/internal/accounts"
	"github.com/winubot/trading-engine/internal/fanout"
	"github.com/winubot/trading-engine/internal/stats"
	"github.com/winubot/trading-engine/internal/vault"
	"gorm.io/gorm"
)

// AddExecutionTables creates the trading-side schema. The composite unique
// indexes on multi_account_orders (order_group_id, api_key_id) and
// account_daily_stats (api_key_id, date) are load-bearing: idempotent
// fanout and lost-update-free stat rollups depend on them.
func AddExecutionTables(db *gorm.DB) error {
	return db.AutoMigrate(
		&accounts.AccountConfig{},
		&vault.EncryptedCredential{},
		&fanout.MultiAccountOrder{},
		&stats.AccountDailyStat{},
	)
}
