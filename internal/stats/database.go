package stats

import (
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// Get returns the stat row for the account and date, or nil if none exists.
func (d *Database) Get(apiKeyID string, date string) (*AccountDailyStat, error) {
	var stat AccountDailyStat
	if err := d.db.Where("api_key_id = ? AND date = ?", apiKeyID, date).First(&stat).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &stat, nil
}

// GetToday returns the account's rollup for the current UTC date. A missing
// row comes back as a zeroed stat so risk checks can treat "no trades yet"
// uniformly.
func (d *Database) GetToday(apiKeyID string) (*AccountDailyStat, error) {
	stat, err := d.Get(apiKeyID, DateKey(time.Now()))
	if err != nil {
		return nil, err
	}
	if stat == nil {
		stat = &AccountDailyStat{APIKeyID: apiKeyID, Date: DateKey(time.Now())}
	}
	return stat, nil
}

// StopTradingNotifier receives an alert when an account's loss latch fires.
type StopTradingNotifier interface {
	NotifyStopTrading(apiKeyID string, dailyPnl float64)
}

// Aggregator rolls order outcomes into per-account daily stats and latches
// the stop-trading flag once the daily loss limit is breached.
type Aggregator struct {
	db       *Database
	notifier StopTradingNotifier
}

func NewAggregator(db *Database) *Aggregator {
	return &Aggregator{db: db}
}

// SetNotifier attaches the operator alert channel for loss latches.
func (a *Aggregator) SetNotifier(n StopTradingNotifier) {
	a.notifier = n
}

// RecordFill upserts the account's rollup for the day of `at` in a single
// conflict-resolving statement: counters and PnL are incremented in the
// database, never read-modify-written in the application, so concurrent
// fills for the same account cannot lose updates. StartingBalance is only
// written by the first fill of the day.
func (a *Aggregator) RecordFill(apiKeyID string, at time.Time, pnl float64, success bool, startingBalance, maxDailyLoss float64) error {
	date := DateKey(at)

	successInc, failInc := 0, 0
	if success {
		successInc = 1
	} else {
		failInc = 1
	}

	stat := AccountDailyStat{
		APIKeyID:         apiKeyID,
		Date:             date,
		TotalTrades:      1,
		SuccessfulTrades: successInc,
		FailedTrades:     failInc,
		DailyPnl:         pnl,
		StartingBalance:  startingBalance,
		EndingBalance:    startingBalance + pnl,
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}

	err := a.db.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "api_key_id"}, {Name: "date"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"total_trades":      gorm.Expr("total_trades + 1"),
			"successful_trades": gorm.Expr("successful_trades + ?", successInc),
			"failed_trades":     gorm.Expr("failed_trades + ?", failInc),
			"daily_pnl":         gorm.Expr("daily_pnl + ?", pnl),
			"ending_balance":    gorm.Expr("starting_balance + daily_pnl + ?", pnl),
			"updated_at":        time.Now(),
		}),
	}).Create(&stat).Error
	if err != nil {
		return err
	}

	return a.latchIfLossLimitHit(apiKeyID, date, maxDailyLoss)
}

// RecordPnl folds a realized PnL delta into the day's rollup without
// touching the trade counters. Fill callbacks report PnL after the trade was
// already counted at submission time.
func (a *Aggregator) RecordPnl(apiKeyID string, at time.Time, pnlDelta float64, maxDailyLoss float64) error {
	date := DateKey(at)

	stat := AccountDailyStat{
		APIKeyID:  apiKeyID,
		Date:      date,
		DailyPnl:  pnlDelta,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	err := a.db.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "api_key_id"}, {Name: "date"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"daily_pnl":      gorm.Expr("daily_pnl + ?", pnlDelta),
			"ending_balance": gorm.Expr("starting_balance + daily_pnl + ?", pnlDelta),
			"updated_at":     time.Now(),
		}),
	}).Create(&stat).Error
	if err != nil {
		return err
	}

	return a.latchIfLossLimitHit(apiKeyID, date, maxDailyLoss)
}

// latchIfLossLimitHit sets the stop-trading latch with a single conditional
// UPDATE. The latch is one-way for the day: a later winning trade that pulls
// PnL back above the threshold never clears it, and date rollover starts a
// fresh row.
func (a *Aggregator) latchIfLossLimitHit(apiKeyID, date string, maxDailyLoss float64) error {
	if maxDailyLoss <= 0 {
		return nil
	}

	result := a.db.db.Model(&AccountDailyStat{}).
		Where("api_key_id = ? AND date = ?", apiKeyID, date).
		Where("stop_trading_triggered = ?", false).
		Where("daily_pnl <= -(? * starting_balance)", maxDailyLoss).
		Updates(map[string]interface{}{
			"stop_trading_triggered": true,
			"daily_loss_limit_hit":   true,
			"updated_at":             time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected > 0 {
		log.Warn().
			Str("api_key_id", apiKeyID).
			Str("date", date).
			Msg("daily loss limit hit, trading stopped for the day")

		if a.notifier != nil {
			if stat, err := a.db.Get(apiKeyID, date); err == nil && stat != nil {
				a.notifier.NotifyStopTrading(apiKeyID, stat.DailyPnl)
			}
		}
	}
	return nil
}
