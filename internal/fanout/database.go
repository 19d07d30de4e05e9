package fanout

import (
	"errors"
	"time"

	"github.com/winubot/trading-engine/internal/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Database is the durable ledger of multi-account orders.
type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// Create inserts the order if no row exists yet for its
// (order_group_id, api_key_id) pair. Returns false when the pair was already
// recorded, which is how re-delivered signals are absorbed without a second
// submission.
func (d *Database) Create(order *MultiAccountOrder) (bool, error) {
	order.CreatedAt = time.Now()
	order.UpdatedAt = time.Now()

	result := d.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_group_id"}, {Name: "api_key_id"}},
		DoNothing: true,
	}).Create(order)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (d *Database) Get(orderID string) (*MultiAccountOrder, error) {
	var order MultiAccountOrder
	if err := d.db.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// GetByGroup returns all per-account orders sharing one order group.
func (d *Database) GetByGroup(orderGroupID string) ([]MultiAccountOrder, error) {
	var orders []MultiAccountOrder
	if err := d.db.Where("order_group_id = ?", orderGroupID).Order("api_key_id").Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// MarkSubmitted records a successful placement.
func (d *Database) MarkSubmitted(orderID, exchangeOrderID string) error {
	return d.transition(orderID, map[string]interface{}{
		"status":            types.OrderStatusSubmitted,
		"exchange_order_id": exchangeOrderID,
		"error_message":     "",
	})
}

// MarkFailed records a terminal failure with its reason.
func (d *Database) MarkFailed(orderID, reason string) error {
	return d.transition(orderID, map[string]interface{}{
		"status":        types.OrderStatusFailed,
		"error_message": reason,
	})
}

// MarkAmbiguous leaves the order pending but notes that the exchange call
// timed out without confirmation. The sweep resolves it later; it is never
// retried automatically because the exchange side may have succeeded.
func (d *Database) MarkAmbiguous(orderID string) error {
	return d.transition(orderID, map[string]interface{}{
		"error_message": "ambiguous: exchange call timed out",
		"retry_count":   gorm.Expr("retry_count + 1"),
	})
}

// RecordFill settles an order to filled with its execution details.
func (d *Database) RecordFill(orderID string, filledQty, avgPrice, pnl float64) error {
	return d.transition(orderID, map[string]interface{}{
		"status":          types.OrderStatusFilled,
		"filled_quantity": filledQty,
		"average_price":   avgPrice,
		"pnl":             pnl,
	})
}

// Cancel marks an order cancelled. Operator action only.
func (d *Database) Cancel(orderID, reason string) error {
	return d.transition(orderID, map[string]interface{}{
		"status":        types.OrderStatusCancelled,
		"error_message": reason,
	})
}

func (d *Database) transition(orderID string, updates map[string]interface{}) error {
	updates["updated_at"] = time.Now()
	result := d.db.Model(&MultiAccountOrder{}).
		Where("order_id = ?", orderID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.New("order not found")
	}
	return nil
}

// GetAmbiguous returns pending orders whose placement outcome is unknown and
// old enough to be worth polling.
func (d *Database) GetAmbiguous(olderThan time.Time) ([]MultiAccountOrder, error) {
	var orders []MultiAccountOrder
	err := d.db.Where("status = ? AND error_message LIKE ? AND updated_at < ?",
		types.OrderStatusPending, "ambiguous%", olderThan).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// GetRecent returns the most recent orders across all accounts, newest first.
func (d *Database) GetRecent(limit int) ([]MultiAccountOrder, error) {
	var orders []MultiAccountOrder
	if err := d.db.Order("created_at DESC").Limit(limit).Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// TradeHistory aggregates an account's filled-order outcomes for Kelly
// sizing.
type TradeHistory struct {
	Samples int
	Wins    int
	AvgWin  float64
	AvgLoss float64 // positive magnitude
}

// GetTradeHistory summarises the account's filled orders since the window
// start. Zero-PnL fills are excluded; they carry no information about the
// win rate.
func (d *Database) GetTradeHistory(apiKeyID string, since time.Time) (*TradeHistory, error) {
	var rows []MultiAccountOrder
	err := d.db.Select("pnl").
		Where("api_key_id = ? AND status = ? AND pnl != 0 AND created_at >= ?",
			apiKeyID, types.OrderStatusFilled, since).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	h := &TradeHistory{Samples: len(rows)}
	var winSum, lossSum float64
	var losses int
	for _, row := range rows {
		if row.Pnl > 0 {
			h.Wins++
			winSum += row.Pnl
		} else {
			losses++
			lossSum += -row.Pnl
		}
	}
	if h.Wins > 0 {
		h.AvgWin = winSum / float64(h.Wins)
	}
	if losses > 0 {
		h.AvgLoss = lossSum / float64(losses)
	}
	return h, nil
}
