package types

import "time"

// Order sides and directions.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	DirectionLong  = "LONG"
	DirectionShort = "SHORT"
)

// Order lifecycle statuses. Orders are never deleted; FAILED and CANCELLED
// rows remain as the audit trail for the fanout decision.
const (
	OrderStatusPending   = "PENDING"
	OrderStatusSubmitted = "SUBMITTED"
	OrderStatusFilled    = "FILLED"
	OrderStatusCancelled = "CANCELLED"
	OrderStatusFailed    = "FAILED"
)

// Position sizing modes for account configuration.
const (
	SizingFixed      = "fixed"
	SizingPercentage = "percentage"
	SizingKelly      = "kelly"
)

// Signal is a trading opportunity produced by the upstream signal pipeline.
// It is immutable once produced; the engine only reads it. Delivery is
// at-least-once, so consumers must derive a stable idempotency key from ID.
type Signal struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Direction string    `json:"direction"` // LONG or SHORT
	Score     float64   `json:"score"`     // 0..1
	Price     float64   `json:"price"`     // producer's reference price
	Timeframe string    `json:"timeframe"`
	CreatedAt time.Time `json:"created_at"`
}

// Side maps the signal direction onto an order side.
func (s Signal) Side() string {
	if s.Direction == DirectionShort {
		return SideSell
	}
	return SideBuy
}

// Credentials is a decrypted exchange API key pair. Instances must not be
// retained beyond the single exchange call they were decrypted for.
type Credentials struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}
