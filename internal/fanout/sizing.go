package fanout

import (
	"time"

	"github.com/winubot/trading-engine/internal/accounts"
	"github.com/winubot/trading-engine/internal/types"
)

const (
	// kellyWindow is how far back filled orders feed the Kelly estimate.
	kellyWindow = 90 * 24 * time.Hour
	// kellyMinSamples is the minimum history before Kelly sizing is trusted;
	// below it the engine falls back to fixed sizing.
	kellyMinSamples = 10
)

// positionSizeUSD computes the notional order size for one account.
func (e *Engine) positionSizeUSD(account *accounts.AccountConfig, balance float64) (float64, error) {
	switch account.PositionSizingMode {
	case types.SizingPercentage:
		return balance * account.PositionSizeValue / 100, nil

	case types.SizingKelly:
		history, err := e.orders.GetTradeHistory(account.APIKeyID, time.Now().Add(-kellyWindow))
		if err != nil {
			return 0, err
		}
		if f, ok := kellyFraction(history, account.MaxRiskPerTrade); ok {
			return balance * f, nil
		}
		// Not enough history for a stable estimate.
		return account.PositionSizeValue, nil

	default: // fixed
		return account.PositionSizeValue, nil
	}
}

// kellyFraction computes f* = (p(b+1) - 1) / b clamped to
// [0, maxRiskPerTrade], where p is the historical win rate and b the
// average-win to average-loss ratio. Returns ok=false when the history is
// too thin or degenerate to size from.
func kellyFraction(h *TradeHistory, maxRiskPerTrade float64) (float64, bool) {
	if h.Samples < kellyMinSamples || h.AvgLoss <= 0 || h.AvgWin <= 0 {
		return 0, false
	}

	p := float64(h.Wins) / float64(h.Samples)
	b := h.AvgWin / h.AvgLoss

	f := (p*(b+1) - 1) / b
	if f < 0 {
		f = 0
	}
	if f > maxRiskPerTrade {
		f = maxRiskPerTrade
	}
	return f, true
}
