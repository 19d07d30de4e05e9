package risk

import (
	"fmt"

	"github.com/winubot/trading-engine/internal/accounts"
	"github.com/winubot/trading-engine/internal/stats"
)

// Rejection reasons, recorded verbatim on the failed order row.
const (
	ReasonPositionSize = "position size exceeds cap"
	ReasonDailyTrades  = "daily trade limit reached"
	ReasonStopTrading  = "stop-trading flag active"
	ReasonDailyLoss    = "would exceed daily loss limit"
)

// ProposedOrder is the order a fanout wants to place, as seen by the gate.
type ProposedOrder struct {
	Symbol          string
	Side            string
	PositionSizeUSD float64
	CurrentBalance  float64
}

// Verdict is the outcome of a risk check. A rejection is an expected
// outcome, not an error; it becomes a failed order row with the reason.
type Verdict struct {
	Allowed bool
	Reason  string
}

func allow() Verdict          { return Verdict{Allowed: true} }
func reject(r string) Verdict { return Verdict{Allowed: false, Reason: r} }

// Gate evaluates per-account policy before an order may reach the exchange.
// All checks are read-only; the gate holds no state of its own, so it is
// safe to call concurrently for different accounts.
type Gate struct{}

func NewGate() *Gate {
	return &Gate{}
}

// Check runs the policy checks in order and short-circuits on the first
// failure:
//
//  1. position size against the account cap
//  2. today's trade count against the daily cap
//  3. the sticky stop-trading latch
//  4. projected daily loss if this trade loses at MaxRiskPerTrade
func (g *Gate) Check(account *accounts.AccountConfig, today *stats.AccountDailyStat, proposed ProposedOrder) Verdict {
	if proposed.PositionSizeUSD > account.MaxPositionSizeUSD {
		return reject(ReasonPositionSize)
	}

	if account.MaxDailyTrades > 0 && today.TotalTrades >= account.MaxDailyTrades {
		return reject(ReasonDailyTrades)
	}

	if today.StopTradingTriggered {
		return reject(ReasonStopTrading)
	}

	// Worst case for this trade is losing MaxRiskPerTrade of its size. If
	// that projected loss on top of today's PnL breaches the daily loss
	// budget, block it before it reaches the exchange.
	projectedLoss := proposed.PositionSizeUSD * account.MaxRiskPerTrade
	lossBudget := account.MaxDailyLoss * proposed.CurrentBalance
	if today.DailyPnl-projectedLoss < -lossBudget {
		return reject(ReasonDailyLoss)
	}

	return allow()
}

// String renders the verdict for logs.
func (v Verdict) String() string {
	if v.Allowed {
		return "allow"
	}
	return fmt.Sprintf("reject: %s", v.Reason)
}
