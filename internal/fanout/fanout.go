package fanout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/winubot/trading-engine/internal/accounts"
	"github.com/winubot/trading-engine/internal/exchange"
	"github.com/winubot/trading-engine/internal/risk"
	"github.com/winubot/trading-engine/internal/stats"
	"github.com/winubot/trading-engine/internal/types"
	"github.com/winubot/trading-engine/pkg/response"
	"gorm.io/gorm"
)

// Per-account result statuses reported by one fanout call.
const (
	ResultSubmitted = "submitted"
	ResultRejected  = "rejected"
	ResultFailed    = "failed"
	ResultAmbiguous = "ambiguous"
	ResultDuplicate = "duplicate"
	ResultSkipped   = "skipped"
)

// CredentialSource yields decrypted exchange credentials for an account.
type CredentialSource interface {
	Get(apiKeyID string) (types.Credentials, error)
}

// GatewayFor resolves the gateway implementation for an exchange name.
type GatewayFor func(exchangeName string) (exchange.Gateway, error)

// Engine fans a single signal out to every eligible account: sizing, risk
// gating, placement and record-keeping run independently per account, with
// bounded parallelism so a large fanout respects exchange rate limits.
type Engine struct {
	orders         *Database
	accounts       *accounts.Database
	stats          *stats.Database
	aggregator     *stats.Aggregator
	gate           *risk.Gate
	vault          CredentialSource
	gatewayFor     GatewayFor
	maxConcurrency int
	orderTimeout   time.Duration
}

// NewEngine wires the fanout engine.
func NewEngine(gormDB *gorm.DB, vault CredentialSource, gatewayFor GatewayFor, maxConcurrency int, orderTimeout time.Duration) *Engine {
	statsDB := stats.NewDatabase(gormDB)
	return &Engine{
		orders:         NewDatabase(gormDB),
		accounts:       accounts.NewDatabase(gormDB),
		stats:          statsDB,
		aggregator:     stats.NewAggregator(statsDB),
		gate:           risk.NewGate(),
		vault:          vault,
		gatewayFor:     gatewayFor,
		maxConcurrency: maxConcurrency,
		orderTimeout:   orderTimeout,
	}
}

// Orders exposes the order ledger for collaborating processors.
func (e *Engine) Orders() *Database {
	return e.orders
}

// SetStopTradingNotifier routes loss-latch alerts to an operator channel.
func (e *Engine) SetStopTradingNotifier(n stats.StopTradingNotifier) {
	e.aggregator.SetNotifier(n)
}

// GroupIDForSignal derives the stable order-group id for a signal. Signals
// carrying an id map deterministically (UUIDv5), so a re-delivered signal
// lands on the same group and the unique (group, account) constraint absorbs
// it. Signals without an id get a fresh UUID and the caller owns redelivery
// safety.
func GroupIDForSignal(signal types.Signal) string {
	if signal.ID == "" {
		return uuid.New().String()
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("signal:"+signal.ID)).String()
}

// Fanout enumerates eligible accounts and executes the signal for each one
// concurrently. Per-account failures are contained: one account's exchange
// error never aborts the others, and partial success is the expected common
// case.
func (e *Engine) Fanout(ctx context.Context, signal types.Signal) (*FanoutResult, error) {
	if signal.Symbol == "" {
		return nil, errors.New("signal symbol is required")
	}
	if signal.Price <= 0 {
		return nil, errors.New("signal reference price is required")
	}

	groupID := GroupIDForSignal(signal)
	logger := log.With().
		Str("order_group_id", groupID).
		Str("symbol", signal.Symbol).
		Str("direction", signal.Direction).
		Logger()

	eligible, err := e.accounts.GetEligible()
	if err != nil {
		return nil, fmt.Errorf("enumerate eligible accounts: %w", err)
	}

	logger.Info().Int("accounts", len(eligible)).Msg("starting fanout")

	results := make([]AccountResult, len(eligible))
	sem := make(chan struct{}, e.maxConcurrency)
	var wg sync.WaitGroup

	for i := range eligible {
		wg.Add(1)
		go func(i int, account accounts.AccountConfig) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			results[i] = e.executeForAccount(ctx, groupID, signal, &account)
		}(i, eligible[i])
	}
	wg.Wait()

	submitted := 0
	for _, r := range results {
		if r.Status == ResultSubmitted {
			submitted++
		}
	}
	logger.Info().
		Int("submitted", submitted).
		Int("total", len(results)).
		Msg("fanout completed")

	return &FanoutResult{OrderGroupID: groupID, Results: results}, nil
}

// executeForAccount runs the full per-account sequence: credentials, balance,
// sizing, risk gate, two-phase order write around the exchange call. Every
// path leaves exactly one order row for (group, account) so the fanout
// decision is auditable regardless of outcome.
func (e *Engine) executeForAccount(ctx context.Context, groupID string, signal types.Signal, account *accounts.AccountConfig) AccountResult {
	logger := log.With().
		Str("order_group_id", groupID).
		Str("api_key_id", account.APIKeyID).
		Str("exchange", account.Exchange).
		Logger()

	if !account.IsVerified {
		logger.Debug().Msg("skipping unverified account")
		return AccountResult{APIKeyID: account.APIKeyID, Status: ResultSkipped, Reason: "credentials unverified"}
	}

	creds, err := e.vault.Get(account.APIKeyID)
	if err != nil {
		logger.Warn().Err(err).Msg("credential decryption failed, flagging account")
		if markErr := e.accounts.MarkUnverified(account.APIKeyID); markErr != nil {
			logger.Error().Err(markErr).Msg("failed to flag account unverified")
		}
		return e.recordFailure(groupID, signal, account, "credential error: "+err.Error())
	}

	gw, err := e.gatewayFor(account.Exchange)
	if err != nil {
		return e.recordFailure(groupID, signal, account, "no gateway: "+err.Error())
	}

	balance, err := exchange.FetchBalance(ctx, gw, creds)
	if err != nil {
		logger.Warn().Err(err).Msg("balance fetch failed")
		return e.recordFailure(groupID, signal, account, "balance fetch failed: "+err.Error())
	}

	sizeUSD, err := e.positionSizeUSD(account, balance)
	if err != nil {
		return e.recordFailure(groupID, signal, account, "position sizing failed: "+err.Error())
	}
	quantity := sizeUSD / signal.Price

	today, err := e.stats.GetToday(account.APIKeyID)
	if err != nil {
		return e.recordFailure(groupID, signal, account, "daily stats unavailable: "+err.Error())
	}

	verdict := e.gate.Check(account, today, risk.ProposedOrder{
		Symbol:          signal.Symbol,
		Side:            signal.Side(),
		PositionSizeUSD: sizeUSD,
		CurrentBalance:  balance,
	})
	if !verdict.Allowed {
		logger.Info().Str("reason", verdict.Reason).Msg("risk gate rejected order")
		res := e.recordFailure(groupID, signal, account, verdict.Reason)
		if res.Status == ResultFailed {
			res.Status = ResultRejected
		}
		return res
	}

	// Phase one: persist the intent before touching the exchange. A crash
	// mid-call leaves a recoverable pending row, never a lost order.
	order := &MultiAccountOrder{
		OrderID:      uuid.New().String(),
		OrderGroupID: groupID,
		APIKeyID:     account.APIKeyID,
		UserID:       account.UserID,
		Symbol:       signal.Symbol,
		Side:         signal.Side(),
		OrderType:    "MARKET",
		Quantity:     quantity,
		Price:        signal.Price,
		Status:       types.OrderStatusPending,
	}
	created, err := e.orders.Create(order)
	if err != nil {
		logger.Error().Err(err).Msg("failed to persist pending order")
		return AccountResult{APIKeyID: account.APIKeyID, Status: ResultFailed, Reason: err.Error()}
	}
	if !created {
		logger.Info().Msg("order already recorded for this signal, skipping")
		return AccountResult{APIKeyID: account.APIKeyID, Status: ResultDuplicate}
	}

	placeCtx, cancel := context.WithTimeout(ctx, e.orderTimeout)
	defer cancel()

	result, err := gw.PlaceOrder(placeCtx, creds, exchange.PlaceOrderRequest{
		ClientOrderID: order.OrderID,
		Symbol:        order.Symbol,
		Side:          order.Side,
		OrderType:     order.OrderType,
		Quantity:      order.Quantity,
		Price:         order.Price,
	})
	if err != nil {
		if exchange.IsAmbiguous(err) {
			logger.Warn().Err(err).Msg("order outcome ambiguous, leaving pending for sweep")
			if markErr := e.orders.MarkAmbiguous(order.OrderID); markErr != nil {
				logger.Error().Err(markErr).Msg("failed to mark order ambiguous")
			}
			return AccountResult{APIKeyID: account.APIKeyID, OrderID: order.OrderID, Status: ResultAmbiguous}
		}

		logger.Warn().Err(err).Msg("order placement failed")
		if markErr := e.orders.MarkFailed(order.OrderID, err.Error()); markErr != nil {
			logger.Error().Err(markErr).Msg("failed to mark order failed")
		}
		if statErr := e.aggregator.RecordFill(account.APIKeyID, time.Now(), 0, false, balance, account.MaxDailyLoss); statErr != nil {
			logger.Error().Err(statErr).Msg("failed to record failed trade in daily stats")
		}
		return AccountResult{APIKeyID: account.APIKeyID, OrderID: order.OrderID, Status: ResultFailed, Reason: err.Error()}
	}

	// Phase two: the exchange acknowledged the order.
	if err := e.orders.MarkSubmitted(order.OrderID, result.ExchangeOrderID); err != nil {
		logger.Error().Err(err).Msg("failed to mark order submitted")
	}
	if result.Status == "FILLED" {
		filledQty, avgPrice := result.FilledQuantity, result.AveragePrice
		if filledQty == 0 {
			filledQty = order.Quantity
		}
		if avgPrice == 0 {
			avgPrice = order.Price
		}
		if err := e.orders.RecordFill(order.OrderID, filledQty, avgPrice, 0); err != nil {
			logger.Error().Err(err).Msg("failed to record fill")
		}
	}
	if err := e.aggregator.RecordFill(account.APIKeyID, time.Now(), 0, true, balance, account.MaxDailyLoss); err != nil {
		logger.Error().Err(err).Msg("failed to record trade in daily stats")
	}

	logger.Info().
		Str("order_id", order.OrderID).
		Str("exchange_order_id", result.ExchangeOrderID).
		Float64("quantity", order.Quantity).
		Msg("order submitted")

	return AccountResult{APIKeyID: account.APIKeyID, OrderID: order.OrderID, Status: ResultSubmitted}
}

// recordFailure persists the mandatory one-row-per-account audit record for
// an attempt that never reached the exchange.
func (e *Engine) recordFailure(groupID string, signal types.Signal, account *accounts.AccountConfig, reason string) AccountResult {
	order := &MultiAccountOrder{
		OrderID:      uuid.New().String(),
		OrderGroupID: groupID,
		APIKeyID:     account.APIKeyID,
		UserID:       account.UserID,
		Symbol:       signal.Symbol,
		Side:         signal.Side(),
		OrderType:    "MARKET",
		Price:        signal.Price,
		Status:       types.OrderStatusFailed,
		ErrorMessage: reason,
	}
	created, err := e.orders.Create(order)
	if err != nil {
		return AccountResult{APIKeyID: account.APIKeyID, Status: ResultFailed, Reason: reason + "; record error: " + err.Error()}
	}
	if !created {
		return AccountResult{APIKeyID: account.APIKeyID, Status: ResultDuplicate}
	}
	return AccountResult{APIKeyID: account.APIKeyID, OrderID: order.OrderID, Status: ResultFailed, Reason: reason}
}

// RecordOutcome settles an order to filled and folds its realized PnL into
// the account's daily stats. Used by the ambiguous-order sweep and by fill
// callbacks.
func (e *Engine) RecordOutcome(orderID string, filledQty, avgPrice, pnl float64) error {
	order, err := e.orders.Get(orderID)
	if err != nil {
		return err
	}
	if order == nil {
		return errors.New("order not found")
	}

	account, err := e.accounts.Get(order.APIKeyID)
	if err != nil {
		return err
	}

	pnlDelta := pnl - order.Pnl
	if err := e.orders.RecordFill(orderID, filledQty, avgPrice, pnl); err != nil {
		return err
	}

	maxDailyLoss := 0.0
	if account != nil {
		maxDailyLoss = account.MaxDailyLoss
	}
	return e.aggregator.RecordPnl(order.APIKeyID, time.Now(), pnlDelta, maxDailyLoss)
}

// GinHandlers contains HTTP handlers for fanout endpoints.
type GinHandlers struct {
	engine *Engine
}

func NewGinHandlers(engine *Engine) *GinHandlers {
	return &GinHandlers{engine: engine}
}

// FanoutHandler handles POST requests from the signal scheduler. The signal
// body must carry the producer's signal id for redelivery safety.
func (h *GinHandlers) FanoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var signal types.Signal
		if err := c.ShouldBindJSON(&signal); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		result, err := h.engine.Fanout(c.Request.Context(), signal)
		response.Handle(c, result, err)
	}
}

// GetGroupHandler returns the audit trail for one order group.
func (h *GinHandlers) GetGroupHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		groupID := c.Param("order_group_id")
		if groupID == "" {
			response.BadRequest(c, "order group ID is required")
			return
		}

		orders, err := h.engine.orders.GetByGroup(groupID)
		if err == nil && len(orders) == 0 {
			response.NotFound(c, "Order group not found")
			return
		}
		response.Handle(c, orders, err)
	}
}
