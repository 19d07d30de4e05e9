package fanout

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/winubot/trading-engine/internal/exchange"
)

// Processor periodically resolves ambiguous orders: placements whose
// exchange call timed out without confirmation. It polls the exchange by
// client order id and settles each order to its true outcome. It never
// re-places an order, since the original call may have succeeded.
type Processor struct {
	engine   *Engine
	interval time.Duration
	minAge   time.Duration
}

func NewProcessor(engine *Engine, interval time.Duration) *Processor {
	return &Processor{
		engine:   engine,
		interval: interval,
		minAge:   time.Minute,
	}
}

// Start begins the sweep loop; it returns when ctx is cancelled.
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "ambiguous_order_sweep").Logger()
	logger.Info().Msg("starting ambiguous order sweep")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down ambiguous order sweep")
			return
		case <-ticker.C:
			if err := p.sweep(ctx); err != nil {
				logger.Error().Err(err).Msg("sweep pass failed")
			}
		}
	}
}

func (p *Processor) sweep(ctx context.Context) error {
	logger := log.With().Str("component", "ambiguous_order_sweep").Logger()

	orders, err := p.engine.orders.GetAmbiguous(time.Now().Add(-p.minAge))
	if err != nil {
		return err
	}
	if len(orders) == 0 {
		return nil
	}

	logger.Info().Int("count", len(orders)).Msg("resolving ambiguous orders")

	for _, order := range orders {
		if err := p.resolve(ctx, &order); err != nil {
			logger.Warn().
				Err(err).
				Str("order_id", order.OrderID).
				Msg("could not resolve ambiguous order, will retry next sweep")
		}
	}
	return nil
}

// resolve queries the exchange for one ambiguous order and settles it.
func (p *Processor) resolve(ctx context.Context, order *MultiAccountOrder) error {
	account, err := p.engine.accounts.Get(order.APIKeyID)
	if err != nil {
		return err
	}
	if account == nil {
		return errors.New("account no longer exists")
	}

	creds, err := p.engine.vault.Get(order.APIKeyID)
	if err != nil {
		return err
	}

	gw, err := p.engine.gatewayFor(account.Exchange)
	if err != nil {
		return err
	}

	// The balance is fetched before settling anything: the ambiguous order
	// was never counted in daily stats, and the settlement below must record
	// it exactly once. A fetch failure leaves the order pending for the next
	// sweep instead of settling without a stats row.
	balance, err := exchange.FetchBalance(ctx, gw, creds)
	if err != nil {
		return err
	}

	status, err := gw.GetOrderStatus(ctx, creds, order.OrderID)
	if err != nil {
		var rejected *exchange.RejectedError
		if errors.As(err, &rejected) {
			// The exchange has no record of the order: the original call
			// never went through, so the failure is now provable.
			if err := p.engine.orders.MarkFailed(order.OrderID, "not found on exchange after ambiguous timeout"); err != nil {
				return err
			}
			return p.engine.aggregator.RecordFill(order.APIKeyID, time.Now(), 0, false, balance, account.MaxDailyLoss)
		}
		return err
	}

	log.Info().
		Str("order_id", order.OrderID).
		Str("exchange_order_id", status.ExchangeOrderID).
		Str("exchange_status", status.Status).
		Msg("ambiguous order resolved")

	if err := p.engine.orders.MarkSubmitted(order.OrderID, status.ExchangeOrderID); err != nil {
		return err
	}
	if err := p.engine.aggregator.RecordFill(order.APIKeyID, time.Now(), 0, true, balance, account.MaxDailyLoss); err != nil {
		return err
	}
	if status.Status == "FILLED" {
		return p.engine.RecordOutcome(order.OrderID, status.FilledQuantity, status.AveragePrice, order.Pnl)
	}
	return nil
}
