package exchange

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/winubot/trading-engine/internal/types"
)

// Simulator is an in-process Gateway used by development and the simulation
// binary. It models latency, a success rate, and fill-price variance, and
// remembers placed orders so status polls can resolve ambiguous outcomes.
type Simulator struct {
	Name        string
	MinLatency  time.Duration
	MaxLatency  time.Duration
	SuccessRate float64 // 0-1, probability of accepting an order
	Balance     float64

	mu     sync.Mutex
	orders map[string]*OrderStatus // keyed by client order id
}

// NewSimulator returns a simulator with sane development defaults.
func NewSimulator(name string, balance float64) *Simulator {
	return &Simulator{
		Name:        name,
		MinLatency:  5 * time.Millisecond,
		MaxLatency:  40 * time.Millisecond,
		SuccessRate: 0.95,
		Balance:     balance,
		orders:      make(map[string]*OrderStatus),
	}
}

func (s *Simulator) PlaceOrder(ctx context.Context, _ types.Credentials, req PlaceOrderRequest) (*PlaceOrderResult, error) {
	logger := log.With().
		Str("exchange", s.Name).
		Str("client_order_id", req.ClientOrderID).
		Str("symbol", req.Symbol).
		Str("side", req.Side).
		Float64("quantity", req.Quantity).
		Logger()

	if err := s.sleep(ctx); err != nil {
		// The request may or may not have reached the exchange.
		return nil, fmt.Errorf("%w: %v", ErrAmbiguous, err)
	}

	if rand.Float64() > s.SuccessRate {
		logger.Warn().Msg("simulated order rejection")
		return nil, &RejectedError{Reason: "insufficient liquidity"}
	}

	// Fill at the requested price with ±2% variance.
	fillPrice := req.Price * (1 + (rand.Float64()*0.04 - 0.02))

	status := &OrderStatus{
		ExchangeOrderID: fmt.Sprintf("SIM-%s-%d", s.Name, rand.Int63()),
		Status:          "FILLED",
		FilledQuantity:  req.Quantity,
		AveragePrice:    fillPrice,
	}

	s.mu.Lock()
	s.orders[req.ClientOrderID] = status
	s.mu.Unlock()

	logger.Info().
		Str("exchange_order_id", status.ExchangeOrderID).
		Float64("fill_price", fillPrice).
		Msg("simulated order filled")

	return &PlaceOrderResult{
		ExchangeOrderID: status.ExchangeOrderID,
		Status:          status.Status,
		FilledQuantity:  status.FilledQuantity,
		AveragePrice:    status.AveragePrice,
	}, nil
}

func (s *Simulator) GetBalance(ctx context.Context, _ types.Credentials) (float64, error) {
	if err := s.sleep(ctx); err != nil {
		return 0, &TransientError{Err: err}
	}
	return s.Balance, nil
}

func (s *Simulator) GetOrderStatus(ctx context.Context, _ types.Credentials, clientOrderID string) (*OrderStatus, error) {
	if err := s.sleep(ctx); err != nil {
		return nil, &TransientError{Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.orders[clientOrderID]
	if !ok {
		return nil, &RejectedError{Reason: "unknown client order id"}
	}
	return status, nil
}

func (s *Simulator) sleep(ctx context.Context) error {
	latency := s.MinLatency
	if s.MaxLatency > s.MinLatency {
		latency += time.Duration(rand.Int63n(int64(s.MaxLatency - s.MinLatency)))
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(latency):
		return nil
	}
}
