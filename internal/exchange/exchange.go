package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/winubot/trading-engine/internal/types"
)

// ErrAmbiguous marks an order placement whose outcome is unknown: the call
// timed out or the connection dropped after the request may have reached the
// exchange. Ambiguous placements must never be retried blindly; the sweep
// resolves them by polling order status.
var ErrAmbiguous = errors.New("exchange: ambiguous outcome")

// TransientError wraps a retryable failure (rate limit, 5xx). Only
// idempotent calls such as balance fetches may be retried on it.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("exchange: transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// RejectedError wraps an explicit rejection from the exchange. The order
// provably did not execute, so the caller may treat it as a clean failure.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string { return "exchange: rejected: " + e.Reason }

// PlaceOrderRequest carries one order to the exchange. ClientOrderID is the
// engine-side identity used to resolve ambiguous outcomes later.
type PlaceOrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          string
	OrderType     string
	Quantity      float64
	Price         float64
	StopLoss      float64
	TakeProfit    float64
}

// PlaceOrderResult is the exchange acknowledgement of a placed order. For
// immediately filled orders it carries the execution details; market fills
// rarely land exactly on the requested price.
type PlaceOrderResult struct {
	ExchangeOrderID string
	Status          string
	FilledQuantity  float64
	AveragePrice    float64
}

// OrderStatus reports the exchange-side state of a previously placed order.
type OrderStatus struct {
	ExchangeOrderID string
	Status          string
	FilledQuantity  float64
	AveragePrice    float64
}

// Gateway is the adapter over an exchange's order and balance API. One
// implementation exists per exchange; callers catch errors per account.
type Gateway interface {
	PlaceOrder(ctx context.Context, creds types.Credentials, req PlaceOrderRequest) (*PlaceOrderResult, error)
	GetBalance(ctx context.Context, creds types.Credentials) (float64, error)
	GetOrderStatus(ctx context.Context, creds types.Credentials, clientOrderID string) (*OrderStatus, error)
}

// IsAmbiguous reports whether err means the placement outcome is unknown.
func IsAmbiguous(err error) bool {
	return errors.Is(err, ErrAmbiguous) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

// FetchBalance retrieves the account balance with bounded exponential
// backoff. Balance reads are idempotent, so retrying on transient errors is
// safe; any other error aborts immediately.
func FetchBalance(ctx context.Context, gw Gateway, creds types.Credentials) (float64, error) {
	const attempts = 3
	backoff := 200 * time.Millisecond

	var lastErr error
	for i := 0; i < attempts; i++ {
		balance, err := gw.GetBalance(ctx, creds)
		if err == nil {
			return balance, nil
		}

		var transient *TransientError
		if !errors.As(err, &transient) {
			return 0, err
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return 0, fmt.Errorf("balance fetch exhausted retries: %w", lastErr)
}
