package exchange

import (
	"context"
	"errors"
	"testing"

	"github.com/winubot/trading-engine/internal/types"
)

type flakyGateway struct {
	failures int
	calls    int
	err      error
	balance  float64
}

func (g *flakyGateway) GetBalance(ctx context.Context, creds types.Credentials) (float64, error) {
	g.calls++
	if g.calls <= g.failures {
		return 0, g.err
	}
	return g.balance, nil
}

func (g *flakyGateway) PlaceOrder(ctx context.Context, creds types.Credentials, req PlaceOrderRequest) (*PlaceOrderResult, error) {
	return nil, errors.New("not implemented")
}

func (g *flakyGateway) GetOrderStatus(ctx context.Context, creds types.Credentials, clientOrderID string) (*OrderStatus, error) {
	return nil, errors.New("not implemented")
}

func TestFetchBalanceRetriesTransient(t *testing.T) {
	gw := &flakyGateway{
		failures: 2,
		err:      &TransientError{Err: errors.New("rate limited")},
		balance:  1234.5,
	}

	balance, err := FetchBalance(context.Background(), gw, types.Credentials{})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if balance != 1234.5 {
		t.Fatalf("balance=%v", balance)
	}
	if gw.calls != 3 {
		t.Fatalf("calls=%d, expected 3", gw.calls)
	}
}

func TestFetchBalanceExhaustsRetries(t *testing.T) {
	gw := &flakyGateway{
		failures: 10,
		err:      &TransientError{Err: errors.New("rate limited")},
	}

	if _, err := FetchBalance(context.Background(), gw, types.Credentials{}); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if gw.calls != 3 {
		t.Fatalf("calls=%d, expected exactly 3 attempts", gw.calls)
	}
}

func TestFetchBalanceAbortsOnPermanentError(t *testing.T) {
	gw := &flakyGateway{
		failures: 10,
		err:      &RejectedError{Reason: "invalid api key"},
	}

	if _, err := FetchBalance(context.Background(), gw, types.Credentials{}); err == nil {
		t.Fatal("expected permanent error")
	}
	if gw.calls != 1 {
		t.Fatalf("calls=%d, permanent errors must not be retried", gw.calls)
	}
}

func TestIsAmbiguous(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"ambiguous sentinel", ErrAmbiguous, true},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"cancelled", context.Canceled, true},
		{"rejected", &RejectedError{Reason: "bad symbol"}, false},
		{"transient", &TransientError{Err: errors.New("x")}, false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsAmbiguous(tt.err); got != tt.want {
				t.Fatalf("IsAmbiguous(%v)=%v, expected %v", tt.err, got, tt.want)
			}
		})
	}
}
