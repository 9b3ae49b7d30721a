// Package broker defines the versioned adapter interface to the brokerage.
// Every backend implements the same explicit contract; there is no runtime
// probing of SDK method variants.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// OrderState is the broker-side status of an order.
type OrderState string

const (
	StateOpen      OrderState = "open"
	StatePartial   OrderState = "partial"
	StateFilled    OrderState = "filled"
	StateRejected  OrderState = "rejected"
	StateCancelled OrderState = "cancelled"
)

// PlaceRequest describes one order submission.
type PlaceRequest struct {
	Symbol  string
	Side    string // "buy" or "sell"
	Qty     float64
	Price   float64 // 0 for market orders
	Kind    string  // "market" or "limit"
	Variety string  // "immediate" or "amo"
}

// OrderInfo is the broker's view of one order.
type OrderInfo struct {
	BrokerOrderID string
	Symbol        string
	Side          string
	Qty           float64
	FilledQty     float64
	Price         float64
	AvgFillPrice  float64
	State         OrderState
	Reason        string // reject/cancel reason when the broker reports one
	UpdatedAt     time.Time
	Raw           string // raw broker payload for audit
}

// Broker is the adapter contract consumed by the lifecycle engine. All calls
// are network I/O and must honor ctx deadlines; the engine treats timeouts as
// transient.
type Broker interface {
	Name() string

	// PlaceOrder submits the order and returns the broker order id.
	PlaceOrder(ctx context.Context, req PlaceRequest) (string, error)

	// CancelOrder requests cancellation of an open order. Symbol is required
	// because some backends key their order APIs by symbol.
	CancelOrder(ctx context.Context, symbol, brokerOrderID string) error

	// ListOpenOrders returns every currently open (or partially filled)
	// order on the account, system and manual alike.
	ListOpenOrders(ctx context.Context) ([]OrderInfo, error)

	// GetOrder looks up one order by id, open or done. ErrOrderNotFound when
	// the broker has no record of it.
	GetOrder(ctx context.Context, symbol, brokerOrderID string) (*OrderInfo, error)

	// Holdings returns the account's current holdings keyed by trading
	// symbol.
	Holdings(ctx context.Context) (map[string]float64, error)

	// LastPrice returns the latest traded price for symbol.
	LastPrice(ctx context.Context, symbol string) (float64, error)
}

var (
	// ErrUnavailable marks a transient broker failure (network, timeout,
	// 5xx, open circuit). The owning loop retries next cycle with no state
	// change.
	ErrUnavailable = errors.New("broker: unavailable")

	// ErrOrderNotFound means the broker has no record of the order id.
	ErrOrderNotFound = errors.New("broker: order not found")
)

// RejectionError is terminal for the attempt; Reason carries the broker's
// verbatim message.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("broker: order rejected: %s", e.Reason)
}

// IsTransient reports whether err should be retried next cycle rather than
// recorded as a rejection.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var rej *RejectionError
	return !errors.As(err, &rej) && errors.Is(err, context.Canceled)
}
