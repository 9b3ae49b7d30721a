package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"steward/internal/pkg/circuit"
)

// Guarded decorates a Broker with a shared circuit breaker and a per-call
// timeout. An open breaker surfaces as ErrUnavailable so the owning loops
// treat it as any other transient outage. Rejections never trip the breaker.
type Guarded struct {
	inner   Broker
	breaker *circuit.Breaker
	timeout time.Duration
}

var _ Broker = (*Guarded)(nil)

func NewGuarded(inner Broker, breaker *circuit.Breaker, timeout time.Duration) *Guarded {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Guarded{inner: inner, breaker: breaker, timeout: timeout}
}

func (g *Guarded) Name() string { return g.inner.Name() }

func (g *Guarded) call(ctx context.Context, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	err := g.breaker.Execute(func() error {
		return fn(callCtx)
	}, tripsBreaker)
	if errors.Is(err, circuit.ErrOpen) {
		return fmt.Errorf("%w: circuit open", ErrUnavailable)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: timeout after %s", ErrUnavailable, g.timeout)
	}
	return err
}

// tripsBreaker: only infrastructure failures count; a business rejection is a
// healthy broker saying no.
func tripsBreaker(err error) bool {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return false
	}
	return errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded)
}

func (g *Guarded) PlaceOrder(ctx context.Context, req PlaceRequest) (string, error) {
	var id string
	err := g.call(ctx, func(ctx context.Context) error {
		var err error
		id, err = g.inner.PlaceOrder(ctx, req)
		return err
	})
	return id, err
}

func (g *Guarded) CancelOrder(ctx context.Context, symbol, brokerOrderID string) error {
	return g.call(ctx, func(ctx context.Context) error {
		return g.inner.CancelOrder(ctx, symbol, brokerOrderID)
	})
}

func (g *Guarded) ListOpenOrders(ctx context.Context) ([]OrderInfo, error) {
	var out []OrderInfo
	err := g.call(ctx, func(ctx context.Context) error {
		var err error
		out, err = g.inner.ListOpenOrders(ctx)
		return err
	})
	return out, err
}

func (g *Guarded) GetOrder(ctx context.Context, symbol, brokerOrderID string) (*OrderInfo, error) {
	var out *OrderInfo
	err := g.call(ctx, func(ctx context.Context) error {
		var err error
		out, err = g.inner.GetOrder(ctx, symbol, brokerOrderID)
		return err
	})
	return out, err
}

func (g *Guarded) Holdings(ctx context.Context) (map[string]float64, error) {
	var out map[string]float64
	err := g.call(ctx, func(ctx context.Context) error {
		var err error
		out, err = g.inner.Holdings(ctx)
		return err
	})
	return out, err
}

func (g *Guarded) LastPrice(ctx context.Context, symbol string) (float64, error) {
	var out float64
	err := g.call(ctx, func(ctx context.Context) error {
		var err error
		out, err = g.inner.LastPrice(ctx, symbol)
		return err
	})
	return out, err
}
