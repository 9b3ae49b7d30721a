// Package verifier runs the background loop that polls the broker for the
// status of every non-terminal order and drives the resulting state
// transitions. Side effects travel as events; the loop itself only talks to
// the broker and the store.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"steward/internal/broker"
	"steward/internal/events"
	"steward/internal/logger"
	"steward/internal/order"
	"steward/internal/store"

	"golang.org/x/sync/singleflight"
)

// Params configures a Verifier.
type Params struct {
	Store    store.Store
	Broker   broker.Broker
	Bus      *events.Bus
	Interval time.Duration // default 30m
	// Grace is how long an unacknowledged placement may stay invisible at
	// the broker before it is declared failed.
	Grace time.Duration // default 2m
}

type Verifier struct {
	store    store.Store
	broker   broker.Broker
	bus      *events.Bus
	interval time.Duration
	grace    time.Duration

	sf singleflight.Group

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

func New(p Params) *Verifier {
	if p.Interval <= 0 {
		p.Interval = 30 * time.Minute
	}
	if p.Grace <= 0 {
		p.Grace = 2 * time.Minute
	}
	return &Verifier{
		store:    p.Store,
		broker:   p.Broker,
		bus:      p.Bus,
		interval: p.Interval,
		grace:    p.Grace,
	}
}

// Start launches the polling loop. It returns immediately; use Stop for a
// clean shutdown.
func (v *Verifier) Start(ctx context.Context) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.running {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	v.cancel = cancel
	v.done = make(chan struct{})
	v.running = true

	go func() {
		defer close(v.done)
		logger.Infof("verifier: started, interval=%s", v.interval)
		ticker := time.NewTicker(v.interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				logger.Infof("verifier: stopped")
				return
			case <-ticker.C:
				if err := v.Cycle(loopCtx); err != nil {
					logger.Warnf("verifier: cycle failed: %v", err)
				}
			}
		}
	}()
}

// Stop signals the loop and waits for any in-flight cycle to finish, so no
// update is left half-applied.
func (v *Verifier) Stop() {
	v.mu.Lock()
	if !v.running {
		v.mu.Unlock()
		return
	}
	v.running = false
	cancel, done := v.cancel, v.done
	v.mu.Unlock()

	cancel()
	<-done
}

// Cycle runs one verification pass over every non-terminal order. Transient
// broker failures abort the pass with no state change.
func (v *Verifier) Cycle(ctx context.Context) error {
	locals, err := v.store.ListNonTerminal(ctx)
	if err != nil {
		return fmt.Errorf("verifier: listing orders: %w", err)
	}
	if len(locals) == 0 {
		return nil
	}
	open, err := v.broker.ListOpenOrders(ctx)
	if err != nil {
		if broker.IsTransient(err) {
			logger.Warnf("verifier: broker unavailable, retrying next cycle: %v", err)
			return nil
		}
		return err
	}
	openByID := make(map[string]broker.OrderInfo, len(open))
	for _, info := range open {
		openByID[info.BrokerOrderID] = info
	}

	for i := range locals {
		o := locals[i]
		if err := v.verifyOne(ctx, &o, openByID); err != nil {
			if errors.Is(err, store.ErrStaleWrite) {
				logger.Debugf("verifier: order %d changed under us, next cycle picks it up", o.ID)
				continue
			}
			if broker.IsTransient(err) {
				logger.Warnf("verifier: order %d: broker unavailable: %v", o.ID, err)
				continue
			}
			logger.Errorf("verifier: order %d: %v", o.ID, err)
		}
	}
	return nil
}

func (v *Verifier) verifyOne(ctx context.Context, o *order.Order, openByID map[string]broker.OrderInfo) error {
	if !o.Acknowledged() {
		// Placement was attempted but no broker id ever came back. After
		// the grace period this is a placement failure, not a slow broker.
		if time.Since(o.CreatedAt) < v.grace {
			return nil
		}
		if o.Status != order.StatusPending {
			return nil
		}
		prev := o.Status
		if err := o.MarkFailed("placement never acknowledged by broker", time.Now()); err != nil {
			return err
		}
		if err := v.store.Upsert(ctx, o, prev); err != nil {
			return err
		}
		v.publish(events.Event{
			Kind:    events.KindOrderRejected,
			Symbol:  o.Symbol,
			Payload: events.OrderRejected{OrderID: o.ID, Reason: o.Reason},
		})
		return nil
	}

	if info, ok := openByID[o.BrokerOrderID]; ok {
		return v.applyBrokerState(ctx, o, &info)
	}
	// Acknowledged but not in the open list: it finished one way or another.
	info, err := v.broker.GetOrder(ctx, o.Symbol, o.BrokerOrderID)
	if err != nil {
		if errors.Is(err, broker.ErrOrderNotFound) {
			logger.Warnf("verifier: order %d (%s) acknowledged as %s but unknown to broker",
				o.ID, o.Symbol, o.BrokerOrderID)
			return nil
		}
		return err
	}
	return v.applyBrokerState(ctx, o, info)
}

// applyBrokerState reconciles one local order with the broker's view of it.
func (v *Verifier) applyBrokerState(ctx context.Context, o *order.Order, info *broker.OrderInfo) error {
	prev := o.Status
	switch info.State {
	case broker.StateFilled:
		if err := o.Fill(info.AvgFillPrice, info.FilledQty, info.UpdatedAt); err != nil {
			return err
		}
		o.Raw = info.Raw
		if err := v.store.Upsert(ctx, o, prev); err != nil {
			return err
		}
		v.publish(events.Event{
			Kind:   events.KindOrderExecuted,
			Symbol: o.Symbol,
			Payload: events.OrderExecuted{
				OrderID: o.ID,
				Side:    string(o.Side),
				Price:   info.AvgFillPrice,
				Qty:     info.FilledQty,
			},
		})
		return nil

	case broker.StateRejected:
		reason := info.Reason
		if reason == "" {
			reason = "rejected by broker"
		}
		if err := o.MarkFailed(reason, time.Now()); err != nil {
			return err
		}
		o.Raw = info.Raw
		if err := v.store.Upsert(ctx, o, prev); err != nil {
			return err
		}
		v.publish(events.Event{
			Kind:    events.KindOrderRejected,
			Symbol:  o.Symbol,
			Payload: events.OrderRejected{OrderID: o.ID, Reason: reason},
		})
		return nil

	case broker.StateCancelled:
		if err := o.Transition(order.StatusCancelled, "cancelled at broker"); err != nil {
			return err
		}
		o.Raw = info.Raw
		return v.store.Upsert(ctx, o, prev)

	case broker.StatePartial:
		if info.FilledQty == o.ExecutionQty {
			return nil
		}
		o.ExecutionQty = info.FilledQty
		o.ExecutionPrice = info.AvgFillPrice
		o.Raw = info.Raw
		if err := v.store.Upsert(ctx, o, prev); err != nil {
			return err
		}
		v.publish(events.Event{
			Kind:    events.KindOrderPartiallyFilled,
			Symbol:  o.Symbol,
			Payload: events.OrderPartiallyFilled{OrderID: o.ID, Qty: info.FilledQty},
		})
		return nil

	default: // still open, nothing to do
		return nil
	}
}

// VerifyOrder verifies one order by broker id on demand, for callers that
// need synchronous confirmation right after placement. Concurrent calls for
// the same id share one broker round trip.
func (v *Verifier) VerifyOrder(ctx context.Context, brokerOrderID string) (*order.Order, error) {
	res, err, _ := v.sf.Do(brokerOrderID, func() (any, error) {
		o, err := v.store.ByBrokerOrderID(ctx, brokerOrderID)
		if err != nil {
			return nil, err
		}
		if o.Status.Terminal() {
			return o, nil
		}
		info, err := v.broker.GetOrder(ctx, o.Symbol, brokerOrderID)
		if err != nil {
			return nil, err
		}
		if err := v.applyBrokerState(ctx, o, info); err != nil {
			return nil, err
		}
		return o, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*order.Order), nil
}

func (v *Verifier) publish(evt events.Event) {
	if v.bus != nil {
		v.bus.Publish(evt)
	}
}
