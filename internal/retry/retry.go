// Package retry re-drives failed orders. Each pass walks the failed set and,
// per order: expires it when its deadline has passed, adopts a matching
// manual order when one exists at the broker, or places a freshly sized
// replacement. Placement uses the capital policy current at that moment, not
// the one from the original attempt.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"steward/internal/broker"
	"steward/internal/calendar"
	"steward/internal/config"
	"steward/internal/events"
	"steward/internal/logger"
	"steward/internal/order"
	"steward/internal/pkg/keylock"
	"steward/internal/pkg/trading"
	"steward/internal/store"
)

// Summary counts what one pass did.
type Summary struct {
	Examined int
	Retried  int
	Linked   int
	Expired  int
	Skipped  int
}

type Engine struct {
	store   store.Store
	broker  broker.Broker
	bus     *events.Bus
	cal     *calendar.Calendar
	trading *config.TradingRuntime
	locks   *keylock.KeyLock
}

func New(st store.Store, bk broker.Broker, bus *events.Bus, cal *calendar.Calendar, tr *config.TradingRuntime, locks *keylock.KeyLock) *Engine {
	if locks == nil {
		locks = keylock.New()
	}
	return &Engine{store: st, broker: bk, bus: bus, cal: cal, trading: tr, locks: locks}
}

// Run retries every failed order once. Transient broker trouble skips the
// affected order; the next pass picks it up again.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	failed, err := e.store.ListFailed(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("retry: listing failed orders: %w", err)
	}
	var sum Summary
	sum.Examined = len(failed)
	for i := range failed {
		o := failed[i]
		e.locks.Lock(o.Symbol)
		outcome, err := e.retryOne(ctx, &o)
		e.locks.Unlock(o.Symbol)
		if err != nil {
			if broker.IsTransient(err) {
				logger.Warnf("retry: order %d (%s): broker unavailable, skipping", o.ID, o.Symbol)
				sum.Skipped++
				continue
			}
			logger.Errorf("retry: order %d (%s): %v", o.ID, o.Symbol, err)
			sum.Skipped++
			continue
		}
		switch outcome {
		case outcomeRetried:
			sum.Retried++
		case outcomeLinked:
			sum.Linked++
		case outcomeExpired:
			sum.Expired++
		default:
			sum.Skipped++
		}
	}
	logger.Infof("retry: pass done, examined=%d retried=%d linked=%d expired=%d skipped=%d",
		sum.Examined, sum.Retried, sum.Linked, sum.Expired, sum.Skipped)
	return sum, nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeRetried
	outcomeLinked
	outcomeExpired
)

func (e *Engine) retryOne(ctx context.Context, o *order.Order) (outcome, error) {
	// A concurrent writer invalidating our read restarts the decision from
	// a fresh row, once.
	for attempt := 0; ; attempt++ {
		out, err := e.decide(ctx, o)
		if err == nil || !errors.Is(err, store.ErrStaleWrite) || attempt >= 1 {
			return out, err
		}
		fresh, rerr := e.store.Get(ctx, o.ID)
		if rerr != nil {
			return outcomeSkipped, rerr
		}
		if fresh.Status != order.StatusFailed {
			logger.Debugf("retry: order %d moved to %s under us, leaving it", o.ID, fresh.Status)
			return outcomeSkipped, nil
		}
		*o = *fresh
	}
}

func (e *Engine) decide(ctx context.Context, o *order.Order) (outcome, error) {
	now := time.Now()

	if !o.FirstFailedAt.IsZero() && now.After(e.cal.ExpiryDeadline(o.FirstFailedAt)) {
		prev := o.Status
		if err := o.Transition(order.StatusCancelled, "expired"); err != nil {
			return outcomeSkipped, err
		}
		if err := e.store.Upsert(ctx, o, prev); err != nil {
			return outcomeSkipped, err
		}
		logger.Infof("retry: order %d (%s) expired, deadline was %s",
			o.ID, o.Symbol, e.cal.ExpiryDeadline(o.FirstFailedAt).Format(time.RFC3339))
		return outcomeExpired, nil
	}

	open, err := e.broker.ListOpenOrders(ctx)
	if err != nil {
		return outcomeSkipped, err
	}
	var manual *broker.OrderInfo
	for i := range open {
		info := open[i]
		if info.Symbol != o.Symbol {
			continue
		}
		if _, err := e.store.ByBrokerOrderID(ctx, info.BrokerOrderID); err == nil {
			// One of ours. A leftover open order for the symbol would
			// collide with the replacement, cancel it first.
			if cerr := e.broker.CancelOrder(ctx, info.Symbol, info.BrokerOrderID); cerr != nil && !errors.Is(cerr, broker.ErrOrderNotFound) {
				return outcomeSkipped, cerr
			}
			logger.Warnf("retry: cancelled leftover broker order %s for %s", info.BrokerOrderID, o.Symbol)
			continue
		} else if !errors.Is(err, store.ErrNotFound) {
			return outcomeSkipped, err
		}
		if info.Side == string(o.Side) && manual == nil {
			manual = &info
		}
	}

	if manual != nil {
		return e.link(ctx, o, manual)
	}
	return e.place(ctx, o, now)
}

// link adopts a manual broker order as the fulfilment of o instead of
// placing a duplicate.
func (e *Engine) link(ctx context.Context, o *order.Order, info *broker.OrderInfo) (outcome, error) {
	prev := o.Status
	if err := o.Transition(order.StatusPending, "linked to manual order"); err != nil {
		return outcomeSkipped, err
	}
	o.BrokerOrderID = info.BrokerOrderID
	o.RequestedQty = info.Qty
	o.RequestedPrice = info.Price
	o.Raw = info.Raw
	if err := e.store.Upsert(ctx, o, prev); err != nil {
		return outcomeSkipped, err
	}
	logger.Infof("retry: order %d (%s) linked to manual broker order %s", o.ID, o.Symbol, info.BrokerOrderID)
	e.publish(events.Event{
		Kind:   events.KindManualOrderLinked,
		Symbol: o.Symbol,
		Payload: events.ManualOrderLinked{
			OrderID:       o.ID,
			BrokerOrderID: info.BrokerOrderID,
			Qty:           info.Qty,
			Price:         info.Price,
		},
	})
	return outcomeLinked, nil
}

func (e *Engine) place(ctx context.Context, o *order.Order, now time.Time) (outcome, error) {
	qty := o.RequestedQty
	price := o.RequestedPrice
	if o.Side == order.SideBuy {
		last, err := e.broker.LastPrice(ctx, o.Symbol)
		if err != nil {
			return outcomeSkipped, err
		}
		cfg := e.trading.Current()
		qty = trading.QtyForCapital(cfg.CapitalPerTrade, last, cfg.LotStep)
		if qty <= 0 {
			logger.Warnf("retry: order %d (%s): capital %.2f buys less than one lot at %.4f, skipping",
				o.ID, o.Symbol, cfg.CapitalPerTrade, last)
			return outcomeSkipped, nil
		}
		if o.Kind == order.KindLimit {
			price = last
		}
	}

	brokerID, err := e.broker.PlaceOrder(ctx, broker.PlaceRequest{
		Symbol:  o.Symbol,
		Side:    string(o.Side),
		Qty:     qty,
		Price:   price,
		Kind:    string(o.Kind),
		Variety: string(o.Variety),
	})

	prev := o.Status
	o.LastRetryAttempt = now

	if err != nil {
		var rej *broker.RejectionError
		if errors.As(err, &rej) {
			// Stays failed with a fresh reason; a rejected attempt does not
			// count toward retry_count.
			o.Reason = rej.Reason
			if uerr := e.store.Upsert(ctx, o, prev); uerr != nil {
				return outcomeSkipped, uerr
			}
			logger.Warnf("retry: order %d (%s) rejected again: %s", o.ID, o.Symbol, rej.Reason)
			return outcomeSkipped, nil
		}
		return outcomeSkipped, err
	}

	if terr := o.Transition(order.StatusPending, "retried"); terr != nil {
		return outcomeSkipped, terr
	}
	o.RetryCount++
	o.BrokerOrderID = brokerID
	o.RequestedQty = qty
	o.RequestedPrice = price
	if err := e.store.Upsert(ctx, o, prev); err != nil {
		return outcomeSkipped, err
	}
	logger.Infof("retry: order %d (%s) re-placed as %s, qty=%.4f retry_count=%d",
		o.ID, o.Symbol, brokerID, qty, o.RetryCount)
	e.publish(events.Event{
		Kind:   events.KindOrderPlaced,
		Symbol: o.Symbol,
		Payload: events.OrderPlaced{
			OrderID:       o.ID,
			BrokerOrderID: brokerID,
			Qty:           qty,
			Price:         price,
			OrderKind:     string(o.Kind),
			Variety:       string(o.Variety),
			Retry:         true,
		},
	})
	return outcomeRetried, nil
}

func (e *Engine) publish(evt events.Event) {
	if e.bus != nil {
		e.bus.Publish(evt)
	}
}
