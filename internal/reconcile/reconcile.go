// Package reconcile compares the locally tracked quantities against the
// broker's authoritative holdings and absorbs the differences: manual buys
// and sells are folded into the tracking scope, fully closed positions drop
// out of it.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"steward/internal/events"
	"steward/internal/logger"
	"steward/internal/order"
	"steward/internal/pkg/keylock"
	"steward/internal/store"
)

type Outcome string

const (
	OutcomeMatched        Outcome = "matched"
	OutcomeManualBuy      Outcome = "manual_buy_detected"
	OutcomeManualSell     Outcome = "manual_sell_detected"
	OutcomePositionClosed Outcome = "position_closed"
)

// Result is the classification of one tracked symbol in one pass.
type Result struct {
	Symbol   string
	Outcome  Outcome
	Expected float64
	Actual   float64
	Delta    float64 // quantity applied to system_tracked_qty (signed)
}

// Summary aggregates one pass.
type Summary struct {
	At          time.Time
	Matched     int
	ManualBuys  int
	ManualSells int
	Closed      int
	Conflicts   int
}

// Render produces the human-readable block logged and attached to the EOD
// summary.
func (s Summary) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "reconciliation %s\n", s.At.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "  matched:      %d\n", s.Matched)
	fmt.Fprintf(&b, "  manual buys:  %d\n", s.ManualBuys)
	fmt.Fprintf(&b, "  manual sells: %d\n", s.ManualSells)
	fmt.Fprintf(&b, "  closed:       %d\n", s.Closed)
	if s.Conflicts > 0 {
		fmt.Fprintf(&b, "  CONFLICTS:    %d (manual review required)\n", s.Conflicts)
	}
	return b.String()
}

// ConflictError marks a divergence that maps to no known classification. It
// is flagged for manual review and never auto-resolved.
type ConflictError struct {
	Symbol string
	Detail string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("reconciliation conflict on %s: %s", e.Symbol, e.Detail)
}

// Engine runs reconciliation passes.
type Engine struct {
	store store.Store
	locks *keylock.KeyLock
	bus   *events.Bus
}

func New(st store.Store, locks *keylock.KeyLock, bus *events.Bus) *Engine {
	if locks == nil {
		locks = keylock.New()
	}
	return &Engine{store: st, locks: locks, bus: bus}
}

// Run reconciles every tracked symbol against the holdings snapshot. The
// pass is idempotent: a second run with unchanged holdings classifies every
// symbol as matched. Per-symbol conflicts are collected, not fatal.
func (e *Engine) Run(ctx context.Context, holdings map[string]float64) ([]Result, Summary, error) {
	scope, err := e.store.Scope(ctx)
	if err != nil {
		return nil, Summary{}, fmt.Errorf("reconcile: loading scope: %w", err)
	}
	summary := Summary{At: time.Now()}
	results := make([]Result, 0, len(scope))

	for _, entry := range scope {
		res, err := e.reconcileSymbol(ctx, entry.Symbol, holdings[entry.Symbol])
		if err != nil {
			var conflict *ConflictError
			if errors.As(err, &conflict) {
				summary.Conflicts++
				logger.Errorf("reconcile: %v", conflict)
				e.publishAlert(conflict)
				continue
			}
			return results, summary, err
		}
		results = append(results, res)
		switch res.Outcome {
		case OutcomeMatched:
			summary.Matched++
		case OutcomeManualBuy:
			summary.ManualBuys++
		case OutcomeManualSell:
			summary.ManualSells++
		case OutcomePositionClosed:
			summary.Closed++
		}
	}
	logger.InfoBlock(summary.Render())
	return results, summary, nil
}

// reconcileSymbol holds the symbol's critical section across the
// read-modify-write so a concurrent retry placement cannot lose its update.
func (e *Engine) reconcileSymbol(ctx context.Context, symbol string, actual float64) (Result, error) {
	e.locks.Lock(symbol)
	defer e.locks.Unlock(symbol)

	entry, err := e.store.ScopeEntry(ctx, symbol)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Result{}, &ConflictError{Symbol: symbol, Detail: "scope entry disappeared mid-pass"}
		}
		return Result{}, err
	}
	expected := entry.ExpectedQty()
	if actual < 0 || expected < 0 {
		return Result{}, &ConflictError{
			Symbol: symbol,
			Detail: fmt.Sprintf("negative quantity (expected=%.4f actual=%.4f)", expected, actual),
		}
	}

	res := Result{Symbol: symbol, Expected: expected, Actual: actual}
	now := time.Now()

	switch {
	case actual == expected:
		res.Outcome = OutcomeMatched
		entry.LastReconciledAt = now
		return res, e.store.SaveScopeEntry(ctx, entry)

	case actual == 0:
		res.Outcome = OutcomePositionClosed
		res.Delta = -entry.SystemTrackedQty
		if err := e.closeOpenOrder(ctx, symbol); err != nil {
			return res, err
		}
		return res, e.store.DeleteScopeEntry(ctx, symbol)

	case actual > expected:
		res.Outcome = OutcomeManualBuy
		res.Delta = actual - expected
		entry.SystemTrackedQty += res.Delta
		entry.LastReconciledAt = now
		return res, e.store.SaveScopeEntry(ctx, entry)

	default: // 0 < actual < expected
		res.Outcome = OutcomeManualSell
		res.Delta = -(expected - actual)
		entry.SystemTrackedQty += res.Delta
		if entry.SystemTrackedQty < 0 {
			entry.SystemTrackedQty = 0
		}
		entry.LastReconciledAt = now
		return res, e.store.SaveScopeEntry(ctx, entry)
	}
}

// closeOpenOrder forces any non-terminal order on the symbol to closed; the
// position is gone at the broker, so the order has nothing left to do.
func (e *Engine) closeOpenOrder(ctx context.Context, symbol string) error {
	for {
		o, err := e.store.ActiveBySymbol(ctx, symbol)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		}
		prev := o.Status
		if err := o.Transition(order.StatusClosed, "position closed at broker"); err != nil {
			logger.Warnf("reconcile: cannot close order %d on %s: %v", o.ID, symbol, err)
			return nil
		}
		err = e.store.Upsert(ctx, o, prev)
		if err == nil {
			return nil
		}
		if errors.Is(err, store.ErrStaleWrite) {
			continue // another loop moved it; re-read and re-decide
		}
		return err
	}
}

func (e *Engine) publishAlert(conflict *ConflictError) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.Event{
		Kind:    events.KindReconciliationAlert,
		Symbol:  conflict.Symbol,
		Payload: events.ReconciliationAlert{Detail: conflict.Detail},
	})
}
