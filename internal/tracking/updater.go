// Package tracking keeps the tracking scope in step with executions. It
// consumes the event bus independently of the notification path, so polling
// stays decoupled from both kinds of side effect.
package tracking

import (
	"context"
	"errors"

	"steward/internal/events"
	"steward/internal/logger"
	"steward/internal/order"
	"steward/internal/pkg/keylock"
	"steward/internal/store"
)

type Updater struct {
	store store.Store
	locks *keylock.KeyLock
}

func NewUpdater(st store.Store, locks *keylock.KeyLock) *Updater {
	if locks == nil {
		locks = keylock.New()
	}
	return &Updater{store: st, locks: locks}
}

// Run consumes events until ctx is cancelled or the channel closes.
func (u *Updater) Run(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := u.Apply(ctx, evt); err != nil {
				logger.Errorf("tracking: applying %s for %s: %v", evt.Kind, evt.Symbol, err)
			}
		}
	}
}

// Apply folds one event into the scope. Only executions move quantities;
// everything else is ignored.
func (u *Updater) Apply(ctx context.Context, evt events.Event) error {
	exec, ok := evt.Payload.(events.OrderExecuted)
	if !ok || evt.Kind != events.KindOrderExecuted {
		return nil
	}
	symbol := evt.Symbol

	u.locks.Lock(symbol)
	defer u.locks.Unlock(symbol)

	entry, err := u.store.ScopeEntry(ctx, symbol)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		entry = &order.TrackingScopeEntry{Symbol: symbol}
	}
	if exec.Side == string(order.SideSell) {
		entry.SystemTrackedQty -= exec.Qty
		if entry.SystemTrackedQty < 0 {
			entry.SystemTrackedQty = 0
		}
	} else {
		entry.SystemTrackedQty += exec.Qty
	}
	// A zeroed entry stays until reconciliation confirms the broker side is
	// flat too; only reconciliation deletes scope rows.
	return u.store.SaveScopeEntry(ctx, entry)
}
