// Package order holds the order and tracking-scope domain model plus the
// state-machine rules. It performs no I/O.
package order

import (
	"fmt"
	"strings"
	"time"
)

// Kind is the price instruction of an order.
type Kind string

const (
	KindMarket Kind = "market"
	KindLimit  Kind = "limit"
)

// Variety distinguishes regular-session orders from after-market orders that
// queue for the next session's open.
type Variety string

const (
	VarietyImmediate Variety = "immediate"
	VarietyAMO       Variety = "amo"
)

// Side of the placement at the broker.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Order is one placement-attempt lifecycle. Once Status is terminal the row
// is immutable.
type Order struct {
	ID            int64
	Symbol        string
	Side          Side
	RequestedQty  float64
	RequestedPrice float64 // 0 for market orders
	Kind          Kind
	Variety       Variety

	BrokerOrderID string // empty until the broker acknowledges placement
	Status        Status
	Reason        string

	RetryCount       int
	FirstFailedAt    time.Time
	LastRetryAttempt time.Time

	ExecutionPrice float64
	ExecutionQty   float64
	ExecutionTime  time.Time

	Raw        string // last raw broker payload, for audit
	ArchivedAt time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Acknowledged reports whether the broker ever returned an order id for this
// placement.
func (o *Order) Acknowledged() bool {
	return strings.TrimSpace(o.BrokerOrderID) != ""
}

// Transition moves the order to the target status, rejecting anything the
// state machine forbids. Reason replaces the previous reason when non-empty.
func (o *Order) Transition(to Status, reason string) error {
	if o.Status.Terminal() {
		return fmt.Errorf("order %d (%s): status %s is terminal", o.ID, o.Symbol, o.Status)
	}
	if !CanTransition(o.Status, to) {
		return fmt.Errorf("order %d (%s): illegal transition %s -> %s", o.ID, o.Symbol, o.Status, to)
	}
	o.Status = to
	if strings.TrimSpace(reason) != "" {
		o.Reason = reason
	}
	return nil
}

// MarkFailed records a placement failure, stamping FirstFailedAt on the first
// occurrence only so the retry expiry window is anchored to the original
// failure.
func (o *Order) MarkFailed(reason string, now time.Time) error {
	if err := o.Transition(StatusFailed, reason); err != nil {
		return err
	}
	if o.FirstFailedAt.IsZero() {
		o.FirstFailedAt = now
	}
	return nil
}

// Fill records the broker execution details and moves the order to its
// post-fill status: ongoing for a buy, closed for a sell.
func (o *Order) Fill(price, qty float64, at time.Time) error {
	target := StatusOngoing
	if o.Side == SideSell {
		target = StatusClosed
	}
	if err := o.Transition(target, ""); err != nil {
		return err
	}
	o.ExecutionPrice = price
	o.ExecutionQty = qty
	o.ExecutionTime = at
	return nil
}

// TrackingScopeEntry is one symbol this system is responsible for.
// PreExistingQty is frozen at scope-creation time and never mutated.
type TrackingScopeEntry struct {
	Symbol           string
	SystemTrackedQty float64
	PreExistingQty   float64
	LastReconciledAt time.Time
}

// ExpectedQty is what the broker should be holding if nothing happened
// outside this system.
func (e TrackingScopeEntry) ExpectedQty() float64 {
	return e.SystemTrackedQty + e.PreExistingQty
}
