// Package events carries the lifecycle events emitted by the engine. The
// verifier and its peers publish here; the notification dispatcher and any
// other consumer subscribe independently, keeping polling decoupled from side
// effects.
package events

import (
	"time"

	"steward/internal/store"
)

type Kind string

const (
	KindOrderPlaced          Kind = "order_placed"
	KindOrderRejected        Kind = "order_rejected"
	KindOrderExecuted        Kind = "order_executed"
	KindOrderPartiallyFilled Kind = "order_partially_filled"
	KindManualOrderLinked    Kind = "manual_order_linked"
	KindEODSummary           Kind = "eod_summary"
	KindReconciliationAlert  Kind = "reconciliation_alert"
)

// Event is one lifecycle occurrence. Payload holds the kind-specific struct
// below.
type Event struct {
	ID      string
	Kind    Kind
	Symbol  string
	At      time.Time
	Payload any
}

type OrderPlaced struct {
	OrderID       int64
	BrokerOrderID string
	Qty           float64
	Price         float64
	OrderKind     string
	Variety       string
	Retry         bool
}

type OrderRejected struct {
	OrderID int64
	Reason  string
}

type OrderExecuted struct {
	OrderID int64
	Side    string
	Price   float64
	Qty     float64
}

type OrderPartiallyFilled struct {
	OrderID int64
	Qty     float64
}

type ManualOrderLinked struct {
	OrderID       int64
	BrokerOrderID string
	Qty           float64
	Price         float64
}

type EODSummary struct {
	Counters       store.Counters
	Reconciliation string
	StepsCompleted int
	StepsFailed    int
}

// ReconciliationAlert is the only event class that escalates to a human
// without an automatic remediation path.
type ReconciliationAlert struct {
	Detail string
}
