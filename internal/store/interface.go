// Package store defines the persistence contract for orders and the tracking
// scope. It is the single source of truth shared by the verifier, retry and
// reconciliation loops; correctness under concurrency rests on the
// conditional-write discipline of Upsert, not on a global lock.
package store

import (
	"context"
	"errors"
	"time"

	"steward/internal/order"
)

var (
	// ErrStaleWrite means the caller's previously read status no longer
	// matches the row. The caller must re-read and re-run its own decision.
	ErrStaleWrite = errors.New("store: stale write, re-read required")

	// ErrNotFound is returned when no matching row exists.
	ErrNotFound = errors.New("store: not found")

	// ErrActiveOrderExists means a non-terminal order already exists for the
	// symbol. At most one may exist at a time.
	ErrActiveOrderExists = errors.New("store: active order already exists for symbol")
)

// Counters aggregates the day's order activity for the EOD summary.
type Counters struct {
	Placed   int64
	Executed int64
	Rejected int64
	Pending  int64
}

// OrderStore handles order rows.
type OrderStore interface {
	// Upsert inserts o when o.ID == 0, otherwise updates it conditionally:
	// the row is written only if its persisted status still equals prev.
	// A mismatch fails with ErrStaleWrite. Inserts enforce the
	// one-non-terminal-order-per-symbol invariant (ErrActiveOrderExists).
	Upsert(ctx context.Context, o *order.Order, prev order.Status) error

	Get(ctx context.Context, id int64) (*order.Order, error)
	ByBrokerOrderID(ctx context.Context, brokerOrderID string) (*order.Order, error)

	// ActiveBySymbol returns the single non-terminal order for symbol, or
	// ErrNotFound.
	ActiveBySymbol(ctx context.Context, symbol string) (*order.Order, error)

	ListNonTerminal(ctx context.Context) ([]order.Order, error)
	ListFailed(ctx context.Context) ([]order.Order, error)
	// ListStale returns non-terminal orders created before the cutoff.
	ListStale(ctx context.Context, olderThan time.Time) ([]order.Order, error)

	// CountersSince tallies placed/executed/rejected/pending since the cutoff.
	CountersSince(ctx context.Context, since time.Time) (Counters, error)
	// ArchiveTerminal stamps terminal orders updated before the cutoff and
	// returns how many rows were archived.
	ArchiveTerminal(ctx context.Context, olderThan time.Time) (int64, error)
}

// ScopeStore handles tracking-scope rows.
type ScopeStore interface {
	Scope(ctx context.Context) ([]order.TrackingScopeEntry, error)
	ScopeEntry(ctx context.Context, symbol string) (*order.TrackingScopeEntry, error)
	SaveScopeEntry(ctx context.Context, entry *order.TrackingScopeEntry) error
	// DeleteScopeEntry removes the row entirely; a fully closed position is
	// deleted, never merely zeroed.
	DeleteScopeEntry(ctx context.Context, symbol string) error
}

// Store is the entry point for database access.
type Store interface {
	OrderStore
	ScopeStore
	Close() error
}
