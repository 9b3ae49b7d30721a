package reconcile

import (
	"context"
	"path/filepath"
	"testing"

	"steward/internal/events"
	"steward/internal/order"
	"steward/internal/store"
	"steward/internal/store/gormstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) (*Engine, *gormstore.GormStore, *events.Bus) {
	t.Helper()
	st, err := gormstore.New(filepath.Join(t.TempDir(), "steward.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	bus := events.NewBus(16)
	return New(st, nil, bus), st, bus
}

func seedScope(t *testing.T, st store.Store, symbol string, tracked, preExisting float64) {
	t.Helper()
	require.NoError(t, st.SaveScopeEntry(context.Background(), &order.TrackingScopeEntry{
		Symbol:           symbol,
		SystemTrackedQty: tracked,
		PreExistingQty:   preExisting,
	}))
}

func TestRunMatched(t *testing.T) {
	e, st, _ := newEngine(t)
	ctx := context.Background()
	seedScope(t, st, "ABC", 10, 5)

	results, summary, err := e.Run(ctx, map[string]float64{"ABC": 15})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeMatched, results[0].Outcome)
	assert.Equal(t, 1, summary.Matched)

	entry, err := st.ScopeEntry(ctx, "ABC")
	require.NoError(t, err)
	assert.Equal(t, 10.0, entry.SystemTrackedQty)
	assert.False(t, entry.LastReconciledAt.IsZero())
}

func TestRunManualBuy(t *testing.T) {
	e, st, _ := newEngine(t)
	ctx := context.Background()
	seedScope(t, st, "DEF", 10, 0)

	results, summary, err := e.Run(ctx, map[string]float64{"DEF": 15})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeManualBuy, results[0].Outcome)
	assert.Equal(t, 5.0, results[0].Delta)
	assert.Equal(t, 1, summary.ManualBuys)

	entry, err := st.ScopeEntry(ctx, "DEF")
	require.NoError(t, err)
	assert.Equal(t, 15.0, entry.SystemTrackedQty)
}

func TestRunManualSellPartial(t *testing.T) {
	e, st, _ := newEngine(t)
	ctx := context.Background()
	seedScope(t, st, "DEF", 20, 0)

	results, _, err := e.Run(ctx, map[string]float64{"DEF": 12})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeManualSell, results[0].Outcome)
	assert.Equal(t, -8.0, results[0].Delta)

	entry, err := st.ScopeEntry(ctx, "DEF")
	require.NoError(t, err)
	assert.Equal(t, 12.0, entry.SystemTrackedQty)
}

func TestRunPositionClosedRemovesScopeAndClosesOrder(t *testing.T) {
	e, st, _ := newEngine(t)
	ctx := context.Background()
	seedScope(t, st, "GHI", 20, 0)

	open := &order.Order{Symbol: "GHI", Side: order.SideBuy, RequestedQty: 20, Kind: order.KindMarket, Variety: order.VarietyImmediate, Status: order.StatusPending}
	require.NoError(t, st.Upsert(ctx, open, ""))

	results, summary, err := e.Run(ctx, map[string]float64{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, OutcomePositionClosed, results[0].Outcome)
	assert.Equal(t, 1, summary.Closed)

	_, err = st.ScopeEntry(ctx, "GHI")
	assert.ErrorIs(t, err, store.ErrNotFound)

	got, err := st.Get(ctx, open.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusClosed, got.Status)
}

func TestRunIdempotent(t *testing.T) {
	e, st, _ := newEngine(t)
	ctx := context.Background()
	seedScope(t, st, "ABC", 10, 0)
	seedScope(t, st, "DEF", 20, 3)
	holdings := map[string]float64{"ABC": 15, "DEF": 9}

	_, first, err := e.Run(ctx, holdings)
	require.NoError(t, err)
	assert.Equal(t, 1, first.ManualBuys)
	assert.Equal(t, 1, first.ManualSells)

	results, second, err := e.Run(ctx, holdings)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Matched)
	assert.Zero(t, second.ManualBuys)
	assert.Zero(t, second.ManualSells)
	for _, r := range results {
		assert.Equal(t, OutcomeMatched, r.Outcome)
	}

	// Convergence: tracked + pre-existing equals broker quantity everywhere.
	scope, err := st.Scope(ctx)
	require.NoError(t, err)
	for _, entry := range scope {
		assert.Equal(t, holdings[entry.Symbol], entry.ExpectedQty(), entry.Symbol)
	}
}

func TestRunConflictEscalatesWithoutMutation(t *testing.T) {
	e, st, bus := newEngine(t)
	ctx := context.Background()
	sub := bus.Subscribe()
	seedScope(t, st, "ABC", 10, 0)

	_, summary, err := e.Run(ctx, map[string]float64{"ABC": -3})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Conflicts)

	entry, err := st.ScopeEntry(ctx, "ABC")
	require.NoError(t, err)
	assert.Equal(t, 10.0, entry.SystemTrackedQty, "conflict must not be auto-resolved")

	evt := <-sub
	assert.Equal(t, events.KindReconciliationAlert, evt.Kind)
	assert.Equal(t, "ABC", evt.Symbol)
}
