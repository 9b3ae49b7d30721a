package gormstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"steward/internal/order"
	"steward/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "steward.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newPendingOrder(symbol string) *order.Order {
	return &order.Order{
		Symbol:       symbol,
		Side:         order.SideBuy,
		RequestedQty: 10,
		Kind:         order.KindMarket,
		Variety:      order.VarietyImmediate,
		Status:       order.StatusPending,
	}
}

func TestUpsertInsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	o := newPendingOrder("ABC")
	require.NoError(t, s.Upsert(ctx, o, ""))
	assert.NotZero(t, o.ID)

	got, err := s.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "ABC", got.Symbol)
	assert.Equal(t, order.StatusPending, got.Status)
	assert.Equal(t, 10.0, got.RequestedQty)
}

func TestAtMostOneActiveOrderPerSymbol(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, newPendingOrder("ABC"), ""))
	err := s.Upsert(ctx, newPendingOrder("ABC"), "")
	assert.ErrorIs(t, err, store.ErrActiveOrderExists)

	// A terminal row does not block a fresh one.
	closed := newPendingOrder("XYZ")
	closed.Status = order.StatusClosed
	require.NoError(t, s.Upsert(ctx, closed, ""))
	require.NoError(t, s.Upsert(ctx, newPendingOrder("XYZ"), ""))
}

func TestUpsertOptimisticPrecondition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	o := newPendingOrder("ABC")
	require.NoError(t, s.Upsert(ctx, o, ""))

	// Writer A moves it to ongoing.
	a, err := s.Get(ctx, o.ID)
	require.NoError(t, err)
	require.NoError(t, a.Transition(order.StatusOngoing, ""))
	require.NoError(t, s.Upsert(ctx, a, order.StatusPending))

	// Writer B still believes the order is pending; its write must not land.
	b, err := s.Get(ctx, o.ID)
	require.NoError(t, err)
	b.Status = order.StatusFailed
	err = s.Upsert(ctx, b, order.StatusPending)
	assert.ErrorIs(t, err, store.ErrStaleWrite)

	got, err := s.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusOngoing, got.Status)
}

func TestUpsertUnknownRow(t *testing.T) {
	s := newTestStore(t)
	o := newPendingOrder("ABC")
	o.ID = 4242
	err := s.Upsert(context.Background(), o, order.StatusPending)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestActiveBySymbolAndLists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pending := newPendingOrder("ABC")
	require.NoError(t, s.Upsert(ctx, pending, ""))

	failed := newPendingOrder("DEF")
	failed.Status = order.StatusFailed
	failed.FirstFailedAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, s.Upsert(ctx, failed, ""))

	cancelled := newPendingOrder("GHI")
	cancelled.Status = order.StatusCancelled
	require.NoError(t, s.Upsert(ctx, cancelled, ""))

	got, err := s.ActiveBySymbol(ctx, "ABC")
	require.NoError(t, err)
	assert.Equal(t, pending.ID, got.ID)

	_, err = s.ActiveBySymbol(ctx, "GHI")
	assert.ErrorIs(t, err, store.ErrNotFound)

	open, err := s.ListNonTerminal(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 2)

	failedList, err := s.ListFailed(ctx)
	require.NoError(t, err)
	require.Len(t, failedList, 1)
	assert.Equal(t, "DEF", failedList[0].Symbol)
}

func TestListStale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := newPendingOrder("ABC")
	old.CreatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, s.Upsert(ctx, old, ""))

	fresh := newPendingOrder("DEF")
	require.NoError(t, s.Upsert(ctx, fresh, ""))

	stale, err := s.ListStale(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "ABC", stale[0].Symbol)
}

func TestCountersSince(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	executed := newPendingOrder("ABC")
	executed.Status = order.StatusOngoing
	require.NoError(t, s.Upsert(ctx, executed, ""))

	rejected := newPendingOrder("DEF")
	rejected.Status = order.StatusFailed
	require.NoError(t, s.Upsert(ctx, rejected, ""))

	require.NoError(t, s.Upsert(ctx, newPendingOrder("GHI"), ""))

	c, err := s.CountersSince(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), c.Placed)
	assert.Equal(t, int64(1), c.Executed)
	assert.Equal(t, int64(1), c.Rejected)
	assert.Equal(t, int64(1), c.Pending)
}

func TestCountersSinceIgnoresOldTouchedRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := newPendingOrder("ABC")
	require.NoError(t, s.Upsert(ctx, old, ""))

	// Timestamps have second precision; move the cutoff past the insert.
	time.Sleep(1100 * time.Millisecond)
	cutoff := time.Now()

	require.NoError(t, old.Transition(order.StatusCancelled, "expired"))
	require.NoError(t, s.Upsert(ctx, old, order.StatusPending))

	c, err := s.CountersSince(ctx, cutoff)
	require.NoError(t, err)
	assert.Zero(t, c.Placed)
	assert.Equal(t, int64(1), c.Rejected)
}

func TestArchiveTerminal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	done := newPendingOrder("ABC")
	done.Status = order.StatusClosed
	require.NoError(t, s.Upsert(ctx, done, ""))

	// Not yet past retention.
	n, err := s.ArchiveTerminal(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = s.ArchiveTerminal(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.Get(ctx, done.ID)
	require.NoError(t, err)
	assert.False(t, got.ArchivedAt.IsZero())
}

func TestScopeCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entry := &order.TrackingScopeEntry{Symbol: "ABC", SystemTrackedQty: 10, PreExistingQty: 5}
	require.NoError(t, s.SaveScopeEntry(ctx, entry))

	got, err := s.ScopeEntry(ctx, "ABC")
	require.NoError(t, err)
	assert.Equal(t, 10.0, got.SystemTrackedQty)
	assert.Equal(t, 5.0, got.PreExistingQty)

	// Updates keep pre_existing_qty frozen.
	entry.SystemTrackedQty = 12
	entry.PreExistingQty = 99
	require.NoError(t, s.SaveScopeEntry(ctx, entry))
	got, err = s.ScopeEntry(ctx, "ABC")
	require.NoError(t, err)
	assert.Equal(t, 12.0, got.SystemTrackedQty)
	assert.Equal(t, 5.0, got.PreExistingQty)

	all, err := s.Scope(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, s.DeleteScopeEntry(ctx, "ABC"))
	_, err = s.ScopeEntry(ctx, "ABC")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSaveScopeEntryRejectsNegativeQty(t *testing.T) {
	s := newTestStore(t)
	err := s.SaveScopeEntry(context.Background(), &order.TrackingScopeEntry{Symbol: "ABC", SystemTrackedQty: -1})
	assert.Error(t, err)
}
