package retry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"steward/internal/broker"
	"steward/internal/calendar"
	"steward/internal/config"
	"steward/internal/events"
	"steward/internal/order"
	"steward/internal/store/gormstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T, trading config.TradingConfig) (*Engine, *gormstore.GormStore, *broker.Paper, <-chan events.Event) {
	t.Helper()
	st, err := gormstore.New(filepath.Join(t.TempDir(), "steward.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	pb := broker.NewPaper()
	bus := events.NewBus(16)
	ch := bus.Subscribe()
	cal, err := calendar.New(calendar.Config{Timezone: "UTC", SessionOpen: "09:15", SessionClose: "15:30"})
	require.NoError(t, err)
	e := New(st, pb, bus, cal, config.NewTradingRuntime(trading), nil)
	return e, st, pb, ch
}

func seedFailed(t *testing.T, st *gormstore.GormStore, symbol string, side order.Side, firstFailed time.Time) *order.Order {
	t.Helper()
	o := &order.Order{
		Symbol:        symbol,
		Side:          side,
		RequestedQty:  10,
		Kind:          order.KindLimit,
		Status:        order.StatusFailed,
		Reason:        "insufficient funds",
		FirstFailedAt: firstFailed,
	}
	require.NoError(t, st.Upsert(context.Background(), o, ""))
	return o
}

func drain(ch <-chan events.Event) []events.Event {
	var out []events.Event
	for {
		select {
		case evt := <-ch:
			out = append(out, evt)
		default:
			return out
		}
	}
}

func TestRunPlacesRecomputedOrder(t *testing.T) {
	e, st, pb, ch := newEngine(t, config.TradingConfig{CapitalPerTrade: 1000, LotStep: 1})
	ctx := context.Background()
	o := seedFailed(t, st, "ABC", order.SideBuy, time.Now())
	pb.SetPrice("ABC", 120)

	sum, err := e.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Retried)

	got, err := st.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.NotEmpty(t, got.BrokerOrderID)
	assert.Equal(t, 8.0, got.RequestedQty) // floor(1000/120)
	assert.False(t, got.LastRetryAttempt.IsZero())

	evts := drain(ch)
	require.Len(t, evts, 1)
	assert.Equal(t, events.KindOrderPlaced, evts[0].Kind)
	assert.True(t, evts[0].Payload.(events.OrderPlaced).Retry)
}

func TestRunLinksManualOrder(t *testing.T) {
	e, st, pb, ch := newEngine(t, config.TradingConfig{CapitalPerTrade: 1000, LotStep: 1})
	ctx := context.Background()
	o := seedFailed(t, st, "ABC", order.SideBuy, time.Now())
	pb.SetPrice("ABC", 120)
	manualID := pb.AddManualOrder("ABC", "buy", 7, 118, broker.StateOpen)

	sum, err := e.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Linked)
	assert.Zero(t, sum.Retried)

	got, err := st.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, got.Status)
	assert.Equal(t, manualID, got.BrokerOrderID)
	assert.Equal(t, 7.0, got.RequestedQty)
	assert.Zero(t, got.RetryCount)

	// No replacement placed at the broker.
	open, err := pb.ListOpenOrders(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 1)

	evts := drain(ch)
	require.Len(t, evts, 1)
	assert.Equal(t, events.KindManualOrderLinked, evts[0].Kind)
}

func TestRunIgnoresManualOrderOtherSide(t *testing.T) {
	e, st, pb, _ := newEngine(t, config.TradingConfig{CapitalPerTrade: 1000, LotStep: 1})
	ctx := context.Background()
	o := seedFailed(t, st, "ABC", order.SideBuy, time.Now())
	pb.SetPrice("ABC", 100)
	pb.AddManualOrder("ABC", "sell", 7, 118, broker.StateOpen)

	sum, err := e.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Retried)

	got, err := st.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, got.Status)
	assert.Equal(t, 10.0, got.RequestedQty) // 1000/100
}

func TestRunExpiresPastNextSessionClose(t *testing.T) {
	e, st, pb, _ := newEngine(t, config.TradingConfig{CapitalPerTrade: 1000, LotStep: 1})
	ctx := context.Background()
	// Failed on a Friday; the deadline is the following Monday's close,
	// which is long past by now.
	friday := time.Date(2025, 6, 6, 11, 0, 0, 0, time.UTC)
	o := seedFailed(t, st, "ABC", order.SideBuy, friday)
	pb.SetPrice("ABC", 120)

	sum, err := e.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Expired)

	got, err := st.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, got.Status)
	assert.Equal(t, "expired", got.Reason)
	assert.Empty(t, got.BrokerOrderID)
}

func TestRunRejectionKeepsFailed(t *testing.T) {
	e, st, pb, ch := newEngine(t, config.TradingConfig{CapitalPerTrade: 1000, LotStep: 1})
	ctx := context.Background()
	o := seedFailed(t, st, "ABC", order.SideBuy, time.Now())
	pb.SetPrice("ABC", 120)
	pb.RejectNext("margin exceeded")

	sum, err := e.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Skipped)

	got, err := st.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusFailed, got.Status)
	assert.Equal(t, "margin exceeded", got.Reason)
	assert.Zero(t, got.RetryCount)
	assert.False(t, got.LastRetryAttempt.IsZero())
	assert.Empty(t, drain(ch))
}

func TestRunBrokerOutageLeavesOrderUntouched(t *testing.T) {
	e, st, pb, _ := newEngine(t, config.TradingConfig{CapitalPerTrade: 1000, LotStep: 1})
	ctx := context.Background()
	o := seedFailed(t, st, "ABC", order.SideBuy, time.Now())
	pb.FailNext(broker.ErrUnavailable)

	sum, err := e.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Skipped)

	got, err := st.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusFailed, got.Status)
	assert.Zero(t, got.RetryCount)
}

func TestRunCancelsLeftoverSystemOrder(t *testing.T) {
	e, st, pb, _ := newEngine(t, config.TradingConfig{CapitalPerTrade: 1000, LotStep: 1})
	ctx := context.Background()
	pb.SetPrice("ABC", 100)

	// The failed order still has an open twin at the broker from the
	// original attempt.
	leftoverID, err := pb.PlaceOrder(ctx, broker.PlaceRequest{Symbol: "ABC", Side: "buy", Qty: 10, Price: 100})
	require.NoError(t, err)
	o := seedFailed(t, st, "ABC", order.SideBuy, time.Now())
	o.BrokerOrderID = leftoverID
	require.NoError(t, st.Upsert(ctx, o, order.StatusFailed))

	sum, err := e.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Retried)

	info, err := pb.GetOrder(ctx, "ABC", leftoverID)
	require.NoError(t, err)
	assert.Equal(t, broker.StateCancelled, info.State)

	got, err := st.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, got.Status)
	assert.NotEqual(t, leftoverID, got.BrokerOrderID)
}

func TestRunCapitalBelowOneLot(t *testing.T) {
	e, st, pb, _ := newEngine(t, config.TradingConfig{CapitalPerTrade: 50, LotStep: 1})
	ctx := context.Background()
	o := seedFailed(t, st, "ABC", order.SideBuy, time.Now())
	pb.SetPrice("ABC", 120)

	sum, err := e.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Skipped)

	got, err := st.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusFailed, got.Status)
}

func TestRunReadsCapitalAtRetryTime(t *testing.T) {
	tr := config.NewTradingRuntime(config.TradingConfig{CapitalPerTrade: 1000, LotStep: 1})
	st, err := gormstore.New(filepath.Join(t.TempDir(), "steward.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	pb := broker.NewPaper()
	cal, err := calendar.New(calendar.Config{Timezone: "UTC", SessionOpen: "09:15", SessionClose: "15:30"})
	require.NoError(t, err)
	e := New(st, pb, nil, cal, tr, nil)

	ctx := context.Background()
	o := seedFailed(t, st, "ABC", order.SideBuy, time.Now())
	pb.SetPrice("ABC", 100)

	tr.Update(config.TradingConfig{CapitalPerTrade: 500, LotStep: 1})

	_, err = e.Run(ctx)
	require.NoError(t, err)

	got, err := st.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 5.0, got.RequestedQty)
}
