package broker

import (
	"context"
	"testing"
	"time"

	"steward/internal/pkg/circuit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardedOpensAfterRepeatedOutages(t *testing.T) {
	paper := NewPaper()
	paper.SetPrice("BTCUSDT", 50000)
	g := NewGuarded(paper, circuit.New("test", 2, time.Minute), time.Second)
	ctx := context.Background()

	paper.FailNext(nil)
	_, err := g.LastPrice(ctx, "BTCUSDT")
	assert.ErrorIs(t, err, ErrUnavailable)

	paper.FailNext(nil)
	_, err = g.LastPrice(ctx, "BTCUSDT")
	assert.ErrorIs(t, err, ErrUnavailable)

	// Breaker is now open; the paper broker is healthy but unreachable.
	_, err = g.LastPrice(ctx, "BTCUSDT")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestGuardedRejectionDoesNotTrip(t *testing.T) {
	paper := NewPaper()
	br := circuit.New("test", 1, time.Minute)
	g := NewGuarded(paper, br, time.Second)
	ctx := context.Background()

	paper.RejectNext("margin exceeded")
	_, err := g.PlaceOrder(ctx, PlaceRequest{Symbol: "BTCUSDT", Side: "buy", Qty: 1, Kind: "market"})
	var rej *RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "margin exceeded", rej.Reason)
	assert.Equal(t, circuit.StateClosed, br.State())

	// Subsequent calls still reach the broker.
	id, err := g.PlaceOrder(ctx, PlaceRequest{Symbol: "BTCUSDT", Side: "buy", Qty: 1, Kind: "market"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestPaperFillAdjustsHoldings(t *testing.T) {
	paper := NewPaper()
	ctx := context.Background()

	id, err := paper.PlaceOrder(ctx, PlaceRequest{Symbol: "ETHUSDT", Side: "buy", Qty: 3, Kind: "market"})
	require.NoError(t, err)
	paper.Fill(id, 2000)

	holdings, err := paper.Holdings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3.0, holdings["ETHUSDT"])

	sellID, err := paper.PlaceOrder(ctx, PlaceRequest{Symbol: "ETHUSDT", Side: "sell", Qty: 3, Kind: "market"})
	require.NoError(t, err)
	paper.Fill(sellID, 2100)

	holdings, err = paper.Holdings(ctx)
	require.NoError(t, err)
	_, held := holdings["ETHUSDT"]
	assert.False(t, held)
}
