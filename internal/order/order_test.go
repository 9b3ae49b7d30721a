package order

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusOngoing, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusCancelled, true},
		{StatusFailed, StatusPending, true},
		{StatusFailed, StatusCancelled, true},
		{StatusOngoing, StatusClosed, true},
		{StatusOngoing, StatusPending, false},
		{StatusClosed, StatusPending, false},
		{StatusClosed, StatusOngoing, false},
		{StatusCancelled, StatusPending, false},
		{StatusCancelled, StatusFailed, false},
		{StatusPending, StatusPending, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTerminalStatesHaveNoOutgoingTransitions(t *testing.T) {
	all := []Status{StatusPending, StatusOngoing, StatusFailed, StatusCancelled, StatusClosed}
	for _, from := range []Status{StatusClosed, StatusCancelled} {
		for _, to := range all {
			assert.False(t, CanTransition(from, to), "%s -> %s must be rejected", from, to)
		}
	}
}

func TestTransitionRejectsTerminal(t *testing.T) {
	o := &Order{ID: 1, Symbol: "ABC", Status: StatusClosed}
	err := o.Transition(StatusPending, "")
	require.Error(t, err)
	assert.Equal(t, StatusClosed, o.Status)
}

func TestMarkFailedStampsFirstFailureOnce(t *testing.T) {
	day0 := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	o := &Order{ID: 7, Symbol: "ABC", Side: SideBuy, Status: StatusPending}

	require.NoError(t, o.MarkFailed("rejected: insufficient funds", day0))
	assert.Equal(t, day0, o.FirstFailedAt)
	assert.Equal(t, "rejected: insufficient funds", o.Reason)

	require.NoError(t, o.Transition(StatusPending, "retry placed"))
	later := day0.Add(6 * time.Hour)
	require.NoError(t, o.MarkFailed("rejected again", later))
	assert.Equal(t, day0, o.FirstFailedAt, "first failure timestamp must not move")
}

func TestFillSidesSelectTargetStatus(t *testing.T) {
	at := time.Now()

	buy := &Order{Symbol: "ABC", Side: SideBuy, Status: StatusPending}
	require.NoError(t, buy.Fill(101.5, 10, at))
	assert.Equal(t, StatusOngoing, buy.Status)
	assert.Equal(t, 101.5, buy.ExecutionPrice)
	assert.Equal(t, 10.0, buy.ExecutionQty)

	sell := &Order{Symbol: "ABC", Side: SideSell, Status: StatusPending}
	require.NoError(t, sell.Fill(99.0, 10, at))
	assert.Equal(t, StatusClosed, sell.Status)
}

func TestExpectedQty(t *testing.T) {
	e := TrackingScopeEntry{Symbol: "DEF", SystemTrackedQty: 10, PreExistingQty: 5}
	assert.Equal(t, 15.0, e.ExpectedQty())
}
