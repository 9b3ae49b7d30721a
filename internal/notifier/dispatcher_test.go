package notifier

import (
	"errors"
	"testing"
	"time"

	"steward/internal/events"
	"steward/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	sent []string
	err  error
}

func (f *fakeSink) SendText(text string) error {
	f.sent = append(f.sent, text)
	return f.err
}

func TestDispatchOrderExecuted(t *testing.T) {
	sink := &fakeSink{}
	d := NewDispatcher(sink)

	d.Dispatch(events.Event{
		Kind:   events.KindOrderExecuted,
		Symbol: "ABC",
		At:     time.Now(),
		Payload: events.OrderExecuted{
			OrderID: 1, Side: "buy", Price: 101.5, Qty: 10,
		},
	})

	require.Len(t, sink.sent, 1)
	assert.Contains(t, sink.sent[0], "Order Executed")
	assert.Contains(t, sink.sent[0], "Symbol: ABC")
	assert.Contains(t, sink.sent[0], "101.5")
}

func TestDispatchRejectionCarriesReason(t *testing.T) {
	sink := &fakeSink{}
	d := NewDispatcher(sink)

	d.Dispatch(events.Event{
		Kind:    events.KindOrderRejected,
		Symbol:  "DEF",
		Payload: events.OrderRejected{OrderID: 2, Reason: "insufficient funds"},
	})

	require.Len(t, sink.sent, 1)
	assert.Contains(t, sink.sent[0], "insufficient funds")
}

func TestDispatchEODSummary(t *testing.T) {
	sink := &fakeSink{}
	d := NewDispatcher(sink)

	d.Dispatch(events.Event{
		Kind: events.KindEODSummary,
		Payload: events.EODSummary{
			Counters:       store.Counters{Placed: 4, Executed: 2, Rejected: 1, Pending: 1},
			Reconciliation: "matched: 3\nmanual buys: 1",
			StepsCompleted: 6,
		},
	})

	require.Len(t, sink.sent, 1)
	assert.Contains(t, sink.sent[0], "Placed: 4")
	assert.Contains(t, sink.sent[0], "manual buys: 1")
	assert.Contains(t, sink.sent[0], "6 completed")
}

func TestDispatchUnknownPayloadIgnored(t *testing.T) {
	sink := &fakeSink{}
	d := NewDispatcher(sink)

	d.Dispatch(events.Event{Kind: "mystery", Payload: 42})
	assert.Empty(t, sink.sent)
}

func TestDispatchSendFailureIsSwallowed(t *testing.T) {
	sink := &fakeSink{err: errors.New("network down")}
	d := NewDispatcher(sink)

	d.Dispatch(events.Event{
		Kind:    events.KindOrderRejected,
		Symbol:  "DEF",
		Payload: events.OrderRejected{OrderID: 2, Reason: "x"},
	})
	// No panic, no retry storm; the message was attempted once.
	assert.Len(t, sink.sent, 1)
}

func TestRenderMarkdownTrimsCodeFences(t *testing.T) {
	msg := StructuredMessage{
		Title:    "Alert",
		Sections: []MessageSection{{Lines: []string{"detail ```injection```"}}},
	}
	out := msg.RenderMarkdown()
	assert.Contains(t, out, "'''injection'''")
}
