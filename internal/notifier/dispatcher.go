package notifier

import (
	"context"
	"fmt"
	"strings"

	"steward/internal/events"
	"steward/internal/logger"
)

// Dispatcher turns lifecycle events into outbound notifications. It is the
// only consumer that leaves the process; everything upstream just publishes.
type Dispatcher struct {
	sink TextNotifier
}

func NewDispatcher(sink TextNotifier) *Dispatcher {
	if sink == nil {
		sink = Nop{}
	}
	return &Dispatcher{sink: sink}
}

// Run consumes events until ctx is cancelled or the channel closes. Send
// failures are logged and dropped; a broken notifier must not back up the
// bus.
func (d *Dispatcher) Run(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			d.Dispatch(evt)
		}
	}
}

// Dispatch formats and sends a single event.
func (d *Dispatcher) Dispatch(evt events.Event) {
	msg, ok := format(evt)
	if !ok {
		return
	}
	if err := d.sink.SendText(msg.RenderMarkdown()); err != nil {
		logger.Warnf("notifier: sending %s for %s: %v", evt.Kind, evt.Symbol, err)
	}
}

func format(evt events.Event) (StructuredMessage, bool) {
	msg := StructuredMessage{Timestamp: evt.At}
	switch p := evt.Payload.(type) {
	case events.OrderPlaced:
		msg.Icon = "🟢"
		msg.Title = "Order Placed"
		if p.Retry {
			msg.Title = "Order Retried"
		}
		msg.Sections = []MessageSection{{Lines: []string{
			"Symbol: " + evt.Symbol,
			fmt.Sprintf("Qty: %.4f", p.Qty),
			priceLine(p.Price),
			"Kind: " + p.OrderKind,
			"Broker ID: " + p.BrokerOrderID,
		}}}
	case events.OrderExecuted:
		msg.Icon = "✅"
		msg.Title = "Order Executed"
		msg.Sections = []MessageSection{{Lines: []string{
			"Symbol: " + evt.Symbol,
			"Side: " + p.Side,
			fmt.Sprintf("Qty: %.4f", p.Qty),
			fmt.Sprintf("Price: %.4f", p.Price),
		}}}
	case events.OrderPartiallyFilled:
		msg.Icon = "🟡"
		msg.Title = "Order Partially Filled"
		msg.Sections = []MessageSection{{Lines: []string{
			"Symbol: " + evt.Symbol,
			fmt.Sprintf("Filled qty: %.4f", p.Qty),
		}}}
	case events.OrderRejected:
		msg.Icon = "🔴"
		msg.Title = "Order Rejected"
		msg.Sections = []MessageSection{{Lines: []string{
			"Symbol: " + evt.Symbol,
			"Reason: " + p.Reason,
		}}}
	case events.ManualOrderLinked:
		msg.Icon = "🔗"
		msg.Title = "Manual Order Linked"
		msg.Sections = []MessageSection{{Lines: []string{
			"Symbol: " + evt.Symbol,
			"Broker ID: " + p.BrokerOrderID,
			fmt.Sprintf("Qty: %.4f", p.Qty),
			priceLine(p.Price),
		}}}
	case events.EODSummary:
		msg.Icon = "📊"
		msg.Title = "End of Day Summary"
		msg.Sections = []MessageSection{
			{Title: "Orders", Lines: []string{
				fmt.Sprintf("Placed: %d", p.Counters.Placed),
				fmt.Sprintf("Executed: %d", p.Counters.Executed),
				fmt.Sprintf("Rejected: %d", p.Counters.Rejected),
				fmt.Sprintf("Pending: %d", p.Counters.Pending),
			}},
			{Title: "Reconciliation", Lines: strings.Split(p.Reconciliation, "\n")},
		}
		msg.Footer = fmt.Sprintf("Steps: %d completed, %d failed", p.StepsCompleted, p.StepsFailed)
	case events.ReconciliationAlert:
		msg.Icon = "🚨"
		msg.Title = "Reconciliation Conflict"
		msg.Sections = []MessageSection{{Lines: []string{
			"Symbol: " + evt.Symbol,
			"Detail: " + p.Detail,
			"Manual review required",
		}}}
	default:
		return StructuredMessage{}, false
	}
	return msg, true
}

func priceLine(price float64) string {
	if price <= 0 {
		return "Price: market"
	}
	return fmt.Sprintf("Price: %.4f", price)
}
