package opshttp

import (
	"time"

	"steward/internal/order"
)

// orderView is the wire shape of an order.
type orderView struct {
	ID             int64   `json:"id"`
	Symbol         string  `json:"symbol"`
	Side           string  `json:"side"`
	RequestedQty   float64 `json:"requested_qty"`
	RequestedPrice float64 `json:"requested_price,omitempty"`
	Kind           string  `json:"kind"`
	Variety        string  `json:"variety"`
	BrokerOrderID  string  `json:"broker_order_id,omitempty"`
	Status         string  `json:"status"`
	Reason         string  `json:"reason,omitempty"`
	RetryCount     int     `json:"retry_count"`
	ExecutionPrice float64 `json:"execution_price,omitempty"`
	ExecutionQty   float64 `json:"execution_qty,omitempty"`
	ExecutionTime  string  `json:"execution_time,omitempty"`
	CreatedAt      string  `json:"created_at,omitempty"`
	UpdatedAt      string  `json:"updated_at,omitempty"`
}

func toOrderView(o *order.Order) orderView {
	v := orderView{
		ID:             o.ID,
		Symbol:         o.Symbol,
		Side:           string(o.Side),
		RequestedQty:   o.RequestedQty,
		RequestedPrice: o.RequestedPrice,
		Kind:           string(o.Kind),
		Variety:        string(o.Variety),
		BrokerOrderID:  o.BrokerOrderID,
		Status:         string(o.Status),
		Reason:         o.Reason,
		RetryCount:     o.RetryCount,
		ExecutionPrice: o.ExecutionPrice,
		ExecutionQty:   o.ExecutionQty,
	}
	if !o.ExecutionTime.IsZero() {
		v.ExecutionTime = o.ExecutionTime.Format(time.RFC3339)
	}
	if !o.CreatedAt.IsZero() {
		v.CreatedAt = o.CreatedAt.Format(time.RFC3339)
	}
	if !o.UpdatedAt.IsZero() {
		v.UpdatedAt = o.UpdatedAt.Format(time.RFC3339)
	}
	return v
}

func toOrderViews(orders []order.Order) []orderView {
	out := make([]orderView, 0, len(orders))
	for i := range orders {
		out = append(out, toOrderView(&orders[i]))
	}
	return out
}

// scopeView is the wire shape of a tracking-scope entry.
type scopeView struct {
	Symbol           string  `json:"symbol"`
	SystemTrackedQty float64 `json:"system_tracked_qty"`
	PreExistingQty   float64 `json:"pre_existing_qty"`
	ExpectedQty      float64 `json:"expected_qty"`
	LastReconciledAt string  `json:"last_reconciled_at,omitempty"`
}

func toScopeView(e order.TrackingScopeEntry) scopeView {
	v := scopeView{
		Symbol:           e.Symbol,
		SystemTrackedQty: e.SystemTrackedQty,
		PreExistingQty:   e.PreExistingQty,
		ExpectedQty:      e.ExpectedQty(),
	}
	if !e.LastReconciledAt.IsZero() {
		v.LastReconciledAt = e.LastReconciledAt.Format(time.RFC3339)
	}
	return v
}
