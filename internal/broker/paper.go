package broker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Paper is an in-memory broker used for dry runs and tests. It starts every
// order in the open state; fills, rejections and manual orders are driven
// explicitly through the mutation helpers.
type Paper struct {
	mu       sync.Mutex
	nextID   int64
	orders   map[string]*OrderInfo
	holdings map[string]float64
	prices   map[string]float64

	// nextErr, when set, is returned by the next API call and cleared.
	nextErr error
	// rejectReason, when set, rejects the next PlaceOrder and is cleared.
	rejectReason string
}

var _ Broker = (*Paper)(nil)

func NewPaper() *Paper {
	return &Paper{
		orders:   make(map[string]*OrderInfo),
		holdings: make(map[string]float64),
		prices:   make(map[string]float64),
	}
}

func (p *Paper) Name() string { return "paper" }

func (p *Paper) PlaceOrder(_ context.Context, req PlaceRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeErr(); err != nil {
		return "", err
	}
	if p.rejectReason != "" {
		reason := p.rejectReason
		p.rejectReason = ""
		return "", &RejectionError{Reason: reason}
	}
	p.nextID++
	id := strconv.FormatInt(p.nextID, 10)
	p.orders[id] = &OrderInfo{
		BrokerOrderID: id,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Qty:           req.Qty,
		Price:         req.Price,
		State:         StateOpen,
		UpdatedAt:     time.Now(),
	}
	return id, nil
}

func (p *Paper) CancelOrder(_ context.Context, _, brokerOrderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeErr(); err != nil {
		return err
	}
	o, ok := p.orders[brokerOrderID]
	if !ok {
		return ErrOrderNotFound
	}
	if o.State == StateOpen || o.State == StatePartial {
		o.State = StateCancelled
		o.UpdatedAt = time.Now()
	}
	return nil
}

func (p *Paper) ListOpenOrders(_ context.Context) ([]OrderInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeErr(); err != nil {
		return nil, err
	}
	var out []OrderInfo
	for _, o := range p.orders {
		if o.State == StateOpen || o.State == StatePartial {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (p *Paper) GetOrder(_ context.Context, _, brokerOrderID string) (*OrderInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeErr(); err != nil {
		return nil, err
	}
	o, ok := p.orders[brokerOrderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (p *Paper) Holdings(_ context.Context) (map[string]float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeErr(); err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(p.holdings))
	for sym, qty := range p.holdings {
		out[sym] = qty
	}
	return out, nil
}

func (p *Paper) LastPrice(_ context.Context, symbol string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.takeErr(); err != nil {
		return 0, err
	}
	price, ok := p.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("paper: no price for %s", symbol)
	}
	return price, nil
}

// ---- mutation helpers ----

// SetPrice sets the last traded price for symbol.
func (p *Paper) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
}

// SetHolding sets the held quantity for symbol; zero removes it.
func (p *Paper) SetHolding(symbol string, qty float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if qty == 0 {
		delete(p.holdings, symbol)
		return
	}
	p.holdings[symbol] = qty
}

// Fill marks an order fully filled at price and adjusts holdings.
func (p *Paper) Fill(brokerOrderID string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[brokerOrderID]
	if !ok {
		return
	}
	o.State = StateFilled
	o.FilledQty = o.Qty
	o.AvgFillPrice = price
	o.UpdatedAt = time.Now()
	if o.Side == "sell" {
		p.holdings[o.Symbol] -= o.Qty
		if p.holdings[o.Symbol] <= 0 {
			delete(p.holdings, o.Symbol)
		}
	} else {
		p.holdings[o.Symbol] += o.Qty
	}
}

// FillPartial records a partial fill without leaving the open state.
func (p *Paper) FillPartial(brokerOrderID string, qty, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[brokerOrderID]
	if !ok {
		return
	}
	o.State = StatePartial
	o.FilledQty = qty
	o.AvgFillPrice = price
	o.UpdatedAt = time.Now()
}

// Reject marks an order rejected with the given reason.
func (p *Paper) Reject(brokerOrderID, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if o, ok := p.orders[brokerOrderID]; ok {
		o.State = StateRejected
		o.Reason = reason
		o.UpdatedAt = time.Now()
	}
}

// AddManualOrder injects an order placed outside the system and returns its
// id.
func (p *Paper) AddManualOrder(symbol, side string, qty, price float64, state OrderState) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	id := strconv.FormatInt(p.nextID, 10)
	o := &OrderInfo{
		BrokerOrderID: id,
		Symbol:        symbol,
		Side:          side,
		Qty:           qty,
		Price:         price,
		State:         state,
		UpdatedAt:     time.Now(),
	}
	if state == StateFilled {
		o.FilledQty = qty
		o.AvgFillPrice = price
	}
	p.orders[id] = o
	return id
}

// FailNext makes the next broker call return err (transient by default).
func (p *Paper) FailNext(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		err = ErrUnavailable
	}
	p.nextErr = err
}

// RejectNext makes the next PlaceOrder fail with a RejectionError.
func (p *Paper) RejectNext(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejectReason = reason
}

func (p *Paper) takeErr() error {
	if p.nextErr != nil {
		err := p.nextErr
		p.nextErr = nil
		return err
	}
	return nil
}
