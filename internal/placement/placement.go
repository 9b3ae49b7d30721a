// Package placement is the intake path for new orders: it validates raw
// placement requests, guards the one-active-order-per-symbol rule, places at
// the broker and seeds the tracking scope.
package placement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"steward/internal/broker"
	"steward/internal/events"
	"steward/internal/logger"
	"steward/internal/order"
	"steward/internal/pkg/keylock"
	"steward/internal/store"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

// ErrDuplicateOrder means a non-terminal order already exists for the symbol.
// The existing order is returned alongside so the caller can link to it.
var ErrDuplicateOrder = errors.New("placement: active order already exists for symbol")

// ValidationError rejects a request before anything reaches the broker.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("placement: invalid %s: %s", e.Field, e.Detail)
}

const requestSchema = `{
	"type": "object",
	"required": ["symbol", "side", "qty"],
	"properties": {
		"symbol":  {"type": "string", "minLength": 1},
		"side":    {"enum": ["buy", "sell"]},
		"qty":     {"type": "number", "exclusiveMinimum": 0},
		"price":   {"type": "number", "minimum": 0},
		"kind":    {"enum": ["market", "limit"]},
		"variety": {"enum": ["immediate", "amo"]}
	}
}`

var compiledSchema = jsonschema.MustCompileString("request.json", requestSchema)

// Request is one parsed placement request.
type Request struct {
	Symbol  string
	Side    order.Side
	Qty     float64
	Price   float64 // 0 means market
	Kind    order.Kind
	Variety order.Variety
}

// ParseRequest validates a raw JSON request against the schema and decodes
// it. It never touches the broker or the store.
func ParseRequest(raw string) (Request, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Request{}, &ValidationError{Field: "body", Detail: "empty"}
	}
	if !gjson.Valid(raw) {
		return Request{}, &ValidationError{Field: "body", Detail: "malformed json"}
	}
	parsed := gjson.Parse(raw)
	if err := compiledSchema.Validate(parsed.Value()); err != nil {
		return Request{}, &ValidationError{Field: "body", Detail: err.Error()}
	}
	req := Request{
		Symbol:  strings.ToUpper(strings.TrimSpace(parsed.Get("symbol").String())),
		Side:    order.Side(parsed.Get("side").String()),
		Qty:     parsed.Get("qty").Float(),
		Price:   parsed.Get("price").Float(),
		Kind:    order.Kind(parsed.Get("kind").String()),
		Variety: order.Variety(parsed.Get("variety").String()),
	}
	if req.Kind == "" {
		req.Kind = order.KindMarket
		if req.Price > 0 {
			req.Kind = order.KindLimit
		}
	}
	if req.Variety == "" {
		req.Variety = order.VarietyImmediate
	}
	return req, validate(req)
}

func validate(req Request) error {
	if req.Symbol == "" {
		return &ValidationError{Field: "symbol", Detail: "required"}
	}
	if req.Qty <= 0 {
		return &ValidationError{Field: "qty", Detail: "must be positive"}
	}
	if req.Kind == order.KindLimit && req.Price <= 0 {
		return &ValidationError{Field: "price", Detail: "limit order requires a positive price"}
	}
	if req.Kind == order.KindMarket && req.Price > 0 {
		return &ValidationError{Field: "price", Detail: "market order must not carry a price"}
	}
	return nil
}

type Service struct {
	store  store.Store
	broker broker.Broker
	bus    *events.Bus
	locks  *keylock.KeyLock
}

func NewService(st store.Store, bk broker.Broker, bus *events.Bus, locks *keylock.KeyLock) *Service {
	if locks == nil {
		locks = keylock.New()
	}
	return &Service{store: st, broker: bk, bus: bus, locks: locks}
}

// PlaceRaw parses, validates and places in one call.
func (s *Service) PlaceRaw(ctx context.Context, raw string) (*order.Order, error) {
	req, err := ParseRequest(raw)
	if err != nil {
		return nil, err
	}
	return s.Place(ctx, req)
}

// Place submits one request. A symbol with an active order is never submitted
// twice: the existing order comes back with ErrDuplicateOrder. A broker
// rejection still persists the attempt as a failed order so the retry engine
// sees it.
func (s *Service) Place(ctx context.Context, req Request) (*order.Order, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	s.locks.Lock(req.Symbol)
	defer s.locks.Unlock(req.Symbol)

	if existing, err := s.store.ActiveBySymbol(ctx, req.Symbol); err == nil {
		return existing, ErrDuplicateOrder
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	o := &order.Order{
		Symbol:         req.Symbol,
		Side:           req.Side,
		RequestedQty:   req.Qty,
		RequestedPrice: req.Price,
		Kind:           req.Kind,
		Variety:        req.Variety,
		Status:         order.StatusPending,
	}

	brokerID, err := s.broker.PlaceOrder(ctx, broker.PlaceRequest{
		Symbol:  req.Symbol,
		Side:    string(req.Side),
		Qty:     req.Qty,
		Price:   req.Price,
		Kind:    string(req.Kind),
		Variety: string(req.Variety),
	})
	if err != nil {
		var rej *broker.RejectionError
		if errors.As(err, &rej) {
			o.Status = order.StatusFailed
			o.Reason = rej.Reason
			o.FirstFailedAt = time.Now()
			if uerr := s.store.Upsert(ctx, o, ""); uerr != nil {
				return nil, uerr
			}
			s.publish(events.Event{
				Kind:    events.KindOrderRejected,
				Symbol:  o.Symbol,
				Payload: events.OrderRejected{OrderID: o.ID, Reason: o.Reason},
			})
			return o, nil
		}
		return nil, err
	}

	o.BrokerOrderID = brokerID
	if err := s.store.Upsert(ctx, o, ""); err != nil {
		if errors.Is(err, store.ErrActiveOrderExists) {
			// Lost the race after placing. Cancel the broker side so the two
			// never diverge; the winning row stays authoritative.
			if cerr := s.broker.CancelOrder(ctx, req.Symbol, brokerID); cerr != nil {
				logger.Errorf("placement: cancelling orphan broker order %s for %s: %v", brokerID, req.Symbol, cerr)
			}
			existing, gerr := s.store.ActiveBySymbol(ctx, req.Symbol)
			if gerr != nil {
				return nil, err
			}
			return existing, ErrDuplicateOrder
		}
		return nil, err
	}

	if err := s.seedScope(ctx, req.Symbol); err != nil {
		logger.Warnf("placement: seeding scope for %s: %v", req.Symbol, err)
	}

	logger.Infof("placement: order %d (%s %s) placed as %s, qty=%.4f",
		o.ID, o.Symbol, o.Side, brokerID, o.RequestedQty)
	s.publish(events.Event{
		Kind:   events.KindOrderPlaced,
		Symbol: o.Symbol,
		Payload: events.OrderPlaced{
			OrderID:       o.ID,
			BrokerOrderID: brokerID,
			Qty:           o.RequestedQty,
			Price:         o.RequestedPrice,
			OrderKind:     string(o.Kind),
			Variety:       string(o.Variety),
		},
	})
	return o, nil
}

// seedScope creates the tracking-scope row on the first placement for a
// symbol, snapshotting whatever was already held as pre-existing.
func (s *Service) seedScope(ctx context.Context, symbol string) error {
	if _, err := s.store.ScopeEntry(ctx, symbol); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	var preExisting float64
	holdings, err := s.broker.Holdings(ctx)
	if err != nil {
		logger.Warnf("placement: holdings snapshot for %s unavailable: %v", symbol, err)
	} else {
		preExisting = holdings[symbol]
	}
	return s.store.SaveScopeEntry(ctx, &order.TrackingScopeEntry{
		Symbol:         symbol,
		PreExistingQty: preExisting,
	})
}

func (s *Service) publish(evt events.Event) {
	if s.bus != nil {
		s.bus.Publish(evt)
	}
}
