package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"steward/internal/logger"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
)

// BinanceConfig configures the spot adapter.
type BinanceConfig struct {
	APIKey     string
	APISecret  string
	QuoteAsset string // e.g. "USDT"; holdings are reported as base+quote symbols
	Testnet    bool
}

// Binance implements Broker against the Binance spot API.
type Binance struct {
	client *binance.Client
	quote  string
}

var _ Broker = (*Binance)(nil)

func NewBinance(cfg BinanceConfig) *Binance {
	binance.UseTestnet = cfg.Testnet
	quote := strings.ToUpper(strings.TrimSpace(cfg.QuoteAsset))
	if quote == "" {
		quote = "USDT"
	}
	return &Binance{
		client: binance.NewClient(cfg.APIKey, cfg.APISecret),
		quote:  quote,
	}
}

func (b *Binance) Name() string { return "binance" }

func (b *Binance) PlaceOrder(ctx context.Context, req PlaceRequest) (string, error) {
	svc := b.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(binanceSide(req.Side)).
		Quantity(formatQty(req.Qty))
	if req.Kind == "limit" {
		svc = svc.Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Price(strconv.FormatFloat(req.Price, 'f', -1, 64))
	} else {
		svc = svc.Type(binance.OrderTypeMarket)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return "", classify(err)
	}
	if res.Status == binance.OrderStatusTypeRejected {
		return "", &RejectionError{Reason: "rejected by exchange"}
	}
	return strconv.FormatInt(res.OrderID, 10), nil
}

func (b *Binance) CancelOrder(ctx context.Context, symbol, brokerOrderID string) error {
	id, err := strconv.ParseInt(brokerOrderID, 10, 64)
	if err != nil {
		return fmt.Errorf("binance: invalid order id %q: %w", brokerOrderID, err)
	}
	_, err = b.client.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	if err != nil {
		return classify(err)
	}
	return nil
}

func (b *Binance) ListOpenOrders(ctx context.Context) ([]OrderInfo, error) {
	orders, err := b.client.NewListOpenOrdersService().Do(ctx)
	if err != nil {
		return nil, classify(err)
	}
	out := make([]OrderInfo, 0, len(orders))
	for _, o := range orders {
		out = append(out, orderToInfo(o))
	}
	return out, nil
}

func (b *Binance) GetOrder(ctx context.Context, symbol, brokerOrderID string) (*OrderInfo, error) {
	id, err := strconv.ParseInt(brokerOrderID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("binance: invalid order id %q: %w", brokerOrderID, err)
	}
	o, err := b.client.NewGetOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	if err != nil {
		var apiErr *common.APIError
		if errors.As(err, &apiErr) && apiErr.Code == -2013 { // Order does not exist.
			return nil, ErrOrderNotFound
		}
		return nil, classify(err)
	}
	info := orderToInfo(o)
	return &info, nil
}

func (b *Binance) Holdings(ctx context.Context) (map[string]float64, error) {
	acct, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, classify(err)
	}
	out := make(map[string]float64)
	for _, bal := range acct.Balances {
		asset := strings.ToUpper(bal.Asset)
		if asset == b.quote {
			continue
		}
		free, _ := strconv.ParseFloat(bal.Free, 64)
		locked, _ := strconv.ParseFloat(bal.Locked, 64)
		if qty := free + locked; qty > 0 {
			out[asset+b.quote] = qty
		}
	}
	return out, nil
}

func (b *Binance) LastPrice(ctx context.Context, symbol string) (float64, error) {
	prices, err := b.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, classify(err)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("binance: no price for %s", symbol)
	}
	p, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return 0, fmt.Errorf("binance: bad price %q for %s: %w", prices[0].Price, symbol, err)
	}
	return p, nil
}

func orderToInfo(o *binance.Order) OrderInfo {
	qty, _ := strconv.ParseFloat(o.OrigQuantity, 64)
	filled, _ := strconv.ParseFloat(o.ExecutedQuantity, 64)
	price, _ := strconv.ParseFloat(o.Price, 64)
	quote, _ := strconv.ParseFloat(o.CummulativeQuoteQuantity, 64)
	avg := 0.0
	if filled > 0 {
		avg = quote / filled
	}
	raw, _ := json.Marshal(o)
	return OrderInfo{
		BrokerOrderID: strconv.FormatInt(o.OrderID, 10),
		Symbol:        o.Symbol,
		Side:          strings.ToLower(string(o.Side)),
		Qty:           qty,
		FilledQty:     filled,
		Price:         price,
		AvgFillPrice:  avg,
		State:         mapState(o.Status),
		UpdatedAt:     time.UnixMilli(o.UpdateTime),
		Raw:           string(raw),
	}
}

func mapState(s binance.OrderStatusType) OrderState {
	switch s {
	case binance.OrderStatusTypeNew:
		return StateOpen
	case binance.OrderStatusTypePartiallyFilled:
		return StatePartial
	case binance.OrderStatusTypeFilled:
		return StateFilled
	case binance.OrderStatusTypeRejected:
		return StateRejected
	case binance.OrderStatusTypeCanceled, binance.OrderStatusTypeExpired, binance.OrderStatusTypePendingCancel:
		return StateCancelled
	default:
		return StateOpen
	}
}

func binanceSide(side string) binance.SideType {
	if strings.EqualFold(side, "sell") {
		return binance.SideTypeSell
	}
	return binance.SideTypeBuy
}

func formatQty(qty float64) string {
	return strconv.FormatFloat(qty, 'f', -1, 64)
}

// classify folds SDK errors into the engine's taxonomy: business rejections
// become RejectionError, everything else is transient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case -1013, -2010, -2011: // filter failure, new order rejected, cancel rejected
			return &RejectionError{Reason: apiErr.Message}
		}
		if apiErr.Code <= -1000 && apiErr.Code > -1100 {
			logger.Debugf("binance: transient api error code=%d msg=%s", apiErr.Code, apiErr.Message)
			return fmt.Errorf("%w: %s", ErrUnavailable, apiErr.Message)
		}
		return fmt.Errorf("%w: %s", ErrUnavailable, apiErr.Message)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
