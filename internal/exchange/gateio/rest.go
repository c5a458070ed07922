package gateio

import (
	"context"
	"fmt"
	"strconv"
	"time"

	arbierrors "github.com/abdoElHodaky/arbiengine/internal/errors"
	"github.com/abdoElHodaky/arbiengine/internal/model"
	"github.com/abdoElHodaky/arbiengine/internal/restclient"
)

// currencyPair is Gate.io's /spot/currency_pairs element (spec §6).
type currencyPair struct {
	ID              string `json:"id"`
	Base            string `json:"base"`
	Quote           string `json:"quote"`
	Fee             string `json:"fee"`
	MinBaseAmount   string `json:"min_base_amount"`
	MinQuoteAmount  string `json:"min_quote_amount"`
	AmountPrecision int32  `json:"amount_precision"`
	Precision       int32  `json:"precision"`
	TradeStatus     string `json:"trade_status"`
}

// FetchSymbolInfo implements exchange.PublicData.
func (e *Exchange) FetchSymbolInfo(ctx context.Context) ([]model.SymbolInfo, error) {
	var raw []currencyPair
	if err := e.rest.Do(ctx, restclient.Request{
		Method:   "GET",
		Path:     "/api/v4/spot/currency_pairs",
		Endpoint: "currency_pairs",
	}, &raw); err != nil {
		return nil, err
	}

	out := make([]model.SymbolInfo, 0, len(raw))
	for _, p := range raw {
		sym, err := e.mapper.ToSymbol(p.ID, false)
		if err != nil {
			continue
		}
		fee := parseFloatOr(p.Fee, 0.2) / 100.0
		out = append(out, model.SymbolInfo{
			Symbol:         sym,
			BasePrecision:  p.AmountPrecision,
			QuotePrecision: p.Precision,
			MinBaseAmount:  parseFloatOr(p.MinBaseAmount, 0),
			MinQuoteAmount: parseFloatOr(p.MinQuoteAmount, 0),
			MakerFee:       fee,
			TakerFee:       fee,
			Active:         p.TradeStatus == "tradable",
		})
	}
	return out, nil
}

type orderBookResponse struct {
	ID      int64      `json:"id"`
	Current float64    `json:"current"`
	Update  float64    `json:"update"`
	Asks    [][]string `json:"asks"`
	Bids    [][]string `json:"bids"`
}

// FetchOrderBookSnapshot implements exchange.PublicData.
func (e *Exchange) FetchOrderBookSnapshot(ctx context.Context, sym model.Symbol) ([]model.OrderBookEntry, []model.OrderBookEntry, int64, error) {
	var resp orderBookResponse
	if err := e.rest.Do(ctx, restclient.Request{
		Method:   "GET",
		Path:     "/api/v4/spot/order_book",
		Endpoint: "order_book",
		Query: map[string]string{
			"currency_pair": e.mapper.ToNative(sym),
			"limit":         "100",
			"with_id":       "true",
		},
	}, &resp); err != nil {
		return nil, nil, 0, err
	}

	bids, err := parseLevels(resp.Bids)
	if err != nil {
		return nil, nil, 0, err
	}
	asks, err := parseLevels(resp.Asks)
	if err != nil {
		return nil, nil, 0, err
	}
	return bids, asks, resp.ID, nil
}

func parseLevels(raw [][]string) ([]model.OrderBookEntry, error) {
	out := make([]model.OrderBookEntry, 0, len(raw))
	for _, lvl := range raw {
		if len(lvl) != 2 {
			return nil, arbierrors.New(arbierrors.CodeParse, "malformed order book level").WithExchange(string(exchangeName))
		}
		price, err1 := strconv.ParseFloat(lvl[0], 64)
		size, err2 := strconv.ParseFloat(lvl[1], 64)
		if err1 != nil || err2 != nil {
			return nil, arbierrors.New(arbierrors.CodeParse, "non-numeric order book level").WithExchange(string(exchangeName))
		}
		out = append(out, model.OrderBookEntry{Price: price, Size: size})
	}
	return out, nil
}

type orderResponse struct {
	ID           string `json:"id"`
	Text         string `json:"text"`
	CurrencyPair string `json:"currency_pair"`
	Side         string `json:"side"`
	Amount       string `json:"amount"`
	Price        string `json:"price"`
	FilledTotal  string `json:"filled_total"`
	Left         string `json:"left"`
	Status       string `json:"status"`
	TimeInForce  string `json:"time_in_force"`
	CreateTimeMs string `json:"create_time_ms"`
	AvgDealPrice string `json:"avg_deal_price"`
	Fee          string `json:"fee"`
}

// PlaceOrder implements exchange.PrivateTrading.
func (e *Exchange) PlaceOrder(ctx context.Context, sym model.Symbol, side model.OrderSide, typ model.OrderType, tif model.TimeInForce, qty, price float64) (model.Order, error) {
	body := map[string]interface{}{
		"currency_pair": e.mapper.ToNative(sym),
		"side":          mapSide(side),
		"amount":        fmt.Sprintf("%g", qty),
		"type":          mapOrderType(typ),
		"time_in_force": mapTIF(tif),
	}
	if typ != model.OrderTypeMarket {
		body["price"] = fmt.Sprintf("%g", price)
	}

	var resp orderResponse
	if err := e.rest.Do(ctx, restclient.Request{
		Method:   "POST",
		Path:     "/api/v4/spot/orders",
		Endpoint: "order",
		Body:     body,
		Signed:   true,
	}, &resp); err != nil {
		return model.Order{}, err
	}
	return e.toOrder(resp, sym)
}

// CancelOrder implements exchange.PrivateTrading.
func (e *Exchange) CancelOrder(ctx context.Context, sym model.Symbol, orderID model.OrderID) error {
	return e.rest.Do(ctx, restclient.Request{
		Method:   "DELETE",
		Path:     "/api/v4/spot/orders/" + string(orderID),
		Endpoint: "cancel_order",
		Query:    map[string]string{"currency_pair": e.mapper.ToNative(sym)},
		Signed:   true,
	}, nil)
}

// GetOrder implements exchange.PrivateTrading.
func (e *Exchange) GetOrder(ctx context.Context, sym model.Symbol, orderID model.OrderID) (model.Order, error) {
	var resp orderResponse
	if err := e.rest.Do(ctx, restclient.Request{
		Method:   "GET",
		Path:     "/api/v4/spot/orders/" + string(orderID),
		Endpoint: "get_order",
		Query:    map[string]string{"currency_pair": e.mapper.ToNative(sym)},
		Signed:   true,
	}, &resp); err != nil {
		return model.Order{}, err
	}
	return e.toOrder(resp, sym)
}

// GetOpenOrders implements exchange.PrivateTrading.
func (e *Exchange) GetOpenOrders(ctx context.Context, sym model.Symbol) ([]model.Order, error) {
	var resp []orderResponse
	if err := e.rest.Do(ctx, restclient.Request{
		Method:   "GET",
		Path:     "/api/v4/spot/orders",
		Endpoint: "open_orders",
		Query:    map[string]string{"currency_pair": e.mapper.ToNative(sym), "status": "open"},
		Signed:   true,
	}, &resp); err != nil {
		return nil, err
	}
	out := make([]model.Order, 0, len(resp))
	for _, r := range resp {
		o, err := e.toOrder(r, sym)
		if err != nil {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

type accountBalance struct {
	Currency  string `json:"currency"`
	Available string `json:"available"`
	Locked    string `json:"locked"`
}

// GetBalances implements exchange.PrivateTrading.
func (e *Exchange) GetBalances(ctx context.Context) ([]model.AssetBalance, error) {
	var resp []accountBalance
	if err := e.rest.Do(ctx, restclient.Request{
		Method:   "GET",
		Path:     "/api/v4/spot/accounts",
		Endpoint: "accounts",
		Signed:   true,
	}, &resp); err != nil {
		return nil, err
	}
	out := make([]model.AssetBalance, 0, len(resp))
	for _, b := range resp {
		out = append(out, model.AssetBalance{
			Asset:    model.AssetName(b.Currency),
			Exchange: exchangeName,
			Free:     parseFloatOr(b.Available, 0),
			Locked:   parseFloatOr(b.Locked, 0),
		})
	}
	return out, nil
}

func (e *Exchange) toOrder(r orderResponse, sym model.Symbol) (model.Order, error) {
	filled := parseFloatOr(r.FilledTotal, 0)
	remaining := parseFloatOr(r.Left, 0)
	avgPrice := parseFloatOr(r.AvgDealPrice, 0)
	fee := parseFloatOr(r.Fee, 0)
	tsMs := int64(parseFloatOr(r.CreateTimeMs, float64(time.Now().UnixMilli())))

	return model.Order{
		Symbol:            sym,
		Exchange:          exchangeName,
		OrderID:           model.OrderID(r.ID),
		ClientOrderID:     r.Text,
		Side:              unmapSide(r.Side),
		Quantity:          parseFloatOr(r.Amount, 0),
		Price:             parseFloatOr(r.Price, 0),
		HasPrice:          r.Price != "",
		FilledQuantity:    filled,
		RemainingQuantity: remaining,
		HasRemaining:      true,
		Status:            unmapStatus(r.Status),
		TimestampMs:       tsMs,
		AvgPrice:          avgPrice,
		HasAvgPrice:       avgPrice > 0,
		Fee:               fee,
		HasFee:            fee > 0,
		TimeInForce:       unmapTIF(r.TimeInForce),
	}, nil
}

func parseFloatOr(s string, def float64) float64 {
	if s == "" {
		return def
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return v
}

func mapSide(s model.OrderSide) string {
	if s == model.SideBuy {
		return "buy"
	}
	return "sell"
}

func unmapSide(s string) model.OrderSide {
	if s == "buy" {
		return model.SideBuy
	}
	return model.SideSell
}

func mapOrderType(t model.OrderType) string {
	switch t {
	case model.OrderTypeLimitMaker:
		return "limit"
	case model.OrderTypeMarket:
		return "market"
	default:
		return "limit"
	}
}

func mapTIF(t model.TimeInForce) string {
	switch t {
	case model.TimeInForceIOC:
		return "ioc"
	case model.TimeInForceFOK:
		return "fok"
	default:
		return "gtc"
	}
}

func unmapTIF(t string) model.TimeInForce {
	switch t {
	case "ioc":
		return model.TimeInForceIOC
	case "fok":
		return model.TimeInForceFOK
	default:
		return model.TimeInForceGTC
	}
}

func unmapStatus(s string) model.OrderStatus {
	switch s {
	case "open":
		return model.OrderStatusNew
	case "closed":
		return model.OrderStatusFilled
	case "cancelled":
		return model.OrderStatusCanceled
	default:
		return model.OrderStatusNew
	}
}
