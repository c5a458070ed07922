package mexc

import (
	"context"
	"strconv"

	arbierrors "github.com/abdoElHodaky/arbiengine/internal/errors"
	"github.com/abdoElHodaky/arbiengine/internal/model"
	"github.com/abdoElHodaky/arbiengine/internal/restclient"
)

type exchangeInfoResponse struct {
	Symbols []exchangeInfoSymbol `json:"symbols"`
}

type exchangeInfoSymbol struct {
	Symbol              string `json:"symbol"`
	Status              string `json:"status"`
	BaseAsset           string `json:"baseAsset"`
	QuoteAsset          string `json:"quoteAsset"`
	BaseAssetPrecision  int32  `json:"baseAssetPrecision"`
	QuoteAssetPrecision int32  `json:"quoteAssetPrecision"`
	QuoteAmountPrecision string `json:"quoteAmountPrecision"`
	BaseSizePrecision     string `json:"baseSizePrecision"`
	MakerCommission     string `json:"makerCommission"`
	TakerCommission     string `json:"takerCommission"`
}

// FetchSymbolInfo implements exchange.PublicData.
func (e *Exchange) FetchSymbolInfo(ctx context.Context) ([]model.SymbolInfo, error) {
	var resp exchangeInfoResponse
	if err := e.rest.Do(ctx, restclient.Request{
		Method:   "GET",
		Path:     "/api/v3/exchangeInfo",
		Endpoint: "exchange_info",
	}, &resp); err != nil {
		return nil, err
	}

	out := make([]model.SymbolInfo, 0, len(resp.Symbols))
	for _, s := range resp.Symbols {
		sym, err := e.mapper.ToSymbol(s.Symbol, false)
		if err != nil {
			continue
		}
		out = append(out, model.SymbolInfo{
			Symbol:         sym,
			BasePrecision:  s.BaseAssetPrecision,
			QuotePrecision: s.QuoteAssetPrecision,
			MinBaseAmount:  parseFloatOr(s.BaseSizePrecision, 0),
			MinQuoteAmount: parseFloatOr(s.QuoteAmountPrecision, 0),
			MakerFee:       parseFloatOr(s.MakerCommission, 0.002),
			TakerFee:       parseFloatOr(s.TakerCommission, 0.002),
			Active:         s.Status == "ENABLED" || s.Status == "1",
		})
	}
	return out, nil
}

type depthResponse struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// FetchOrderBookSnapshot implements exchange.PublicData.
func (e *Exchange) FetchOrderBookSnapshot(ctx context.Context, sym model.Symbol) ([]model.OrderBookEntry, []model.OrderBookEntry, int64, error) {
	var resp depthResponse
	if err := e.rest.Do(ctx, restclient.Request{
		Method:   "GET",
		Path:     "/api/v3/depth",
		Endpoint: "depth",
		Query:    map[string]string{"symbol": e.mapper.ToNative(sym), "limit": "1000"},
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
	return bids, asks, resp.LastUpdateID, nil
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
	Symbol              string `json:"symbol"`
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	Price               string `json:"price"`
	OrigQty             string `json:"origQty"`
	ExecutedQty         string `json:"executedQty"`
	Status              string `json:"status"`
	TimeInForce         string `json:"timeInForce"`
	Type                string `json:"type"`
	Side                string `json:"side"`
	TransactTime        int64  `json:"transactTime"`
	Time                int64  `json:"time"`
}

// PlaceOrder implements exchange.PrivateTrading.
func (e *Exchange) PlaceOrder(ctx context.Context, sym model.Symbol, side model.OrderSide, typ model.OrderType, tif model.TimeInForce, qty, price float64) (model.Order, error) {
	query := map[string]string{
		"symbol":   e.mapper.ToNative(sym),
		"side":     string(side),
		"type":     mapOrderType(typ),
		"quantity": strconv.FormatFloat(qty, 'f', -1, 64),
	}
	if typ != model.OrderTypeMarket {
		query["price"] = strconv.FormatFloat(price, 'f', -1, 64)
		query["timeInForce"] = mapTIF(tif)
	}

	var resp orderResponse
	if err := e.rest.Do(ctx, restclient.Request{
		Method:   "POST",
		Path:     "/api/v3/order",
		Endpoint: "order",
		Query:    query,
		Signed:   true,
	}, &resp); err != nil {
		return model.Order{}, err
	}
	return toOrder(resp, sym), nil
}

// CancelOrder implements exchange.PrivateTrading.
func (e *Exchange) CancelOrder(ctx context.Context, sym model.Symbol, orderID model.OrderID) error {
	return e.rest.Do(ctx, restclient.Request{
		Method:   "DELETE",
		Path:     "/api/v3/order",
		Endpoint: "cancel_order",
		Query:    map[string]string{"symbol": e.mapper.ToNative(sym), "orderId": string(orderID)},
		Signed:   true,
	}, nil)
}

// GetOrder implements exchange.PrivateTrading.
func (e *Exchange) GetOrder(ctx context.Context, sym model.Symbol, orderID model.OrderID) (model.Order, error) {
	var resp orderResponse
	if err := e.rest.Do(ctx, restclient.Request{
		Method:   "GET",
		Path:     "/api/v3/order",
		Endpoint: "get_order",
		Query:    map[string]string{"symbol": e.mapper.ToNative(sym), "orderId": string(orderID)},
		Signed:   true,
	}, &resp); err != nil {
		return model.Order{}, err
	}
	return toOrder(resp, sym), nil
}

// GetOpenOrders implements exchange.PrivateTrading.
func (e *Exchange) GetOpenOrders(ctx context.Context, sym model.Symbol) ([]model.Order, error) {
	var resp []orderResponse
	if err := e.rest.Do(ctx, restclient.Request{
		Method:   "GET",
		Path:     "/api/v3/openOrders",
		Endpoint: "open_orders",
		Query:    map[string]string{"symbol": e.mapper.ToNative(sym)},
		Signed:   true,
	}, &resp); err != nil {
		return nil, err
	}
	out := make([]model.Order, 0, len(resp))
	for _, r := range resp {
		out = append(out, toOrder(r, sym))
	}
	return out, nil
}

type accountResponse struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

// GetBalances implements exchange.PrivateTrading.
func (e *Exchange) GetBalances(ctx context.Context) ([]model.AssetBalance, error) {
	var resp accountResponse
	if err := e.rest.Do(ctx, restclient.Request{
		Method:   "GET",
		Path:     "/api/v3/account",
		Endpoint: "account",
		Signed:   true,
	}, &resp); err != nil {
		return nil, err
	}
	out := make([]model.AssetBalance, 0, len(resp.Balances))
	for _, b := range resp.Balances {
		out = append(out, model.AssetBalance{
			Asset:    model.AssetName(b.Asset),
			Exchange: exchangeName,
			Free:     parseFloatOr(b.Free, 0),
			Locked:   parseFloatOr(b.Locked, 0),
		})
	}
	return out, nil
}

// createListenKey requests a new private-stream listen key (spec §6: POST
// /api/v3/userDataStream).
func (e *Exchange) createListenKey(ctx context.Context) (string, error) {
	var resp struct {
		ListenKey string `json:"listenKey"`
	}
	if err := e.rest.Do(ctx, restclient.Request{
		Method:   "POST",
		Path:     "/api/v3/userDataStream",
		Endpoint: "listen_key",
	}, &resp); err != nil {
		return "", err
	}
	return resp.ListenKey, nil
}

// refreshListenKey extends a listen key's validity (spec §6: PUT
// /api/v3/userDataStream, every 30 minutes).
func (e *Exchange) refreshListenKey(ctx context.Context, key string) error {
	return e.rest.Do(ctx, restclient.Request{
		Method:   "PUT",
		Path:     "/api/v3/userDataStream",
		Endpoint: "listen_key_keepalive",
		Query:    map[string]string{"listenKey": key},
	}, nil)
}

func toOrder(r orderResponse, sym model.Symbol) model.Order {
	filled := parseFloatOr(r.ExecutedQty, 0)
	qty := parseFloatOr(r.OrigQty, 0)
	ts := r.TransactTime
	if ts == 0 {
		ts = r.Time
	}
	return model.Order{
		Symbol:            sym,
		Exchange:          exchangeName,
		OrderID:           model.OrderID(strconv.FormatInt(r.OrderID, 10)),
		ClientOrderID:     r.ClientOrderID,
		Side:              model.OrderSide(r.Side),
		Quantity:          qty,
		Price:             parseFloatOr(r.Price, 0),
		HasPrice:          r.Price != "" && r.Price != "0",
		FilledQuantity:    filled,
		RemainingQuantity: qty - filled,
		HasRemaining:      true,
		Status:            unmapStatus(r.Status),
		TimestampMs:       ts,
		TimeInForce:       unmapTIF(r.TimeInForce),
	}
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

func mapOrderType(t model.OrderType) string {
	switch t {
	case model.OrderTypeMarket:
		return "MARKET"
	case model.OrderTypeLimitMaker:
		return "LIMIT_MAKER"
	default:
		return "LIMIT"
	}
}

func mapTIF(t model.TimeInForce) string {
	return string(t)
}

func unmapTIF(s string) model.TimeInForce {
	switch s {
	case "IOC":
		return model.TimeInForceIOC
	case "FOK":
		return model.TimeInForceFOK
	default:
		return model.TimeInForceGTC
	}
}

func unmapStatus(s string) model.OrderStatus {
	switch s {
	case "NEW":
		return model.OrderStatusNew
	case "PARTIALLY_FILLED":
		return model.OrderStatusPartiallyFilled
	case "FILLED":
		return model.OrderStatusFilled
	case "CANCELED":
		return model.OrderStatusCanceled
	case "REJECTED":
		return model.OrderStatusRejected
	case "EXPIRED":
		return model.OrderStatusExpired
	default:
		return model.OrderStatusNew
	}
}
