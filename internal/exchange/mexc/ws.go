package mexc

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/abdoElHodaky/arbiengine/internal/exchange"
	"github.com/abdoElHodaky/arbiengine/internal/model"
	"github.com/abdoElHodaky/arbiengine/internal/wsclient"
)

// subscribeMsg is MEXC's envelope (spec §4.D):
// {"method": "SUBSCRIPTION", "params": [...], "id": N}
type subscribeMsg struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

type wsEnvelope struct {
	Channel string          `json:"c"`
	Symbol  string          `json:"s"`
	Data    json.RawMessage `json:"d"`
	Time    int64           `json:"t"`
}

type publicHandler struct {
	e       *Exchange
	symbols []model.Symbol
	handler exchange.MarketDataHandler
}

func (h *publicHandler) OnConnect(ctx context.Context, c *wsclient.Client) error {
	var params []string
	for i, s := range h.symbols {
		native := h.e.mapper.ToNative(s)
		params = append(params,
			fmt.Sprintf("spot@public.bookTicker.v3.api@%s", native),
			fmt.Sprintf("spot@public.increase.depth.v3.api@%s", native),
			fmt.Sprintf("spot@public.deals.v3.api@%s", native),
		)
		_ = i
	}
	msg := subscribeMsg{Method: "SUBSCRIPTION", Params: params, ID: time.Now().UnixMilli()}
	data, _ := json.Marshal(msg)
	return c.Send(data)
}

func (h *publicHandler) OnDisconnect(err error) {}

func (h *publicHandler) OnMessage(data []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(data, &env); err != nil || env.Channel == "" {
		return
	}
	switch {
	case contains(env.Channel, "bookTicker"):
		h.handleBookTicker(env)
	case contains(env.Channel, "depth"):
		h.handleDepth(env)
	case contains(env.Channel, "deals"):
		h.handleDeals(env)
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

type bookTickerData struct {
	BidPrice string `json:"b"`
	BidQty   string `json:"B"`
	AskPrice string `json:"a"`
	AskQty   string `json:"A"`
}

func (h *publicHandler) handleBookTicker(env wsEnvelope) {
	var d bookTickerData
	if json.Unmarshal(env.Data, &d) != nil {
		return
	}
	sym, err := h.e.mapper.ToSymbol(env.Symbol, false)
	if err != nil {
		return
	}
	h.handler.OnBookTicker(model.BookTicker{
		Symbol:      sym,
		Exchange:    exchangeName,
		BidPrice:    parseFloatOr(d.BidPrice, 0),
		BidQty:      parseFloatOr(d.BidQty, 0),
		AskPrice:    parseFloatOr(d.AskPrice, 0),
		AskQty:      parseFloatOr(d.AskQty, 0),
		TimestampMs: env.Time,
	})
}

type depthData struct {
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
	FromVersion  string      `json:"r"`
	ToVersion    string      `json:"v"`
}

func (h *publicHandler) handleDepth(env wsEnvelope) {
	var d depthData
	if json.Unmarshal(env.Data, &d) != nil {
		return
	}
	sym, err := h.e.mapper.ToSymbol(env.Symbol, false)
	if err != nil {
		return
	}
	bids := toEntries(d.Bids)
	asks := toEntries(d.Asks)
	fromV, _ := strconv.ParseInt(d.FromVersion, 10, 64)
	toV, _ := strconv.ParseInt(d.ToVersion, 10, 64)
	h.handler.OnDiff(sym, bids, asks, env.Time, fromV, toV)
}

func toEntries(raw [][2]string) []model.OrderBookEntry {
	out := make([]model.OrderBookEntry, 0, len(raw))
	for _, lvl := range raw {
		out = append(out, model.OrderBookEntry{
			Price: parseFloatOr(lvl[0], 0),
			Size:  parseFloatOr(lvl[1], 0),
		})
	}
	return out
}

type dealData struct {
	Price    string `json:"p"`
	Quantity string `json:"v"`
	TradeType int   `json:"T"` // 1 = buy, 2 = sell
	Time     int64  `json:"t"`
}

func (h *publicHandler) handleDeals(env wsEnvelope) {
	var deals []dealData
	if json.Unmarshal(env.Data, &deals) != nil {
		return
	}
	sym, err := h.e.mapper.ToSymbol(env.Symbol, false)
	if err != nil {
		return
	}
	for _, d := range deals {
		side := model.SideBuy
		if d.TradeType == 2 {
			side = model.SideSell
		}
		h.handler.OnTrade(model.Trade{
			Symbol:      sym,
			Exchange:    exchangeName,
			Side:        side,
			Quantity:    parseFloatOr(d.Quantity, 0),
			Price:       parseFloatOr(d.Price, 0),
			TimestampMs: d.Time,
		})
	}
}

// StreamMarketData implements exchange.PublicData.
func (e *Exchange) StreamMarketData(ctx context.Context, symbols []model.Symbol, h exchange.MarketDataHandler) error {
	handler := &publicHandler{e: e, symbols: symbols, handler: h}
	c := e.newWSClient("public", e.wsURL, handler, 20*time.Second)
	return c.Run(ctx)
}

type privateHandler struct {
	e       *Exchange
	handler exchange.PrivateHandler
}

func (h *privateHandler) OnConnect(ctx context.Context, c *wsclient.Client) error {
	msg := subscribeMsg{
		Method: "SUBSCRIPTION",
		Params: []string{
			"spot@private.orders.v3.api",
			"spot@private.account.v3.api",
			"spot@private.deals.v3.api",
		},
		ID: time.Now().UnixMilli(),
	}
	data, _ := json.Marshal(msg)
	return c.Send(data)
}

func (h *privateHandler) OnDisconnect(err error) {}

func (h *privateHandler) OnMessage(data []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(data, &env); err != nil || env.Channel == "" {
		return
	}
	switch {
	case contains(env.Channel, "orders"):
		h.handleOrder(env)
	case contains(env.Channel, "account"):
		h.handleBalance(env)
	case contains(env.Channel, "deals"):
		h.handleTrade(env)
	}
}

type privateOrderData struct {
	OrderID     string `json:"i"`
	ClientOrderID string `json:"c"`
	Price       string `json:"p"`
	Quantity    string `json:"v"`
	FilledQty   string `json:"cv"`
	Status      int    `json:"s"`
	Side        int    `json:"S"` // 1 = buy, 2 = sell
	Time        int64  `json:"t"`
}

func (h *privateHandler) handleOrder(env wsEnvelope) {
	var d privateOrderData
	if json.Unmarshal(env.Data, &d) != nil {
		return
	}
	sym, err := h.e.mapper.ToSymbol(env.Symbol, false)
	if err != nil {
		return
	}
	side := model.SideBuy
	if d.Side == 2 {
		side = model.SideSell
	}
	qty := parseFloatOr(d.Quantity, 0)
	filled := parseFloatOr(d.FilledQty, 0)
	h.handler.OnOrderUpdate(model.Order{
		Symbol:            sym,
		Exchange:          exchangeName,
		OrderID:           model.OrderID(d.OrderID),
		ClientOrderID:     d.ClientOrderID,
		Side:              side,
		Quantity:          qty,
		Price:             parseFloatOr(d.Price, 0),
		HasPrice:          d.Price != "",
		FilledQuantity:    filled,
		RemainingQuantity: qty - filled,
		HasRemaining:      true,
		Status:            unmapPrivateStatus(d.Status),
		TimestampMs:       d.Time,
	})
}

func unmapPrivateStatus(n int) model.OrderStatus {
	switch n {
	case 1:
		return model.OrderStatusNew
	case 2:
		return model.OrderStatusPartiallyFilled
	case 3:
		return model.OrderStatusFilled
	case 4:
		return model.OrderStatusCanceled
	case 6:
		return model.OrderStatusRejected
	case 7:
		return model.OrderStatusExpired
	default:
		return model.OrderStatusNew
	}
}

type privateBalanceData struct {
	Asset  string `json:"a"`
	Free   string `json:"f"`
	Locked string `json:"l"`
}

func (h *privateHandler) handleBalance(env wsEnvelope) {
	var d privateBalanceData
	if json.Unmarshal(env.Data, &d) != nil {
		return
	}
	h.handler.OnBalanceUpdate(model.AssetBalance{
		Asset:    model.AssetName(d.Asset),
		Exchange: exchangeName,
		Free:     parseFloatOr(d.Free, 0),
		Locked:   parseFloatOr(d.Locked, 0),
	})
}

type privateDealData struct {
	Price     string `json:"p"`
	Quantity  string `json:"v"`
	Side      int    `json:"S"`
	Time      int64  `json:"t"`
	IsMaker   bool   `json:"m"`
}

func (h *privateHandler) handleTrade(env wsEnvelope) {
	var d privateDealData
	if json.Unmarshal(env.Data, &d) != nil {
		return
	}
	sym, err := h.e.mapper.ToSymbol(env.Symbol, false)
	if err != nil {
		return
	}
	side := model.SideBuy
	if d.Side == 2 {
		side = model.SideSell
	}
	h.handler.OnTradeUpdate(model.Trade{
		Symbol:      sym,
		Exchange:    exchangeName,
		Side:        side,
		Quantity:    parseFloatOr(d.Quantity, 0),
		Price:       parseFloatOr(d.Price, 0),
		TimestampMs: d.Time,
		IsMaker:     d.IsMaker,
		HasIsMaker:  true,
	})
}

// StreamPrivate implements exchange.PrivateTrading: obtains a listen key,
// embeds it in the connect URL, and starts the 30-minute keepalive loop
// (spec §4.D, §6, §9).
func (e *Exchange) StreamPrivate(ctx context.Context, h exchange.PrivateHandler) error {
	key, err := e.createListenKey(ctx)
	if err != nil {
		return err
	}
	e.listenKeyMu.Lock()
	e.listenKey = key
	e.listenKeyMu.Unlock()

	go e.keepAliveListenKey(ctx)

	handler := &privateHandler{e: e, handler: h}
	c := e.newWSClient("private", e.wsURL+"?listenKey="+key, handler, 20*time.Second)
	return c.Run(ctx)
}
