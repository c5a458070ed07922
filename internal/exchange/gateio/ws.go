package gateio

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/abdoElHodaky/arbiengine/internal/exchange"
	"github.com/abdoElHodaky/arbiengine/internal/model"
	"github.com/abdoElHodaky/arbiengine/internal/wsclient"
)

// subscribeMsg is Gate.io's envelope (spec §4.D):
// {"time": unix_seconds, "channel": "...", "event": "subscribe", "payload": [...], "auth"?: {...}}
type subscribeMsg struct {
	Time    int64       `json:"time"`
	Channel string      `json:"channel"`
	Event   string      `json:"event"`
	Payload []string    `json:"payload"`
	Auth    *authField  `json:"auth,omitempty"`
}

type authField struct {
	Method string `json:"method"`
	Key    string `json:"KEY"`
	Sign   string `json:"SIGN"`
}

type wsEnvelope struct {
	Time    int64           `json:"time"`
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Result  json.RawMessage `json:"result"`
	Error   json.RawMessage `json:"error"`
}

// publicHandler adapts wsclient events to exchange.MarketDataHandler for
// Gate.io's book-ticker/order-book-update/trades channels.
type publicHandler struct {
	e       *Exchange
	symbols []model.Symbol
	handler exchange.MarketDataHandler
}

func (h *publicHandler) OnConnect(ctx context.Context, c *wsclient.Client) error {
	now := time.Now().Unix()
	pairs := make([]string, len(h.symbols))
	for i, s := range h.symbols {
		pairs[i] = h.e.mapper.ToNative(s)
	}
	for _, channel := range []string{"spot.book_ticker", "spot.order_book_update", "spot.trades"} {
		msg := subscribeMsg{Time: now, Channel: channel, Event: "subscribe", Payload: pairs}
		data, _ := json.Marshal(msg)
		if err := c.Send(data); err != nil {
			return err
		}
	}
	return nil
}

func (h *publicHandler) OnDisconnect(err error) {}

func (h *publicHandler) OnMessage(data []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return
	}
	if env.Event != "update" || len(env.Result) == 0 {
		return
	}

	switch env.Channel {
	case "spot.book_ticker":
		h.handleBookTicker(env)
	case "spot.order_book_update":
		h.handleOrderBookUpdate(env)
	case "spot.trades":
		h.handleTrade(env)
	}
}

type bookTickerResult struct {
	T     int64  `json:"t"`
	S     string `json:"s"`
	BidP  string `json:"b"`
	BidQ  string `json:"B"`
	AskP  string `json:"a"`
	AskQ  string `json:"A"`
	Update int64 `json:"u"`
}

func (h *publicHandler) handleBookTicker(env wsEnvelope) {
	var r bookTickerResult
	if json.Unmarshal(env.Result, &r) != nil {
		return
	}
	sym, err := h.e.mapper.ToSymbol(r.S, false)
	if err != nil {
		return
	}
	h.handler.OnBookTicker(model.BookTicker{
		Symbol:      sym,
		Exchange:    exchangeName,
		BidPrice:    parseFloatOr(r.BidP, 0),
		BidQty:      parseFloatOr(r.BidQ, 0),
		AskPrice:    parseFloatOr(r.AskP, 0),
		AskQty:      parseFloatOr(r.AskQ, 0),
		TimestampMs: r.T * 1000,
		UpdateID:    r.Update,
		HasUpdateID: true,
	})
}

type orderBookUpdateResult struct {
	T     int64      `json:"t"`
	E     string     `json:"e"`
	S     string     `json:"s"`
	FirstUpdateID int64 `json:"U"`
	FinalUpdateID int64 `json:"u"`
	Bids  [][]string `json:"b"`
	Asks  [][]string `json:"a"`
}

func (h *publicHandler) handleOrderBookUpdate(env wsEnvelope) {
	var r orderBookUpdateResult
	if json.Unmarshal(env.Result, &r) != nil {
		return
	}
	sym, err := h.e.mapper.ToSymbol(r.S, false)
	if err != nil {
		return
	}
	bids, err1 := parseLevels(r.Bids)
	asks, err2 := parseLevels(r.Asks)
	if err1 != nil || err2 != nil {
		return
	}
	h.handler.OnDiff(sym, bids, asks, r.T, r.FirstUpdateID, r.FinalUpdateID)
}

type tradeResult struct {
	ID        int64  `json:"id"`
	CreateTime string `json:"create_time_ms"`
	Side      string `json:"side"`
	Amount    string `json:"amount"`
	Price     string `json:"price"`
	Symbol    string `json:"currency_pair"`
}

func (h *publicHandler) handleTrade(env wsEnvelope) {
	var r tradeResult
	if json.Unmarshal(env.Result, &r) != nil {
		return
	}
	sym, err := h.e.mapper.ToSymbol(r.Symbol, false)
	if err != nil {
		return
	}
	h.handler.OnTrade(model.Trade{
		Symbol:      sym,
		Exchange:    exchangeName,
		Side:        unmapSide(r.Side),
		Quantity:    parseFloatOr(r.Amount, 0),
		Price:       parseFloatOr(r.Price, 0),
		TimestampMs: int64(parseFloatOr(r.CreateTime, 0)),
		TradeID:     strconv.FormatInt(r.ID, 10),
	})
}

// StreamMarketData implements exchange.PublicData.
func (e *Exchange) StreamMarketData(ctx context.Context, symbols []model.Symbol, h exchange.MarketDataHandler) error {
	handler := &publicHandler{e: e, symbols: symbols, handler: h}
	c := e.newWSClient("public", e.wsPublicURL, handler, 20*time.Second)
	return c.Run(ctx)
}

// privateHandler adapts wsclient events to exchange.PrivateHandler for
// Gate.io's authenticated order/balance/trade channels.
type privateHandler struct {
	e       *Exchange
	handler exchange.PrivateHandler
}

func (h *privateHandler) OnConnect(ctx context.Context, c *wsclient.Client) error {
	now := time.Now().Unix()
	for _, channel := range []string{"spot.orders", "spot.balances", "spot.usertrades"} {
		sign := h.e.signer.channelAuth(channel, "subscribe", now)
		msg := subscribeMsg{
			Time: now, Channel: channel, Event: "subscribe", Payload: []string{"!all"},
			Auth: &authField{Method: "api_key", Key: h.e.signer.apiKey, Sign: sign},
		}
		data, _ := json.Marshal(msg)
		if err := c.Send(data); err != nil {
			return err
		}
	}
	return nil
}

func (h *privateHandler) OnDisconnect(err error) {}

func (h *privateHandler) OnMessage(data []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return
	}
	if env.Event != "update" || len(env.Result) == 0 {
		return
	}
	switch env.Channel {
	case "spot.orders":
		h.handleOrders(env)
	case "spot.balances":
		h.handleBalances(env)
	case "spot.usertrades":
		h.handleTrades(env)
	}
}

func (h *privateHandler) handleOrders(env wsEnvelope) {
	var orders []orderResponse
	if json.Unmarshal(env.Result, &orders) != nil {
		return
	}
	for _, r := range orders {
		sym, err := h.e.mapper.ToSymbol(r.CurrencyPair, false)
		if err != nil {
			continue
		}
		o, err := h.e.toOrder(r, sym)
		if err != nil {
			continue
		}
		h.handler.OnOrderUpdate(o)
	}
}

func (h *privateHandler) handleBalances(env wsEnvelope) {
	var balances []accountBalance
	if json.Unmarshal(env.Result, &balances) != nil {
		return
	}
	for _, b := range balances {
		h.handler.OnBalanceUpdate(model.AssetBalance{
			Asset:    model.AssetName(b.Currency),
			Exchange: exchangeName,
			Free:     parseFloatOr(b.Available, 0),
			Locked:   parseFloatOr(b.Locked, 0),
		})
	}
}

func (h *privateHandler) handleTrades(env wsEnvelope) {
	var trades []tradeResult
	if json.Unmarshal(env.Result, &trades) != nil {
		return
	}
	for _, r := range trades {
		sym, err := h.e.mapper.ToSymbol(r.Symbol, false)
		if err != nil {
			continue
		}
		h.handler.OnTradeUpdate(model.Trade{
			Symbol:      sym,
			Exchange:    exchangeName,
			Side:        unmapSide(r.Side),
			Quantity:    parseFloatOr(r.Amount, 0),
			Price:       parseFloatOr(r.Price, 0),
			TimestampMs: int64(parseFloatOr(r.CreateTime, 0)),
			TradeID:     strconv.FormatInt(r.ID, 10),
		})
	}
}

// StreamPrivate implements exchange.PrivateTrading. Gate.io authenticates
// each channel subscription directly (no listen-key), so no keepalive
// goroutine is required beyond the websocket-level ping.
func (e *Exchange) StreamPrivate(ctx context.Context, h exchange.PrivateHandler) error {
	handler := &privateHandler{e: e, handler: h}
	c := e.newWSClient("private", e.wsPrivateURL, handler, 20*time.Second)
	return c.Run(ctx)
}
