package main

import (
	"github.com/abdoElHodaky/arbiengine/internal/hub"
	"github.com/abdoElHodaky/arbiengine/internal/model"
)

// hubFeed bridges one exchange's exchange.MarketDataHandler callbacks into
// the shared hub, tagging every update with the exchange it came from.
// Neither gateio nor mexc's public stream emits snapshots (those only come
// from FetchOrderBookSnapshot during hydration), but the handler still
// implements OnSnapshot for interface completeness and any future
// exchange that streams them.
type hubFeed struct {
	exchange model.ExchangeName
	hub      *hub.Hub
}

func (f hubFeed) key(symbol model.Symbol) hub.Key {
	return hub.Key{Exchange: f.exchange, Symbol: symbol}
}

func (f hubFeed) OnSnapshot(symbol model.Symbol, bids, asks []model.OrderBookEntry, timestampMs, updateID int64) {
	_ = f.hub.ApplySnapshot(f.key(symbol), bids, asks, timestampMs, updateID, true)
}

func (f hubFeed) OnDiff(symbol model.Symbol, bids, asks []model.OrderBookEntry, timestampMs, firstUpdateID, finalUpdateID int64) {
	_ = f.hub.ApplyDiff(f.key(symbol), bids, asks, timestampMs, firstUpdateID, finalUpdateID, true)
}

func (f hubFeed) OnBookTicker(t model.BookTicker) {
	f.hub.PublishTicker(f.key(t.Symbol), t)
}

func (f hubFeed) OnTrade(t model.Trade) {
	f.hub.PublishTrade(f.key(t.Symbol), t)
}
