// Package hub implements the process-wide market-data fan-in (spec §4.F):
// a single owner of every (exchange, symbol) order book, keeping the
// latest BookTicker and trade alongside it, and dispatching updates to
// subscribers synchronously on the producing exchange client's goroutine.
// Subscriber callbacks must therefore be non-blocking.
package hub

import (
	"sync"

	"go.uber.org/zap"

	"github.com/abdoElHodaky/arbiengine/internal/metrics"
	"github.com/abdoElHodaky/arbiengine/internal/model"
	"github.com/abdoElHodaky/arbiengine/internal/orderbook"
)

// Key identifies one order book within the hub.
type Key struct {
	Exchange model.ExchangeName
	Symbol   model.Symbol
}

// Subscriber receives hub events. Implementations must not block or call
// back into the hub.
type Subscriber interface {
	OnBookUpdate(key Key, book *model.OrderBook)
	OnTicker(key Key, ticker model.BookTicker)
	OnTrade(key Key, trade model.Trade)
}

type entry struct {
	book        *orderbook.Book
	ticker      model.BookTicker
	hasTicker   bool
	lastTrade   model.Trade
	hasLastTrade bool
}

// Hub fans public market data from every connected exchange client into a
// shared, keyed view that the scanner and tasks read from.
type Hub struct {
	mu      sync.RWMutex
	entries map[Key]*entry

	subMu       sync.RWMutex
	subscribers map[string]Subscriber

	metrics *metrics.Registry
	log     *zap.Logger
}

// New creates an empty Hub.
func New(metricsReg *metrics.Registry, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		entries:     make(map[Key]*entry),
		subscribers: make(map[string]Subscriber),
		metrics:     metricsReg,
		log:         log,
	}
}

// Subscribe registers a subscriber under id, replacing any previous
// subscriber with the same id.
func (h *Hub) Subscribe(id string, sub Subscriber) {
	h.subMu.Lock()
	defer h.subMu.Unlock()
	h.subscribers[id] = sub
}

// Unsubscribe removes a subscriber by id.
func (h *Hub) Unsubscribe(id string) {
	h.subMu.Lock()
	defer h.subMu.Unlock()
	delete(h.subscribers, id)
}

func (h *Hub) bookFor(key Key) *entry {
	h.mu.RLock()
	e, ok := h.entries[key]
	h.mu.RUnlock()
	if ok {
		return e
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if e, ok = h.entries[key]; ok {
		return e
	}
	e = &entry{}
	e.book = orderbook.New(key.Symbol, key.Exchange, func(ob *model.OrderBook) {
		h.dispatchBook(key, ob)
	})
	h.entries[key] = e
	return e
}

func (h *Hub) dispatchBook(key Key, ob *model.OrderBook) {
	if h.metrics != nil {
		h.metrics.BookUpdates.WithLabelValues(string(key.Exchange), key.Symbol.String(), "applied").Inc()
	}
	h.subMu.RLock()
	defer h.subMu.RUnlock()
	for _, sub := range h.subscribers {
		sub.OnBookUpdate(key, ob)
	}
}

// ApplySnapshot applies a full order book snapshot for (exchange, symbol).
func (h *Hub) ApplySnapshot(key Key, bids, asks []model.OrderBookEntry, timestampMs, updateID int64, hasUpdateID bool) error {
	e := h.bookFor(key)
	if err := e.book.ApplySnapshot(bids, asks, timestampMs, updateID, hasUpdateID); err != nil {
		if h.metrics != nil {
			h.metrics.BookUpdates.WithLabelValues(string(key.Exchange), key.Symbol.String(), "error").Inc()
		}
		return err
	}
	return nil
}

// ApplyDiff applies an incremental order book update. A sequence gap marks
// the book stale; the caller (the owning exchange client) is responsible
// for requesting a fresh snapshot.
func (h *Hub) ApplyDiff(key Key, bids, asks []model.OrderBookEntry, timestampMs, firstUpdateID, finalUpdateID int64, hasUpdateID bool) error {
	e := h.bookFor(key)
	if err := e.book.ApplyDiff(bids, asks, timestampMs, firstUpdateID, finalUpdateID, hasUpdateID); err != nil {
		if h.metrics != nil {
			h.metrics.BookSeqGaps.WithLabelValues(string(key.Exchange), key.Symbol.String()).Inc()
			h.metrics.BookStale.WithLabelValues(string(key.Exchange), key.Symbol.String()).Set(1)
		}
		return err
	}
	if h.metrics != nil {
		h.metrics.BookStale.WithLabelValues(string(key.Exchange), key.Symbol.String()).Set(0)
	}
	return nil
}

// PublishTicker records the latest BookTicker for (exchange, symbol) and
// notifies subscribers.
func (h *Hub) PublishTicker(key Key, t model.BookTicker) {
	e := h.bookFor(key)
	h.mu.Lock()
	e.ticker = t
	e.hasTicker = true
	h.mu.Unlock()

	h.subMu.RLock()
	defer h.subMu.RUnlock()
	for _, sub := range h.subscribers {
		sub.OnTicker(key, t)
	}
}

// PublishTrade records the latest public trade for (exchange, symbol) and
// notifies subscribers.
func (h *Hub) PublishTrade(key Key, tr model.Trade) {
	e := h.bookFor(key)
	h.mu.Lock()
	e.lastTrade = tr
	e.hasLastTrade = true
	h.mu.Unlock()

	h.subMu.RLock()
	defer h.subMu.RUnlock()
	for _, sub := range h.subscribers {
		sub.OnTrade(key, tr)
	}
}

// BestBidAsk returns the cached best bid and ask for (exchange, symbol).
// ok is false if the book has never been initialized, is stale, or is
// missing either side.
func (h *Hub) BestBidAsk(key Key) (bid, ask model.OrderBookEntry, timestampMs int64, ok bool) {
	h.mu.RLock()
	e, exists := h.entries[key]
	h.mu.RUnlock()
	if !exists {
		return model.OrderBookEntry{}, model.OrderBookEntry{}, 0, false
	}
	if e.book.IsStale() {
		return model.OrderBookEntry{}, model.OrderBookEntry{}, 0, false
	}
	b, hasBid := e.book.BestBid()
	a, hasAsk := e.book.BestAsk()
	if !hasBid || !hasAsk {
		return model.OrderBookEntry{}, model.OrderBookEntry{}, 0, false
	}
	return b, a, e.book.LastUpdateMs(), true
}

// Ticker returns the last BookTicker observed for (exchange, symbol).
func (h *Hub) Ticker(key Key) (model.BookTicker, bool) {
	h.mu.RLock()
	e, exists := h.entries[key]
	h.mu.RUnlock()
	if !exists {
		return model.BookTicker{}, false
	}
	h.mu.RLock()
	t, has := e.ticker, e.hasTicker
	h.mu.RUnlock()
	return t, has
}

// Keys returns every (exchange, symbol) key the hub currently tracks.
func (h *Hub) Keys() []Key {
	h.mu.RLock()
	defer h.mu.RUnlock()
	keys := make([]Key, 0, len(h.entries))
	for k := range h.entries {
		keys = append(keys, k)
	}
	return keys
}
