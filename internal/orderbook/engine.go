// Package orderbook implements the per-symbol incremental order book
// engine (spec §4.E): snapshot+diff application, sequence validation, an
// O(1) best-bid/ask cache, and a publish-on-change callback. Each Book is
// owned exclusively by the market-data hub; readers only ever observe a
// fully-applied state because every mutation holds the book's lock for its
// whole duration (no suspension mid-update, per spec §5).
package orderbook

import (
	"sort"
	"sync"

	"github.com/abdoElHodaky/arbiengine/internal/errors"
	"github.com/abdoElHodaky/arbiengine/internal/model"
	"github.com/abdoElHodaky/arbiengine/internal/pool"
)

// level is the internal pooled representation of one price level.
type level struct {
	price float64
	size  float64
}

var levelSlicePool = pool.NewSlicePool[level](64)

// Book is one symbol's incremental order book on one exchange.
type Book struct {
	mu sync.RWMutex

	symbol   model.Symbol
	exchange model.ExchangeName

	bids []level // descending by price
	asks []level // ascending by price

	hasUpdateID  bool
	lastUpdateID int64
	timestampMs  int64

	bestBid    model.OrderBookEntry
	hasBestBid bool
	bestAsk    model.OrderBookEntry
	hasBestAsk bool

	stale bool

	onChange func(*model.OrderBook)
}

// New creates an empty Book for symbol on exchange. onChange, if non-nil,
// is invoked synchronously (per spec §4.F, handlers must be non-blocking)
// after every successful apply with a normalized snapshot view.
func New(symbol model.Symbol, exchange model.ExchangeName, onChange func(*model.OrderBook)) *Book {
	return &Book{
		symbol:   symbol,
		exchange: exchange,
		bids:     levelSlicePool.Get(),
		asks:     levelSlicePool.Get(),
		onChange: onChange,
	}
}

// ApplySnapshot replaces both sides wholesale. O(n + n log n) in snapshot
// size; bids/asks need not be pre-sorted, ApplySnapshot sorts them.
func (b *Book) ApplySnapshot(bids, asks []model.OrderBookEntry, timestampMs int64, updateID int64, hasUpdateID bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bids = b.bids[:0]
	for _, e := range bids {
		if e.Size <= 0 {
			continue
		}
		b.bids = append(b.bids, level{e.Price, e.Size})
	}
	sort.Slice(b.bids, func(i, j int) bool { return b.bids[i].price > b.bids[j].price })

	b.asks = b.asks[:0]
	for _, e := range asks {
		if e.Size <= 0 {
			continue
		}
		b.asks = append(b.asks, level{e.Price, e.Size})
	}
	sort.Slice(b.asks, func(i, j int) bool { return b.asks[i].price < b.asks[j].price })

	b.timestampMs = timestampMs
	b.lastUpdateID = updateID
	b.hasUpdateID = hasUpdateID
	b.stale = false

	if err := b.recomputeBestLocked(); err != nil {
		b.stale = true
		return err
	}
	b.publishLocked()
	return nil
}

// ApplyDiff upserts or removes levels (size == 0 removes). When the
// exchange provides sequence ids, firstUpdateID/finalUpdateID are validated
// against the book's last applied id (spec §4.E, S2): a gap marks the book
// stale and returns an InvariantViolation so the caller can request a fresh
// snapshot. O(k log n) for k changed levels.
func (b *Book) ApplyDiff(bids, asks []model.OrderBookEntry, timestampMs int64, firstUpdateID, finalUpdateID int64, hasUpdateID bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stale {
		return errors.New(errors.CodeInvariant, "book is stale, snapshot required").WithSymbol(b.symbol.String())
	}

	if hasUpdateID && b.hasUpdateID {
		if firstUpdateID > b.lastUpdateID+1 {
			b.stale = true
			return errors.Newf(errors.CodeInvariant, "sequence gap: have %d, got first %d", b.lastUpdateID, firstUpdateID).
				WithSymbol(b.symbol.String())
		}
		if finalUpdateID <= b.lastUpdateID {
			// Fully-stale diff (already applied or older than snapshot); drop.
			return nil
		}
	}

	b.bids = applyLevels(b.bids, bids, true)
	b.asks = applyLevels(b.asks, asks, false)

	b.timestampMs = timestampMs
	if hasUpdateID {
		b.lastUpdateID = finalUpdateID
		b.hasUpdateID = true
	}

	if err := b.recomputeBestLocked(); err != nil {
		b.stale = true
		return err
	}
	b.publishLocked()
	return nil
}

// applyLevels upserts/removes entries into a sorted level slice, descending
// (bidsSide=true) or ascending. Existing levels are updated in place (O(1)
// per already-present level); new levels are inserted in sorted position.
func applyLevels(cur []level, updates []model.OrderBookEntry, descending bool) []level {
	for _, u := range updates {
		idx := sort.Search(len(cur), func(i int) bool {
			if descending {
				return cur[i].price <= u.Price
			}
			return cur[i].price >= u.Price
		})

		found := idx < len(cur) && cur[idx].price == u.Price

		switch {
		case u.Size <= 0 && found:
			cur = append(cur[:idx], cur[idx+1:]...)
		case u.Size <= 0:
			// removal of a level that doesn't exist: no-op
		case found:
			cur[idx].size = u.Size
		default:
			cur = append(cur, level{})
			copy(cur[idx+1:], cur[idx:])
			cur[idx] = level{u.Price, u.Size}
		}
	}
	return cur
}

// recomputeBestLocked refreshes the cached best bid/ask and checks the
// crossed-book invariant. Caller must hold b.mu.
func (b *Book) recomputeBestLocked() error {
	b.hasBestBid = len(b.bids) > 0
	if b.hasBestBid {
		b.bestBid = model.OrderBookEntry{Price: b.bids[0].price, Size: b.bids[0].size}
	}
	b.hasBestAsk = len(b.asks) > 0
	if b.hasBestAsk {
		b.bestAsk = model.OrderBookEntry{Price: b.asks[0].price, Size: b.asks[0].size}
	}
	if b.hasBestBid && b.hasBestAsk && b.bestBid.Price >= b.bestAsk.Price {
		return errors.Newf(errors.CodeInvariant, "crossed book: bid %.8f >= ask %.8f", b.bestBid.Price, b.bestAsk.Price).
			WithSymbol(b.symbol.String())
	}
	return nil
}

// publishLocked invokes onChange with a fresh snapshot view. Caller must
// hold b.mu (at least RLock) for the duration of the copy.
func (b *Book) publishLocked() {
	if b.onChange == nil {
		return
	}
	b.onChange(b.snapshotLocked(len(b.bids), len(b.asks)))
}

// BestBid returns the best bid in O(1) from the cache.
func (b *Book) BestBid() (model.OrderBookEntry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bestBid, b.hasBestBid && !b.stale
}

// BestAsk returns the best ask in O(1) from the cache.
func (b *Book) BestAsk() (model.OrderBookEntry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bestAsk, b.hasBestAsk && !b.stale
}

// IsStale reports whether the book needs a fresh snapshot before further
// diffs will be accepted.
func (b *Book) IsStale() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stale
}

// LastUpdateMs returns the timestamp of the most recent applied snapshot
// or diff.
func (b *Book) LastUpdateMs() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.timestampMs
}

// Depth returns up to n levels from each side.
func (b *Book) Depth(n int) (bids, asks []model.OrderBookEntry) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	snap := b.snapshotLocked(min(n, len(b.bids)), min(n, len(b.asks)))
	return snap.Bids, snap.Asks
}

func (b *Book) snapshotLocked(nBids, nAsks int) *model.OrderBook {
	bids := make([]model.OrderBookEntry, nBids)
	for i := 0; i < nBids; i++ {
		bids[i] = model.OrderBookEntry{Price: b.bids[i].price, Size: b.bids[i].size}
	}
	asks := make([]model.OrderBookEntry, nAsks)
	for i := 0; i < nAsks; i++ {
		asks[i] = model.OrderBookEntry{Price: b.asks[i].price, Size: b.asks[i].size}
	}
	return &model.OrderBook{
		Symbol:       b.symbol,
		Exchange:     b.exchange,
		Bids:         bids,
		Asks:         asks,
		TimestampMs:  b.timestampMs,
		LastUpdateID: b.lastUpdateID,
		HasUpdateID:  b.hasUpdateID,
	}
}

// Ticker derives a BookTicker in O(1) from the cached best levels.
func (b *Book) Ticker() (model.BookTicker, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stale || !b.hasBestBid || !b.hasBestAsk {
		return model.BookTicker{}, false
	}
	return model.BookTicker{
		Symbol:      b.symbol,
		Exchange:    b.exchange,
		BidPrice:    b.bestBid.Price,
		BidQty:      b.bestBid.Size,
		AskPrice:    b.bestAsk.Price,
		AskQty:      b.bestAsk.Size,
		TimestampMs: b.timestampMs,
		UpdateID:    b.lastUpdateID,
		HasUpdateID: b.hasUpdateID,
	}, true
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
