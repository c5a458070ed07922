package hub

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdoElHodaky/arbiengine/internal/metrics"
	"github.com/abdoElHodaky/arbiengine/internal/model"
)

var btcUSDT = model.Symbol{Base: "BTC", Quote: "USDT"}

func newTestHub() *Hub {
	return New(metrics.New(prometheus.NewRegistry()), nil)
}

func TestHub_ApplySnapshot_ThenBestBidAsk(t *testing.T) {
	h := newTestHub()
	key := Key{Exchange: "gateio", Symbol: btcUSDT}

	require.NoError(t, h.ApplySnapshot(key,
		[]model.OrderBookEntry{{Price: 100, Size: 1}},
		[]model.OrderBookEntry{{Price: 101, Size: 1}},
		time.Now().UnixMilli(), 1, true))

	bid, ask, ts, ok := h.BestBidAsk(key)
	require.True(t, ok)
	assert.Equal(t, 100.0, bid.Price)
	assert.Equal(t, 101.0, ask.Price)
	assert.Greater(t, ts, int64(0))
}

func TestHub_BestBidAsk_UnknownKeyReturnsFalse(t *testing.T) {
	h := newTestHub()
	_, _, _, ok := h.BestBidAsk(Key{Exchange: "gateio", Symbol: btcUSDT})
	assert.False(t, ok)
}

func TestHub_ApplyDiff_SequenceGapMakesBestBidAskUnavailable(t *testing.T) {
	h := newTestHub()
	key := Key{Exchange: "gateio", Symbol: btcUSDT}

	require.NoError(t, h.ApplySnapshot(key,
		[]model.OrderBookEntry{{Price: 100, Size: 1}},
		[]model.OrderBookEntry{{Price: 101, Size: 1}},
		1000, 10, true))

	err := h.ApplyDiff(key, []model.OrderBookEntry{{Price: 100, Size: 2}}, nil, 1100, 50, 51, true)
	require.Error(t, err)

	_, _, _, ok := h.BestBidAsk(key)
	assert.False(t, ok, "stale book must not serve a best bid/ask")
}

func TestHub_PublishTicker_ThenTicker(t *testing.T) {
	h := newTestHub()
	key := Key{Exchange: "gateio", Symbol: btcUSDT}

	ticker := model.BookTicker{Symbol: btcUSDT, BidPrice: 100, AskPrice: 101}
	h.PublishTicker(key, ticker)

	got, ok := h.Ticker(key)
	require.True(t, ok)
	assert.Equal(t, 100.0, got.BidPrice)
}

func TestHub_Ticker_UnknownKeyReturnsFalse(t *testing.T) {
	h := newTestHub()
	_, ok := h.Ticker(Key{Exchange: "gateio", Symbol: btcUSDT})
	assert.False(t, ok)
}

type recordingSubscriber struct {
	bookUpdates  int
	tickerEvents int
	tradeEvents  int
}

func (r *recordingSubscriber) OnBookUpdate(key Key, book *model.OrderBook) { r.bookUpdates++ }
func (r *recordingSubscriber) OnTicker(key Key, ticker model.BookTicker)   { r.tickerEvents++ }
func (r *recordingSubscriber) OnTrade(key Key, trade model.Trade)          { r.tradeEvents++ }

func TestHub_Subscribe_ReceivesAllEventTypes(t *testing.T) {
	h := newTestHub()
	key := Key{Exchange: "gateio", Symbol: btcUSDT}

	sub := &recordingSubscriber{}
	h.Subscribe("scanner", sub)

	require.NoError(t, h.ApplySnapshot(key,
		[]model.OrderBookEntry{{Price: 100, Size: 1}},
		[]model.OrderBookEntry{{Price: 101, Size: 1}},
		1000, 1, true))
	h.PublishTicker(key, model.BookTicker{Symbol: btcUSDT, BidPrice: 100, AskPrice: 101})
	h.PublishTrade(key, model.Trade{Symbol: btcUSDT, Price: 100.5, Quantity: 0.1})

	assert.Equal(t, 1, sub.bookUpdates)
	assert.Equal(t, 1, sub.tickerEvents)
	assert.Equal(t, 1, sub.tradeEvents)
}

func TestHub_Unsubscribe_StopsDelivery(t *testing.T) {
	h := newTestHub()
	key := Key{Exchange: "gateio", Symbol: btcUSDT}

	sub := &recordingSubscriber{}
	h.Subscribe("scanner", sub)
	h.Unsubscribe("scanner")

	require.NoError(t, h.ApplySnapshot(key,
		[]model.OrderBookEntry{{Price: 100, Size: 1}},
		[]model.OrderBookEntry{{Price: 101, Size: 1}},
		1000, 1, true))

	assert.Equal(t, 0, sub.bookUpdates)
}

func TestHub_Keys_ReturnsAllTrackedEntries(t *testing.T) {
	h := newTestHub()
	require.NoError(t, h.ApplySnapshot(Key{Exchange: "gateio", Symbol: btcUSDT},
		[]model.OrderBookEntry{{Price: 100, Size: 1}}, []model.OrderBookEntry{{Price: 101, Size: 1}}, 1000, 1, true))
	require.NoError(t, h.ApplySnapshot(Key{Exchange: "mexc", Symbol: btcUSDT},
		[]model.OrderBookEntry{{Price: 100, Size: 1}}, []model.OrderBookEntry{{Price: 101, Size: 1}}, 1000, 1, true))

	keys := h.Keys()
	assert.Len(t, keys, 2)
}
