package orderbook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdoElHodaky/arbiengine/internal/model"
)

var testSymbol = model.Symbol{Base: "BTC", Quote: "USDT"}

func TestBook_ApplySnapshot_SetsBestBidAsk(t *testing.T) {
	b := New(testSymbol, "gateio", nil)

	err := b.ApplySnapshot(
		[]model.OrderBookEntry{{Price: 100, Size: 1}, {Price: 99, Size: 2}},
		[]model.OrderBookEntry{{Price: 101, Size: 1}, {Price: 102, Size: 3}},
		1000, 5, true,
	)
	require.NoError(t, err)

	bid, ok := b.BestBid()
	require.True(t, ok)
	assert.Equal(t, 100.0, bid.Price)

	ask, ok := b.BestAsk()
	require.True(t, ok)
	assert.Equal(t, 101.0, ask.Price)

	assert.False(t, b.IsStale())
	assert.Equal(t, int64(1000), b.LastUpdateMs())
}

func TestBook_ApplySnapshot_ZeroSizeLevelsDropped(t *testing.T) {
	b := New(testSymbol, "gateio", nil)

	err := b.ApplySnapshot(
		[]model.OrderBookEntry{{Price: 100, Size: 1}, {Price: 99, Size: 0}},
		[]model.OrderBookEntry{{Price: 101, Size: 1}},
		1000, 1, true,
	)
	require.NoError(t, err)

	bids, _ := b.Depth(10)
	require.Len(t, bids, 1)
	assert.Equal(t, 100.0, bids[0].Price)
}

func TestBook_ApplyDiff_UpsertsAndRemoves(t *testing.T) {
	b := New(testSymbol, "gateio", nil)
	require.NoError(t, b.ApplySnapshot(
		[]model.OrderBookEntry{{Price: 100, Size: 1}},
		[]model.OrderBookEntry{{Price: 101, Size: 1}},
		1000, 10, true,
	))

	// Upsert a new best bid, and remove the existing ask via size 0.
	err := b.ApplyDiff(
		[]model.OrderBookEntry{{Price: 100.5, Size: 2}},
		[]model.OrderBookEntry{{Price: 101, Size: 0}, {Price: 103, Size: 1}},
		1100, 11, 11, true,
	)
	require.NoError(t, err)

	bid, ok := b.BestBid()
	require.True(t, ok)
	assert.Equal(t, 100.5, bid.Price)

	ask, ok := b.BestAsk()
	require.True(t, ok)
	assert.Equal(t, 103.0, ask.Price)
}

func TestBook_ApplyDiff_SequenceGapMarksStale(t *testing.T) {
	b := New(testSymbol, "gateio", nil)
	require.NoError(t, b.ApplySnapshot(
		[]model.OrderBookEntry{{Price: 100, Size: 1}},
		[]model.OrderBookEntry{{Price: 101, Size: 1}},
		1000, 10, true,
	))

	// firstUpdateID skips ahead of lastUpdateID+1 (10+1=11); 15 is a gap.
	err := b.ApplyDiff(
		[]model.OrderBookEntry{{Price: 100, Size: 2}},
		nil,
		1100, 15, 16, true,
	)
	require.Error(t, err)
	assert.True(t, b.IsStale())

	// Further diffs are rejected until a fresh snapshot arrives.
	err = b.ApplyDiff(
		[]model.OrderBookEntry{{Price: 100, Size: 3}},
		nil,
		1200, 17, 17, true,
	)
	require.Error(t, err)
}

func TestBook_ApplyDiff_StaleDiffDropped(t *testing.T) {
	b := New(testSymbol, "gateio", nil)
	require.NoError(t, b.ApplySnapshot(
		[]model.OrderBookEntry{{Price: 100, Size: 1}},
		[]model.OrderBookEntry{{Price: 101, Size: 1}},
		1000, 10, true,
	))

	// finalUpdateID <= lastUpdateID: already applied, must be a no-op.
	err := b.ApplyDiff(
		[]model.OrderBookEntry{{Price: 999, Size: 5}},
		nil,
		1050, 5, 9, true,
	)
	require.NoError(t, err)

	bid, ok := b.BestBid()
	require.True(t, ok)
	assert.Equal(t, 100.0, bid.Price)
}

func TestBook_ApplySnapshot_CrossedBookRejected(t *testing.T) {
	b := New(testSymbol, "gateio", nil)
	err := b.ApplySnapshot(
		[]model.OrderBookEntry{{Price: 105, Size: 1}},
		[]model.OrderBookEntry{{Price: 100, Size: 1}},
		1000, 1, true,
	)
	require.Error(t, err)
	assert.True(t, b.IsStale())
}

func TestBook_OnChangeCalledOnEveryApply(t *testing.T) {
	var calls int
	var last *model.OrderBook
	b := New(testSymbol, "gateio", func(ob *model.OrderBook) {
		calls++
		last = ob
	})

	require.NoError(t, b.ApplySnapshot(
		[]model.OrderBookEntry{{Price: 100, Size: 1}},
		[]model.OrderBookEntry{{Price: 101, Size: 1}},
		1000, 1, true,
	))
	require.NoError(t, b.ApplyDiff(
		[]model.OrderBookEntry{{Price: 100, Size: 2}},
		nil,
		1100, 2, 2, true,
	))

	assert.Equal(t, 2, calls)
	require.NotNil(t, last)
	assert.Equal(t, testSymbol, last.Symbol)
}

func TestBook_TickerReflectsBestLevels(t *testing.T) {
	b := New(testSymbol, "gateio", nil)
	require.NoError(t, b.ApplySnapshot(
		[]model.OrderBookEntry{{Price: 100, Size: 1}},
		[]model.OrderBookEntry{{Price: 101, Size: 2}},
		1000, 1, true,
	))

	ticker, ok := b.Ticker()
	require.True(t, ok)
	assert.Equal(t, 100.0, ticker.BidPrice)
	assert.Equal(t, 101.0, ticker.AskPrice)
	assert.Equal(t, 2.0, ticker.AskQty)
}
