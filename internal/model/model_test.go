package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSymbol_String_SpotAndFutures(t *testing.T) {
	spot := Symbol{Base: "BTC", Quote: "USDT"}
	assert.Equal(t, "BTC/USDT:spot", spot.String())

	futures := Symbol{Base: "BTC", Quote: "USDT", IsFutures: true}
	assert.Equal(t, "BTC/USDT:futures", futures.String())
}

func TestSymbol_UsableAsMapKey(t *testing.T) {
	m := map[Symbol]int{
		{Base: "BTC", Quote: "USDT"}:                   1,
		{Base: "BTC", Quote: "USDT", IsFutures: true}:   2,
	}
	assert.Equal(t, 1, m[Symbol{Base: "BTC", Quote: "USDT"}])
	assert.Equal(t, 2, m[Symbol{Base: "BTC", Quote: "USDT", IsFutures: true}])
}

func TestOrderStatus_IsTerminal(t *testing.T) {
	terminal := []OrderStatus{OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "%s should be terminal", s)
	}

	nonTerminal := []OrderStatus{OrderStatusNew, OrderStatusPartiallyFilled}
	for _, s := range nonTerminal {
		assert.False(t, s.IsTerminal(), "%s should not be terminal", s)
	}
}

func TestOrderBook_BestBidAsk_EmptyBook(t *testing.T) {
	b := &OrderBook{Symbol: Symbol{Base: "BTC", Quote: "USDT"}}

	_, ok := b.BestBid()
	assert.False(t, ok)
	_, ok = b.BestAsk()
	assert.False(t, ok)
}

func TestOrderBook_BestBidAsk_ReturnsTopOfBook(t *testing.T) {
	b := &OrderBook{
		Bids: []OrderBookEntry{{Price: 100, Size: 1}, {Price: 99, Size: 2}},
		Asks: []OrderBookEntry{{Price: 101, Size: 1}, {Price: 102, Size: 2}},
	}

	bid, ok := b.BestBid()
	assert.True(t, ok)
	assert.Equal(t, 100.0, bid.Price)

	ask, ok := b.BestAsk()
	assert.True(t, ok)
	assert.Equal(t, 101.0, ask.Price)
}
