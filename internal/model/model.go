// Package model holds the unified, exchange-agnostic value types shared by
// every component of the arbitrage engine. Types here are immutable value
// types: a field change always produces a new value rather than mutating
// shared state.
package model

import "fmt"

// AssetName, OrderID and ExchangeName are opaque string-like identifiers.
// They are compared and hashed as plain strings; callers must canonicalize
// case themselves (the symbol mapper always uppercases assets).
type AssetName string
type OrderID string
type ExchangeName string

// Symbol uniquely identifies a tradable instrument across the whole engine.
// Two symbols are equal iff all three fields match, which also makes Symbol
// usable directly as a map key.
type Symbol struct {
	Base      AssetName
	Quote     AssetName
	IsFutures bool
}

func (s Symbol) String() string {
	kind := "spot"
	if s.IsFutures {
		kind = "futures"
	}
	return fmt.Sprintf("%s/%s:%s", s.Base, s.Quote, kind)
}

// SymbolInfo is exchange-reported metadata for a Symbol, fetched once per
// session and treated as static configuration thereafter.
type SymbolInfo struct {
	Symbol         Symbol
	BasePrecision  int32
	QuotePrecision int32
	MinBaseAmount  float64
	MinQuoteAmount float64
	MakerFee       float64
	TakerFee       float64
	Active         bool
}

// OrderSide is the direction of an order or trade.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderType enumerates the order types in §6.
type OrderType string

const (
	OrderTypeLimit       OrderType = "LIMIT"
	OrderTypeMarket      OrderType = "MARKET"
	OrderTypeLimitMaker  OrderType = "LIMIT_MAKER"
	OrderTypeIOC         OrderType = "IMMEDIATE_OR_CANCEL"
	OrderTypeFOK         OrderType = "FILL_OR_KILL"
	OrderTypeStopLimit   OrderType = "STOP_LIMIT"
	OrderTypeStopMarket  OrderType = "STOP_MARKET"
	OrderTypeReduceOnly  OrderType = "REDUCE_ONLY"
	OrderTypeClosePos    OrderType = "CLOSE_POSITION"
)

// TimeInForce is the unified time-in-force; §6 gives the per-exchange
// mapping (gtc/GTC, ioc/IOC, fok/FOK).
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
)

// OrderStatus is the unified order lifecycle state (§3). Terminal states
// are Filled, Canceled, Rejected and Expired.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// IsTerminal reports whether the status will never transition again.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// OrderBookEntry is a single price level. Prices and sizes are
// non-negative; in a diff, Size == 0 signals level removal.
type OrderBookEntry struct {
	Price float64
	Size  float64
}

// OrderBook is a normalized, point-in-time snapshot of a symbol's book on
// one exchange. Bids are sorted descending by price, asks ascending.
// Timestamps are Unix milliseconds throughout the engine.
type OrderBook struct {
	Symbol       Symbol
	Exchange     ExchangeName
	Bids         []OrderBookEntry
	Asks         []OrderBookEntry
	TimestampMs  int64
	LastUpdateID int64
	HasUpdateID  bool
}

// BestBid returns the highest bid, or false if the book has no bids.
func (b *OrderBook) BestBid() (OrderBookEntry, bool) {
	if len(b.Bids) == 0 {
		return OrderBookEntry{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the lowest ask, or false if the book has no asks.
func (b *OrderBook) BestAsk() (OrderBookEntry, bool) {
	if len(b.Asks) == 0 {
		return OrderBookEntry{}, false
	}
	return b.Asks[0], true
}

// BookTicker is the compact best-bid/best-ask view, derivable in O(1) from
// an OrderBook's first entry on each side.
type BookTicker struct {
	Symbol      Symbol
	Exchange    ExchangeName
	BidPrice    float64
	BidQty      float64
	AskPrice    float64
	AskQty      float64
	TimestampMs int64
	UpdateID    int64
	HasUpdateID bool
}

// Trade is a single executed trade, public or private.
type Trade struct {
	Symbol      Symbol
	Exchange    ExchangeName
	Side        OrderSide
	Quantity    float64
	Price       float64
	TimestampMs int64
	TradeID     string
	IsMaker     bool
	HasIsMaker  bool
	Fee         float64
	HasFee      bool
}

// Order is the unified order representation, evolving through the
// lifecycle described in §3.
type Order struct {
	Symbol            Symbol
	Exchange          ExchangeName
	OrderID           OrderID
	ClientOrderID     string
	Side              OrderSide
	Type              OrderType
	Quantity          float64
	Price             float64
	HasPrice          bool
	FilledQuantity    float64
	RemainingQuantity float64
	HasRemaining      bool
	Status            OrderStatus
	TimestampMs       int64
	AvgPrice          float64
	HasAvgPrice       bool
	Fee               float64
	HasFee            bool
	TimeInForce       TimeInForce
}

// AssetBalance is the free/locked balance of one asset on one exchange.
// Invariant: Free >= 0 && Locked >= 0.
type AssetBalance struct {
	Asset    AssetName
	Exchange ExchangeName
	Free     float64
	Locked   float64
}

// Position is a futures-only open position.
type Position struct {
	Symbol         Symbol
	Exchange       ExchangeName
	Side           OrderSide
	Size           float64
	EntryPrice     float64
	MarkPrice      float64
	HasMarkPrice   bool
	UnrealizedPnL  float64
	HasUnrealPnL   bool
	Margin         float64
	HasMargin      bool
}

// OpportunityType distinguishes the family of arbitrage an opportunity
// belongs to.
type OpportunityType string

const (
	OpportunitySpotSpot       OpportunityType = "SPOT_SPOT"
	OpportunitySpotFutures    OpportunityType = "SPOT_FUTURES"
)

// ArbitrageOpportunity is a snapshot emitted by the scanner; it does not
// persist beyond its evaluation cycle.
type ArbitrageOpportunity struct {
	OpportunityID    string
	Type             OpportunityType
	Symbol           Symbol
	BuyExchange      ExchangeName
	SellExchange     ExchangeName
	BuyPrice         float64
	SellPrice        float64
	Spread           float64
	SpreadPct        float64
	MaxQuantity      float64
	EstimatedProfit  float64
	Confidence       float64
	TimestampMs      int64
	ExpiryMs         int64
	HasExpiry        bool
}

// ExchangePairConfig is the per-exchange leg of an ArbitragePair.
type ExchangePairConfig struct {
	Exchange      ExchangeName
	NativeSymbol  string
	MinBaseAmount float64
	MaxBaseAmount float64
	PricePrec     int32
	AmountPrec    int32
	MakerFeeBps   int32
	TakerFeeBps   int32
}

// ArbitragePair is a configured, enumerated-at-startup cross-exchange pair,
// later resolved against live exchange metadata by the symbol resolver.
type ArbitragePair struct {
	ID             string
	BaseAsset      AssetName
	QuoteAsset     AssetName
	Exchanges      map[ExchangeName]ExchangePairConfig
	MinProfitBps   int32
	MaxExposureUSD float64
	Enabled        bool
	Priority       int32
}

// RiskLimits is the static, per-session risk configuration.
type RiskLimits struct {
	MaxPositionSizeUSD  float64
	MinProfitMarginBps  int32
	MaxConcurrentTasks  int32
	MaxOrderAckTimeout  int64 // milliseconds
	DeltaTolerance      float64
	MarketDataStaleMs   int64
	DryRun              bool
}
