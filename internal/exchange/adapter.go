// Package exchange defines the capability interfaces every concrete
// exchange adapter implements. There is no factory or registry layer: the
// engine constructs gateio.New / mexc.New directly at startup (per design
// notes, avoiding virtual dispatch in the per-message hot path in favor of
// a small, stable interface surface used only at the orchestration level).
// Grounded on the teacher's internal/exchange/connectors/exchange.go
// ExchangeConnector interface, narrowed and re-typed onto model's unified
// value types instead of the teacher's protobuf wire structs.
package exchange

import (
	"context"

	"github.com/abdoElHodaky/arbiengine/internal/model"
)

// PublicData is the market-data surface: symbol metadata and streaming
// order book / ticker / trade updates. One instance exists per exchange.
type PublicData interface {
	Name() model.ExchangeName

	// FetchSymbolInfo retrieves exchange-info for every tradable symbol
	// (spec §4.H step 1).
	FetchSymbolInfo(ctx context.Context) ([]model.SymbolInfo, error)

	// FetchOrderBookSnapshot retrieves a REST snapshot, used both for
	// initial hydration and stale-book recovery (spec §4.E).
	FetchOrderBookSnapshot(ctx context.Context, symbol model.Symbol) (bids, asks []model.OrderBookEntry, updateID int64, err error)

	// StreamMarketData connects the public websocket and invokes the
	// supplied handlers for every parsed event until ctx is canceled.
	StreamMarketData(ctx context.Context, symbols []model.Symbol, h MarketDataHandler) error
}

// MarketDataHandler receives parsed public market-data events (spec §4.D).
// Implementations must not block.
type MarketDataHandler interface {
	OnSnapshot(symbol model.Symbol, bids, asks []model.OrderBookEntry, timestampMs, updateID int64)
	OnDiff(symbol model.Symbol, bids, asks []model.OrderBookEntry, timestampMs, firstUpdateID, finalUpdateID int64)
	OnBookTicker(t model.BookTicker)
	OnTrade(t model.Trade)
}

// PrivateTrading is the authenticated surface: account state and order
// placement. One instance exists per (exchange, account).
type PrivateTrading interface {
	Name() model.ExchangeName

	PlaceOrder(ctx context.Context, symbol model.Symbol, side model.OrderSide, typ model.OrderType, tif model.TimeInForce, qty, price float64) (model.Order, error)
	CancelOrder(ctx context.Context, symbol model.Symbol, orderID model.OrderID) error
	GetOrder(ctx context.Context, symbol model.Symbol, orderID model.OrderID) (model.Order, error)
	GetOpenOrders(ctx context.Context, symbol model.Symbol) ([]model.Order, error)
	GetBalances(ctx context.Context) ([]model.AssetBalance, error)

	// StreamPrivate connects the authenticated websocket (obtaining and
	// keeping alive a listen-key where the exchange requires one) and
	// invokes h for every parsed event until ctx is canceled.
	StreamPrivate(ctx context.Context, h PrivateHandler) error
}

// PrivateHandler receives parsed private-stream events (spec §4.D, §4.G).
type PrivateHandler interface {
	OnOrderUpdate(o model.Order)
	OnBalanceUpdate(b model.AssetBalance)
	OnTradeUpdate(t model.Trade)
}

// Adapter is the full per-exchange capability set an adapter implements.
type Adapter interface {
	PublicData
	PrivateTrading
}
