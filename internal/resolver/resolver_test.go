package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdoElHodaky/arbiengine/internal/exchange"
	"github.com/abdoElHodaky/arbiengine/internal/model"
)

type fakePublicData struct {
	name  model.ExchangeName
	infos []model.SymbolInfo
}

func (f fakePublicData) Name() model.ExchangeName { return f.name }

func (f fakePublicData) FetchSymbolInfo(ctx context.Context) ([]model.SymbolInfo, error) {
	return f.infos, nil
}

func (f fakePublicData) FetchOrderBookSnapshot(ctx context.Context, symbol model.Symbol) ([]model.OrderBookEntry, []model.OrderBookEntry, int64, error) {
	return nil, nil, 0, nil
}

func (f fakePublicData) StreamMarketData(ctx context.Context, symbols []model.Symbol, h exchange.MarketDataHandler) error {
	<-ctx.Done()
	return ctx.Err()
}

func btcUSDTInfo(active bool, takerFee float64) model.SymbolInfo {
	return model.SymbolInfo{
		Symbol: model.Symbol{Base: "BTC", Quote: "USDT"}, BasePrecision: 6, QuotePrecision: 2,
		MinBaseAmount: 0.0001, MakerFee: 0.001, TakerFee: takerFee, Active: active,
	}
}

func TestResolver_Initialize_ComputesCommonSymbols(t *testing.T) {
	exchanges := map[model.ExchangeName]exchange.PublicData{
		"gateio": fakePublicData{name: "gateio", infos: []model.SymbolInfo{
			btcUSDTInfo(true, 0.002),
			{Symbol: model.Symbol{Base: "ETH", Quote: "USDT"}, Active: true},
		}},
		"mexc": fakePublicData{name: "mexc", infos: []model.SymbolInfo{
			btcUSDTInfo(true, 0.001),
			// DOGE only listed on mexc: not common.
			{Symbol: model.Symbol{Base: "DOGE", Quote: "USDT"}, Active: true},
		}},
	}

	r := New(nil)
	require.NoError(t, r.Initialize(context.Background(), exchanges))

	common := r.CommonSymbols()
	require.Len(t, common, 1)
	assert.Equal(t, model.Symbol{Base: "BTC", Quote: "USDT"}, common[0])
}

func TestResolver_Initialize_InactiveSymbolExcludedFromCommon(t *testing.T) {
	exchanges := map[model.ExchangeName]exchange.PublicData{
		"gateio": fakePublicData{name: "gateio", infos: []model.SymbolInfo{btcUSDTInfo(true, 0.002)}},
		"mexc":   fakePublicData{name: "mexc", infos: []model.SymbolInfo{btcUSDTInfo(false, 0.001)}},
	}

	r := New(nil)
	require.NoError(t, r.Initialize(context.Background(), exchanges))
	assert.Empty(t, r.CommonSymbols())
}

func TestResolver_ResolvePair_RequiresTwoActiveExchanges(t *testing.T) {
	exchanges := map[model.ExchangeName]exchange.PublicData{
		"gateio": fakePublicData{name: "gateio", infos: []model.SymbolInfo{btcUSDTInfo(true, 0.002)}},
	}

	r := New(nil)
	require.NoError(t, r.Initialize(context.Background(), exchanges))

	_, ok := r.ResolvePair("BTC", "USDT", 10, 1000, 1)
	assert.False(t, ok, "a pair listed on only one exchange must not resolve")
}

func TestResolver_ResolvePair_BuildsPerExchangeConfig(t *testing.T) {
	exchanges := map[model.ExchangeName]exchange.PublicData{
		"gateio": fakePublicData{name: "gateio", infos: []model.SymbolInfo{btcUSDTInfo(true, 0.002)}},
		"mexc":   fakePublicData{name: "mexc", infos: []model.SymbolInfo{btcUSDTInfo(true, 0.001)}},
	}

	r := New(nil)
	require.NoError(t, r.Initialize(context.Background(), exchanges))

	pair, ok := r.ResolvePair("btc", "usdt", 10, 1000, 1)
	require.True(t, ok)
	assert.Equal(t, model.AssetName("btc"), pair.BaseAsset)
	require.Contains(t, pair.Exchanges, model.ExchangeName("gateio"))
	require.Contains(t, pair.Exchanges, model.ExchangeName("mexc"))
	assert.Equal(t, int32(20), pair.Exchanges["gateio"].TakerFeeBps)
	assert.Equal(t, int32(10), pair.Exchanges["mexc"].TakerFeeBps)
	assert.Equal(t, "BTC_USDT", pair.Exchanges["gateio"].NativeSymbol)
	assert.Equal(t, "BTCUSDT", pair.Exchanges["mexc"].NativeSymbol)
}

func TestResolver_ResolvePair_UnknownPairFails(t *testing.T) {
	exchanges := map[model.ExchangeName]exchange.PublicData{
		"gateio": fakePublicData{name: "gateio", infos: []model.SymbolInfo{btcUSDTInfo(true, 0.002)}},
	}
	r := New(nil)
	require.NoError(t, r.Initialize(context.Background(), exchanges))

	_, ok := r.ResolvePair("XRP", "USDT", 10, 1000, 1)
	assert.False(t, ok)
}
