package symbol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdoElHodaky/arbiengine/internal/model"
)

func TestMapper_Underscore_RoundTrip(t *testing.T) {
	m := New("gateio", FormatUnderscore, []model.AssetName{"USDT", "USDC"})

	sym := model.Symbol{Base: "BTC", Quote: "USDT"}
	native := m.ToNative(sym)
	assert.Equal(t, "BTC_USDT", native)

	back, err := m.ToSymbol(native, false)
	require.NoError(t, err)
	assert.Equal(t, sym, back)
}

func TestMapper_Concatenated_RoundTrip(t *testing.T) {
	m := New("mexc", FormatConcatenated, []model.AssetName{"USDT", "USDC"})

	sym := model.Symbol{Base: "ETH", Quote: "USDT"}
	native := m.ToNative(sym)
	assert.Equal(t, "ETHUSDT", native)

	back, err := m.ToSymbol(native, false)
	require.NoError(t, err)
	assert.Equal(t, sym, back)
}

func TestMapper_Concatenated_AmbiguousWithoutSupportedQuote(t *testing.T) {
	m := New("mexc", FormatConcatenated, []model.AssetName{"USDT"})

	_, err := m.ToSymbol("UNKNOWNPAIR", false)
	require.Error(t, err)
}

func TestMapper_IsSupportedPair(t *testing.T) {
	m := New("gateio", FormatUnderscore, []model.AssetName{"USDT"})

	assert.True(t, m.IsSupportedPair(model.Symbol{Base: "BTC", Quote: "USDT"}))
	assert.False(t, m.IsSupportedPair(model.Symbol{Base: "BTC", Quote: "DAI"}))
}

func TestMapper_ToNative_CaseInsensitive(t *testing.T) {
	m := New("gateio", FormatUnderscore, []model.AssetName{"USDT"})
	native := m.ToNative(model.Symbol{Base: "btc", Quote: "usdt"})
	assert.Equal(t, "BTC_USDT", native)
}

func TestMapper_FuturesFlagPreservedOnCachedLookup(t *testing.T) {
	m := New("gateio", FormatUnderscore, []model.AssetName{"USDT"})
	spot := model.Symbol{Base: "BTC", Quote: "USDT"}
	m.ToNative(spot)

	futures, err := m.ToSymbol("BTC_USDT", true)
	require.NoError(t, err)
	assert.True(t, futures.IsFutures)
}
