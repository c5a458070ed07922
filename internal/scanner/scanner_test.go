package scanner

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdoElHodaky/arbiengine/internal/hub"
	"github.com/abdoElHodaky/arbiengine/internal/metrics"
	"github.com/abdoElHodaky/arbiengine/internal/model"
)

func newTestHub(t *testing.T) *hub.Hub {
	t.Helper()
	return hub.New(metrics.New(prometheus.NewRegistry()), nil)
}

var btcUSDT = model.Symbol{Base: "BTC", Quote: "USDT"}

func seedPair(id string, minProfitBps int32) model.ArbitragePair {
	return model.ArbitragePair{
		ID:           id,
		BaseAsset:    "BTC",
		QuoteAsset:   "USDT",
		MinProfitBps: minProfitBps,
		Enabled:      true,
		Exchanges: map[model.ExchangeName]model.ExchangePairConfig{
			"gateio": {Exchange: "gateio", TakerFeeBps: 10, MinBaseAmount: 0.0001},
			"mexc":   {Exchange: "mexc", TakerFeeBps: 10, MinBaseAmount: 0.0001},
		},
	}
}

func TestScanner_EmitsOpportunityOnCrossedSpread(t *testing.T) {
	h := newTestHub(t)
	require.NoError(t, h.ApplySnapshot(hub.Key{Exchange: "gateio", Symbol: btcUSDT},
		[]model.OrderBookEntry{{Price: 100, Size: 5}}, []model.OrderBookEntry{{Price: 100.5, Size: 5}}, time.Now().UnixMilli(), 1, true))
	require.NoError(t, h.ApplySnapshot(hub.Key{Exchange: "mexc", Symbol: btcUSDT},
		[]model.OrderBookEntry{{Price: 102, Size: 5}}, []model.OrderBookEntry{{Price: 102.5, Size: 5}}, time.Now().UnixMilli(), 1, true))

	s := New(Config{ScanInterval: 10 * time.Millisecond, MarketDataStaleMs: 10000, DefaultMinProfitBps: 1}, h, nil, nil)
	s.SetPairs([]model.ArbitragePair{seedPair("btc-usdt", 1)})

	out := make(chan model.ArbitrageOpportunity, 4)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = s.Run(ctx, out)

	select {
	case opp := <-out:
		assert.Equal(t, model.ExchangeName("gateio"), opp.BuyExchange)
		assert.Equal(t, model.ExchangeName("mexc"), opp.SellExchange)
		assert.Greater(t, opp.Spread, 0.0)
		assert.True(t, opp.HasExpiry)
	default:
		t.Fatal("expected at least one opportunity")
	}
}

func TestScanner_NoOpportunityWhenBooksNotCrossed(t *testing.T) {
	h := newTestHub(t)
	require.NoError(t, h.ApplySnapshot(hub.Key{Exchange: "gateio", Symbol: btcUSDT},
		[]model.OrderBookEntry{{Price: 100, Size: 5}}, []model.OrderBookEntry{{Price: 100.5, Size: 5}}, time.Now().UnixMilli(), 1, true))
	require.NoError(t, h.ApplySnapshot(hub.Key{Exchange: "mexc", Symbol: btcUSDT},
		[]model.OrderBookEntry{{Price: 100.2, Size: 5}}, []model.OrderBookEntry{{Price: 100.7, Size: 5}}, time.Now().UnixMilli(), 1, true))

	s := New(Config{ScanInterval: 100 * time.Millisecond, MarketDataStaleMs: 10000, DefaultMinProfitBps: 1}, h, nil, nil)
	s.SetPairs([]model.ArbitragePair{seedPair("btc-usdt", 1)})

	out := make(chan model.ArbitrageOpportunity, 4)
	s.scanOnce(out)

	select {
	case opp := <-out:
		t.Fatalf("expected no opportunity, got %+v", opp)
	default:
	}
}

func TestScanner_StaleQuoteFiltered(t *testing.T) {
	h := newTestHub(t)
	old := time.Now().Add(-time.Hour).UnixMilli()
	require.NoError(t, h.ApplySnapshot(hub.Key{Exchange: "gateio", Symbol: btcUSDT},
		[]model.OrderBookEntry{{Price: 100, Size: 5}}, []model.OrderBookEntry{{Price: 100.5, Size: 5}}, old, 1, true))
	require.NoError(t, h.ApplySnapshot(hub.Key{Exchange: "mexc", Symbol: btcUSDT},
		[]model.OrderBookEntry{{Price: 102, Size: 5}}, []model.OrderBookEntry{{Price: 102.5, Size: 5}}, time.Now().UnixMilli(), 1, true))

	s := New(Config{ScanInterval: 100 * time.Millisecond, MarketDataStaleMs: 100, DefaultMinProfitBps: 1}, h, nil, nil)
	s.SetPairs([]model.ArbitragePair{seedPair("btc-usdt", 1)})

	out := make(chan model.ArbitrageOpportunity, 4)
	s.scanOnce(out)

	select {
	case opp := <-out:
		t.Fatalf("expected stale quote to be filtered, got %+v", opp)
	default:
	}
}

func TestScanner_BelowMinProfitFiltered(t *testing.T) {
	h := newTestHub(t)
	require.NoError(t, h.ApplySnapshot(hub.Key{Exchange: "gateio", Symbol: btcUSDT},
		[]model.OrderBookEntry{{Price: 100, Size: 5}}, []model.OrderBookEntry{{Price: 100.01, Size: 5}}, time.Now().UnixMilli(), 1, true))
	require.NoError(t, h.ApplySnapshot(hub.Key{Exchange: "mexc", Symbol: btcUSDT},
		[]model.OrderBookEntry{{Price: 100.02, Size: 5}}, []model.OrderBookEntry{{Price: 100.03, Size: 5}}, time.Now().UnixMilli(), 1, true))

	s := New(Config{ScanInterval: 100 * time.Millisecond, MarketDataStaleMs: 10000, DefaultMinProfitBps: 500}, h, nil, nil)
	s.SetPairs([]model.ArbitragePair{seedPair("btc-usdt", 500)})

	out := make(chan model.ArbitrageOpportunity, 4)
	s.scanOnce(out)

	select {
	case opp := <-out:
		t.Fatalf("expected opportunity below min profit to be filtered, got %+v", opp)
	default:
	}
}
