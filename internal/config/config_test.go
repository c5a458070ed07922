package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdoElHodaky/arbiengine/internal/model"
)

const validYAML = `
exchanges:
  - name: gateio
    rest_base_url: https://api.gateio.ws
    ws_base_url: wss://api.gateio.ws/ws
    enabled: true
  - name: mexc
    rest_base_url: https://api.mexc.com
    ws_base_url: wss://wbs.mexc.com/ws
    enabled: true
arbitrage_pairs:
  - id: btc_usdt_arb
    base_asset: BTC
    quote_asset: USDT
    exchanges: [gateio, mexc]
    min_profit_bps: 10
    max_exposure_usd: 1000
    enabled: true
risk:
  max_position_size_usd: 5000
scanner: {}
persist_dir: /tmp/arbengine-tasks
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_ValidConfig_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, validYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, int32(4), cfg.Risk.MaxConcurrentTasks)
	assert.Equal(t, int64(500), cfg.Risk.OrderAckTimeoutMs)
	assert.Equal(t, int64(100), cfg.Scanner.IntervalMs)
	assert.Len(t, cfg.Exchanges, 2)
	assert.Len(t, cfg.ArbitragePairs, 1)
}

func TestLoad_MissingRequiredField_Fails(t *testing.T) {
	badYAML := `
exchanges:
  - name: gateio
    rest_base_url: https://api.gateio.ws
    ws_base_url: wss://api.gateio.ws/ws
  - name: mexc
    rest_base_url: https://api.mexc.com
    ws_base_url: wss://wbs.mexc.com/ws
arbitrage_pairs: []
risk:
  max_position_size_usd: 5000
persist_dir: /tmp/x
`
	path := writeConfig(t, badYAML)
	_, err := Load(path)
	require.Error(t, err, "arbitrage_pairs requires at least one entry")
}

func TestLoad_SinglePairNeedsTwoExchanges(t *testing.T) {
	badYAML := `
exchanges:
  - name: gateio
    rest_base_url: https://api.gateio.ws
    ws_base_url: wss://api.gateio.ws/ws
  - name: mexc
    rest_base_url: https://api.mexc.com
    ws_base_url: wss://wbs.mexc.com/ws
arbitrage_pairs:
  - id: btc_usdt_arb
    base_asset: BTC
    quote_asset: USDT
    exchanges: [gateio]
    max_exposure_usd: 1000
risk:
  max_position_size_usd: 5000
persist_dir: /tmp/x
`
	path := writeConfig(t, badYAML)
	_, err := Load(path)
	require.Error(t, err)
}

func TestConfig_ToArbitragePairs_ConvertsExchangeNames(t *testing.T) {
	path := writeConfig(t, validYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	pairs := cfg.ToArbitragePairs()
	require.Len(t, pairs, 1)
	assert.Contains(t, pairs[0].Exchanges, model.ExchangeName("gateio"))
	assert.Contains(t, pairs[0].Exchanges, model.ExchangeName("mexc"))
}

func TestConfig_ToRiskLimits_CopiesFields(t *testing.T) {
	path := writeConfig(t, validYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	limits := cfg.ToRiskLimits()
	assert.Equal(t, cfg.Risk.MaxPositionSizeUSD, limits.MaxPositionSizeUSD)
	assert.Equal(t, cfg.Risk.DeltaTolerance, limits.DeltaTolerance)
}
