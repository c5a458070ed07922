// Package config loads and validates the engine's startup configuration.
// Credentials and endpoint URLs arrive as an already-validated struct per
// spec §1 — this package is the one seam where file/env parsing happens,
// grounded on the teacher's viper-based internal/config/config.go.
package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/abdoElHodaky/arbiengine/internal/model"
)

// ExchangeConfig is the per-exchange connection configuration.
type ExchangeConfig struct {
	Name           string  `mapstructure:"name" validate:"required"`
	RESTBaseURL    string  `mapstructure:"rest_base_url" validate:"required,url"`
	WSBaseURL      string  `mapstructure:"ws_base_url" validate:"required"`
	APIKey         string  `mapstructure:"api_key"`
	APISecret      string  `mapstructure:"api_secret"`
	Enabled        bool    `mapstructure:"enabled"`
	RequestsPerSec float64 `mapstructure:"requests_per_sec" validate:"gte=0"`
	BurstCapacity  int     `mapstructure:"burst_capacity" validate:"gte=0"`
}

// ArbitragePairConfig mirrors model.ArbitragePair in a mapstructure-
// friendly shape for config loading.
type ArbitragePairConfig struct {
	ID             string   `mapstructure:"id" validate:"required"`
	BaseAsset      string   `mapstructure:"base_asset" validate:"required"`
	QuoteAsset     string   `mapstructure:"quote_asset" validate:"required"`
	Exchanges      []string `mapstructure:"exchanges" validate:"min=2"`
	MinProfitBps   int32    `mapstructure:"min_profit_bps" validate:"gte=0"`
	MaxExposureUSD float64  `mapstructure:"max_exposure_usd" validate:"gt=0"`
	Enabled        bool     `mapstructure:"enabled"`
	Priority       int32    `mapstructure:"priority"`
}

// RiskConfig is the mapstructure shape for model.RiskLimits.
type RiskConfig struct {
	MaxPositionSizeUSD float64 `mapstructure:"max_position_size_usd" validate:"gt=0"`
	MinProfitMarginBps int32   `mapstructure:"min_profit_margin_bps" validate:"gte=0"`
	MaxConcurrentTasks int32   `mapstructure:"max_concurrent_tasks" validate:"gt=0"`
	OrderAckTimeoutMs  int64   `mapstructure:"order_ack_timeout_ms" validate:"gt=0"`
	DeltaTolerance     float64 `mapstructure:"delta_tolerance" validate:"gte=0"`
	MarketDataStaleMs  int64   `mapstructure:"market_data_stale_ms" validate:"gt=0"`
	DryRun             bool    `mapstructure:"dry_run"`
}

// ScannerConfig configures the opportunity scanner's cadence.
type ScannerConfig struct {
	IntervalMs             int64 `mapstructure:"interval_ms" validate:"gt=0"`
	OpportunityTTLMultiple int   `mapstructure:"opportunity_ttl_multiple" validate:"gte=1"`
}

// Config is the full engine configuration, loaded once at startup.
type Config struct {
	Exchanges      []ExchangeConfig      `mapstructure:"exchanges" validate:"required,min=2,dive"`
	ArbitragePairs []ArbitragePairConfig `mapstructure:"arbitrage_pairs" validate:"required,min=1,dive"`
	Risk           RiskConfig            `mapstructure:"risk" validate:"required"`
	Scanner        ScannerConfig         `mapstructure:"scanner" validate:"required"`
	PersistDir     string                `mapstructure:"persist_dir" validate:"required"`
	MetricsAddr    string                `mapstructure:"metrics_addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("risk.max_concurrent_tasks", 4)
	v.SetDefault("risk.order_ack_timeout_ms", 500)
	v.SetDefault("risk.delta_tolerance", 0.0001)
	v.SetDefault("risk.market_data_stale_ms", 100)
	v.SetDefault("scanner.interval_ms", 100)
	v.SetDefault("scanner.opportunity_ttl_multiple", 2)
	v.SetDefault("persist_dir", "./data/tasks")
	v.SetDefault("metrics_addr", ":9090")
}

// Load reads configuration from configPath (file or directory) and the
// ARBENGINE-prefixed environment, validates it, and returns the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/arbiengine")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("ARBENGINE")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// ToRiskLimits converts the loaded risk config into the model value type.
func (c *Config) ToRiskLimits() model.RiskLimits {
	return model.RiskLimits{
		MaxPositionSizeUSD: c.Risk.MaxPositionSizeUSD,
		MinProfitMarginBps: c.Risk.MinProfitMarginBps,
		MaxConcurrentTasks: c.Risk.MaxConcurrentTasks,
		MaxOrderAckTimeout: c.Risk.OrderAckTimeoutMs,
		DeltaTolerance:     c.Risk.DeltaTolerance,
		MarketDataStaleMs:  c.Risk.MarketDataStaleMs,
		DryRun:             c.Risk.DryRun,
	}
}

// ToArbitragePairs converts configured pairs into unresolved model values
// (the Exchanges map only carries the exchange name; the resolver attaches
// real SymbolInfo-derived ExchangePairConfig values).
func (c *Config) ToArbitragePairs() []model.ArbitragePair {
	out := make([]model.ArbitragePair, 0, len(c.ArbitragePairs))
	for _, p := range c.ArbitragePairs {
		exchanges := make(map[model.ExchangeName]model.ExchangePairConfig, len(p.Exchanges))
		for _, ex := range p.Exchanges {
			exchanges[model.ExchangeName(ex)] = model.ExchangePairConfig{Exchange: model.ExchangeName(ex)}
		}
		out = append(out, model.ArbitragePair{
			ID:             p.ID,
			BaseAsset:      model.AssetName(p.BaseAsset),
			QuoteAsset:     model.AssetName(p.QuoteAsset),
			Exchanges:      exchanges,
			MinProfitBps:   p.MinProfitBps,
			MaxExposureUSD: p.MaxExposureUSD,
			Enabled:        p.Enabled,
			Priority:       p.Priority,
		})
	}
	return out
}
