package main

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/abdoElHodaky/arbiengine/internal/config"
	"github.com/abdoElHodaky/arbiengine/internal/exchange"
	"github.com/abdoElHodaky/arbiengine/internal/exchange/gateio"
	"github.com/abdoElHodaky/arbiengine/internal/exchange/mexc"
	"github.com/abdoElHodaky/arbiengine/internal/metrics"
	"github.com/abdoElHodaky/arbiengine/internal/model"
)

// supportedQuotes collects the distinct quote assets referenced by the
// configured arbitrage pairs; every exchange's symbol mapper is built
// against the same set since spec §4.A validates pairs exchange-agnostically.
func supportedQuotes(cfg *config.Config) []model.AssetName {
	seen := make(map[model.AssetName]struct{})
	var out []model.AssetName
	for _, p := range cfg.ArbitragePairs {
		q := model.AssetName(strings.ToUpper(p.QuoteAsset))
		if _, ok := seen[q]; !ok {
			seen[q] = struct{}{}
			out = append(out, q)
		}
	}
	return out
}

// buildExchanges constructs one Adapter per enabled exchange in cfg. The
// exchange name in config selects the concrete constructor directly — no
// factory/registry indirection (spec design note, see DESIGN.md).
func buildExchanges(cfg *config.Config, metricsReg *metrics.Registry, log *zap.Logger) (map[model.ExchangeName]exchange.Adapter, error) {
	quotes := supportedQuotes(cfg)
	out := make(map[model.ExchangeName]exchange.Adapter, len(cfg.Exchanges))
	for _, ec := range cfg.Exchanges {
		if !ec.Enabled {
			continue
		}
		name := model.ExchangeName(strings.ToLower(ec.Name))
		var adapter exchange.Adapter
		var err error
		switch name {
		case "gateio":
			adapter, err = gateio.New(gateio.Config{
				RESTBaseURL:     ec.RESTBaseURL,
				WSBaseURL:       ec.WSBaseURL,
				APIKey:          ec.APIKey,
				APISecret:       ec.APISecret,
				RequestsPerSec:  ec.RequestsPerSec,
				BurstCapacity:   ec.BurstCapacity,
				SupportedQuotes: quotes,
			}, metricsReg, log)
		case "mexc":
			adapter, err = mexc.New(mexc.Config{
				RESTBaseURL:     ec.RESTBaseURL,
				WSBaseURL:       ec.WSBaseURL,
				APIKey:          ec.APIKey,
				APISecret:       ec.APISecret,
				RequestsPerSec:  ec.RequestsPerSec,
				BurstCapacity:   ec.BurstCapacity,
				SupportedQuotes: quotes,
			}, metricsReg, log)
		default:
			return nil, fmt.Errorf("unknown exchange %q in config", ec.Name)
		}
		if err != nil {
			return nil, fmt.Errorf("construct %s adapter: %w", name, err)
		}
		out[name] = adapter
	}
	if len(out) < 2 {
		return nil, fmt.Errorf("at least two enabled exchanges are required, got %d", len(out))
	}
	return out, nil
}

func publicDataMap(exchanges map[model.ExchangeName]exchange.Adapter) map[model.ExchangeName]exchange.PublicData {
	out := make(map[model.ExchangeName]exchange.PublicData, len(exchanges))
	for name, ex := range exchanges {
		out[name] = ex
	}
	return out
}
