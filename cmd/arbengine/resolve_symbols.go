package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/arbiengine/internal/config"
	"github.com/abdoElHodaky/arbiengine/internal/metrics"
	"github.com/abdoElHodaky/arbiengine/internal/model"
	"github.com/abdoElHodaky/arbiengine/internal/resolver"
)

// runResolveSymbols fetches exchange-info from every enabled exchange,
// resolves the configured pairs against it, and prints the result without
// starting the scanner or task manager. Useful for validating a config
// change before running the engine for real.
func runResolveSymbols(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := zap.NewDevelopment()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	metricsReg := metrics.New(prometheus.NewRegistry())

	exchanges, err := buildExchanges(cfg, metricsReg, log)
	if err != nil {
		return fmt.Errorf("build exchanges: %w", err)
	}

	res := resolver.New(log)
	ctx := context.Background()
	if err := res.Initialize(ctx, publicDataMap(exchanges)); err != nil {
		return fmt.Errorf("resolve symbols: %w", err)
	}

	fmt.Printf("common symbols across all enabled exchanges: %d\n", len(res.CommonSymbols()))
	for _, sym := range res.CommonSymbols() {
		fmt.Printf("  %s\n", sym)
	}

	fmt.Println("\nconfigured pairs:")
	for _, p := range cfg.ArbitragePairs {
		if !p.Enabled {
			fmt.Printf("  %s: disabled\n", p.ID)
			continue
		}
		resolved, ok := res.ResolvePair(
			model.AssetName(p.BaseAsset), model.AssetName(p.QuoteAsset), p.MinProfitBps, p.MaxExposureUSD, p.Priority)
		if !ok {
			fmt.Printf("  %s: NOT resolvable against live exchange metadata\n", p.ID)
			continue
		}
		fmt.Printf("  %s: resolved on %d exchange(s)\n", p.ID, len(resolved.Exchanges))
		for exName, pc := range resolved.Exchanges {
			fmt.Printf("    %s -> %s (maker %dbps, taker %dbps)\n", exName, pc.NativeSymbol, pc.MakerFeeBps, pc.TakerFeeBps)
		}
	}
	return nil
}
