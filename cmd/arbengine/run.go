package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/arbiengine/internal/config"
	"github.com/abdoElHodaky/arbiengine/internal/exchange"
	"github.com/abdoElHodaky/arbiengine/internal/execution"
	"github.com/abdoElHodaky/arbiengine/internal/hub"
	"github.com/abdoElHodaky/arbiengine/internal/metrics"
	"github.com/abdoElHodaky/arbiengine/internal/model"
	"github.com/abdoElHodaky/arbiengine/internal/privatestate"
	"github.com/abdoElHodaky/arbiengine/internal/resolver"
	"github.com/abdoElHodaky/arbiengine/internal/scanner"
	"github.com/abdoElHodaky/arbiengine/internal/taskmanager"
)

// defaultExitSpreadBps/defaultMaxHold tune the execution state machine's
// exit and timeout behavior; not user-configurable yet (spec.md leaves
// this an engine default rather than a per-pair knob).
const (
	defaultExitSpreadBps = int32(5)
	defaultMaxHold       = 30 * time.Second
)

func runEngine(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	promReg := prometheus.NewRegistry()
	metricsReg := metrics.New(promReg)

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server exited", zap.Error(err))
			}
		}()
		log.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exchanges, err := buildExchanges(cfg, metricsReg, log)
	if err != nil {
		return fmt.Errorf("build exchanges: %w", err)
	}

	res := resolver.New(log)
	if err := res.Initialize(ctx, publicDataMap(exchanges)); err != nil {
		return fmt.Errorf("resolve symbols: %w", err)
	}

	pairs := resolveEnabledPairs(cfg, res, log)
	if len(pairs) == 0 {
		return fmt.Errorf("no arbitrage pairs resolved against live exchange metadata")
	}

	h := hub.New(metricsReg, log)

	if err := hydrateAndStream(ctx, exchanges, pairs, h, log); err != nil {
		return fmt.Errorf("start market data: %w", err)
	}

	trackers := make(map[model.ExchangeName]*privatestate.Tracker, len(exchanges))
	for name, ex := range exchanges {
		t := privatestate.New(ex, cfg.Risk.DeltaTolerance, log)
		if err := t.Resync(ctx); err != nil {
			log.Warn("initial balance resync failed", zap.String("exchange", string(name)), zap.Error(err))
		}
		trackers[name] = t
		go func(name model.ExchangeName, ex exchange.PrivateTrading, t *privatestate.Tracker) {
			if err := ex.StreamPrivate(ctx, t); err != nil && ctx.Err() == nil {
				log.Error("private stream exited", zap.String("exchange", string(name)), zap.Error(err))
			}
		}(name, ex, t)
	}

	store, err := taskmanager.NewFileStore(cfg.PersistDir)
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	mgr, err := taskmanager.New(taskmanager.Config{MaxConcurrentTasks: int(cfg.Risk.MaxConcurrentTasks)}, store, metricsReg, log)
	if err != nil {
		return fmt.Errorf("create task manager: %w", err)
	}
	defer mgr.Close()

	execCfg := execution.Config{
		OrderAckTimeout: time.Duration(cfg.Risk.OrderAckTimeoutMs) * time.Millisecond,
		DeltaTolerance:  cfg.Risk.DeltaTolerance,
		ExitSpreadBps:   defaultExitSpreadBps,
		MaxHold:         defaultMaxHold,
		DryRun:          cfg.Risk.DryRun,
	}

	recovered, failed, err := mgr.Recover(ctx, buildReconstructor(exchanges, trackers, h, metricsReg, execCfg, log))
	if err != nil {
		log.Warn("task recovery failed", zap.Error(err))
	} else {
		log.Info("task recovery complete", zap.Int("recovered", recovered), zap.Int("failed", failed))
	}

	oppCh := make(chan model.ArbitrageOpportunity, 64)
	sc := scanner.New(scanner.Config{
		ScanInterval:        time.Duration(cfg.Scanner.IntervalMs) * time.Millisecond,
		MarketDataStaleMs:   cfg.Risk.MarketDataStaleMs,
		DefaultMinProfitBps: cfg.Risk.MinProfitMarginBps,
	}, h, metricsReg, log)
	sc.SetPairs(pairs)
	go func() {
		if err := sc.Run(ctx, oppCh); err != nil && ctx.Err() == nil {
			log.Error("scanner exited", zap.Error(err))
		}
	}()

	go dispatchOpportunities(ctx, oppCh, exchanges, h, metricsReg, execCfg, mgr, log)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")
	cancel()
	return nil
}

// resolveEnabledPairs turns every enabled configured pair into a resolved
// model.ArbitragePair, skipping (with a warning) any pair not supported by
// at least two live exchanges.
func resolveEnabledPairs(cfg *config.Config, res *resolver.Resolver, log *zap.Logger) []model.ArbitragePair {
	var out []model.ArbitragePair
	for _, p := range cfg.ArbitragePairs {
		if !p.Enabled {
			continue
		}
		resolved, ok := res.ResolvePair(model.AssetName(p.BaseAsset), model.AssetName(p.QuoteAsset), p.MinProfitBps, p.MaxExposureUSD, p.Priority)
		if !ok {
			log.Warn("configured pair could not be resolved, skipping", zap.String("id", p.ID))
			continue
		}
		resolved.ID = p.ID
		out = append(out, resolved)
	}
	return out
}

// hydrateAndStream REST-snapshots every (exchange, symbol) combination
// referenced by pairs, then starts each exchange's websocket stream
// feeding the hub (spec §4.D/§4.E: REST hydration precedes the live diff
// stream so no update is ever applied to an empty book).
func hydrateAndStream(ctx context.Context, exchanges map[model.ExchangeName]exchange.Adapter, pairs []model.ArbitragePair, h *hub.Hub, log *zap.Logger) error {
	symbolsByExchange := make(map[model.ExchangeName][]model.Symbol)
	for _, p := range pairs {
		sym := model.Symbol{Base: p.BaseAsset, Quote: p.QuoteAsset}
		for exName := range p.Exchanges {
			symbolsByExchange[exName] = append(symbolsByExchange[exName], sym)
		}
	}

	for exName, symbols := range symbolsByExchange {
		ex, ok := exchanges[exName]
		if !ok {
			continue
		}
		for _, sym := range symbols {
			bids, asks, updateID, err := ex.FetchOrderBookSnapshot(ctx, sym)
			if err != nil {
				return fmt.Errorf("snapshot %s on %s: %w", sym, exName, err)
			}
			key := hub.Key{Exchange: exName, Symbol: sym}
			if err := h.ApplySnapshot(key, bids, asks, time.Now().UnixMilli(), updateID, true); err != nil {
				return fmt.Errorf("apply snapshot %s on %s: %w", sym, exName, err)
			}
		}
		go func(exName model.ExchangeName, ex exchange.Adapter, symbols []model.Symbol) {
			feed := hubFeed{exchange: exName, hub: h}
			if err := ex.StreamMarketData(ctx, symbols, feed); err != nil && ctx.Err() == nil {
				log.Error("market data stream exited", zap.String("exchange", string(exName)), zap.Error(err))
			}
		}(exName, ex, symbols)
	}
	return nil
}

// dispatchOpportunities consumes scanner output and starts one
// SpotFuturesArbitrageTask per opportunity (spec §4.J/§4.K).
func dispatchOpportunities(ctx context.Context, oppCh <-chan model.ArbitrageOpportunity, exchanges map[model.ExchangeName]exchange.Adapter, h *hub.Hub, metricsReg *metrics.Registry, execCfg execution.Config, mgr *taskmanager.Manager, log *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case opp, ok := <-oppCh:
			if !ok {
				return
			}
			buyClient, ok := exchanges[opp.BuyExchange]
			if !ok {
				continue
			}
			sellClient, ok := exchanges[opp.SellExchange]
			if !ok {
				continue
			}
			task := taskmanager.NewSpotFuturesArbitrageTask(execCfg, opp, buyClient, sellClient, h, metricsReg, log)
			if err := mgr.Add(ctx, task); err != nil {
				log.Error("failed to start arbitrage task", zap.String("opportunity_id", opp.OpportunityID), zap.Error(err))
			}
		}
	}
}

// buildReconstructor dispatches a persisted Snapshot to the right
// RestoreXTask constructor by type tag (spec §4.K, grounded on
// original_source's recovery.py type-tag dispatch).
func buildReconstructor(exchanges map[model.ExchangeName]exchange.Adapter, trackers map[model.ExchangeName]*privatestate.Tracker, h *hub.Hub, metricsReg *metrics.Registry, execCfg execution.Config, log *zap.Logger) taskmanager.Reconstructor {
	return func(snap taskmanager.Snapshot) (taskmanager.Task, error) {
		switch snap.Type {
		case taskmanager.TypeIceberg:
			var ictx taskmanager.IcebergContext
			if err := json.Unmarshal(snap.Data, &ictx); err != nil {
				return nil, err
			}
			client, ok := exchanges[ictx.Exchange]
			if !ok {
				return nil, fmt.Errorf("unknown exchange %s for task %s", ictx.Exchange, snap.TaskID)
			}
			return taskmanager.RestoreIcebergTask(client, h, snap.TaskID, ictx, log), nil

		case taskmanager.TypeDeltaNeutral:
			var dctx taskmanager.DeltaNeutralContext
			if err := json.Unmarshal(snap.Data, &dctx); err != nil {
				return nil, err
			}
			buyClient, ok := exchanges[dctx.BuyExchange]
			if !ok {
				return nil, fmt.Errorf("unknown buy exchange %s for task %s", dctx.BuyExchange, snap.TaskID)
			}
			sellClient, ok := exchanges[dctx.SellExchange]
			if !ok {
				return nil, fmt.Errorf("unknown sell exchange %s for task %s", dctx.SellExchange, snap.TaskID)
			}
			return taskmanager.RestoreDeltaNeutralTask(buyClient, sellClient, h, snap.TaskID, dctx, log), nil

		case taskmanager.TypeSpotFuturesArb:
			var esnap execution.Snapshot
			if err := json.Unmarshal(snap.Data, &esnap); err != nil {
				return nil, err
			}
			buyClient, ok := exchanges[esnap.Opportunity.BuyExchange]
			if !ok {
				return nil, fmt.Errorf("unknown buy exchange %s for task %s", esnap.Opportunity.BuyExchange, snap.TaskID)
			}
			sellClient, ok := exchanges[esnap.Opportunity.SellExchange]
			if !ok {
				return nil, fmt.Errorf("unknown sell exchange %s for task %s", esnap.Opportunity.SellExchange, snap.TaskID)
			}
			return taskmanager.RestoreSpotFuturesArbitrageTask(execCfg, esnap, buyClient, sellClient, h, metricsReg, log), nil

		case taskmanager.TypeBalanceSync:
			var bctx taskmanager.BalanceSyncContext
			if err := json.Unmarshal(snap.Data, &bctx); err != nil {
				return nil, err
			}
			tracker, ok := trackers[bctx.Exchange]
			if !ok {
				return nil, fmt.Errorf("unknown exchange %s for task %s", bctx.Exchange, snap.TaskID)
			}
			return taskmanager.RestoreBalanceSyncTask(tracker, snap.TaskID, bctx, log), nil

		default:
			return nil, fmt.Errorf("unknown task type %q for task %s", snap.Type, snap.TaskID)
		}
	}
}
