// Package resolver performs the one-time, startup symbol resolution
// described in spec §4.H: fetch exchange-info from every enabled
// exchange, build an O(1) (base, quote) -> exchange -> SymbolInfo lookup
// table, resolve configured ArbitragePairs that are supported by at
// least two active exchanges, and precompute the set of symbols common
// to every enabled exchange.
//
// Grounded on original_source's symbol_resolver.py: same two-phase
// cache-then-lookup shape (HFT_COMPLIANT: no runtime API calls once
// initialized), reimplemented against the unified exchange.PublicData
// interface instead of per-exchange client classes.
package resolver

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/abdoElHodaky/arbiengine/internal/exchange"
	"github.com/abdoElHodaky/arbiengine/internal/model"
)

type pairKey struct {
	base, quote model.AssetName
}

// Resolver holds the resolved, immutable-after-startup symbol mapping.
type Resolver struct {
	lookup         map[pairKey]map[model.ExchangeName]model.SymbolInfo
	commonSymbols  []model.Symbol
	enabledCount   int
	log            *zap.Logger
}

// New constructs an empty Resolver. Call Initialize before use.
func New(log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{
		lookup: make(map[pairKey]map[model.ExchangeName]model.SymbolInfo),
		log:    log,
	}
}

// Initialize fetches SymbolInfo from each enabled exchange and builds the
// lookup table and common-symbol set. Complexity: O(total symbols across
// exchanges).
func (r *Resolver) Initialize(ctx context.Context, exchanges map[model.ExchangeName]exchange.PublicData) error {
	r.enabledCount = len(exchanges)
	for name, ex := range exchanges {
		infos, err := ex.FetchSymbolInfo(ctx)
		if err != nil {
			return fmt.Errorf("resolver: fetch symbol info from %s: %w", name, err)
		}
		for _, info := range infos {
			key := pairKey{
				base:  model.AssetName(strings.ToUpper(string(info.Symbol.Base))),
				quote: model.AssetName(strings.ToUpper(string(info.Symbol.Quote))),
			}
			if r.lookup[key] == nil {
				r.lookup[key] = make(map[model.ExchangeName]model.SymbolInfo)
			}
			r.lookup[key][name] = info
		}
		r.log.Info("cached symbol info", zap.String("exchange", string(name)), zap.Int("symbols", len(infos)))
	}
	r.computeCommonSymbols()
	r.log.Info("symbol resolver initialized",
		zap.Int("unique_pairs", len(r.lookup)), zap.Int("common_symbols", len(r.commonSymbols)))
	return nil
}

func (r *Resolver) computeCommonSymbols() {
	var common []model.Symbol
	for key, byExchange := range r.lookup {
		active := 0
		for _, info := range byExchange {
			if info.Active {
				active++
			}
		}
		if active >= r.enabledCount && r.enabledCount > 0 {
			common = append(common, model.Symbol{Base: key.base, Quote: key.quote})
		}
	}
	sort.Slice(common, func(i, j int) bool {
		if common[i].Base != common[j].Base {
			return common[i].Base < common[j].Base
		}
		return common[i].Quote < common[j].Quote
	})
	r.commonSymbols = common
}

// CommonSymbols returns the symbols present and active on every enabled
// exchange, sorted deterministically.
func (r *Resolver) CommonSymbols() []model.Symbol {
	return r.commonSymbols
}

// Lookup returns the per-exchange SymbolInfo for a (base, quote) pair.
func (r *Resolver) Lookup(base, quote model.AssetName) (map[model.ExchangeName]model.SymbolInfo, bool) {
	key := pairKey{
		base:  model.AssetName(strings.ToUpper(string(base))),
		quote: model.AssetName(strings.ToUpper(string(quote))),
	}
	info, ok := r.lookup[key]
	return info, ok
}

// ResolvePair attaches per-exchange SymbolInfo to a configured pair,
// requiring at least two active exchanges (spec §4.H step 3). Returns
// false (with a logged reason) if the pair cannot be resolved.
func (r *Resolver) ResolvePair(base, quote model.AssetName, minProfitBps int32, maxExposureUSD float64, priority int32) (model.ArbitragePair, bool) {
	byExchange, ok := r.Lookup(base, quote)
	if !ok {
		r.log.Warn("pair not found on any exchange", zap.String("base", string(base)), zap.String("quote", string(quote)))
		return model.ArbitragePair{}, false
	}

	configs := make(map[model.ExchangeName]model.ExchangePairConfig)
	for name, info := range byExchange {
		if !info.Active {
			continue
		}
		configs[name] = model.ExchangePairConfig{
			Exchange:      name,
			NativeSymbol:  nativeSymbol(name, info.Symbol),
			MinBaseAmount: info.MinBaseAmount,
			MaxBaseAmount: 0,
			PricePrec:     info.QuotePrecision,
			AmountPrec:    info.BasePrecision,
			MakerFeeBps:   int32(info.MakerFee * 10000),
			TakerFeeBps:   int32(info.TakerFee * 10000),
		}
	}

	if len(configs) < 2 {
		r.log.Warn("pair has fewer than 2 active exchanges, skipping",
			zap.String("base", string(base)), zap.String("quote", string(quote)), zap.Int("active_exchanges", len(configs)))
		return model.ArbitragePair{}, false
	}

	return model.ArbitragePair{
		ID:             fmt.Sprintf("%s_%s_arb", strings.ToLower(string(base)), strings.ToLower(string(quote))),
		BaseAsset:      base,
		QuoteAsset:     quote,
		Exchanges:      configs,
		MinProfitBps:   minProfitBps,
		MaxExposureUSD: maxExposureUSD,
		Enabled:        true,
		Priority:       priority,
	}, true
}

func nativeSymbol(name model.ExchangeName, sym model.Symbol) string {
	switch name {
	case "gateio":
		return fmt.Sprintf("%s_%s", sym.Base, sym.Quote)
	default:
		return fmt.Sprintf("%s%s", sym.Base, sym.Quote)
	}
}
