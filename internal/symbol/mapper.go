// Package symbol implements the per-exchange bidirectional mapping between
// the unified model.Symbol and an exchange's native pair string (spec
// §4.A). One Mapper exists per exchange; it does no I/O and caches both
// directions in github.com/patrickmn/go-cache tables whose entries never
// expire, so each table grows with every distinct pair it sees.
package symbol

import (
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/abdoElHodaky/arbiengine/internal/errors"
	"github.com/abdoElHodaky/arbiengine/internal/model"
)

// Format describes how an exchange renders a pair string.
type Format int

const (
	// FormatUnderscore renders "BASE_QUOTE" (Gate.io).
	FormatUnderscore Format = iota
	// FormatConcatenated renders "BASEQUOTE" (MEXC).
	FormatConcatenated
)

// Mapper converts between model.Symbol and one exchange's native pair
// string. It is safe for concurrent use; the underlying cache handles its
// own locking.
type Mapper struct {
	exchange       model.ExchangeName
	format         Format
	supportedQuote map[model.AssetName]struct{}
	toNative       *gocache.Cache
	toSymbol       *gocache.Cache
}

// New creates a Mapper for the given exchange. supportedQuotes is the set
// of quote assets this exchange supports; is_supported_pair/validate
// consult it.
func New(exchange model.ExchangeName, format Format, supportedQuotes []model.AssetName) *Mapper {
	set := make(map[model.AssetName]struct{}, len(supportedQuotes))
	for _, q := range supportedQuotes {
		set[model.AssetName(strings.ToUpper(string(q)))] = struct{}{}
	}
	return &Mapper{
		exchange:       exchange,
		format:         format,
		supportedQuote: set,
		// No expiration: symbol mappings are static configuration for the
		// session's duration (spec §3). The 10-minute cleanup pass only
		// removes expired items, so no entry is ever evicted.
		toNative: gocache.New(gocache.NoExpiration, 10*time.Minute),
		toSymbol: gocache.New(gocache.NoExpiration, 10*time.Minute),
	}
}

// ToNative converts a unified Symbol to this exchange's native pair
// string, e.g. {BTC,USDT,false} -> "BTC_USDT" (Gate.io) or "BTCUSDT"
// (MEXC).
func (m *Mapper) ToNative(s model.Symbol) string {
	key := cacheKey(s)
	if v, ok := m.toNative.Get(key); ok {
		return v.(string)
	}
	var native string
	switch m.format {
	case FormatUnderscore:
		native = fmt.Sprintf("%s_%s", strings.ToUpper(string(s.Base)), strings.ToUpper(string(s.Quote)))
	default:
		native = strings.ToUpper(string(s.Base)) + strings.ToUpper(string(s.Quote))
	}
	m.toNative.Set(key, native, gocache.NoExpiration)
	m.toSymbol.Set(native, s, gocache.NoExpiration)
	return native
}

// ToSymbol parses an exchange-native pair string into a unified Symbol.
// For FormatConcatenated exchanges this requires the caller to supply the
// known quote-asset suffix list (via the registered supportedQuote set)
// since "BTCUSDT" is ambiguous without it.
func (m *Mapper) ToSymbol(native string, isFutures bool) (model.Symbol, error) {
	if v, ok := m.toSymbol.Get(native); ok {
		sym := v.(model.Symbol)
		sym.IsFutures = isFutures
		return sym, nil
	}

	upper := strings.ToUpper(native)
	var base, quote string

	switch m.format {
	case FormatUnderscore:
		parts := strings.SplitN(upper, "_", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return model.Symbol{}, errors.Newf(errors.CodeParse, "unrecognized pair %q for %s", native, m.exchange).
				WithExchange(string(m.exchange))
		}
		base, quote = parts[0], parts[1]
	default:
		var found bool
		for q := range m.supportedQuote {
			qs := string(q)
			if strings.HasSuffix(upper, qs) && len(upper) > len(qs) {
				base, quote, found = upper[:len(upper)-len(qs)], qs, true
				break
			}
		}
		if !found {
			return model.Symbol{}, errors.Newf(errors.CodeParse, "unrecognized pair %q for %s", native, m.exchange).
				WithExchange(string(m.exchange))
		}
	}

	sym := model.Symbol{Base: model.AssetName(base), Quote: model.AssetName(quote), IsFutures: isFutures}
	m.toSymbol.Set(native, sym, gocache.NoExpiration)
	m.toNative.Set(cacheKey(sym), native, gocache.NoExpiration)
	return sym, nil
}

// IsSupportedPair reports whether the symbol's quote asset is in this
// exchange's supported set.
func (m *Mapper) IsSupportedPair(s model.Symbol) bool {
	_, ok := m.supportedQuote[model.AssetName(strings.ToUpper(string(s.Quote)))]
	return ok
}

// ValidateSymbol is an alias for IsSupportedPair, matching spec §4.A's
// naming of two entry points with the same semantics.
func (m *Mapper) ValidateSymbol(s model.Symbol) bool {
	return m.IsSupportedPair(s)
}

func cacheKey(s model.Symbol) string {
	if s.IsFutures {
		return string(s.Base) + "/" + string(s.Quote) + "/F"
	}
	return string(s.Base) + "/" + string(s.Quote) + "/S"
}
