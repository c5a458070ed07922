// Package mexc implements the MEXC REST and websocket adapter (spec §6):
// concatenated native symbols, query-parameter HMAC-SHA256 signing, and the
// `{"method":"SUBSCRIPTION", "params":[...], "id":N}` subscription
// envelope. Private streams authenticate via a listen-key obtained over
// REST and refreshed every 30 minutes (spec §4.D, §9 — reuse the key until
// the exchange rejects it, then mint a fresh one).
//
// The original implementation decodes MEXC's high-frequency channels from
// protobuf frames; this adapter instead requests MEXC's JSON-framed
// channel variants throughout; see DESIGN.md for the rationale (no
// protobuf toolchain available during this build).
package mexc

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/abdoElHodaky/arbiengine/internal/metrics"
	"github.com/abdoElHodaky/arbiengine/internal/model"
	"github.com/abdoElHodaky/arbiengine/internal/restclient"
	"github.com/abdoElHodaky/arbiengine/internal/symbol"
	"github.com/abdoElHodaky/arbiengine/internal/wsclient"
)

const exchangeName model.ExchangeName = "mexc"

// Exchange implements exchange.Adapter for MEXC spot.
type Exchange struct {
	rest   *restclient.Client
	mapper *symbol.Mapper
	signer *signer

	wsURL   string
	metrics *metrics.Registry
	log     *zap.Logger

	listenKeyMu sync.Mutex
	listenKey   string
}

// Config configures a MEXC Exchange instance.
type Config struct {
	RESTBaseURL     string
	WSBaseURL       string
	APIKey          string
	APISecret       string
	RequestsPerSec  float64
	BurstCapacity   int
	SupportedQuotes []model.AssetName
}

// New constructs a MEXC adapter. Construction does no I/O.
func New(cfg Config, metricsReg *metrics.Registry, log *zap.Logger) (*Exchange, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := newSigner(cfg.APIKey, cfg.APISecret)

	rest, err := restclient.New(restclient.Config{
		Exchange:       string(exchangeName),
		BaseURL:        cfg.RESTBaseURL,
		RequestsPerSec: cfg.RequestsPerSec,
		BurstCapacity:  cfg.BurstCapacity,
		Timeout:        10 * time.Second,
		MaxRetries:     3,
		MaxConcurrent:  30,
	}, s, metricsReg, log)
	if err != nil {
		return nil, err
	}

	return &Exchange{
		rest:    rest,
		mapper:  symbol.New(exchangeName, symbol.FormatConcatenated, cfg.SupportedQuotes),
		signer:  s,
		wsURL:   cfg.WSBaseURL,
		metrics: metricsReg,
		log:     log.With(zap.String("exchange", string(exchangeName))),
	}, nil
}

// Name implements exchange.PublicData / exchange.PrivateTrading.
func (e *Exchange) Name() model.ExchangeName { return exchangeName }

func (e *Exchange) newWSClient(stream, url string, handler wsclient.Handler, pingInterval time.Duration) *wsclient.Client {
	return wsclient.New(wsclient.Config{
		Exchange:     string(exchangeName),
		Stream:       stream,
		URL:          url,
		PingInterval: pingInterval,
	}, handler, e.metrics, e.log)
}

// keepAliveListenKey runs until ctx is canceled, refreshing the listen key
// every 30 minutes (spec §4.D/§6) and minting a new one if the refresh is
// rejected (spec §9 open-question resolution).
func (e *Exchange) keepAliveListenKey(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.listenKeyMu.Lock()
			key := e.listenKey
			e.listenKeyMu.Unlock()
			if key == "" {
				continue
			}
			if err := e.refreshListenKey(ctx, key); err != nil {
				e.log.Warn("listen key refresh rejected, minting a new one", zap.Error(err))
				newKey, mintErr := e.createListenKey(ctx)
				if mintErr != nil {
					e.log.Error("failed to mint replacement listen key", zap.Error(mintErr))
					continue
				}
				e.listenKeyMu.Lock()
				e.listenKey = newKey
				e.listenKeyMu.Unlock()
			}
		}
	}
}
