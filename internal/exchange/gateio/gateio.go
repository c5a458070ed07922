// Package gateio implements the Gate.io REST and websocket adapter (spec
// §6): underscore-separated native symbols, header-triplet HMAC-SHA512
// signing, and the `{time, channel, event, payload}` subscription envelope.
// Grounded on the teacher's internal/marketdata/external/binance.go (REST
// method shape, string-to-float wire decoding) and binance_websocket.go
// (connect/dispatch loop), adapted to Gate.io's concrete wire format per
// original_source/src/exchanges/gateio and src/cex/gateio.
package gateio

import (
	"time"

	"go.uber.org/zap"

	"github.com/abdoElHodaky/arbiengine/internal/metrics"
	"github.com/abdoElHodaky/arbiengine/internal/model"
	"github.com/abdoElHodaky/arbiengine/internal/restclient"
	"github.com/abdoElHodaky/arbiengine/internal/symbol"
	"github.com/abdoElHodaky/arbiengine/internal/wsclient"
)

const exchangeName model.ExchangeName = "gateio"

// endpointLimits is Gate.io's per-endpoint rate-limit table (spec §4.C:
// "for exchanges with strict limits, e.g. Gate.io"). Order placement,
// cancellation and query are throttled tighter than read-only account and
// market-metadata endpoints, matching Gate.io's documented per-endpoint
// limits; layered on top of the client-wide limiter built from cfg above.
var endpointLimits = map[string]restclient.EndpointLimit{
	"order":        {RequestsPerSec: 10, BurstCapacity: 20},
	"cancel_order": {RequestsPerSec: 10, BurstCapacity: 20},
	"get_order":    {RequestsPerSec: 10, BurstCapacity: 20},
	"open_orders":  {RequestsPerSec: 5, BurstCapacity: 10},
	"accounts":     {RequestsPerSec: 5, BurstCapacity: 10},
}

// Exchange implements exchange.Adapter for Gate.io spot.
type Exchange struct {
	rest   *restclient.Client
	mapper *symbol.Mapper
	signer *signer

	wsPublicURL  string
	wsPrivateURL string
	metrics      *metrics.Registry
	log          *zap.Logger
}

// Config configures a Gate.io Exchange instance.
type Config struct {
	RESTBaseURL    string
	WSBaseURL      string
	APIKey         string
	APISecret      string
	RequestsPerSec float64
	BurstCapacity  int
	SupportedQuotes []model.AssetName
}

// New constructs a Gate.io adapter. Construction does no I/O.
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
		EndpointLimits: endpointLimits,
		Timeout:        10 * time.Second,
		MaxRetries:     3,
		MaxConcurrent:  30,
	}, s, metricsReg, log)
	if err != nil {
		return nil, err
	}

	return &Exchange{
		rest:         rest,
		mapper:       symbol.New(exchangeName, symbol.FormatUnderscore, cfg.SupportedQuotes),
		signer:       s,
		wsPublicURL:  cfg.WSBaseURL,
		wsPrivateURL: cfg.WSBaseURL,
		metrics:      metricsReg,
		log:          log.With(zap.String("exchange", string(exchangeName))),
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
