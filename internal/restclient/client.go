// Package restclient implements the shared REST transport every exchange
// adapter builds on: per-endpoint token-bucket rate limiting, circuit
// breaking, bounded concurrency, retry with exponential backoff, and
// gzip response decompression. Grounded on the teacher's
// internal/trading/mitigation package (retry.go, rate_limiter.go,
// circuit_breaker.go, bulkhead.go) — reimplemented here against
// golang.org/x/time/rate and github.com/sony/gobreaker directly rather than
// the teacher's hand-rolled limiter/breaker types, since the domain stack
// already depends on both for this exact purpose.
package restclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/panjf2000/ants/v2"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	arbierrors "github.com/abdoElHodaky/arbiengine/internal/errors"
	"github.com/abdoElHodaky/arbiengine/internal/metrics"
)

// Signer attaches exchange-specific authentication to an outgoing request
// (query signature, header HMAC, timestamp) before it is sent. Public
// endpoints pass a no-op Signer.
type Signer interface {
	Sign(req *http.Request, body []byte) error
}

// NoopSigner signs nothing; used for public market-data endpoints.
type NoopSigner struct{}

// Sign implements Signer.
func (NoopSigner) Sign(*http.Request, []byte) error { return nil }

// EndpointLimit is one row of the per-endpoint-prefix rate limit table
// (spec §4.C: "a table maps endpoint prefix to {requests_per_second,
// burst_capacity, weight}"). Weight is not modeled separately: it is folded
// into BurstCapacity/RequestsPerSec by the caller, since every endpoint
// this engine calls costs the same one request per call.
type EndpointLimit struct {
	RequestsPerSec float64
	BurstCapacity  int
}

// Config configures one exchange's REST client.
type Config struct {
	Exchange       string
	BaseURL        string
	RequestsPerSec float64
	BurstCapacity  int
	// EndpointLimits layers a per-endpoint-prefix token bucket on top of
	// the client-wide limiter above. Request.Endpoint is matched against
	// the longest matching key that is a prefix of it (e.g. a "order"
	// entry also throttles "order_book"; a more specific "order_book"
	// entry wins over "order" for that endpoint). Endpoints with no
	// matching entry are only subject to the client-wide limiter.
	EndpointLimits map[string]EndpointLimit
	Timeout        time.Duration
	MaxRetries     int
	MaxConcurrent  int
}

// Client is a rate-limited, circuit-broken, retrying HTTP client bound to
// one exchange's REST API. One Client instance is shared by every endpoint
// of that exchange; per-endpoint limiting happens via the endpoint label
// passed to Do.
type Client struct {
	cfg              Config
	http             *http.Client
	limiter          *rate.Limiter
	endpointLimiters map[string]*rate.Limiter
	breaker          *gobreaker.CircuitBreaker
	pool             *ants.Pool
	signer           Signer
	metrics          *metrics.Registry
	log              *zap.Logger
}

// New creates a Client. metricsReg and log may be nil in tests.
func New(cfg Config, signer Signer, metricsReg *metrics.Registry, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if signer == nil {
		signer = NoopSigner{}
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 32
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	pool, err := ants.NewPool(cfg.MaxConcurrent, ants.WithNonblocking(false))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	breakerSettings := gobreaker.Settings{
		Name:        cfg.Exchange,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				zap.String("exchange", name), zap.String("from", from.String()), zap.String("to", to.String()))
			if metricsReg != nil {
				v := 0.0
				if to == gobreaker.StateOpen {
					v = 1.0
				}
				metricsReg.RESTCircuitOpen.WithLabelValues(name).Set(v)
			}
		},
	}

	endpointLimiters := make(map[string]*rate.Limiter, len(cfg.EndpointLimits))
	for prefix, el := range cfg.EndpointLimits {
		burst := el.BurstCapacity
		if burst <= 0 {
			burst = 1
		}
		endpointLimiters[prefix] = rate.NewLimiter(rate.Limit(el.RequestsPerSec), burst)
	}

	return &Client{
		cfg:              cfg,
		http:             &http.Client{Timeout: cfg.Timeout},
		limiter:          rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.BurstCapacity),
		endpointLimiters: endpointLimiters,
		breaker:          gobreaker.NewCircuitBreaker(breakerSettings),
		pool:             pool,
		signer:           signer,
		metrics:          metricsReg,
		log:              log.With(zap.String("exchange", cfg.Exchange)),
	}, nil
}

// endpointLimiter returns the rate limiter for the longest configured
// prefix that req's endpoint starts with, or nil if none matches.
func (c *Client) endpointLimiter(endpoint string) *rate.Limiter {
	var best *rate.Limiter
	bestLen := -1
	for prefix, l := range c.endpointLimiters {
		if len(prefix) > bestLen && strings.HasPrefix(endpoint, prefix) {
			best = l
			bestLen = len(prefix)
		}
	}
	return best
}

// Close releases the worker pool.
func (c *Client) Close() {
	c.pool.Release()
}

// Request describes one REST call.
type Request struct {
	Method   string
	Path     string // joined with BaseURL
	Endpoint string // metrics/rate-limit label, e.g. "order", "orderbook"
	Query    map[string]string
	Body     interface{}
	Signed   bool
}

// Do executes req against the exchange, applying rate limiting, the
// circuit breaker, bounded concurrency and retry-with-backoff, and decodes
// the JSON response body into out. It blocks until a worker pool slot is
// free, so callers on a latency-sensitive path should bound ctx.
func (c *Client) Do(ctx context.Context, req Request, out interface{}) error {
	type result struct {
		err error
	}
	done := make(chan result, 1)

	submitErr := c.pool.Submit(func() {
		done <- result{err: c.doWithRetry(ctx, req, out)}
	})
	if submitErr != nil {
		return arbierrors.Wrap(submitErr, arbierrors.CodeConnection, "submit request to worker pool").
			WithExchange(c.cfg.Exchange)
	}

	select {
	case r := <-done:
		return r.err
	case <-ctx.Done():
		return arbierrors.Wrap(ctx.Err(), arbierrors.CodeConnection, "request canceled").WithExchange(c.cfg.Exchange)
	}
}

func (c *Client) doWithRetry(ctx context.Context, req Request, out interface{}) error {
	wait := 100 * time.Millisecond
	const maxWait = 2 * time.Second

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		// Global minimum inter-request delay first, then the endpoint's
		// own burst-sized bucket if one is configured for it (spec §4.C:
		// "a global semaphore + minimum inter-request delay caps
		// cross-endpoint concurrency" on top of the per-endpoint table).
		if err := c.limiter.Wait(ctx); err != nil {
			return arbierrors.Wrap(err, arbierrors.CodeRateLimit, "rate limiter wait canceled").WithExchange(c.cfg.Exchange)
		}
		if epLimiter := c.endpointLimiter(req.Endpoint); epLimiter != nil {
			if err := epLimiter.Wait(ctx); err != nil {
				return arbierrors.Wrap(err, arbierrors.CodeRateLimit, "endpoint rate limiter wait canceled").WithExchange(c.cfg.Exchange)
			}
		}

		start := time.Now()
		err := c.doOnce(ctx, req, out)
		elapsed := time.Since(start)

		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		if c.metrics != nil {
			c.metrics.ObserveRESTRequest(c.cfg.Exchange, req.Endpoint, outcome, elapsed)
		}

		if err == nil {
			return nil
		}
		lastErr = err

		if !arbierrors.Retryable(err) || attempt == c.cfg.MaxRetries {
			return err
		}

		// A rate-limit response's own Retry-After header, when present,
		// overrides our exponential curve for this attempt (spec §4.C).
		retryWait := wait
		if ee, ok := arbierrors.As(err); ok && ee.RetryAfter > 0 {
			retryWait = ee.RetryAfter
		}

		c.log.Debug("retrying request", zap.String("endpoint", req.Endpoint), zap.Int("attempt", attempt+1),
			zap.Duration("wait", retryWait), zap.Error(err))
		select {
		case <-ctx.Done():
			return arbierrors.Wrap(ctx.Err(), arbierrors.CodeConnection, "retry canceled").WithExchange(c.cfg.Exchange)
		case <-time.After(retryWait):
			wait *= 2
			if wait > maxWait {
				wait = maxWait
			}
		}
	}
	return lastErr
}

func (c *Client) doOnce(ctx context.Context, req Request, out interface{}) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.rawDo(ctx, req, out)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return arbierrors.Wrap(err, arbierrors.CodeConnection, "circuit breaker open").WithExchange(c.cfg.Exchange)
	}
	return err
}

func (c *Client) rawDo(ctx context.Context, req Request, out interface{}) error {
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = json.Marshal(req.Body)
		if err != nil {
			return arbierrors.Wrap(err, arbierrors.CodeValidation, "marshal request body").WithExchange(c.cfg.Exchange)
		}
	}

	url := c.cfg.BaseURL + req.Path
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return arbierrors.Wrap(err, arbierrors.CodeValidation, "build request").WithExchange(c.cfg.Exchange)
	}
	httpReq.Header.Set("Accept-Encoding", "gzip")
	if len(bodyBytes) > 0 {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	q := httpReq.URL.Query()
	for k, v := range req.Query {
		q.Set(k, v)
	}
	httpReq.URL.RawQuery = q.Encode()

	if req.Signed {
		if err := c.signer.Sign(httpReq, bodyBytes); err != nil {
			return arbierrors.Wrap(err, arbierrors.CodeValidation, "sign request").WithExchange(c.cfg.Exchange)
		}
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return arbierrors.Wrap(err, arbierrors.CodeConnection, "http request failed").WithExchange(c.cfg.Exchange)
	}
	defer resp.Body.Close()

	data, err := decodeBody(resp)
	if err != nil {
		return arbierrors.Wrap(err, arbierrors.CodeParse, "read response body").WithExchange(c.cfg.Exchange)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		code := arbierrors.MapHTTPStatus(resp.StatusCode)
		apiErr := arbierrors.Newf(code, "unexpected status %d: %s", resp.StatusCode, string(data)).
			WithExchange(c.cfg.Exchange).WithHTTPStatus(resp.StatusCode)
		if code == arbierrors.CodeRateLimit {
			if d, ok := parseRetryAfter(resp.Header.Get("Retry-After")); ok {
				apiErr = apiErr.WithRetryAfter(d)
			}
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return arbierrors.Wrap(err, arbierrors.CodeParse, "decode response json").WithExchange(c.cfg.Exchange)
	}
	return nil
}

// parseRetryAfter parses a Retry-After header value, which per RFC 7231 is
// either a number of seconds or an HTTP-date.
func parseRetryAfter(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d, true
		}
		return 0, true
	}
	return 0, false
}

func decodeBody(resp *http.Response) ([]byte, error) {
	var r io.Reader = resp.Body
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	}
	return io.ReadAll(r)
}
