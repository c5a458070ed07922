// Package wsclient implements the shared websocket transport every
// exchange market-data and private-stream adapter builds on: dial,
// reconnect-with-backoff, heartbeat, and a message dispatch loop. Grounded
// on the teacher's internal/marketdata/external/binance_websocket.go
// (connectWebSocket/handleWebSocketMessages) generalized from one fixed
// exchange into a reusable client driven by caller-supplied callbacks, and
// on internal/transport/websocket/client.go's reconnect-loop shape.
package wsclient

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	arbierrors "github.com/abdoElHodaky/arbiengine/internal/errors"
	"github.com/abdoElHodaky/arbiengine/internal/metrics"
)

// Handler receives decoded frames and connection lifecycle events from a
// Client. Implementations must not block: a slow Handler stalls reads for
// that connection. OnMessage is invoked in the client's read goroutine.
type Handler interface {
	OnConnect(ctx context.Context, c *Client) error
	OnMessage(data []byte)
	OnDisconnect(err error)
}

// Config configures reconnect behaviour and naming for metrics/logs.
type Config struct {
	Exchange     string
	Stream       string
	URL          string
	PingInterval time.Duration // 0 disables application-level pings
	PingPayload  []byte
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	DialTimeout    time.Duration
}

// Client manages a single reconnecting websocket connection.
type Client struct {
	cfg     Config
	handler Handler
	metrics *metrics.Registry
	log     *zap.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closing bool
}

// New creates a Client. It does not dial until Run is called.
func New(cfg Config, handler Handler, metricsReg *metrics.Registry, log *zap.Logger) *Client {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		handler: handler,
		metrics: metricsReg,
		log:     log.With(zap.String("exchange", cfg.Exchange), zap.String("stream", cfg.Stream)),
	}
}

// Run dials and maintains the connection until ctx is canceled, reconnecting
// with exponential backoff on every disconnect. Run blocks until ctx is
// done or Close is called.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	backoff := c.cfg.InitialBackoff
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.handler.OnDisconnect(err)
		if c.metrics != nil {
			c.metrics.WSReconnects.WithLabelValues(c.cfg.Exchange, c.cfg.Stream).Inc()
		}
		c.log.Warn("websocket disconnected, reconnecting", zap.Error(err), zap.Duration("backoff", backoff))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.cfg.MaxBackoff {
			backoff = c.cfg.MaxBackoff
		}
	}
}

func (c *Client) runOnce(ctx context.Context) error {
	dialCtx, dialCancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer dialCancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.cfg.URL, nil)
	if err != nil {
		return arbierrors.Wrap(err, arbierrors.CodeConnection, "dial websocket").WithExchange(c.cfg.Exchange)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.WSConnections.WithLabelValues(c.cfg.Exchange, c.cfg.Stream).Inc()
	}
	defer func() {
		conn.Close()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.WSConnections.WithLabelValues(c.cfg.Exchange, c.cfg.Stream).Dec()
		}
	}()

	if err := c.handler.OnConnect(ctx, c); err != nil {
		return err
	}

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()

	if c.cfg.PingInterval > 0 {
		c.wg.Add(1)
		go c.pingLoop(runCtx, conn)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			runCancel()
			c.wg.Wait()
			return err
		}
		if c.metrics != nil {
			c.metrics.WSMessages.WithLabelValues(c.cfg.Exchange, c.cfg.Stream).Inc()
		}
		c.handler.OnMessage(data)
	}
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, c.cfg.PingPayload)
			c.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Send writes a text frame to the active connection. It is safe to call
// concurrently with Run's internal ping loop.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return arbierrors.New(arbierrors.CodeConnection, "not connected").WithExchange(c.cfg.Exchange)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Close tears down the connection and stops Run's reconnect loop.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closing = true
	cancel := c.cancel
	conn := c.conn
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}
