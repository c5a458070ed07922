// Package privatestate maintains authoritative per-(exchange, account)
// trading state: asset balances, open orders, and a bounded history of
// recent execution reports (spec §4.G). The websocket private stream is
// the real-time source of truth; a REST snapshot (Resync) replaces the
// tracked state whenever Resync is called, which happens at startup and
// from BalanceSyncTask. A stream gap or reconnect does not trigger a
// Resync by itself.
package privatestate

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/abdoElHodaky/arbiengine/internal/exchange"
	"github.com/abdoElHodaky/arbiengine/internal/model"
)

const executionReportBufferSize = 256

// ExecutionReport is a terminal or partial fill event retained for
// diagnostics.
type ExecutionReport struct {
	Order model.Order
}

// reportRing is a fixed-capacity circular buffer of the most recent
// execution reports; overwriting the oldest entry once full.
type reportRing struct {
	buf  []ExecutionReport
	next int
	full bool
}

func newReportRing(capacity int) *reportRing {
	return &reportRing{buf: make([]ExecutionReport, capacity)}
}

func (r *reportRing) push(report ExecutionReport) {
	r.buf[r.next] = report
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

func (r *reportRing) snapshot() []ExecutionReport {
	if !r.full {
		out := make([]ExecutionReport, r.next)
		copy(out, r.buf[:r.next])
		return out
	}
	out := make([]ExecutionReport, len(r.buf))
	copy(out, r.buf[r.next:])
	copy(out[len(r.buf)-r.next:], r.buf[:r.next])
	return out
}

// Tracker holds the live state for one (exchange, account) pair.
type Tracker struct {
	exchange model.ExchangeName
	private  exchange.PrivateTrading

	mu       sync.RWMutex
	balances map[model.AssetName]model.AssetBalance
	orders   map[model.OrderID]model.Order
	reports  *reportRing

	deltaTolerance float64
	log            *zap.Logger
}

// New creates a Tracker bound to an exchange's private-trading interface.
// deltaTolerance bounds how far (in units of the asset) a balance update
// may move an asset's total (free + locked) away from the value held
// before it, whether that came from Resync or an earlier update, before a
// warning is logged. Exceeding it does not trigger a Resync.
func New(ex exchange.PrivateTrading, deltaTolerance float64, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{
		exchange:       ex.Name(),
		private:        ex,
		balances:       make(map[model.AssetName]model.AssetBalance),
		orders:         make(map[model.OrderID]model.Order),
		reports:        newReportRing(executionReportBufferSize),
		deltaTolerance: deltaTolerance,
		log:            log.With(zap.String("exchange", string(ex.Name()))),
	}
}

// Resync fetches balances and open orders from REST and replaces the
// tracker's state wholesale. Called at startup by cmd/arbengine and by
// BalanceSyncTask; stream gaps and reconnects do not call it.
func (t *Tracker) Resync(ctx context.Context) error {
	balances, err := t.private.GetBalances(ctx)
	if err != nil {
		return err
	}
	orders, err := t.private.GetOpenOrders(ctx, model.Symbol{})
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances = make(map[model.AssetName]model.AssetBalance, len(balances))
	for _, b := range balances {
		t.balances[b.Asset] = b
	}
	t.orders = make(map[model.OrderID]model.Order, len(orders))
	for _, o := range orders {
		if !o.Status.IsTerminal() {
			t.orders[o.OrderID] = o
		}
	}
	t.log.Info("resynced private state from REST",
		zap.Int("balances", len(t.balances)), zap.Int("open_orders", len(t.orders)))
	return nil
}

// OnBalanceUpdate implements exchange.PrivateHandler.
func (t *Tracker) OnBalanceUpdate(b model.AssetBalance) {
	t.mu.Lock()
	prev, existed := t.balances[b.Asset]
	t.balances[b.Asset] = b
	t.mu.Unlock()

	if existed && t.deltaTolerance > 0 {
		delta := (prev.Free + prev.Locked) - (b.Free + b.Locked)
		if delta < 0 {
			delta = -delta
		}
		if delta > t.deltaTolerance {
			t.log.Warn("balance update exceeds delta tolerance, resync recommended",
				zap.String("asset", string(b.Asset)), zap.Float64("delta", delta))
		}
	}
}

// OnOrderUpdate implements exchange.PrivateHandler. Terminal orders are
// evicted from the open-orders map but retained in the execution-report
// ring buffer.
func (t *Tracker) OnOrderUpdate(o model.Order) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if o.Status.IsTerminal() {
		delete(t.orders, o.OrderID)
	} else {
		t.orders[o.OrderID] = o
	}
	t.reports.push(ExecutionReport{Order: o})
}

// OnTradeUpdate implements exchange.PrivateHandler. Private trade events
// are informational here; order-state transitions drive the tracker.
func (t *Tracker) OnTradeUpdate(tr model.Trade) {}

// Balance returns the latest known balance for an asset.
func (t *Tracker) Balance(asset model.AssetName) (model.AssetBalance, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.balances[asset]
	return b, ok
}

// Order returns the latest known state of an open order.
func (t *Tracker) Order(id model.OrderID) (model.Order, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	o, ok := t.orders[id]
	return o, ok
}

// OpenOrders returns a snapshot of all currently open orders.
func (t *Tracker) OpenOrders() []model.Order {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]model.Order, 0, len(t.orders))
	for _, o := range t.orders {
		out = append(out, o)
	}
	return out
}

// RecentReports returns the most recent execution reports, oldest first.
func (t *Tracker) RecentReports() []ExecutionReport {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.reports.snapshot()
}
