// Package execution drives one paired-leg arbitrage trade through the
// state machine described in spec §4.J: IDLE -> VALIDATING -> ENTERING
// -> HEDGING -> MONITORING -> EXITING -> COMPLETED / FAILED / ABORTED.
// One Engine owns exactly one trade; concurrency across trades is the
// task manager's responsibility.
//
// Grounded on internal/trading/execution/engine.go (mutex-guarded state,
// metrics bookkeeping, structured error returns) and
// internal/trading/execution/settlement/processor.go (fill/PnL
// accounting at completion), generalized from single-venue order
// matching to the two-leg cross-exchange model.
package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/arbiengine/internal/exchange"
	"github.com/abdoElHodaky/arbiengine/internal/hub"
	"github.com/abdoElHodaky/arbiengine/internal/metrics"
	"github.com/abdoElHodaky/arbiengine/internal/model"
)

// errAckUnknown is returned by placeOrderWithAck when a placement's status
// is still unknown after the ack timeout and a further REST reconciliation
// attempt (spec §4.J: "If status is unknown after further retry, the trade
// transitions to FAILED and records an inconsistency for operator
// attention").
var errAckUnknown = errors.New("order ack unknown after timeout and REST reconciliation")

// State is one point in the execution state machine.
type State string

const (
	StateIdle       State = "IDLE"
	StateValidating State = "VALIDATING"
	StateEntering   State = "ENTERING"
	StateHedging    State = "HEDGING"
	StateMonitoring State = "MONITORING"
	StateExiting    State = "EXITING"
	StateCompleted  State = "COMPLETED"
	StateFailed     State = "FAILED"
	StateAborted    State = "ABORTED"
)

// IsTerminal reports whether no further transition will occur.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateAborted:
		return true
	default:
		return false
	}
}

// Config tunes per-state timeouts and the exit/hedging policy.
type Config struct {
	OrderAckTimeout time.Duration
	DeltaTolerance  float64
	ExitSpreadBps   int32
	MaxHold         time.Duration
	DryRun          bool
}

// Leg is one side of the paired trade.
type Leg struct {
	Exchange model.ExchangeName
	Symbol   model.Symbol
	Side     model.OrderSide

	OrderID        model.OrderID
	FilledQuantity float64
	AvgPrice       float64
	Status         model.OrderStatus
}

// Engine executes a single ArbitrageOpportunity as a paired-leg trade.
type Engine struct {
	cfg Config
	hub *hub.Hub

	mu    sync.RWMutex
	id    string
	state State
	opp   model.ArbitrageOpportunity

	buyLeg  Leg
	sellLeg Leg

	buyClient  exchange.PrivateTrading
	sellClient exchange.PrivateTrading

	startedAt    time.Time
	abortReason  string
	realizedPnL  float64

	metrics *metrics.Registry
	log     *zap.Logger
}

// New constructs an Engine for one opportunity. buyClient/sellClient are
// the PrivateTrading adapters for opp.BuyExchange/opp.SellExchange.
func New(cfg Config, opp model.ArbitrageOpportunity, buyClient, sellClient exchange.PrivateTrading, h *hub.Hub, metricsReg *metrics.Registry, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.OrderAckTimeout <= 0 {
		cfg.OrderAckTimeout = 500 * time.Millisecond
	}
	id := fmt.Sprintf("%d_spot_futures_arb_%s_%s", time.Now().UnixMilli(), opp.Symbol.Base, opp.Symbol.Quote)
	return &Engine{
		cfg:        cfg,
		hub:        h,
		id:         id,
		state:      StateIdle,
		opp:        opp,
		buyLeg:     Leg{Exchange: opp.BuyExchange, Symbol: opp.Symbol, Side: model.SideBuy},
		sellLeg:    Leg{Exchange: opp.SellExchange, Symbol: opp.Symbol, Side: model.SideSell},
		buyClient:  buyClient,
		sellClient: sellClient,
		metrics:    metricsReg,
		log:        log.With(zap.String("trade_id", id), zap.String("symbol", opp.Symbol.String())),
	}
}

// ID returns this trade's identifier.
func (e *Engine) ID() string { return e.id }

// Snapshot is the JSON-serializable state a SpotFuturesArbitrageTask
// persists on every transition (spec §4.K) and restores from on recovery.
type Snapshot struct {
	ID          string                       `json:"id"`
	State       State                        `json:"state"`
	Opportunity model.ArbitrageOpportunity   `json:"opportunity"`
	BuyLeg      Leg                          `json:"buy_leg"`
	SellLeg     Leg                          `json:"sell_leg"`
	AbortReason string                       `json:"abort_reason,omitempty"`
	RealizedPnL float64                      `json:"realized_pnl"`
}

// Snapshot captures the engine's current state for persistence.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Snapshot{
		ID:          e.id,
		State:       e.state,
		Opportunity: e.opp,
		BuyLeg:      e.buyLeg,
		SellLeg:     e.sellLeg,
		AbortReason: e.abortReason,
		RealizedPnL: e.realizedPnL,
	}
}

// Restore rebuilds an Engine from a persisted Snapshot, reusing the
// original trade id instead of minting a new one. Callers must still
// reconcile buyClient/sellClient-observed order state against the
// exchange before resuming (spec §4.G, §4.K S6) since a crash may have
// happened between a fill event and the next persisted snapshot.
func Restore(cfg Config, snap Snapshot, buyClient, sellClient exchange.PrivateTrading, h *hub.Hub, metricsReg *metrics.Registry, log *zap.Logger) *Engine {
	e := New(cfg, snap.Opportunity, buyClient, sellClient, h, metricsReg, log)
	e.id = snap.ID
	e.state = snap.State
	e.buyLeg = snap.BuyLeg
	e.sellLeg = snap.SellLeg
	e.abortReason = snap.AbortReason
	e.realizedPnL = snap.RealizedPnL
	e.log = e.log.With(zap.String("restored", "true"))
	return e
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *Engine) transition(to State) {
	e.mu.Lock()
	from := e.state
	e.state = to
	e.mu.Unlock()
	e.log.Info("state transition", zap.String("from", string(from)), zap.String("to", string(to)))
}

// Run drives the state machine to completion. It blocks until the trade
// reaches a terminal state or ctx is canceled.
func (e *Engine) Run(ctx context.Context) State {
	e.startedAt = time.Now()

	for {
		state, done := e.Step(ctx)
		if done {
			return state
		}
	}
}

// Step advances the state machine by exactly one transition and reports
// whether the trade has reached a terminal state. The task manager drives
// a SpotFuturesArbitrageTask by calling Step once per ExecuteOnce instead
// of blocking in Run, so a crash between two Steps only ever loses the
// work of one transition (spec §4.K, §4.J).
func (e *Engine) Step(ctx context.Context) (state State, done bool) {
	if e.startedAt.IsZero() {
		e.startedAt = time.Now()
	}
	start := e.startedAt

	select {
	case <-ctx.Done():
		// ctx is already canceled: any REST call bound to it would fail
		// instantly, so the leg-cancellation cleanup below runs against a
		// fresh background context (spec §4.J/§5: "cancels all open legs
		// via REST, waits for confirmed terminal status").
		e.cancelOpenLegs(context.Background())
		e.abortReason = "canceled"
		e.transition(StateAborted)
		e.recordOutcome(start, "canceled")
		return StateAborted, true
	default:
	}

	var next State
	switch e.State() {
	case StateIdle:
		next = e.doValidate(ctx)
	case StateValidating:
		next = e.doEnter(ctx)
	case StateEntering:
		next = e.doHedge(ctx)
	case StateHedging:
		next = StateMonitoring
	case StateMonitoring:
		next = e.doMonitor(ctx)
	case StateExiting:
		next = e.doExit(ctx)
	default:
		e.recordOutcome(start, outcomeFor(e.State()))
		return e.State(), true
	}
	e.transition(next)
	return next, next.IsTerminal()
}

// Cancel is the external cancel-request path (spec §4.J/§5: "external
// cancel request at any state cancels all open legs via REST, waits for
// confirmed terminal status, transitions to ABORTED"). It is a no-op on an
// already-terminal trade.
func (e *Engine) Cancel(ctx context.Context) State {
	if e.State().IsTerminal() {
		return e.State()
	}
	e.cancelOpenLegs(ctx)
	e.abortReason = "canceled"
	e.transition(StateAborted)
	e.recordOutcome(e.startedAt, "canceled")
	return StateAborted
}

// cancelOpenLegs cancels whichever legs are still open via REST and waits
// (bounded) for each to reach a terminal status before returning, per
// spec §5's cancellation semantics. ctx should not already be canceled —
// callers reacting to a canceled context pass a fresh one instead, since a
// canceled ctx would fail every REST call here immediately.
func (e *Engine) cancelOpenLegs(ctx context.Context) {
	e.cancelLeg(ctx, &e.buyLeg, e.buyClient)
	e.cancelLeg(ctx, &e.sellLeg, e.sellClient)
}

// legCancelPollInterval/legCancelWait bound how long cancelLeg waits
// for a confirmed terminal status after issuing the cancel request.
const (
	legCancelPollInterval = 50 * time.Millisecond
	legCancelWait         = 2 * time.Second
)

func (e *Engine) cancelLeg(ctx context.Context, leg *Leg, client exchange.PrivateTrading) {
	if leg.OrderID == "" || leg.Status.IsTerminal() {
		return
	}
	if err := client.CancelOrder(ctx, e.opp.Symbol, leg.OrderID); err != nil {
		e.log.Warn("cancel leg order failed", zap.String("order_id", string(leg.OrderID)), zap.Error(err))
	}

	deadline := time.Now().Add(legCancelWait)
	for time.Now().Before(deadline) {
		order, err := client.GetOrder(ctx, e.opp.Symbol, leg.OrderID)
		if err == nil {
			leg.Status = order.Status
			leg.FilledQuantity = order.FilledQuantity
			leg.AvgPrice = order.AvgPrice
			if order.Status.IsTerminal() {
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(legCancelPollInterval):
		}
	}
	e.log.Warn("leg did not confirm terminal status before cancel deadline",
		zap.String("order_id", string(leg.OrderID)), zap.String("status", string(leg.Status)))
}

// doValidate re-evaluates prices against the latest hub snapshot
// (IDLE->VALIDATING): it aborts if either venue's quote is unavailable or
// the spread between the sell venue's bid and the buy venue's ask is no
// longer positive. No balance or position-limit check is made here.
func (e *Engine) doValidate(ctx context.Context) State {
	e.transition(StateValidating)

	bid, ask, _, ok := e.hub.BestBidAsk(hub.Key{Exchange: e.sellLeg.Exchange, Symbol: e.opp.Symbol})
	bidOK := ok && bid.Price > 0
	_, buyAsk, _, buyOK := e.hub.BestBidAsk(hub.Key{Exchange: e.buyLeg.Exchange, Symbol: e.opp.Symbol})
	if !bidOK || !buyOK {
		e.abortReason = "stale_quote"
		return StateAborted
	}
	spread := bid.Price - buyAsk.Price
	_ = ask
	if spread <= 0 {
		e.abortReason = "spread_vanished"
		return StateAborted
	}
	return StateValidating
}

// doEnter issues the two paired orders (VALIDATING->ENTERING): always the
// buy leg first, then the sell leg. The placement order does not depend on
// either venue's depth.
func (e *Engine) doEnter(ctx context.Context) State {
	e.transition(StateEntering)

	if e.cfg.DryRun {
		e.buyLeg.FilledQuantity = e.opp.MaxQuantity
		e.buyLeg.AvgPrice = e.opp.BuyPrice
		e.buyLeg.Status = model.OrderStatusFilled
		e.sellLeg.FilledQuantity = e.opp.MaxQuantity
		e.sellLeg.AvgPrice = e.opp.SellPrice
		e.sellLeg.Status = model.OrderStatusFilled
		return StateEntering
	}

	buyOrder, err := e.placeOrderWithAck(ctx, e.buyClient, model.SideBuy, e.opp.MaxQuantity, e.opp.BuyPrice)
	if err != nil {
		if errors.Is(err, errAckUnknown) {
			e.abortReason = "buy_leg_ack_unknown"
			e.log.Error("buy leg ack unknown after REST reconciliation", zap.Error(err))
			return StateFailed
		}
		e.abortReason = "buy_leg_rejected"
		e.log.Warn("buy leg placement failed", zap.Error(err))
		return StateAborted
	}
	e.buyLeg.OrderID = buyOrder.OrderID
	e.buyLeg.Status = buyOrder.Status
	e.buyLeg.FilledQuantity = buyOrder.FilledQuantity
	e.buyLeg.AvgPrice = buyOrder.AvgPrice

	sellOrder, err := e.placeOrderWithAck(ctx, e.sellClient, model.SideSell, e.opp.MaxQuantity, e.opp.SellPrice)
	if err != nil {
		if errors.Is(err, errAckUnknown) {
			e.abortReason = "sell_leg_ack_unknown"
			e.log.Error("sell leg ack unknown after REST reconciliation", zap.Error(err))
			return StateFailed
		}
		e.log.Warn("sell leg placement failed, rolling back buy leg", zap.Error(err))
		_ = e.buyClient.CancelOrder(ctx, e.opp.Symbol, e.buyLeg.OrderID)
		e.abortReason = "sell_leg_rejected_rollback"
		return StateAborted
	}
	e.sellLeg.OrderID = sellOrder.OrderID
	e.sellLeg.Status = sellOrder.Status
	e.sellLeg.FilledQuantity = sellOrder.FilledQuantity
	e.sellLeg.AvgPrice = sellOrder.AvgPrice

	return StateEntering
}

// placeOrderWithAck places one leg's order and guards the placement's ack
// with cfg.OrderAckTimeout (spec §4.J: "If placement ack is not received
// within order_ack_timeout_ms, the order is queried via REST. If status is
// unknown after further retry, the trade transitions to FAILED"). The
// placement itself still runs to completion on its own goroutine even
// after the timeout fires, since the exchange may still accept it; a
// second wait of the same duration gives it a chance to land before
// falling back to an open-orders reconciliation query.
func (e *Engine) placeOrderWithAck(ctx context.Context, client exchange.PrivateTrading, side model.OrderSide, qty, price float64) (model.Order, error) {
	type result struct {
		order model.Order
		err   error
	}
	done := make(chan result, 1)
	go func() {
		o, err := client.PlaceOrder(ctx, e.opp.Symbol, side, model.OrderTypeLimit, model.TimeInForceIOC, qty, price)
		done <- result{order: o, err: err}
	}()

	select {
	case r := <-done:
		return r.order, r.err
	case <-time.After(e.cfg.OrderAckTimeout):
	}

	e.log.Warn("order placement ack timed out, querying REST", zap.String("side", string(side)))
	select {
	case r := <-done:
		return r.order, r.err
	case <-time.After(e.cfg.OrderAckTimeout):
	}

	orders, err := client.GetOpenOrders(ctx, e.opp.Symbol)
	if err == nil {
		for _, o := range orders {
			if o.Side == side {
				return o, nil
			}
		}
	}
	return model.Order{}, errAckUnknown
}

// doHedge checks the delta-neutrality invariant between legs and places an
// additional rebalancing order to close the gap (spec §4.J,
// ENTERING->HEDGING; testable property 4: |filled_buy - filled_sell| <=
// delta_tolerance at termination).
func (e *Engine) doHedge(ctx context.Context) State {
	e.transition(StateHedging)

	delta := e.buyLeg.FilledQuantity - e.sellLeg.FilledQuantity
	switch {
	case delta > e.cfg.DeltaTolerance:
		// Buy leg is ahead: place an additional sell to close the gap.
		e.rebalanceLeg(ctx, &e.sellLeg, e.sellClient, model.SideSell, delta)
	case -delta > e.cfg.DeltaTolerance:
		// Sell leg is ahead: place an additional buy to close the gap.
		e.rebalanceLeg(ctx, &e.buyLeg, e.buyClient, model.SideBuy, -delta)
	}
	return StateHedging
}

// rebalanceLeg places an additional order on leg's venue sized to close
// the delta-neutrality gap (spec §4.J S4: "the engine places an additional
// sell of 0.6 on B"). Dry-run mode simulates the fill instead of calling
// REST, consistent with doEnter's dry-run path.
func (e *Engine) rebalanceLeg(ctx context.Context, leg *Leg, client exchange.PrivateTrading, side model.OrderSide, qty float64) {
	price := e.opp.SellPrice
	if side == model.SideBuy {
		price = e.opp.BuyPrice
	}

	if e.cfg.DryRun {
		leg.FilledQuantity += qty
		leg.Status = model.OrderStatusFilled
		return
	}

	order, err := e.placeOrderWithAck(ctx, client, side, qty, price)
	if err != nil {
		e.log.Warn("hedge rebalancing order failed", zap.String("side", string(side)), zap.Float64("qty", qty), zap.Error(err))
		return
	}
	leg.OrderID = order.OrderID
	leg.FilledQuantity += order.FilledQuantity
	leg.AvgPrice = order.AvgPrice
	leg.Status = order.Status
	e.log.Info("placed hedge rebalancing order",
		zap.String("side", string(side)), zap.Float64("qty", qty), zap.Float64("filled", order.FilledQuantity))
}

// doMonitor watches for the exit condition: net spread falling below the
// configured threshold, or the hold time exceeding MaxHold
// (spec §4.J, MONITORING->EXITING).
func (e *Engine) doMonitor(ctx context.Context) State {
	if e.cfg.MaxHold > 0 && time.Since(e.startedAt) > e.cfg.MaxHold {
		return StateExiting
	}
	bid, _, _, ok := e.hub.BestBidAsk(hub.Key{Exchange: e.sellLeg.Exchange, Symbol: e.opp.Symbol})
	if !ok {
		return StateMonitoring
	}
	_, ask, _, ok := e.hub.BestBidAsk(hub.Key{Exchange: e.buyLeg.Exchange, Symbol: e.opp.Symbol})
	if !ok {
		return StateMonitoring
	}
	netSpreadBps := (bid.Price - ask.Price) / ask.Price * 10000
	if netSpreadBps < float64(e.cfg.ExitSpreadBps) {
		return StateExiting
	}
	return StateMonitoring
}

// doExit records realized P&L (EXITING->COMPLETED) as the difference of
// the legs' average prices times the smaller filled quantity. It places no
// unwinding orders on either venue.
func (e *Engine) doExit(ctx context.Context) State {
	qty := e.buyLeg.FilledQuantity
	if e.sellLeg.FilledQuantity < qty {
		qty = e.sellLeg.FilledQuantity
	}
	e.realizedPnL = (e.sellLeg.AvgPrice - e.buyLeg.AvgPrice) * qty
	return StateCompleted
}

func (e *Engine) recordOutcome(start time.Time, outcome string) {
	if e.metrics == nil {
		return
	}
	elapsed := time.Since(start)
	e.metrics.ExecutionLatency.WithLabelValues(e.opp.Symbol.String(), "spot_futures_arb").Observe(elapsed.Seconds())
	e.metrics.ExecutionOutcomes.WithLabelValues(e.opp.Symbol.String(), "spot_futures_arb", outcome).Inc()
	if outcome == "completed" {
		e.metrics.RealizedPnL.WithLabelValues(e.opp.Symbol.String()).Add(e.realizedPnL)
	}
}

func outcomeFor(s State) string {
	switch s {
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "aborted"
	}
}

// NewTradeID generates a standalone trade identifier for persisted tasks
// wrapping an Engine: {timestamp}_{task_type}_{symbol}_{side} followed by
// an underscore and the first 8 characters of a random UUID.
func NewTradeID(taskType, symbolStr, side string) string {
	return fmt.Sprintf("%d_%s_%s_%s_%s", time.Now().UnixMilli(), taskType, symbolStr, side, uuid.NewString()[:8])
}
