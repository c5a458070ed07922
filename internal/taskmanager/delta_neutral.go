package taskmanager

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/abdoElHodaky/arbiengine/internal/exchange"
	"github.com/abdoElHodaky/arbiengine/internal/hub"
	"github.com/abdoElHodaky/arbiengine/internal/model"
)

// DeltaNeutralContext is the persisted state of a DeltaNeutralTask,
// grounded on original_source's DeltaNeutralTaskContext: per-side filled
// quantity/avg price/order id keyed by which leg is buy vs sell.
type DeltaNeutralContext struct {
	Symbol         model.Symbol       `json:"symbol"`
	BuyExchange    model.ExchangeName `json:"buy_exchange"`
	SellExchange   model.ExchangeName `json:"sell_exchange"`
	TargetQuantity float64            `json:"target_quantity"`
	SliceQuantity  float64            `json:"slice_quantity"`
	FilledBuy      float64            `json:"filled_buy"`
	FilledSell     float64            `json:"filled_sell"`
	DeltaTolerance float64            `json:"delta_tolerance"`
	OpenBuyOrder   model.OrderID      `json:"open_buy_order,omitempty"`
	OpenSellOrder  model.OrderID      `json:"open_sell_order,omitempty"`
}

// Delta returns the signed imbalance between the two legs.
func (c DeltaNeutralContext) Delta() float64 {
	return c.FilledBuy - c.FilledSell
}

// DeltaNeutralTask maintains delta-neutral inventory across two venues by
// placing whichever leg is lagging, one slice at a time, until the target
// quantity is reached on both sides (spec §4.K).
type DeltaNeutralTask struct {
	id         string
	buyClient  exchange.PrivateTrading
	sellClient exchange.PrivateTrading
	h          *hub.Hub
	log        *zap.Logger

	mu     sync.Mutex
	ctx    DeltaNeutralContext
	status Status
}

// NewDeltaNeutralTask constructs a fresh DeltaNeutralTask.
func NewDeltaNeutralTask(buyClient, sellClient exchange.PrivateTrading, h *hub.Hub, ctx DeltaNeutralContext, log *zap.Logger) *DeltaNeutralTask {
	if log == nil {
		log = zap.NewNop()
	}
	id := NewTaskID(TypeDeltaNeutral, ctx.Symbol.String(), "NEUTRAL")
	return &DeltaNeutralTask{id: id, buyClient: buyClient, sellClient: sellClient, h: h, ctx: ctx,
		status: StatusRunning, log: log.With(zap.String("task_id", id))}
}

// RestoreDeltaNeutralTask reconstructs a task from a persisted snapshot.
func RestoreDeltaNeutralTask(buyClient, sellClient exchange.PrivateTrading, h *hub.Hub, taskID string, ctx DeltaNeutralContext, log *zap.Logger) *DeltaNeutralTask {
	if log == nil {
		log = zap.NewNop()
	}
	return &DeltaNeutralTask{id: taskID, buyClient: buyClient, sellClient: sellClient, h: h, ctx: ctx,
		status: StatusRunning, log: log.With(zap.String("task_id", taskID))}
}

func (t *DeltaNeutralTask) ID() string { return t.id }
func (t *DeltaNeutralTask) Type() Type { return TypeDeltaNeutral }

// Start reconciles both legs' open orders against live exchange state
// (spec §4.G, §4.K S6).
func (t *DeltaNeutralTask) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	ctxBg := context.Background()
	if t.ctx.OpenBuyOrder != "" {
		if o, err := t.buyClient.GetOrder(ctxBg, t.ctx.Symbol, t.ctx.OpenBuyOrder); err == nil {
			t.ctx.FilledBuy = o.FilledQuantity
			if o.Status.IsTerminal() {
				t.ctx.OpenBuyOrder = ""
			}
		} else {
			t.log.Warn("delta-neutral recovery: could not query open buy order", zap.Error(err))
		}
	}
	if t.ctx.OpenSellOrder != "" {
		if o, err := t.sellClient.GetOrder(ctxBg, t.ctx.Symbol, t.ctx.OpenSellOrder); err == nil {
			t.ctx.FilledSell = o.FilledQuantity
			if o.Status.IsTerminal() {
				t.ctx.OpenSellOrder = ""
			}
		} else {
			t.log.Warn("delta-neutral recovery: could not query open sell order", zap.Error(err))
		}
	}
	return nil
}

func (t *DeltaNeutralTask) Pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = StatusPaused
	return nil
}

func (t *DeltaNeutralTask) Update(deltas map[string]interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v, ok := deltas["delta_tolerance"].(float64); ok && v >= 0 {
		t.ctx.DeltaTolerance = v
	}
	return nil
}

func (t *DeltaNeutralTask) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	ctxBg := context.Background()
	if t.ctx.OpenBuyOrder != "" {
		_ = t.buyClient.CancelOrder(ctxBg, t.ctx.Symbol, t.ctx.OpenBuyOrder)
		t.ctx.OpenBuyOrder = ""
	}
	if t.ctx.OpenSellOrder != "" {
		_ = t.sellClient.CancelOrder(ctxBg, t.ctx.Symbol, t.ctx.OpenSellOrder)
		t.ctx.OpenSellOrder = ""
	}
	t.status = StatusStopped
	return nil
}

// ExecuteOnce polls any open legs, then places the next slice on whichever
// leg is lagging once both legs are flat (the buy leg when they are even),
// until both filled quantities reach the target. DeltaTolerance is stored
// and can be changed through Update, but does not enter this decision.
func (t *DeltaNeutralTask) ExecuteOnce() (Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status == StatusPaused {
		return Result{NextDelay: time.Second, ShouldContinue: true, State: string(t.status)}, nil
	}

	ctx := context.Background()
	if t.ctx.OpenBuyOrder != "" || t.ctx.OpenSellOrder != "" {
		t.pollLeg(ctx, model.SideBuy)
		t.pollLeg(ctx, model.SideSell)
		if t.ctx.OpenBuyOrder != "" || t.ctx.OpenSellOrder != "" {
			return Result{NextDelay: 500 * time.Millisecond, ShouldContinue: true, State: "leg_open"}, nil
		}
	}

	if t.ctx.FilledBuy >= t.ctx.TargetQuantity && t.ctx.FilledSell >= t.ctx.TargetQuantity {
		t.status = StatusDone
		return Result{ShouldContinue: false, State: string(t.status)}, nil
	}

	lagging := model.SideBuy
	laggingExchange := t.ctx.BuyExchange
	client := t.buyClient
	if t.ctx.FilledSell < t.ctx.FilledBuy {
		lagging = model.SideSell
		laggingExchange = t.ctx.SellExchange
		client = t.sellClient
	}

	bid, ask, _, ok := t.h.BestBidAsk(hub.Key{Exchange: laggingExchange, Symbol: t.ctx.Symbol})
	if !ok {
		return Result{NextDelay: 200 * time.Millisecond, ShouldContinue: true, State: "waiting_for_quote"}, nil
	}
	price := ask.Price
	if lagging == model.SideSell {
		price = bid.Price
	}

	remaining := t.ctx.TargetQuantity - maxFloat(t.ctx.FilledBuy, t.ctx.FilledSell)
	sliceQty := t.ctx.SliceQuantity
	if remaining < sliceQty {
		sliceQty = remaining
	}
	if sliceQty <= 0 {
		t.status = StatusDone
		return Result{ShouldContinue: false, State: string(t.status)}, nil
	}

	order, err := client.PlaceOrder(ctx, t.ctx.Symbol, lagging, model.OrderTypeLimit, model.TimeInForceIOC, sliceQty, price)
	if err != nil {
		return Result{NextDelay: time.Second, ShouldContinue: true, State: "place_error"}, nil
	}
	if lagging == model.SideBuy {
		t.ctx.OpenBuyOrder = order.OrderID
	} else {
		t.ctx.OpenSellOrder = order.OrderID
	}
	return Result{NextDelay: 300 * time.Millisecond, ShouldContinue: true, State: "slice_placed"}, nil
}

func (t *DeltaNeutralTask) pollLeg(ctx context.Context, side model.OrderSide) {
	if side == model.SideBuy && t.ctx.OpenBuyOrder != "" {
		if o, err := t.buyClient.GetOrder(ctx, t.ctx.Symbol, t.ctx.OpenBuyOrder); err == nil {
			t.ctx.FilledBuy = o.FilledQuantity
			if o.Status.IsTerminal() {
				t.ctx.OpenBuyOrder = ""
			}
		}
	}
	if side == model.SideSell && t.ctx.OpenSellOrder != "" {
		if o, err := t.sellClient.GetOrder(ctx, t.ctx.Symbol, t.ctx.OpenSellOrder); err == nil {
			t.ctx.FilledSell = o.FilledQuantity
			if o.Status.IsTerminal() {
				t.ctx.OpenSellOrder = ""
			}
		}
	}
}

func (t *DeltaNeutralTask) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	data, _ := EncodeData(t.ctx)
	return Snapshot{TaskID: t.id, Type: TypeDeltaNeutral, Status: t.status, UpdatedAtMs: time.Now().UnixMilli(), Data: data}
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
