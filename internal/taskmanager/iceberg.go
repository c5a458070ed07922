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

// IcebergContext is the persisted state of an IcebergTask, grounded on
// original_source's IcebergTaskContext (symbol, exchange_name,
// total/order/filled quantity, offset_ticks, tick_tolerance, avg_price).
type IcebergContext struct {
	Symbol         model.Symbol        `json:"symbol"`
	Exchange       model.ExchangeName  `json:"exchange"`
	Side           model.OrderSide     `json:"side"`
	TotalQuantity  float64             `json:"total_quantity"`
	SliceQuantity  float64             `json:"slice_quantity"`
	FilledQuantity float64             `json:"filled_quantity"`
	OffsetTicks    int32               `json:"offset_ticks"`
	TickSize       float64             `json:"tick_size"`
	AvgPrice       float64             `json:"avg_price"`
	OpenOrderID    model.OrderID       `json:"open_order_id,omitempty"`
	OpenOrderFill  float64             `json:"open_order_fill,omitempty"`
}

// IcebergTask splits a large order into small child orders placed
// sequentially to reduce market impact, pricing each child order from the
// top-of-book at the moment it is placed (spec §4.K).
type IcebergTask struct {
	id     string
	client exchange.PrivateTrading
	h      *hub.Hub
	log    *zap.Logger

	mu     sync.Mutex
	ctx    IcebergContext
	status Status
}

// NewIcebergTask constructs an IcebergTask for a fresh slice plan.
func NewIcebergTask(client exchange.PrivateTrading, h *hub.Hub, ctx IcebergContext, log *zap.Logger) *IcebergTask {
	if log == nil {
		log = zap.NewNop()
	}
	id := NewTaskID(TypeIceberg, ctx.Symbol.String(), string(ctx.Side))
	return &IcebergTask{id: id, client: client, h: h, ctx: ctx, status: StatusRunning,
		log: log.With(zap.String("task_id", id))}
}

// RestoreIcebergTask reconstructs a task from a persisted snapshot.
func RestoreIcebergTask(client exchange.PrivateTrading, h *hub.Hub, taskID string, ctx IcebergContext, log *zap.Logger) *IcebergTask {
	if log == nil {
		log = zap.NewNop()
	}
	return &IcebergTask{id: taskID, client: client, h: h, ctx: ctx, status: StatusRunning,
		log: log.With(zap.String("task_id", taskID))}
}

func (t *IcebergTask) ID() string  { return t.id }
func (t *IcebergTask) Type() Type  { return TypeIceberg }

// Start reconciles the slice plan's open child order (if any) against the
// exchange's live order state before the manager resumes scheduling —
// required on recovery since a fill may have landed between the last
// persisted snapshot and the crash (spec §4.G, §4.K S6).
func (t *IcebergTask) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ctx.OpenOrderID == "" {
		return nil
	}
	order, err := t.client.GetOrder(context.Background(), t.ctx.Symbol, t.ctx.OpenOrderID)
	if err != nil {
		t.log.Warn("iceberg recovery: could not query open child order", zap.Error(err))
		return nil
	}
	newFill := order.FilledQuantity - t.ctx.OpenOrderFill
	if newFill > 0 {
		t.ctx.AvgPrice = weightedAvg(t.ctx.AvgPrice, t.ctx.FilledQuantity, order.AvgPrice, newFill)
		t.ctx.FilledQuantity += newFill
		t.ctx.OpenOrderFill = order.FilledQuantity
	}
	if order.Status.IsTerminal() {
		t.ctx.OpenOrderID = ""
		t.ctx.OpenOrderFill = 0
	}
	return nil
}

func (t *IcebergTask) Pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = StatusPaused
	return nil
}

func (t *IcebergTask) Update(deltas map[string]interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v, ok := deltas["slice_quantity"].(float64); ok && v > 0 {
		t.ctx.SliceQuantity = v
	}
	if v, ok := deltas["tick_size"].(float64); ok && v > 0 {
		t.ctx.TickSize = v
	}
	return nil
}

func (t *IcebergTask) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ctx.OpenOrderID != "" {
		_ = t.client.CancelOrder(context.Background(), t.ctx.Symbol, t.ctx.OpenOrderID)
		t.ctx.OpenOrderID = ""
	}
	t.status = StatusStopped
	return nil
}

// ExecuteOnce polls the open child order's fill status first and does
// nothing more while it rests; once it is terminal, the next slice is
// placed at the latest top-of-book, offset by OffsetTicks. A resting child
// order is not re-priced.
func (t *IcebergTask) ExecuteOnce() (Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status == StatusPaused {
		return Result{NextDelay: time.Second, ShouldContinue: true, State: string(t.status)}, nil
	}

	ctx := context.Background()

	if t.ctx.OpenOrderID != "" {
		order, err := t.client.GetOrder(ctx, t.ctx.Symbol, t.ctx.OpenOrderID)
		if err != nil {
			return Result{NextDelay: 500 * time.Millisecond, ShouldContinue: true, State: "poll_error"}, nil
		}
		newFill := order.FilledQuantity - t.ctx.OpenOrderFill
		if newFill > 0 {
			t.ctx.AvgPrice = weightedAvg(t.ctx.AvgPrice, t.ctx.FilledQuantity, order.AvgPrice, newFill)
			t.ctx.FilledQuantity += newFill
			t.ctx.OpenOrderFill = order.FilledQuantity
		}
		if order.Status.IsTerminal() {
			t.ctx.OpenOrderID = ""
			t.ctx.OpenOrderFill = 0
		} else {
			return Result{NextDelay: 500 * time.Millisecond, ShouldContinue: true, State: "slice_open"}, nil
		}
	}

	remaining := t.ctx.TotalQuantity - t.ctx.FilledQuantity
	if remaining <= 0 {
		t.status = StatusDone
		return Result{ShouldContinue: false, State: string(t.status)}, nil
	}

	sliceQty := t.ctx.SliceQuantity
	if remaining < sliceQty {
		sliceQty = remaining
	}

	key := hub.Key{Exchange: t.ctx.Exchange, Symbol: t.ctx.Symbol}
	bid, ask, _, ok := t.h.BestBidAsk(key)
	if !ok {
		return Result{NextDelay: 200 * time.Millisecond, ShouldContinue: true, State: "waiting_for_quote"}, nil
	}

	price := ask.Price
	if t.ctx.Side == model.SideSell {
		price = bid.Price
	}
	offset := float64(t.ctx.OffsetTicks) * t.ctx.TickSize
	if t.ctx.Side == model.SideBuy {
		price -= offset
	} else {
		price += offset
	}

	order, err := t.client.PlaceOrder(ctx, t.ctx.Symbol, t.ctx.Side, model.OrderTypeLimit, model.TimeInForceGTC, sliceQty, price)
	if err != nil {
		return Result{NextDelay: time.Second, ShouldContinue: true, State: "place_error"}, nil
	}
	t.ctx.OpenOrderID = order.OrderID
	return Result{NextDelay: 500 * time.Millisecond, ShouldContinue: true, State: "slice_placed"}, nil
}

func (t *IcebergTask) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	data, _ := EncodeData(t.ctx)
	return Snapshot{TaskID: t.id, Type: TypeIceberg, Status: t.status, UpdatedAtMs: time.Now().UnixMilli(), Data: data}
}

func weightedAvg(prevAvg, prevQty, addAvg, addQty float64) float64 {
	totalQty := prevQty + addQty
	if totalQty <= 0 {
		return prevAvg
	}
	return (prevAvg*prevQty + addAvg*addQty) / totalQty
}
