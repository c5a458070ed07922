package taskmanager

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/abdoElHodaky/arbiengine/internal/model"
	"github.com/abdoElHodaky/arbiengine/internal/privatestate"
)

// BalanceSyncContext is the persisted state of a BalanceSyncTask: just the
// cadence and exchange, since the authoritative balance data itself lives
// in the privatestate.Tracker this task drives, not in the task context.
type BalanceSyncContext struct {
	Exchange model.ExchangeName `json:"exchange"`
	Interval time.Duration      `json:"interval"`
}

// BalanceSyncTask periodically resyncs a privatestate.Tracker from REST
// (spec §4.G, §4.K); the websocket streams do not trigger a resync of
// their own.
type BalanceSyncTask struct {
	id      string
	tracker *privatestate.Tracker
	log     *zap.Logger

	mu     sync.Mutex
	ctx    BalanceSyncContext
	status Status
}

// NewBalanceSyncTask constructs a periodic resync task bound to tracker.
func NewBalanceSyncTask(tracker *privatestate.Tracker, ctx BalanceSyncContext, log *zap.Logger) *BalanceSyncTask {
	if log == nil {
		log = zap.NewNop()
	}
	if ctx.Interval <= 0 {
		ctx.Interval = time.Minute
	}
	id := NewTaskID(TypeBalanceSync, string(ctx.Exchange), "SYNC")
	return &BalanceSyncTask{id: id, tracker: tracker, ctx: ctx, status: StatusRunning,
		log: log.With(zap.String("task_id", id))}
}

// RestoreBalanceSyncTask reconstructs a task from a persisted snapshot.
func RestoreBalanceSyncTask(tracker *privatestate.Tracker, taskID string, ctx BalanceSyncContext, log *zap.Logger) *BalanceSyncTask {
	if log == nil {
		log = zap.NewNop()
	}
	return &BalanceSyncTask{id: taskID, tracker: tracker, ctx: ctx, status: StatusRunning,
		log: log.With(zap.String("task_id", taskID))}
}

func (t *BalanceSyncTask) ID() string { return t.id }
func (t *BalanceSyncTask) Type() Type { return TypeBalanceSync }

// Start performs an immediate resync so a freshly-recovered tracker never
// serves stale balances while waiting for the first tick.
func (t *BalanceSyncTask) Start() error {
	return t.tracker.Resync(context.Background())
}

func (t *BalanceSyncTask) Pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = StatusPaused
	return nil
}

func (t *BalanceSyncTask) Update(deltas map[string]interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v, ok := deltas["interval_ms"].(float64); ok && v > 0 {
		t.ctx.Interval = time.Duration(v) * time.Millisecond
	}
	return nil
}

func (t *BalanceSyncTask) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = StatusStopped
	return nil
}

func (t *BalanceSyncTask) ExecuteOnce() (Result, error) {
	t.mu.Lock()
	status := t.status
	interval := t.ctx.Interval
	t.mu.Unlock()

	if status == StatusPaused {
		return Result{NextDelay: interval, ShouldContinue: true, State: string(status)}, nil
	}

	if err := t.tracker.Resync(context.Background()); err != nil {
		t.log.Warn("periodic balance resync failed", zap.Error(err))
		return Result{NextDelay: interval, ShouldContinue: true, State: "resync_error"}, nil
	}
	return Result{NextDelay: interval, ShouldContinue: true, State: "synced"}, nil
}

func (t *BalanceSyncTask) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	data, _ := EncodeData(t.ctx)
	return Snapshot{TaskID: t.id, Type: TypeBalanceSync, Status: t.status, UpdatedAtMs: time.Now().UnixMilli(), Data: data}
}
