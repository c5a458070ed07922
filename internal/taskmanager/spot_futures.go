package taskmanager

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/abdoElHodaky/arbiengine/internal/exchange"
	"github.com/abdoElHodaky/arbiengine/internal/execution"
	"github.com/abdoElHodaky/arbiengine/internal/hub"
	"github.com/abdoElHodaky/arbiengine/internal/metrics"
	"github.com/abdoElHodaky/arbiengine/internal/model"
)

// SpotFuturesArbitrageTask runs one execution.Engine instance as a
// supervised task: §4.J's state machine stepped one transition per
// ExecuteOnce call instead of run to completion in a blocking goroutine,
// so the manager can persist after every transition (spec §4.K).
type SpotFuturesArbitrageTask struct {
	id  string
	log *zap.Logger

	mu     sync.Mutex
	engine *execution.Engine
	status Status
}

// NewSpotFuturesArbitrageTask wraps a freshly constructed execution.Engine
// for the given opportunity.
func NewSpotFuturesArbitrageTask(cfg execution.Config, opp model.ArbitrageOpportunity, buyClient, sellClient exchange.PrivateTrading, h *hub.Hub, metricsReg *metrics.Registry, log *zap.Logger) *SpotFuturesArbitrageTask {
	if log == nil {
		log = zap.NewNop()
	}
	engine := execution.New(cfg, opp, buyClient, sellClient, h, metricsReg, log)
	return &SpotFuturesArbitrageTask{id: engine.ID(), engine: engine, status: StatusRunning,
		log: log.With(zap.String("task_id", engine.ID()))}
}

// RestoreSpotFuturesArbitrageTask reconstructs a task from a persisted
// execution.Snapshot. The persisted leg state is used as-is; nothing here
// queries the exchanges to reconcile it.
func RestoreSpotFuturesArbitrageTask(cfg execution.Config, snap execution.Snapshot, buyClient, sellClient exchange.PrivateTrading, h *hub.Hub, metricsReg *metrics.Registry, log *zap.Logger) *SpotFuturesArbitrageTask {
	if log == nil {
		log = zap.NewNop()
	}
	engine := execution.Restore(cfg, snap, buyClient, sellClient, h, metricsReg, log)
	return &SpotFuturesArbitrageTask{id: engine.ID(), engine: engine, status: StatusRunning,
		log: log.With(zap.String("task_id", engine.ID()))}
}

func (t *SpotFuturesArbitrageTask) ID() string { return t.id }
func (t *SpotFuturesArbitrageTask) Type() Type { return TypeSpotFuturesArb }

// Start is a no-op: a recovered task resumes from its persisted leg state
// without a reconciliation query against the exchanges.
func (t *SpotFuturesArbitrageTask) Start() error { return nil }

func (t *SpotFuturesArbitrageTask) Pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = StatusPaused
	return nil
}

// Update is unsupported for this task: the paired-leg state machine does
// not accept external field edits mid-flight.
func (t *SpotFuturesArbitrageTask) Update(map[string]interface{}) error { return nil }

// Stop cancels any open legs via REST before marking the task stopped
// (spec §4.J/§5: "external cancel request at any state cancels all open
// legs via REST, waits for confirmed terminal status, transitions to
// ABORTED"), so a stopped task never leaves a real order resting on an
// exchange.
func (t *SpotFuturesArbitrageTask) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.engine.State().IsTerminal() {
		t.engine.Cancel(context.Background())
	}
	t.status = StatusStopped
	return nil
}

// ExecuteOnce advances the underlying execution.Engine by exactly one
// state transition.
func (t *SpotFuturesArbitrageTask) ExecuteOnce() (Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status == StatusPaused {
		return Result{NextDelay: time.Second, ShouldContinue: true, State: string(t.status)}, nil
	}

	state, done := t.engine.Step(context.Background())
	if done {
		t.status = StatusDone
		if state == execution.StateFailed || state == execution.StateAborted {
			t.status = StatusFailed
		}
		return Result{ShouldContinue: false, State: string(state)}, nil
	}
	return Result{NextDelay: 50 * time.Millisecond, ShouldContinue: true, State: string(state)}, nil
}

func (t *SpotFuturesArbitrageTask) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	data, _ := EncodeData(t.engine.Snapshot())
	return Snapshot{TaskID: t.id, Type: TypeSpotFuturesArb, Status: t.status, UpdatedAtMs: time.Now().UnixMilli(), Data: data}
}
