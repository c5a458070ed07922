package taskmanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/arbiengine/internal/metrics"
)

const defaultTickDelay = 100 * time.Millisecond

// Config tunes the manager's bounded concurrency.
type Config struct {
	MaxConcurrentTasks int
}

// Reconstructor rebuilds a concrete Task from a persisted Snapshot,
// dispatching on snap.Type (spec §4.K: "reconstruct each based on a type
// tag embedded in the stored data"). The caller supplies one since only
// it holds the live exchange clients and hub a task needs to resume.
type Reconstructor func(snap Snapshot) (Task, error)

// Manager supervises N concurrent long-lived tasks (spec §4.K), running
// each one's ExecuteOnce loop on a bounded github.com/panjf2000/ants/v2
// worker pool — the same pool library the teacher uses for its worker-pool
// concern (internal/restclient already wires it for REST concurrency).
type Manager struct {
	mu      sync.RWMutex
	tasks   map[string]Task
	cancels map[string]context.CancelFunc

	store   Store
	pool    *ants.Pool
	metrics *metrics.Registry
	log     *zap.Logger

	wg sync.WaitGroup
}

// New constructs a Manager. store must already be initialized (e.g.
// taskmanager.NewFileStore).
func New(cfg Config, store Store, metricsReg *metrics.Registry, log *zap.Logger) (*Manager, error) {
	if log == nil {
		log = zap.NewNop()
	}
	maxConcurrent := cfg.MaxConcurrentTasks
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	pool, err := ants.NewPool(maxConcurrent, ants.WithNonblocking(false))
	if err != nil {
		return nil, fmt.Errorf("taskmanager: create worker pool: %w", err)
	}
	return &Manager{
		tasks:   make(map[string]Task),
		cancels: make(map[string]context.CancelFunc),
		store:   store,
		pool:    pool,
		metrics: metricsReg,
		log:     log,
	}, nil
}

// Close releases the worker pool and waits for every running task loop to
// observe cancellation.
func (m *Manager) Close() {
	m.mu.RLock()
	for _, cancel := range m.cancels {
		cancel()
	}
	m.mu.RUnlock()
	m.wg.Wait()
	m.pool.Release()
}

// Add starts t and schedules its ExecuteOnce loop on the worker pool. The
// loop runs until t reports ShouldContinue=false or ctx is canceled.
func (m *Manager) Add(ctx context.Context, t Task) error {
	if err := t.Start(); err != nil {
		return fmt.Errorf("taskmanager: start task %s: %w", t.ID(), err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.tasks[t.ID()] = t
	m.cancels[t.ID()] = cancel
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.ActiveTasks.Inc()
	}

	m.wg.Add(1)
	if err := m.pool.Submit(func() { m.runLoop(runCtx, t) }); err != nil {
		m.wg.Done()
		m.evict(t.ID())
		cancel()
		return fmt.Errorf("taskmanager: submit task %s: %w", t.ID(), err)
	}
	return nil
}

func (m *Manager) runLoop(ctx context.Context, t Task) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			m.persist(t)
			m.evict(t.ID())
			return
		default:
		}

		result, err := t.ExecuteOnce()
		if err != nil {
			m.log.Error("task execution error", zap.String("task_id", t.ID()), zap.Error(err))
		}
		m.persist(t)

		if !result.ShouldContinue {
			m.finish(t)
			return
		}

		delay := result.NextDelay
		if delay <= 0 {
			delay = defaultTickDelay
		}
		select {
		case <-ctx.Done():
			m.evict(t.ID())
			return
		case <-time.After(delay):
		}
	}
}

func (m *Manager) persist(t Task) {
	if err := m.store.Save(t.Snapshot()); err != nil {
		m.log.Error("persist task snapshot failed", zap.String("task_id", t.ID()), zap.Error(err))
	}
}

func (m *Manager) finish(t Task) {
	snap := t.Snapshot()
	if err := m.store.Save(snap); err != nil {
		m.log.Error("persist terminal task snapshot failed", zap.String("task_id", t.ID()), zap.Error(err))
	}
	if snap.Status.IsTerminal() {
		if err := m.store.Delete(t.ID()); err != nil {
			m.log.Error("delete terminal task snapshot failed", zap.String("task_id", t.ID()), zap.Error(err))
		}
	}
	m.evict(t.ID())
}

func (m *Manager) evict(taskID string) {
	m.mu.Lock()
	delete(m.tasks, taskID)
	delete(m.cancels, taskID)
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.ActiveTasks.Dec()
	}
}

// Pause delegates to the task's Pause. The manager keeps calling
// ExecuteOnce, which does no work while the task is paused.
func (m *Manager) Pause(taskID string) error {
	m.mu.RLock()
	t, ok := m.tasks[taskID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("taskmanager: unknown task %s", taskID)
	}
	return t.Pause()
}

// Stop cancels a task's in-flight work and removes it from supervision.
func (m *Manager) Stop(taskID string) error {
	m.mu.RLock()
	t, ok := m.tasks[taskID]
	cancel := m.cancels[taskID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("taskmanager: unknown task %s", taskID)
	}
	err := t.Stop()
	if cancel != nil {
		cancel()
	}
	return err
}

// Update applies partial field changes to a running task.
func (m *Manager) Update(taskID string, deltas map[string]interface{}) error {
	m.mu.RLock()
	t, ok := m.tasks[taskID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("taskmanager: unknown task %s", taskID)
	}
	return t.Update(deltas)
}

// TaskIDs returns the ids of every currently supervised task.
func (m *Manager) TaskIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.tasks))
	for id := range m.tasks {
		ids = append(ids, id)
	}
	return ids
}

// Recover enumerates every persisted active task, reconstructs it via
// reconstruct, and resumes scheduling through Add, which calls the task's
// Start. Recover itself queries no exchange state; any reconciliation is
// whatever the reconstructor and the task's Start do.
// Tasks that fail to reconstruct are logged and skipped, not retried.
func (m *Manager) Recover(ctx context.Context, reconstruct Reconstructor) (recovered, failed int, err error) {
	snaps, err := m.store.LoadActive()
	if err != nil {
		return 0, 0, fmt.Errorf("taskmanager: load active tasks: %w", err)
	}
	m.log.Info("task recovery: found persisted tasks", zap.Int("count", len(snaps)))

	for _, snap := range snaps {
		t, rerr := reconstruct(snap)
		if rerr != nil || t == nil {
			m.log.Warn("task recovery: failed to reconstruct task",
				zap.String("task_id", snap.TaskID), zap.String("type", string(snap.Type)), zap.Error(rerr))
			failed++
			continue
		}
		if err := m.Add(ctx, t); err != nil {
			m.log.Warn("task recovery: failed to resume task", zap.String("task_id", snap.TaskID), zap.Error(err))
			failed++
			continue
		}
		recovered++
	}
	m.log.Info("task recovery complete", zap.Int("recovered", recovered), zap.Int("failed", failed))
	return recovered, failed, nil
}
