package taskmanager

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdoElHodaky/arbiengine/internal/metrics"
)

// fakeTask is a minimal Task implementation for exercising Manager
// scheduling, persistence, and recovery without a real exchange client.
type fakeTask struct {
	id       string
	typ      Type
	ticks    int32 // remaining ExecuteOnce calls before completion
	started  int32
	stopped  int32
	paused   int32

	mu     sync.Mutex
	status Status
}

func newFakeTask(id string, ticks int32) *fakeTask {
	return &fakeTask{id: id, typ: TypeIceberg, ticks: ticks, status: StatusRunning}
}

func (f *fakeTask) ID() string  { return f.id }
func (f *fakeTask) Type() Type  { return f.typ }

func (f *fakeTask) Start() error {
	atomic.AddInt32(&f.started, 1)
	return nil
}

func (f *fakeTask) Pause() error {
	atomic.AddInt32(&f.paused, 1)
	f.mu.Lock()
	f.status = StatusPaused
	f.mu.Unlock()
	return nil
}

func (f *fakeTask) Update(deltas map[string]interface{}) error { return nil }

func (f *fakeTask) Stop() error {
	atomic.AddInt32(&f.stopped, 1)
	f.mu.Lock()
	f.status = StatusStopped
	f.mu.Unlock()
	return nil
}

func (f *fakeTask) ExecuteOnce() (Result, error) {
	remaining := atomic.AddInt32(&f.ticks, -1)
	if remaining <= 0 {
		f.mu.Lock()
		f.status = StatusDone
		f.mu.Unlock()
		return Result{ShouldContinue: false, State: "done"}, nil
	}
	return Result{NextDelay: time.Millisecond, ShouldContinue: true, State: "running"}, nil
}

func (f *fakeTask) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, _ := EncodeData(map[string]int32{"ticks": f.ticks})
	return Snapshot{TaskID: f.id, Type: f.typ, Status: f.status, UpdatedAtMs: time.Now().UnixMilli(), Data: data}
}

func newTestManager(t *testing.T) (*Manager, *FileStore) {
	t.Helper()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	mgr, err := New(Config{MaxConcurrentTasks: 4}, store, metrics.New(prometheus.NewRegistry()), nil)
	require.NoError(t, err)
	return mgr, store
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestManager_Add_RunsTaskToCompletionAndEvicts(t *testing.T) {
	mgr, store := newTestManager(t)
	defer mgr.Close()

	task := newFakeTask("task-done", 3)
	require.NoError(t, mgr.Add(context.Background(), task))

	waitUntil(t, time.Second, func() bool { return len(mgr.TaskIDs()) == 0 })

	assert.Equal(t, int32(1), atomic.LoadInt32(&task.started))

	active, err := store.LoadActive()
	require.NoError(t, err)
	assert.Empty(t, active, "terminal task snapshot should be deleted once done")
}

func TestManager_Add_LeavesNoActiveSnapshotAfterCompletion(t *testing.T) {
	mgr, store := newTestManager(t)
	defer mgr.Close()

	task := newFakeTask("task-persist", 5)
	require.NoError(t, mgr.Add(context.Background(), task))

	waitUntil(t, time.Second, func() bool {
		active, _ := store.LoadActive()
		return len(active) == 0 && len(mgr.TaskIDs()) == 0
	})
}

func TestManager_StopCancelsRunningTask(t *testing.T) {
	mgr, _ := newTestManager(t)
	defer mgr.Close()

	task := newFakeTask("task-stop", 1000) // never finishes on its own
	require.NoError(t, mgr.Add(context.Background(), task))

	waitUntil(t, time.Second, func() bool { return len(mgr.TaskIDs()) == 1 })
	require.NoError(t, mgr.Stop("task-stop"))

	waitUntil(t, time.Second, func() bool { return len(mgr.TaskIDs()) == 0 })
	assert.Equal(t, int32(1), atomic.LoadInt32(&task.stopped))
}

func TestManager_Pause_DelegatesToTask(t *testing.T) {
	mgr, _ := newTestManager(t)
	defer mgr.Close()

	task := newFakeTask("task-pause", 1000)
	require.NoError(t, mgr.Add(context.Background(), task))
	waitUntil(t, time.Second, func() bool { return len(mgr.TaskIDs()) == 1 })

	require.NoError(t, mgr.Pause("task-pause"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&task.paused))

	require.NoError(t, mgr.Stop("task-pause"))
}

func TestManager_Recover_ReconstructsPersistedTasks(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	data, err := EncodeData(IcebergContext{TotalQuantity: 10, SliceQuantity: 2, FilledQuantity: 4})
	require.NoError(t, err)
	require.NoError(t, store.Save(Snapshot{TaskID: "recovered-1", Type: TypeIceberg, Status: StatusRunning, Data: data}))

	mgr, err := New(Config{MaxConcurrentTasks: 4}, store, metrics.New(prometheus.NewRegistry()), nil)
	require.NoError(t, err)
	defer mgr.Close()

	var reconstructedIDs []string
	var mu sync.Mutex
	reconstruct := func(snap Snapshot) (Task, error) {
		mu.Lock()
		reconstructedIDs = append(reconstructedIDs, snap.TaskID)
		mu.Unlock()
		var ctx IcebergContext
		if err := json.Unmarshal(snap.Data, &ctx); err != nil {
			return nil, err
		}
		ft := newFakeTask(snap.TaskID, 1)
		return ft, nil
	}

	recovered, failed, err := mgr.Recover(context.Background(), reconstruct)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)
	assert.Equal(t, 0, failed)
	assert.Equal(t, []string{"recovered-1"}, reconstructedIDs)
}

func TestManager_Recover_CountsFailedReconstructions(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.Save(Snapshot{TaskID: "bad", Type: TypeIceberg, Status: StatusRunning, Data: json.RawMessage("{}")}))

	mgr, err := New(Config{MaxConcurrentTasks: 4}, store, metrics.New(prometheus.NewRegistry()), nil)
	require.NoError(t, err)
	defer mgr.Close()

	reconstruct := func(snap Snapshot) (Task, error) {
		return nil, assert.AnError
	}

	recovered, failed, err := mgr.Recover(context.Background(), reconstruct)
	require.NoError(t, err)
	assert.Equal(t, 0, recovered)
	assert.Equal(t, 1, failed)
}
