package taskmanager

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_SaveLoadActive_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	data, err := EncodeData(IcebergContext{TotalQuantity: 10, SliceQuantity: 1})
	require.NoError(t, err)
	snap := Snapshot{TaskID: "task-1", Type: TypeIceberg, Status: StatusRunning, UpdatedAtMs: 1000, Data: data}

	require.NoError(t, store.Save(snap))

	active, err := store.LoadActive()
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, snap.TaskID, active[0].TaskID)
	assert.Equal(t, snap.Type, active[0].Type)

	var decoded IcebergContext
	require.NoError(t, json.Unmarshal(active[0].Data, &decoded))
	assert.Equal(t, 10.0, decoded.TotalQuantity)
}

func TestFileStore_LoadActive_SkipsTerminalTasks(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Save(Snapshot{TaskID: "running", Type: TypeIceberg, Status: StatusRunning, Data: json.RawMessage("{}")}))
	require.NoError(t, store.Save(Snapshot{TaskID: "done", Type: TypeIceberg, Status: StatusDone, Data: json.RawMessage("{}")}))

	active, err := store.LoadActive()
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "running", active[0].TaskID)
}

func TestFileStore_Delete_RemovesFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	snap := Snapshot{TaskID: "task-x", Type: TypeIceberg, Status: StatusRunning, Data: json.RawMessage("{}")}
	require.NoError(t, store.Save(snap))
	require.NoError(t, store.Delete("task-x"))

	active, err := store.LoadActive()
	require.NoError(t, err)
	assert.Empty(t, active)

	// Deleting an already-absent record is not an error.
	assert.NoError(t, store.Delete("task-x"))
}

func TestFileStore_Save_WritesAtomically(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	snap := Snapshot{TaskID: "atomic", Type: TypeIceberg, Status: StatusRunning, Data: json.RawMessage("{}")}
	require.NoError(t, store.Save(snap))

	// No leftover .tmp file after a successful Save.
	matches, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}
