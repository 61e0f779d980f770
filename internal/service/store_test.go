package service

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *ResultStore {
	t.Helper()
	store, err := NewResultStore(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newRun(id, kind string, at time.Time) Run {
	return Run{
		ID:        id,
		Kind:      kind,
		Status:    RunStatusPending,
		Symbol:    "MNQ",
		Strategy:  "score_cross",
		Config:    json.RawMessage(`{"symbol":"MNQ"}`),
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func TestResultStoreLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.InsertRun(ctx, newRun("run-1", RunKindBacktest, now)))

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunStatusPending, got.Status)
	assert.Equal(t, "MNQ", got.Symbol)
	assert.JSONEq(t, `{"symbol":"MNQ"}`, string(got.Config))
	assert.True(t, got.CompletedAt.IsZero())

	// 未完成的任务没有结果
	raw, err := store.GetResult(ctx, "run-1")
	require.NoError(t, err)
	assert.Nil(t, raw)

	require.NoError(t, store.UpdateRunStatus(ctx, "run-1", RunStatusRunning, ""))
	require.NoError(t, store.UpdateRunProgress(ctx, "run-1", 42.5))
	got, err = store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunStatusRunning, got.Status)
	assert.Equal(t, 42.5, got.Progress)

	require.NoError(t, store.CompleteRun(ctx, "run-1", RunStatusDone, "", map[string]any{"total_return": 1.2}))
	got, err = store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunStatusDone, got.Status)
	assert.Equal(t, 100.0, got.Progress)
	assert.False(t, got.CompletedAt.IsZero())

	raw, err = store.GetResult(ctx, "run-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"total_return":1.2}`, string(raw))
}

func TestResultStoreList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, store.InsertRun(ctx, newRun("bt-1", RunKindBacktest, base)))
	require.NoError(t, store.InsertRun(ctx, newRun("bt-2", RunKindBacktest, base.Add(time.Second))))
	require.NoError(t, store.InsertRun(ctx, newRun("opt-1", RunKindOptimization, base.Add(2*time.Second))))

	// 创建时间倒序
	runs, err := store.ListRuns(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "opt-1", runs[0].ID)
	assert.Equal(t, "bt-2", runs[1].ID)

	runs, err = store.ListRuns(ctx, RunKindBacktest, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	runs, err = store.ListRuns(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestResultStoreMissingRun(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetRun(context.Background(), "nope")
	assert.Error(t, err)
}
