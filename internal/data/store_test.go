package data

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backlab/internal/market"
)

func testBars() []market.Bar {
	return []market.Bar{
		{
			Timestamp: "05/01/2024 10:00:00",
			Open:      100, High: 101, Low: 99, Close: 100.5, Volume: 120,
			Scores: map[string]float64{"score_1m": -1.5},
		},
		{
			Timestamp: "05/01/2024 10:01:00",
			Open:      100.5, High: 102, Low: 100, Close: 101.5, Volume: 95,
		},
		{
			Timestamp: "05/01/2024 10:02:00",
			Open:      101.5, High: 103, Low: 101, Close: 102, Volume: 80,
			Scores: map[string]float64{"score_1m": 2.0, "score_5m": 0.5},
		},
	}
}

func TestStoreRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	n, err := store.InsertBars(ctx, "mnq", testBars())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// 读出的 bar 与写入的完全等价，含指标列
	got, err := store.LoadBars(ctx, "MNQ", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, testBars(), got)

	m, err := store.Manifest(ctx, "mnq")
	require.NoError(t, err)
	assert.Equal(t, "MNQ", m.Symbol)
	assert.Equal(t, int64(3), m.Rows)
	assert.Less(t, m.MinTime, m.MaxTime)
	assert.Positive(t, m.LastSyncAt)

	symbols, err := store.Symbols()
	require.NoError(t, err)
	assert.Equal(t, []string{"MNQ"}, symbols)
}

func TestStoreUpsertAndRange(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	bars := testBars()
	_, err = store.InsertBars(ctx, "mnq", bars)
	require.NoError(t, err)

	// 同一时间戳重写覆盖旧值
	bars[1].Close = 999
	_, err = store.InsertBars(ctx, "mnq", bars[1:2])
	require.NoError(t, err)

	got, err := store.LoadBars(ctx, "mnq", 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 999.0, got[1].Close)

	// 毫秒区间过滤
	start, err := market.ParseTimestamp("05/01/2024 10:01:00")
	require.NoError(t, err)
	got, err = store.LoadBars(ctx, "mnq", start.UnixMilli(), start.UnixMilli())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "05/01/2024 10:01:00", got[0].Timestamp)
}

func TestStoreRejectsDirtyInput(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	_, err = store.InsertBars(ctx, "mnq", []market.Bar{{Timestamp: "not-a-time"}})
	assert.Error(t, err)

	_, err = store.InsertBars(ctx, "  ", testBars())
	assert.Error(t, err)

	// 整批回滚，脏数据不落库
	got, err := store.LoadBars(ctx, "mnq", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStoreImportCSV(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "mnq.csv")
	csv := "timestamp,open,high,low,close,volume,score_1m\n" +
		"05/01/2024 10:00:00,100,101,99,100.5,120,-1.5\n" +
		"05/01/2024 10:01:00,100.5,102,100,101.5,95,2\n"
	require.NoError(t, os.WriteFile(csvPath, []byte(csv), 0o644))

	store, err := NewStore(filepath.Join(dir, "db"))
	require.NoError(t, err)
	defer store.Close()

	n, err := store.ImportCSV(context.Background(), "mnq", csvPath)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	bars, err := store.LoadBars(context.Background(), "mnq", 0, 0)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	score, ok := bars[0].Score("score_1m")
	require.True(t, ok)
	assert.Equal(t, -1.5, score)
}
