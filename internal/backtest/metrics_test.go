package backtest

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backlab/internal/market"
)

func TestProfitFactor(t *testing.T) {
	assert.Equal(t, 2.0, profitFactor(200, 100, true))
	// 零亏损 + 有盈利 → 哨兵上限
	assert.Equal(t, 999.0, profitFactor(500, 0, true))
	// 无盈利无亏损 → 0
	assert.Equal(t, 0.0, profitFactor(0, 0, false))
	// 比值超过上限时被截断
	assert.Equal(t, 999.0, profitFactor(1e9, 1, true))
}

func TestAvgRR(t *testing.T) {
	assert.Equal(t, 2.0, avgRR(100, 50))
	// 零亏损用 0.01 下限防除零
	assert.Equal(t, 100/0.01, avgRR(100, 0))
	assert.Equal(t, 0.0, avgRR(0, 0))
}

func TestStreaks(t *testing.T) {
	trades := []Trade{
		{IsWin: true}, {IsWin: true}, {IsWin: false},
		{IsWin: true}, {IsWin: true}, {IsWin: true},
		{IsWin: false}, {IsWin: false},
	}
	wins, losses := streaks(trades)
	assert.Equal(t, 3, wins)
	assert.Equal(t, 2, losses)

	wins, losses = streaks(nil)
	assert.Equal(t, 0, wins)
	assert.Equal(t, 0, losses)
}

func TestSessionOf(t *testing.T) {
	cases := []struct {
		hhmm string
		want string
		ok   bool
	}{
		{"18:00", "Asia", true},
		{"23:59", "Asia", true},
		{"02:00", "Europe", true},
		{"08:29", "Europe", true},
		{"08:30", "New York", true},
		{"14:59", "New York", true},
		{"15:00", "", false},
		{"17:59", "", false},
		{"00:30", "", false},
	}
	for _, c := range cases {
		clock := market.ClockOf(market.Bar{Timestamp: "05/01/2024 " + c.hhmm + ":00"})
		require.True(t, clock.Valid, c.hhmm)
		name, ok := sessionOf(clock)
		assert.Equal(t, c.ok, ok, c.hhmm)
		assert.Equal(t, c.want, name, c.hhmm)
	}
}

func TestSessionStats(t *testing.T) {
	trades := []Trade{
		{EntryTime: "05/01/2024 19:00:00", IsWin: true},  // Asia
		{EntryTime: "05/01/2024 19:30:00", IsWin: false}, // Asia
		{EntryTime: "05/01/2024 09:00:00", IsWin: true},  // New York
		{EntryTime: "garbage", IsWin: true},              // 无法解析，跳过
	}
	stats := sessionStats(trades)
	require.Contains(t, stats, "Asia")
	require.Contains(t, stats, "Europe")
	require.Contains(t, stats, "New York")

	assert.Equal(t, 2, stats["Asia"].Total)
	assert.Equal(t, 50.0, stats["Asia"].WinRate)
	assert.Equal(t, 0, stats["Europe"].Total)
	assert.Equal(t, 1, stats["New York"].Total)
	assert.Equal(t, 100.0, stats["New York"].WinRate)
}

func TestHourlyStats(t *testing.T) {
	trades := []Trade{
		{EntryTime: "05/01/2024 09:10:00", IsWin: true},
		{EntryTime: "05/01/2024 09:45:00", IsWin: false},
		{EntryTime: "05/01/2024 13:00:00", IsWin: true},
	}
	stats := hourlyStats(trades)
	assert.Equal(t, 2, stats[9].Total)
	assert.Equal(t, 50.0, stats[9].WinRate)
	assert.Equal(t, 1, stats[13].Total)
	assert.NotContains(t, stats, 10)
}

func TestPointStats(t *testing.T) {
	futures := futuresSpec()
	trades := []Trade{
		{PnL: 8, Quantity: 2},  // 8 / (2点值*2手) = 2 点
		{PnL: -4, Quantity: 1}, // -2 点
	}
	realized, maxDD := pointStats(trades, futures)
	assert.InDelta(t, 0.0, realized, 1e-9)
	assert.InDelta(t, 2.0, maxDD, 1e-9)

	stock := market.InstrumentSpec{Type: market.InstrumentStock, PointValue: 1, TickSize: 0.01}
	realized, _ = pointStats([]Trade{{PnL: 6, Quantity: 3}}, stock)
	assert.InDelta(t, 2.0, realized, 1e-9)
}

func TestSharpeRatio(t *testing.T) {
	// 恒定权益 → 零方差 → 0
	flat := []EquityPoint{{Equity: 100}, {Equity: 100}, {Equity: 100}}
	assert.Equal(t, 0.0, sharpeRatio(flat))

	// 单点曲线不可计算
	assert.Equal(t, 0.0, sharpeRatio([]EquityPoint{{Equity: 100}}))

	// 稳定上涨 → 恒定收益率依然是零方差
	steady := []EquityPoint{{Equity: 100}, {Equity: 110}, {Equity: 121}}
	assert.Equal(t, 0.0, sharpeRatio(steady))

	// 有波动时符号与均值一致
	mixed := []EquityPoint{{Equity: 100}, {Equity: 120}, {Equity: 110}, {Equity: 140}}
	s := sharpeRatio(mixed)
	assert.True(t, s > 0)
	assert.False(t, math.IsNaN(s))
}

func TestTrialMetricsLookup(t *testing.T) {
	m := TrialMetrics{TotalReturn: 12.5, WinRate: 60, TotalTrades: 7}
	v, ok := m.Metric("total_return")
	require.True(t, ok)
	assert.Equal(t, 12.5, v)
	v, ok = m.Metric("total_trades")
	require.True(t, ok)
	assert.Equal(t, 7.0, v)
	_, ok = m.Metric("nonexistent")
	assert.False(t, ok)
}
