package optimize

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backlab/internal/backtest"
	"backlab/internal/market"
)

// stepStrategy 第 0 根 bar 按 qty 做多、第 2 根平仓，收益与 qty 成正比。
type stepStrategy struct {
	qty     int
	panicky bool
	calls   int
}

func (s *stepStrategy) OnBar(t *backtest.Trader, bars []market.Bar) {
	if s.panicky {
		panic("策略内部错误")
	}
	switch s.calls {
	case 0:
		t.Buy(s.qty, backtest.ReasonEntry)
	case 2:
		t.Sell(s.qty, backtest.ReasonExit)
	}
	s.calls++
}

func (s *stepStrategy) ParameterRanges() []backtest.ParameterRange {
	return []backtest.ParameterRange{{Name: "qty", Min: 1, Max: 3, Step: 1}}
}

func (s *stepStrategy) PositionSize(capital, price float64) int { return s.qty }

func (s *stepStrategy) Info() backtest.StrategyInfo {
	return backtest.StrategyInfo{
		Name:       "step",
		Instrument: market.InstrumentSpec{Type: market.InstrumentFutures, PointValue: 2.0, TickSize: 0.25}.Normalize(),
		Parameters: map[string]any{"qty": s.qty},
	}
}

func stepFactory() backtest.FactoryFunc {
	return func(params backtest.Params) (backtest.Strategy, error) {
		return &stepStrategy{qty: params.Int("qty", 1)}, nil
	}
}

// 夜间休市窗口与收盘时间都推到测试数据之外，合成数据不会触发
// 休市或提前收盘逻辑。
func openRunner() backtest.RunnerConfig {
	return backtest.RunnerConfig{
		InitialCapital: 100000,
		Session: backtest.SessionConfig{
			HaltStart:            "23:58",
			HaltEnd:              "23:59",
			NormalClose:          "00:00",
			HaltBeforeEarlyClose: 15,
		},
	}
}

func risingBars() []market.Bar {
	bars := make([]market.Bar, 5)
	for i := range bars {
		o := 100.0 + float64(i)
		bars[i] = market.Bar{
			Timestamp: fmt.Sprintf("05/01/2024 10:%02d:00", i),
			Open:      o, High: o + 1, Low: o - 1, Close: o + 0.5,
			Volume: 100,
		}
	}
	return bars
}

func TestOptimizerRanksByMetric(t *testing.T) {
	ranges := []backtest.ParameterRange{{Name: "qty", Min: 1, Max: 3, Step: 1}}
	opt, err := New(stepFactory(), risingBars(), Config{
		Metric:     "total_return",
		TopN:       2,
		MaxWorkers: 2,
		Runner:     openRunner(),
		Ranges:     ranges,
	})
	require.NoError(t, err)

	var lastPct float64
	res, err := opt.Run(context.Background(), func(pct float64) { lastPct = pct })
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, "step", res.StrategyName)
	assert.Equal(t, "total_return", res.Metric)
	assert.Equal(t, 3, res.TotalCombinations)
	assert.Equal(t, 3, res.Succeeded)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, 100.0, lastPct)

	// 上涨行情下手数越大收益越高
	assert.Equal(t, 3.0, res.BestParameters["qty"])
	require.Len(t, res.TopResults, 2)
	assert.Equal(t, 3.0, res.TopResults[0].Parameters["qty"])
	assert.Equal(t, 2.0, res.TopResults[1].Parameters["qty"])
	require.Len(t, res.AllResults, 3)

	// 收益与手数成正比：每手赚 (103-101)*2 = 4
	assert.InDelta(t, 12.0/100000*100, res.BestMetrics.TotalReturn, 1e-9)
	assert.Equal(t, 1, res.BestMetrics.TotalTrades)
}

func TestOptimizerToleratesTrialFailure(t *testing.T) {
	factory := backtest.FactoryFunc(func(params backtest.Params) (backtest.Strategy, error) {
		if params.Int("qty", 1) == 2 {
			return nil, fmt.Errorf("不支持的参数")
		}
		return &stepStrategy{qty: params.Int("qty", 1)}, nil
	})
	opt, err := New(factory, risingBars(), Config{
		Runner: openRunner(),
		Ranges: []backtest.ParameterRange{{Name: "qty", Min: 1, Max: 3, Step: 1}},
	})
	require.NoError(t, err)

	res, err := opt.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalCombinations)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 3.0, res.BestParameters["qty"])
}

func TestOptimizerToleratesTrialPanic(t *testing.T) {
	factory := backtest.FactoryFunc(func(params backtest.Params) (backtest.Strategy, error) {
		return &stepStrategy{qty: params.Int("qty", 1), panicky: params.Int("qty", 1) == 1}, nil
	})
	opt, err := New(factory, risingBars(), Config{
		Runner: openRunner(),
		Ranges: []backtest.ParameterRange{{Name: "qty", Min: 1, Max: 2, Step: 1}},
	})
	require.NoError(t, err)

	res, err := opt.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 2.0, res.BestParameters["qty"])
}

func TestOptimizerProgressCallbackSerialized(t *testing.T) {
	opt, err := New(stepFactory(), risingBars(), Config{
		MaxWorkers: 8,
		Runner:     openRunner(),
		Ranges:     []backtest.ParameterRange{{Name: "qty", Min: 1, Max: 24, Step: 1}},
	})
	require.NoError(t, err)

	// 和真实调用方一样在闭包里裸写捕获变量，回调必须被串行触发
	var inFlight int32
	var overlapped atomic.Bool
	var lastPct float64
	var pcts []float64
	res, err := opt.Run(context.Background(), func(pct float64) {
		if atomic.AddInt32(&inFlight, 1) != 1 {
			overlapped.Store(true)
		}
		lastPct = pct
		pcts = append(pcts, pct)
		atomic.AddInt32(&inFlight, -1)
	})
	require.NoError(t, err)

	assert.False(t, overlapped.Load(), "进度回调不允许并发执行")
	assert.Equal(t, 24, res.Succeeded)
	assert.Equal(t, 100.0, lastPct)
	// 每个 trial 报一次，收尾再补一次 100，且百分比单调不减
	assert.Len(t, pcts, 25)
	assert.True(t, sort.Float64sAreSorted(pcts))
}

func TestOptimizerContextCancelled(t *testing.T) {
	opt, err := New(stepFactory(), risingBars(), Config{
		MaxWorkers: 1,
		Runner:     openRunner(),
		Ranges:     []backtest.ParameterRange{{Name: "qty", Min: 1, Max: 3, Step: 1}},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := opt.Run(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Equal(t, 0, res.Succeeded)
}

func TestOptimizerValidation(t *testing.T) {
	_, err := New(nil, risingBars(), Config{})
	assert.Error(t, err)

	_, err = New(stepFactory(), nil, Config{})
	assert.Error(t, err)

	_, err = New(stepFactory(), risingBars(), Config{Metric: "bogus"})
	assert.Error(t, err)
}
