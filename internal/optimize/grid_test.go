package optimize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backlab/internal/backtest"
)

func TestParameterRangeValues(t *testing.T) {
	t.Run("整数步长含端点", func(t *testing.T) {
		r := backtest.ParameterRange{Name: "atr_length", Min: 10, Max: 30, Step: 5}
		assert.Equal(t, []float64{10, 15, 20, 25, 30}, r.Values())
	})

	t.Run("小数步长不丢末端", func(t *testing.T) {
		r := backtest.ParameterRange{Name: "tp1", Min: 1.0, Max: 3.0, Step: 0.5}
		assert.Equal(t, []float64{1.0, 1.5, 2.0, 2.5, 3.0}, r.Values())
	})

	t.Run("零步长退化为单值", func(t *testing.T) {
		r := backtest.ParameterRange{Name: "x", Min: 2, Max: 10, Step: 0}
		assert.Equal(t, []float64{2}, r.Values())
	})

	t.Run("端点不可达时止于最后可达值", func(t *testing.T) {
		r := backtest.ParameterRange{Name: "x", Min: 1, Max: 2, Step: 0.6}
		vals := r.Values()
		require.Len(t, vals, 2)
		assert.InDelta(t, 1.0, vals[0], 1e-9)
		assert.InDelta(t, 1.6, vals[1], 1e-9)
	})
}

func TestGenerateCombinations(t *testing.T) {
	t.Run("最后一维变化最快", func(t *testing.T) {
		ranges := []backtest.ParameterRange{
			{Name: "a", Min: 1, Max: 2, Step: 1},
			{Name: "b", Min: 1, Max: 3, Step: 1},
		}
		combos := GenerateCombinations(ranges)
		require.Len(t, combos, 6)
		want := []backtest.Params{
			{"a": 1.0, "b": 1.0},
			{"a": 1.0, "b": 2.0},
			{"a": 1.0, "b": 3.0},
			{"a": 2.0, "b": 1.0},
			{"a": 2.0, "b": 2.0},
			{"a": 2.0, "b": 3.0},
		}
		assert.Equal(t, want, combos)
	})

	t.Run("空范围返回单个空组合", func(t *testing.T) {
		combos := GenerateCombinations(nil)
		require.Len(t, combos, 1)
		assert.Empty(t, combos[0])
	})

	t.Run("组合数为各维乘积", func(t *testing.T) {
		ranges := []backtest.ParameterRange{
			{Name: "a", Min: 1, Max: 3, Step: 1},
			{Name: "b", Min: 0, Max: 1, Step: 0.5},
			{Name: "c", Min: 5, Max: 5, Step: 1},
		}
		assert.Len(t, GenerateCombinations(ranges), 3*3*1)
	})
}
