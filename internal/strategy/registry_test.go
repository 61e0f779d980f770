package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backlab/internal/backtest"
)

func TestRegistryBuiltins(t *testing.T) {
	names := Names()
	assert.Contains(t, names, "score_cross")
	assert.Contains(t, names, "score_cross_atr")
	assert.IsIncreasing(t, names)

	factory, err := Lookup("score_cross")
	require.NoError(t, err)
	strat, err := factory.NewStrategy(nil)
	require.NoError(t, err)
	assert.Equal(t, "score_cross", strat.Info().Name)

	_, err = Lookup("不存在的策略")
	assert.Error(t, err)
}

func TestRegistryOverride(t *testing.T) {
	called := false
	Register("registry_override_probe", backtest.FactoryFunc(func(p backtest.Params) (backtest.Strategy, error) {
		called = true
		return NewScoreCross(p)
	}))
	factory, err := Lookup("registry_override_probe")
	require.NoError(t, err)
	_, err = factory.NewStrategy(nil)
	require.NoError(t, err)
	assert.True(t, called)
}

func TestDescribe(t *testing.T) {
	info, ranges, err := Describe("score_cross")
	require.NoError(t, err)
	assert.Equal(t, "score_cross", info.Name)
	assert.NotEmpty(t, info.Parameters)
	assert.NotEmpty(t, ranges)

	_, _, err = Describe("missing")
	assert.Error(t, err)
}
