package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
app:
  log_level: debug
data:
  dir: /tmp/bars
backtest:
  initial_capital: 50000
  commission_per_unit: 0.62
  slippage_ticks: 1
  session:
    halt_start: "15:40"
    halt_end: "17:00"
    normal_close: "16:00"
optimize:
  metric: sharpe_ratio
  max_workers: 4
server:
  addr: ":9090"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, "/tmp/bars", cfg.Data.Dir)
	assert.Equal(t, 50000.0, cfg.Backtest.InitialCapital)
	assert.Equal(t, 0.62, cfg.Backtest.CommissionPerUnit)
	assert.Equal(t, 1, cfg.Backtest.SlippageTicks)
	assert.Equal(t, "15:40", cfg.Backtest.Session.HaltStart)
	assert.Equal(t, "sharpe_ratio", cfg.Optimize.Metric)
	assert.Equal(t, 4, cfg.Optimize.MaxWorkers)
	assert.Equal(t, ":9090", cfg.Server.Addr)

	// 未设置的项落到缺省值
	assert.Equal(t, "backlab", cfg.App.Name)
	assert.Equal(t, 10, cfg.Optimize.TopN)
	assert.Equal(t, 2, cfg.Server.MaxConcurrent)
	assert.Equal(t, "data/results.db", cfg.Server.ResultDBPath)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "app:\n  log_level: verbose\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "backtest:\n  slippage_ticks: -1\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "backtest:\n  session:\n    halt_start: \"99:99\"\n"))
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, validate(cfg))

	assert.Equal(t, "backlab", cfg.App.Name)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, "data", cfg.Data.Dir)
	assert.Equal(t, "total_return", cfg.Optimize.Metric)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 30, cfg.Server.RequestTimeout)
}
