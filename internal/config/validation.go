package config

import (
	"fmt"
	"strings"

	"backlab/internal/market"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := validateRunner(c); err != nil {
		return err
	}
	if err := c.Optimize.validate(); err != nil {
		return err
	}
	return c.Server.validate()
}

func (a *AppConfig) validate() error {
	switch strings.ToLower(a.LogLevel) {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("app.log_level 取值无效: %s", a.LogLevel)
	}
}

func validateRunner(c *Config) error {
	bt := c.Backtest
	if bt.InitialCapital < 0 {
		return fmt.Errorf("backtest.initial_capital must be >= 0")
	}
	if bt.CommissionPerUnit < 0 {
		return fmt.Errorf("backtest.commission_per_unit must be >= 0")
	}
	if bt.SlippageTicks < 0 {
		return fmt.Errorf("backtest.slippage_ticks must be >= 0")
	}
	if bt.MaxBarsBack < 0 {
		return fmt.Errorf("backtest.max_bars_back must be >= 0")
	}
	for name, val := range map[string]string{
		"halt_start":   bt.Session.HaltStart,
		"halt_end":     bt.Session.HaltEnd,
		"normal_close": bt.Session.NormalClose,
	} {
		if val == "" {
			continue
		}
		if _, err := market.HHMM(val); err != nil {
			return fmt.Errorf("backtest.session.%s: %w", name, err)
		}
	}
	return nil
}

func (o *OptimizeConfig) validate() error {
	if o.TopN < 0 {
		return fmt.Errorf("optimize.top_n must be >= 0")
	}
	if o.MaxWorkers < 0 {
		return fmt.Errorf("optimize.max_workers must be >= 0")
	}
	return nil
}

func (s *ServerConfig) validate() error {
	if strings.TrimSpace(s.Addr) == "" {
		return fmt.Errorf("server.addr cannot be empty")
	}
	if s.MaxConcurrent <= 0 {
		return fmt.Errorf("server.max_concurrent must be > 0")
	}
	return nil
}
