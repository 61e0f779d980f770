package backtest

import (
	"context"
	"fmt"

	"backlab/internal/logger"
	"backlab/internal/market"
)

// RunnerConfig 描述单次模拟的费率与窗口设置。
type RunnerConfig struct {
	InitialCapital    float64       `mapstructure:"initial_capital" json:"initial_capital"`
	CommissionPerUnit float64       `mapstructure:"commission_per_unit" json:"commission_per_unit"`
	SlippageTicks     int           `mapstructure:"slippage_ticks" json:"slippage_ticks"`
	MaxBarsBack       int           `mapstructure:"max_bars_back" json:"max_bars_back"`
	Session           SessionConfig `mapstructure:"session" json:"session"`
}

func (c RunnerConfig) withDefaults() RunnerConfig {
	if c.InitialCapital <= 0 {
		c.InitialCapital = 100000
	}
	if c.MaxBarsBack < 0 {
		c.MaxBarsBack = 0
	}
	if c.Session.HaltStart == "" {
		c.Session = DefaultSessionConfig()
	}
	return c
}

// Runner 驱动事件型回测：严格单线程、按时间顺序推进，
// 策略永远看不到当前 bar 之后的数据，意图永远在下一根 bar 成交。
type Runner struct {
	cfg RunnerConfig
}

// NewRunner 创建模拟器；零值配置回落到缺省参数。
func NewRunner(cfg RunnerConfig) *Runner {
	return &Runner{cfg: cfg.withDefaults()}
}

// Run 对给定策略与 K 线序列执行一次完整模拟。
// 空序列属于调用方违约，直接报错，不产出结果对象。
func (r *Runner) Run(ctx context.Context, strat Strategy, bars []market.Bar) (*BacktestResult, error) {
	if strat == nil {
		return nil, fmt.Errorf("strategy 不能为空")
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("bar 序列为空")
	}
	cal, err := newCalendar(r.cfg.Session, bars)
	if err != nil {
		return nil, fmt.Errorf("会话日历无效: %w", err)
	}

	info := strat.Info()
	trader := newTrader(info.Instrument, r.cfg.InitialCapital, r.cfg.CommissionPerUnit, r.cfg.SlippageTicks)

	var curve []EquityPoint
	lastEquity := trader.equity
	lastDirection := Flat
	peakEquity := trader.equity
	maxDrawdown := 0.0
	window := r.cfg.MaxBarsBack

	logger.Debugf("[backtest] 开始模拟 %s: bars=%d capital=%.2f window=%d",
		info.Name, len(bars), r.cfg.InitialCapital, window)

	for i := range bars {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		bar := bars[i]
		clock := market.ClockOf(bar)

		// 早收盘日强平：在最后一根 bar 的开盘价平掉全部剩余仓位。
		if cal.forceEarlyClose(clock) {
			trader.forceClose(bar.Open, ReasonEarlyClose, bar.Timestamp)
		}

		inHalt := cal.inHalt(clock)

		// 上一根 bar 的意图在本 bar 开盘解析：停牌期只放行退出单。
		trader.fillPending(bar, inHalt, strat.PositionSize)

		// 允许开新仓、或已有持仓需要管理时才调用策略。
		if !inHalt || trader.direction != Flat {
			start := 0
			if window > 0 && i+1 > window {
				start = i + 1 - window
			}
			strat.OnBar(trader, bars[start:i+1])
		}

		// 稀疏资金曲线：仅在资金或方向变化时追加。
		if trader.equity != lastEquity || trader.direction != lastDirection {
			curve = append(curve, EquityPoint{
				Timestamp: bar.Timestamp,
				Equity:    trader.equity,
				Direction: int(trader.direction),
			})
			lastEquity = trader.equity
			lastDirection = trader.direction
		}

		if trader.equity > peakEquity {
			peakEquity = trader.equity
		}
		if peakEquity > 0 {
			if dd := (peakEquity - trader.equity) / peakEquity * 100; dd > maxDrawdown {
				maxDrawdown = dd
			}
		}
	}

	result := buildResult(info, bars, trader, curve, maxDrawdown, r.cfg.InitialCapital)
	logger.Debugf("[backtest] 模拟完成 %s: trades=%d final=%.2f return=%.2f%%",
		info.Name, result.TotalTrades, result.FinalEquity, result.TotalReturn)
	return result, nil
}
