package backtest

import (
	"fmt"

	"backlab/internal/logger"
	"backlab/internal/market"
)

// SessionConfig 描述交易日历：日内停牌窗口、正常收盘时刻与
// 早收盘日的盘前禁入时长。时刻均为 "HH:MM"。
type SessionConfig struct {
	HaltStart            string `mapstructure:"halt_start" json:"halt_start"`
	HaltEnd              string `mapstructure:"halt_end" json:"halt_end"`
	NormalClose          string `mapstructure:"normal_close" json:"normal_close"`
	HaltBeforeEarlyClose int    `mapstructure:"halt_before_early_close" json:"halt_before_early_close"`
}

// DefaultSessionConfig 对应 CME 日内合约的常规安排：
// 16:00 收盘、17:00 重开，15:40 起禁入；早收盘日收盘前 15 分钟禁入。
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		HaltStart:            "15:40",
		HaltEnd:              "17:00",
		NormalClose:          "16:00",
		HaltBeforeEarlyClose: 15,
	}
}

// calendar 把配置时刻解析为分钟序号，并缓存早收盘日期表。
type calendar struct {
	haltStart    int
	haltEnd      int
	normalClose  int
	preCloseHalt int

	earlyCloses map[string]int // 日期 -> 当日最后一根 bar 的分钟序号
}

func newCalendar(cfg SessionConfig, bars []market.Bar) (*calendar, error) {
	c := &calendar{preCloseHalt: cfg.HaltBeforeEarlyClose}
	if c.preCloseHalt <= 0 {
		c.preCloseHalt = 15
	}
	var err error
	if c.haltStart, err = market.HHMM(cfg.HaltStart); err != nil {
		return nil, fmt.Errorf("halt_start: %w", err)
	}
	if c.haltEnd, err = market.HHMM(cfg.HaltEnd); err != nil {
		return nil, fmt.Errorf("halt_end: %w", err)
	}
	if c.normalClose, err = market.HHMM(cfg.NormalClose); err != nil {
		return nil, fmt.Errorf("normal_close: %w", err)
	}
	c.earlyCloses = detectEarlyCloses(bars, c.normalClose)
	if n := len(c.earlyCloses); n > 0 {
		logger.Debugf("[backtest] 检测到 %d 个早收盘交易日", n)
	}
	return c, nil
}

// detectEarlyCloses 逆序扫描找出每个日期的最后一根 bar：
// 若最后一根不晚于正常收盘时刻，则该日按假日早收盘处理。
// 数据按时间升序，逆序时每个日期先遇到的就是收尾 bar。
func detectEarlyCloses(bars []market.Bar, normalClose int) map[string]int {
	out := make(map[string]int)
	seen := make(map[string]bool)
	for i := len(bars) - 1; i >= 0; i-- {
		clock := market.ClockOf(bars[i])
		if !clock.Valid {
			continue
		}
		if seen[clock.Date] {
			continue
		}
		seen[clock.Date] = true
		if m := clock.MinuteOfDay(); m <= normalClose {
			out[clock.Date] = m
		}
	}
	return out
}

// earlyCloseMinute 返回该日期早收盘的最后 bar 分钟序号。
func (c *calendar) earlyCloseMinute(date string) (int, bool) {
	m, ok := c.earlyCloses[date]
	return m, ok
}

// inHalt 判断该时刻是否处于禁入窗口。时间戳无法解析时不视为停牌，
// 价格照常参与模拟（fail-soft）。
func (c *calendar) inHalt(clock market.Clock) bool {
	if !clock.Valid {
		return false
	}
	m := clock.MinuteOfDay()
	if early, ok := c.earlyCloseMinute(clock.Date); ok {
		return m >= early-c.preCloseHalt
	}
	return m >= c.haltStart && m < c.haltEnd
}

// forceEarlyClose 判断早收盘日是否已到达强平时刻。
func (c *calendar) forceEarlyClose(clock market.Clock) bool {
	if !clock.Valid {
		return false
	}
	early, ok := c.earlyCloseMinute(clock.Date)
	return ok && clock.MinuteOfDay() >= early
}
