package strategy

import (
	"math"

	"backlab/internal/backtest"
	"backlab/internal/market"
)

// ScoreCross 动量分上/下穿入场，摆动点止损 + 三级 ATR 止盈。
// TP1 触发后止损上移到保本价 ±4 tick，之后触发的止损记为 BREAKEVEN。
// 策略实例持有一轮回测的挂单水位，不能跨回测复用。
type ScoreCross struct {
	params backtest.Params
	spec   market.InstrumentSpec

	scoreField     string
	crossLevel     float64
	atrLength      int
	atrStopMult    float64
	tp1Mult        float64
	tp2Mult        float64
	tp3Mult        float64
	swingLookback  int
	breakevenTicks float64
	entryQuantity  int
	forceCloseAt   int // 当日分钟序号，到点全平

	direction int // 1 多 / -1 空 / 0 空仓
	entry     float64
	slLevel   float64
	tp1Level  float64
	tp2Level  float64
	tp3Level  float64
	tp1Hit    bool
	tp2Hit    bool
	tp3Hit    bool
}

func scoreCrossDefaults() backtest.Params {
	return backtest.Params{
		"score_field":         "score_1m",
		"cross_level":         0.0,
		"atr_length":          15,
		"atr_stop_multiplier": 2.5,
		"tp1_multiplier":      1.5,
		"tp2_multiplier":      4.0,
		"tp3_multiplier":      4.5,
		"swing_lookback":      5,
		"breakeven_ticks":     4.0,
		"entry_quantity":      3,
		"force_close_time":    "15:45",
		"instrument_type":     market.InstrumentFutures,
		"point_value":         2.0,
		"tick_size":           0.25,
	}
}

// NewScoreCross 用默认参数与覆盖项构造策略实例。
func NewScoreCross(params backtest.Params) (backtest.Strategy, error) {
	p := scoreCrossDefaults().Merge(params)
	forceClose, err := market.HHMM(p.Str("force_close_time", "15:45"))
	if err != nil {
		return nil, err
	}
	return &ScoreCross{
		params:         p,
		spec:           p.Instrument(),
		scoreField:     p.Str("score_field", "score_1m"),
		crossLevel:     p.Float("cross_level", 0),
		atrLength:      p.Int("atr_length", 15),
		atrStopMult:    p.Float("atr_stop_multiplier", 2.5),
		tp1Mult:        p.Float("tp1_multiplier", 1.5),
		tp2Mult:        p.Float("tp2_multiplier", 4.0),
		tp3Mult:        p.Float("tp3_multiplier", 4.5),
		swingLookback:  p.Int("swing_lookback", 5),
		breakevenTicks: p.Float("breakeven_ticks", 4.0),
		entryQuantity:  p.Int("entry_quantity", 3),
		forceCloseAt:   forceClose,
	}, nil
}

func init() {
	Register("score_cross", backtest.FactoryFunc(NewScoreCross))
}

// OnBar 每根 bar 调用：空仓时找交叉信号入场，持仓时按水位减仓/止损。
func (s *ScoreCross) OnBar(t *backtest.Trader, bars []market.Bar) {
	if len(bars) < s.atrLength+1 {
		return
	}
	cur := bars[len(bars)-1]

	// 上一轮仓位已被全部平掉时复位本地方向
	if t.Direction() == backtest.Flat && s.direction != 0 {
		s.direction = 0
	}

	if t.Direction() == backtest.Flat {
		s.tryEnter(t, bars, cur)
	}

	if t.Direction() != backtest.Flat && s.direction != 0 {
		s.manageExits(t, cur)

		clock := market.ClockOf(cur)
		if clock.Valid && clock.MinuteOfDay() == s.forceCloseAt && t.Quantity() > 0 {
			if s.direction == 1 {
				t.Sell(t.Quantity(), backtest.ReasonForceCloseEOD)
			} else {
				t.Buy(t.Quantity(), backtest.ReasonForceCloseEOD)
			}
		}
	}
}

func (s *ScoreCross) tryEnter(t *backtest.Trader, bars []market.Bar, cur market.Bar) {
	up, down := scoreCrossSignal(bars, s.scoreField, s.crossLevel)
	if !up && !down {
		return
	}
	atr := atrOf(bars, s.atrLength)
	if atr <= 0 {
		return
	}

	close := cur.Close
	swingLow, swingHigh, lowOK, highOK := findSwingPoints(bars, s.swingLookback)

	s.entry = close
	if up {
		if lowOK {
			s.slLevel = swingLow - s.spec.TickSize
		} else {
			s.slLevel = close - atr*s.atrStopMult
		}
		s.tp1Level = close + atr*s.tp1Mult
		s.tp2Level = close + atr*s.tp2Mult
		s.tp3Level = close + atr*s.tp3Mult
		t.Buy(s.entryQuantity, backtest.ReasonEntry)
		s.direction = 1
	} else {
		if highOK {
			s.slLevel = swingHigh + s.spec.TickSize
		} else {
			s.slLevel = close + atr*s.atrStopMult
		}
		s.tp1Level = close - atr*s.tp1Mult
		s.tp2Level = close - atr*s.tp2Mult
		s.tp3Level = close - atr*s.tp3Mult
		t.Sell(s.entryQuantity, backtest.ReasonEntry)
		s.direction = -1
	}
	s.tp1Hit, s.tp2Hit, s.tp3Hit = false, false, false
}

func (s *ScoreCross) manageExits(t *backtest.Trader, cur market.Bar) {
	high, low := cur.High, cur.Low
	tick := s.spec.TickSize

	if s.direction == 1 {
		if high >= s.tp1Level && !s.tp1Hit {
			t.Sell(1, backtest.ReasonTP1)
			s.tp1Hit = true
			s.slLevel = s.entry + tick*s.breakevenTicks
		}
		if high >= s.tp2Level && !s.tp2Hit {
			t.Sell(1, backtest.ReasonTP2)
			s.tp2Hit = true
		}
		if high >= s.tp3Level && !s.tp3Hit {
			t.Sell(1, backtest.ReasonTP3)
			s.tp3Hit = true
		}
		if low <= s.slLevel && t.Quantity() > 0 {
			breakeven := s.entry + tick*s.breakevenTicks
			if s.tp1Hit && math.Abs(s.slLevel-breakeven) < tick*0.1 {
				t.Sell(t.Quantity(), backtest.ReasonBreakeven)
			} else {
				t.Sell(t.Quantity(), backtest.ReasonSL)
			}
		}
		return
	}

	if low <= s.tp1Level && !s.tp1Hit {
		t.Buy(1, backtest.ReasonTP1)
		s.tp1Hit = true
		s.slLevel = s.entry - tick*s.breakevenTicks
	}
	if low <= s.tp2Level && !s.tp2Hit {
		t.Buy(1, backtest.ReasonTP2)
		s.tp2Hit = true
	}
	if low <= s.tp3Level && !s.tp3Hit {
		t.Buy(1, backtest.ReasonTP3)
		s.tp3Hit = true
	}
	if high >= s.slLevel && t.Quantity() > 0 {
		breakeven := s.entry - tick*s.breakevenTicks
		if s.tp1Hit && math.Abs(s.slLevel-breakeven) < tick*0.1 {
			t.Buy(t.Quantity(), backtest.ReasonBreakeven)
		} else {
			t.Buy(t.Quantity(), backtest.ReasonSL)
		}
	}
}

// ParameterRanges 声明网格优化的可调维度。
func (s *ScoreCross) ParameterRanges() []backtest.ParameterRange {
	return []backtest.ParameterRange{
		{Name: "atr_length", Min: 10, Max: 30, Step: 5},
		{Name: "atr_stop_multiplier", Min: 1.5, Max: 3.5, Step: 0.5},
		{Name: "tp1_multiplier", Min: 1.0, Max: 3.0, Step: 0.5},
		{Name: "tp2_multiplier", Min: 2.0, Max: 4.0, Step: 0.5},
		{Name: "tp3_multiplier", Min: 4.0, Max: 8.0, Step: 0.5},
		{Name: "cross_level", Min: -5.0, Max: 5.0, Step: 0.5},
	}
}

// PositionSize 返回固定手数；入场意图自带数量时不会走到这里。
func (s *ScoreCross) PositionSize(capital, price float64) int {
	return s.params.Int("position_size", 1)
}

// Info 返回展示信息。
func (s *ScoreCross) Info() backtest.StrategyInfo {
	return backtest.StrategyInfo{
		Name:       "score_cross",
		Instrument: s.spec,
		Parameters: map[string]any{
			"score_field":         s.scoreField,
			"cross_level":         s.crossLevel,
			"atr_length":          s.atrLength,
			"atr_stop_multiplier": s.atrStopMult,
			"tp1_multiplier":      s.tp1Mult,
			"tp2_multiplier":      s.tp2Mult,
			"tp3_multiplier":      s.tp3Mult,
			"swing_lookback":      s.swingLookback,
			"breakeven_ticks":     s.breakevenTicks,
			"entry_quantity":      s.entryQuantity,
			"force_close_time":    s.params.Str("force_close_time", "15:45"),
		},
	}
}
