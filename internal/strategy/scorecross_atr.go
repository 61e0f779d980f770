package strategy

import (
	"backlab/internal/backtest"
	"backlab/internal/market"
)

// ScoreCrossATR 是 ScoreCross 的简化变体：止损用 ATR 倍数而非摆动点，
// 止损不随 TP1 上移（无保本逻辑）。
type ScoreCrossATR struct {
	params backtest.Params
	spec   market.InstrumentSpec

	scoreField    string
	crossLevel    float64
	atrLength     int
	slMult        float64
	tp1Mult       float64
	tp2Mult       float64
	tp3Mult       float64
	entryQuantity int
	forceCloseAt  int

	direction int
	slLevel   float64
	tp1Level  float64
	tp2Level  float64
	tp3Level  float64
	tp1Hit    bool
	tp2Hit    bool
	tp3Hit    bool
}

func scoreCrossATRDefaults() backtest.Params {
	return backtest.Params{
		"score_field":      "score_1m",
		"cross_level":      0.0,
		"atr_length":       14,
		"sl_multiplier":    2.0,
		"tp1_multiplier":   2.0,
		"tp2_multiplier":   4.0,
		"tp3_multiplier":   4.5,
		"entry_quantity":   3,
		"force_close_time": "15:45",
		"instrument_type":  market.InstrumentFutures,
		"point_value":      2.0,
		"tick_size":        0.25,
	}
}

// NewScoreCrossATR 用默认参数与覆盖项构造策略实例。
func NewScoreCrossATR(params backtest.Params) (backtest.Strategy, error) {
	p := scoreCrossATRDefaults().Merge(params)
	forceClose, err := market.HHMM(p.Str("force_close_time", "15:45"))
	if err != nil {
		return nil, err
	}
	return &ScoreCrossATR{
		params:        p,
		spec:          p.Instrument(),
		scoreField:    p.Str("score_field", "score_1m"),
		crossLevel:    p.Float("cross_level", 0),
		atrLength:     p.Int("atr_length", 14),
		slMult:        p.Float("sl_multiplier", 2.0),
		tp1Mult:       p.Float("tp1_multiplier", 2.0),
		tp2Mult:       p.Float("tp2_multiplier", 4.0),
		tp3Mult:       p.Float("tp3_multiplier", 4.5),
		entryQuantity: p.Int("entry_quantity", 3),
		forceCloseAt:  forceClose,
	}, nil
}

func init() {
	Register("score_cross_atr", backtest.FactoryFunc(NewScoreCrossATR))
}

func (s *ScoreCrossATR) OnBar(t *backtest.Trader, bars []market.Bar) {
	need := s.atrLength + 1
	if need < 2 {
		need = 2
	}
	if len(bars) < need {
		return
	}
	cur := bars[len(bars)-1]

	if t.Direction() == backtest.Flat && s.direction != 0 {
		s.direction = 0
	}

	if t.Direction() == backtest.Flat {
		up, down := scoreCrossSignal(bars, s.scoreField, s.crossLevel)
		if up || down {
			atr := atrOf(bars, s.atrLength)
			if atr <= 0 {
				return
			}
			sign := 1.0
			if down {
				sign = -1.0
			}
			close := cur.Close
			s.slLevel = close - sign*atr*s.slMult
			s.tp1Level = close + sign*atr*s.tp1Mult
			s.tp2Level = close + sign*atr*s.tp2Mult
			s.tp3Level = close + sign*atr*s.tp3Mult
			s.tp1Hit, s.tp2Hit, s.tp3Hit = false, false, false
			if up {
				t.Buy(s.entryQuantity, backtest.ReasonEntry)
				s.direction = 1
			} else {
				t.Sell(s.entryQuantity, backtest.ReasonEntry)
				s.direction = -1
			}
		}
	}

	if t.Direction() != backtest.Flat && s.direction != 0 {
		high, low := cur.High, cur.Low
		if s.direction == 1 {
			if high >= s.tp1Level && !s.tp1Hit {
				t.Sell(1, backtest.ReasonTP1)
				s.tp1Hit = true
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
				t.Sell(t.Quantity(), backtest.ReasonSL)
			}
		} else {
			if low <= s.tp1Level && !s.tp1Hit {
				t.Buy(1, backtest.ReasonTP1)
				s.tp1Hit = true
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
				t.Buy(t.Quantity(), backtest.ReasonSL)
			}
		}

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

func (s *ScoreCrossATR) ParameterRanges() []backtest.ParameterRange {
	return []backtest.ParameterRange{
		{Name: "cross_level", Min: -5.0, Max: 5.0, Step: 1.0},
		{Name: "atr_length", Min: 10, Max: 20, Step: 2},
		{Name: "sl_multiplier", Min: 0.5, Max: 2.0, Step: 0.5},
		{Name: "tp1_multiplier", Min: 0.5, Max: 2.0, Step: 0.5},
		{Name: "tp2_multiplier", Min: 1.0, Max: 3.0, Step: 0.5},
		{Name: "tp3_multiplier", Min: 2.0, Max: 5.0, Step: 0.5},
	}
}

func (s *ScoreCrossATR) PositionSize(capital, price float64) int {
	return s.params.Int("position_size", 1)
}

func (s *ScoreCrossATR) Info() backtest.StrategyInfo {
	return backtest.StrategyInfo{
		Name:       "score_cross_atr",
		Instrument: s.spec,
		Parameters: map[string]any{
			"score_field":      s.scoreField,
			"cross_level":      s.crossLevel,
			"atr_length":       s.atrLength,
			"sl_multiplier":    s.slMult,
			"tp1_multiplier":   s.tp1Mult,
			"tp2_multiplier":   s.tp2Mult,
			"tp3_multiplier":   s.tp3Mult,
			"entry_quantity":   s.entryQuantity,
			"force_close_time": s.params.Str("force_close_time", "15:45"),
		},
	}
}
