package market

// Bar 表示单根 K 线以及附带的指标列（例如多周期动量分）。
// 装载完成后不再修改，模拟器与策略只读。
type Bar struct {
	Timestamp string             `json:"timestamp"`
	Open      float64            `json:"open"`
	High      float64            `json:"high"`
	Low       float64            `json:"low"`
	Close     float64            `json:"close"`
	Volume    float64            `json:"volume,omitempty"`
	Scores    map[string]float64 `json:"scores,omitempty"`
}

// Score 返回指定指标列的值；不存在时 ok=false。
func (b Bar) Score(name string) (float64, bool) {
	if len(b.Scores) == 0 {
		return 0, false
	}
	v, ok := b.Scores[name]
	return v, ok
}

// InstrumentType 区分点值计价（期货）与金额计价（股票）。
const (
	InstrumentFutures = "futures"
	InstrumentStock   = "stock"
)

// InstrumentSpec 描述合约规格，盈亏换算依赖它。
type InstrumentSpec struct {
	Type       string  `json:"instrument_type"`
	PointValue float64 `json:"point_value"`
	TickSize   float64 `json:"tick_size"`
}

func (s InstrumentSpec) withDefaults() InstrumentSpec {
	if s.Type == "" {
		s.Type = InstrumentStock
	}
	if s.PointValue <= 0 {
		s.PointValue = 1.0
	}
	if s.TickSize <= 0 {
		s.TickSize = 0.01
	}
	return s
}

// Normalize 补齐缺省的合约规格字段。
func (s InstrumentSpec) Normalize() InstrumentSpec { return s.withDefaults() }

// PnL 计算一段持仓的盈亏（不含手续费）。direction: 1 多 / -1 空。
func (s InstrumentSpec) PnL(entry, exit float64, quantity int, direction int) float64 {
	diff := (exit - entry) * float64(direction)
	if s.Type == InstrumentFutures {
		return diff * s.PointValue * float64(quantity)
	}
	return diff * float64(quantity)
}
