package backtest

import (
	"fmt"
	"sort"

	"backlab/internal/market"
)

// Strategy 是策略契约：每根 bar 收到不含未来数据的历史切片，
// 通过 Trader 句柄提交意图；仓位状态只读，所有变更必须走 Intent。
type Strategy interface {
	// OnBar 在每根 bar 上调用，bars 为 [max(0,i+1-window), i+1) 切片。
	OnBar(t *Trader, bars []market.Bar)
	// ParameterRanges 声明可调维度，供网格优化器枚举。
	ParameterRanges() []ParameterRange
	// PositionSize 按资金与价格给出开仓数量。
	PositionSize(capital, price float64) int
	// Info 返回展示信息（名称、合约规格、生效参数快照）。
	Info() StrategyInfo
}

// StrategyFactory 按参数集创建全新的策略实例；优化器的每个 trial
// 都会拿到独立实例，互不共享状态。
type StrategyFactory interface {
	NewStrategy(params Params) (Strategy, error)
}

// FactoryFunc 适配函数工厂。
type FactoryFunc func(params Params) (Strategy, error)

func (f FactoryFunc) NewStrategy(params Params) (Strategy, error) { return f(params) }

// StrategyInfo 显式声明策略的可展示参数集。
type StrategyInfo struct {
	Name       string                `json:"name"`
	Instrument market.InstrumentSpec `json:"instrument"`
	Parameters map[string]any        `json:"parameters"`
}

// ParameterRange 描述一个可优化维度的离散取值区间。
type ParameterRange struct {
	Name string  `json:"name"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step"`
}

// Values 枚举 min..max（含可达端点）。
func (r ParameterRange) Values() []float64 {
	if r.Step <= 0 {
		return []float64{r.Min}
	}
	var out []float64
	// 以整数步数推进，避免浮点累加误差吞掉末端取值。
	for i := 0; ; i++ {
		v := r.Min + float64(i)*r.Step
		if v > r.Max+r.Step*1e-9 {
			break
		}
		if v > r.Max {
			v = r.Max
		}
		out = append(out, v)
		if v >= r.Max {
			break
		}
	}
	return out
}

// Params 是扁平参数表：默认值与调用方覆盖合并后传给策略构造。
type Params map[string]any

// Merge 返回 base 被 overrides 覆盖后的新参数表。
func (p Params) Merge(overrides Params) Params {
	out := make(Params, len(p)+len(overrides))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// Float 读取数值参数，缺失或类型不符时返回 def。
func (p Params) Float(key string, def float64) float64 {
	v, ok := p[key]
	if !ok {
		return def
	}
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int64:
		return float64(x)
	default:
		return def
	}
}

// Int 读取整数参数。
func (p Params) Int(key string, def int) int {
	v, ok := p[key]
	if !ok {
		return def
	}
	switch x := v.(type) {
	case int:
		return x
	case int64:
		return int(x)
	case float64:
		return int(x)
	default:
		return def
	}
}

// Str 读取字符串参数。
func (p Params) Str(key string, def string) string {
	if v, ok := p[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Keys 返回排序后的键名，保证展示与日志输出稳定。
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (p Params) String() string {
	var b []byte
	for i, k := range p.Keys() {
		if i > 0 {
			b = append(b, ' ')
		}
		b = fmt.Appendf(b, "%s=%v", k, p[k])
	}
	return string(b)
}

// Instrument 从参数表提取合约规格。
func (p Params) Instrument() market.InstrumentSpec {
	return market.InstrumentSpec{
		Type:       p.Str("instrument_type", market.InstrumentStock),
		PointValue: p.Float("point_value", 1.0),
		TickSize:   p.Float("tick_size", 0.01),
	}.Normalize()
}
