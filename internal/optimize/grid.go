package optimize

import (
	"backlab/internal/backtest"
)

// GenerateCombinations 枚举全量笛卡尔积：每个维度取 min..max（步长
// step，可达端点含入），维度顺序保持声明顺序，最后一个维度变化最快。
// 空 ranges 返回单个空组合（等价于"只跑基准参数"）。
func GenerateCombinations(ranges []backtest.ParameterRange) []backtest.Params {
	values := make([][]float64, len(ranges))
	total := 1
	for i, r := range ranges {
		values[i] = r.Values()
		total *= len(values[i])
	}
	if total <= 0 {
		return nil
	}
	out := make([]backtest.Params, 0, total)
	idx := make([]int, len(ranges))
	for {
		combo := make(backtest.Params, len(ranges))
		for i, r := range ranges {
			combo[r.Name] = values[i][idx[i]]
		}
		out = append(out, combo)

		// 末位进位。
		pos := len(ranges) - 1
		for pos >= 0 {
			idx[pos]++
			if idx[pos] < len(values[pos]) {
				break
			}
			idx[pos] = 0
			pos--
		}
		if pos < 0 {
			break
		}
	}
	return out
}
