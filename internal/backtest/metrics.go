package backtest

import (
	"math"

	"backlab/internal/market"
)

// profitFactorCap 是亏损和为零时的哨兵上限。
const profitFactorCap = 999.0

// buildResult 从账本与资金曲线派生全部指标。纯计算，不改动输入。
func buildResult(info StrategyInfo, bars []market.Bar, trader *Trader, curve []EquityPoint, maxDrawdown, initialCapital float64) *BacktestResult {
	trades := trader.trades

	var wins, losses []float64
	for _, tr := range trades {
		if tr.IsWin {
			wins = append(wins, tr.PnL)
		} else {
			losses = append(losses, math.Abs(tr.PnL))
		}
	}

	res := &BacktestResult{
		StrategyName:     info.Name,
		StartDate:        bars[0].Timestamp,
		EndDate:          bars[len(bars)-1].Timestamp,
		InitialCapital:   initialCapital,
		FinalEquity:      trader.equity,
		TotalReturn:      (trader.equity - initialCapital) / initialCapital * 100,
		MaxDrawdown:      maxDrawdown,
		TotalTrades:      len(trades),
		UniqueEntries:    trader.uniqueEntries,
		WinningTrades:    len(wins),
		LosingTrades:     len(losses),
		TotalCommissions: trader.totalCommissions,
		EquityCurve:      curve,
		Trades:           trades,
	}

	if len(trades) > 0 {
		res.WinRate = float64(len(wins)) / float64(len(trades)) * 100
	}
	res.AvgWin = mean(wins)
	res.AvgLoss = mean(losses)
	res.ProfitFactor = profitFactor(sum(wins), sum(losses), len(wins) > 0)
	res.AvgRR = avgRR(res.AvgWin, res.AvgLoss)
	res.LargestWin = maxOf(wins)
	res.LargestLoss = maxOf(losses)
	res.MaxConsecutiveWins, res.MaxConsecutiveLosses = streaks(trades)
	res.RealizedPoints, res.MaxDrawdownPoints = pointStats(trades, info.Instrument)
	res.SessionStats = sessionStats(trades)
	res.HourlyStats = hourlyStats(trades)
	res.ExitReasonStats = exitReasonStats(trades)
	res.SharpeRatio = sharpeRatio(curve)
	return res
}

func sum(xs []float64) float64 {
	total := 0.0
	for _, x := range xs {
		total += x
	}
	return total
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return sum(xs) / float64(len(xs))
}

func maxOf(xs []float64) float64 {
	out := 0.0
	for _, x := range xs {
		if x > out {
			out = x
		}
	}
	return out
}

// profitFactor 对零亏损序列取哨兵值：有盈利为 999，否则为 0。
func profitFactor(sumWins, sumLosses float64, hasWins bool) float64 {
	if sumLosses > 0 {
		return math.Min(sumWins/sumLosses, profitFactorCap)
	}
	if hasWins {
		return profitFactorCap
	}
	return 0
}

// avgRR 用 0.01 下限防止除零。
func avgRR(avgWin, avgLoss float64) float64 {
	if avgLoss > 0 && avgWin > 0 {
		return avgWin / avgLoss
	}
	return avgWin / math.Max(avgLoss, 0.01)
}

// streaks 沿账本顺序统计最长连胜/连亏。
func streaks(trades []Trade) (maxWins, maxLosses int) {
	curWins, curLosses := 0, 0
	for _, tr := range trades {
		if tr.IsWin {
			curWins++
			curLosses = 0
			if curWins > maxWins {
				maxWins = curWins
			}
		} else {
			curLosses++
			curWins = 0
			if curLosses > maxLosses {
				maxLosses = curLosses
			}
		}
	}
	return maxWins, maxLosses
}

// pointStats 把盈亏折算为点数：期货按点值、其余按数量折算，
// 并跟踪点数口径下的最大回撤。
func pointStats(trades []Trade, spec market.InstrumentSpec) (realized, maxDD float64) {
	peak := 0.0
	for _, tr := range trades {
		qty := tr.Quantity
		if qty <= 0 {
			qty = 1
		}
		var points float64
		if spec.Type == market.InstrumentFutures {
			points = tr.PnL / math.Max(spec.PointValue*float64(qty), 1e-9)
		} else {
			points = tr.PnL / float64(qty)
		}
		realized += points
		if realized > peak {
			peak = realized
		}
		if dd := peak - realized; dd > maxDD {
			maxDD = dd
		}
	}
	return realized, maxDD
}

// 三个固定交易时段（合约本地时钟）：
// Asia 18:00-24:00，Europe 02:00-08:30，New York 08:30-15:00。
func sessionOf(clock market.Clock) (string, bool) {
	h, m := clock.Hour, clock.Minute
	switch {
	case h >= 18 && h < 24:
		return "Asia", true
	case h >= 2 && h < 8, h == 8 && m < 30:
		return "Europe", true
	case h == 8 && m >= 30, h >= 9 && h < 15:
		return "New York", true
	default:
		return "", false
	}
}

func sessionStats(trades []Trade) map[string]SessionStats {
	out := map[string]SessionStats{
		"Asia":     {},
		"Europe":   {},
		"New York": {},
	}
	for _, tr := range trades {
		clock := market.ClockOf(market.Bar{Timestamp: tr.EntryTime})
		if !clock.Valid {
			continue
		}
		name, ok := sessionOf(clock)
		if !ok {
			continue
		}
		s := out[name]
		s.Total++
		if tr.IsWin {
			s.Wins++
		} else {
			s.Losses++
		}
		out[name] = s
	}
	for name, s := range out {
		if s.Total > 0 {
			s.WinRate = float64(s.Wins) / float64(s.Total) * 100
			out[name] = s
		}
	}
	return out
}

// hourlyStats 按入场时间戳的原始小时分桶，不做时区换算。数据默认为
// 交易所本地时间，与会话分桶保持同一口径。
func hourlyStats(trades []Trade) map[int]SessionStats {
	out := make(map[int]SessionStats)
	for _, tr := range trades {
		clock := market.ClockOf(market.Bar{Timestamp: tr.EntryTime})
		if !clock.Valid {
			continue
		}
		s := out[clock.Hour]
		s.Total++
		if tr.IsWin {
			s.Wins++
		} else {
			s.Losses++
		}
		out[clock.Hour] = s
	}
	for h, s := range out {
		if s.Total > 0 {
			s.WinRate = float64(s.Wins) / float64(s.Total) * 100
			out[h] = s
		}
	}
	return out
}

func exitReasonStats(trades []Trade) map[string]int {
	out := make(map[string]int)
	for _, tr := range trades {
		out[tr.ExitReason]++
	}
	return out
}

// sharpeRatio 基于稀疏曲线的逐点相对收益：mean/std，按 √252 年化；
// 零方差序列返回 0。
func sharpeRatio(curve []EquityPoint) float64 {
	if len(curve) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev == 0 {
			continue
		}
		returns = append(returns, (curve[i].Equity-prev)/prev)
	}
	if len(returns) == 0 {
		return 0
	}
	avg := mean(returns)
	variance := 0.0
	for _, r := range returns {
		variance += (r - avg) * (r - avg)
	}
	variance /= float64(len(returns))
	std := math.Sqrt(variance)
	if std <= 0 {
		return 0
	}
	return avg / std * math.Sqrt(252)
}
