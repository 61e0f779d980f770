package strategy

import (
	"math"

	"github.com/markcheno/go-talib"

	"backlab/internal/market"
)

// atrOf 计算切片末端的 ATR；数据不足或值退化时返回 0，
// 调用方据此跳过本根 bar 的入场。
func atrOf(bars []market.Bar, period int) float64 {
	if period <= 0 || len(bars) <= period {
		return 0
	}
	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	closes := make([]float64, len(bars))
	for i, b := range bars {
		highs[i] = b.High
		lows[i] = b.Low
		closes[i] = b.Close
	}
	series := talib.Atr(highs, lows, closes, period)
	if len(series) == 0 {
		return 0
	}
	v := series[len(series)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0
	}
	return v
}

// findSwingPoints 从最近的 bar 向前找第一个确认的摆动低点与高点：
// 窗口内两侧各 lookback 根 bar 都不超过中心点才算确认。
func findSwingPoints(bars []market.Bar, lookback int) (swingLow, swingHigh float64, lowOK, highOK bool) {
	if lookback <= 0 || len(bars) < lookback*2+1 {
		return 0, 0, false, false
	}
	start := len(bars) - lookback - 1
	for i := start; i > lookback; i-- {
		h, l := bars[i].High, bars[i].Low
		if !highOK {
			confirmed := true
			for j := i - lookback; j <= i+lookback; j++ {
				if bars[j].High > h {
					confirmed = false
					break
				}
			}
			if confirmed {
				swingHigh, highOK = h, true
			}
		}
		if !lowOK {
			confirmed := true
			for j := i - lookback; j <= i+lookback; j++ {
				if bars[j].Low < l {
					confirmed = false
					break
				}
			}
			if confirmed {
				swingLow, lowOK = l, true
			}
		}
		if lowOK && highOK {
			break
		}
	}
	return swingLow, swingHigh, lowOK, highOK
}

// scoreCrossSignal 检测指标列对 level 的上穿/下穿。
func scoreCrossSignal(bars []market.Bar, field string, level float64) (up, down bool) {
	if len(bars) < 2 {
		return false, false
	}
	cur, okCur := bars[len(bars)-1].Score(field)
	prev, okPrev := bars[len(bars)-2].Score(field)
	if !okCur || !okPrev {
		return false, false
	}
	up = prev <= level && cur > level
	down = prev >= level && cur < level
	return up, down
}
