// Package report 把回测结果渲染成资金曲线图表与文本摘要。
package report

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"backlab/internal/backtest"
)

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorEquity        = "#3b82f6"
	colorDrawdown      = "#f87171"

	chartWidthPx  = 1400
	chartHeightPx = 480
)

// EquityChartHTML 渲染资金曲线 + 回撤两张折线图，返回完整 HTML 页面。
func EquityChartHTML(result *backtest.BacktestResult) ([]byte, error) {
	if result == nil {
		return nil, fmt.Errorf("result 不能为空")
	}
	if len(result.EquityCurve) == 0 {
		return nil, fmt.Errorf("资金曲线为空，无法绘图")
	}

	xAxis := make([]string, 0, len(result.EquityCurve))
	equity := make([]opts.LineData, 0, len(result.EquityCurve))
	drawdown := make([]opts.LineData, 0, len(result.EquityCurve))
	peak := result.EquityCurve[0].Equity
	for _, pt := range result.EquityCurve {
		if pt.Equity > peak {
			peak = pt.Equity
		}
		dd := 0.0
		if peak > 0 {
			dd = (peak - pt.Equity) / peak * 100
		}
		xAxis = append(xAxis, pt.Timestamp)
		equity = append(equity, opts.LineData{Value: pt.Equity})
		drawdown = append(drawdown, opts.LineData{Value: dd})
	}

	equityLine := charts.NewLine()
	equityLine.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", chartHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:      fmt.Sprintf("%s 资金曲线", result.StrategyName),
			Subtitle:   fmt.Sprintf("%s ~ %s", result.StartDate, result.EndDate),
			TitleStyle: &opts.TextStyle{Color: colorTextPrimary},
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
	)
	equityLine.SetXAxis(xAxis)
	equityLine.AddSeries("Equity", equity,
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}))

	ddLine := charts.NewLine()
	ddLine.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", chartHeightPx/2),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:      fmt.Sprintf("回撤 (峰值 %.2f%%)", result.MaxDrawdown),
			TitleStyle: &opts.TextStyle{Color: colorTextPrimary},
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
	)
	ddLine.SetXAxis(xAxis)
	ddLine.AddSeries("Drawdown %", drawdown,
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorDrawdown, Width: 2}))

	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(equityLine, ddLine)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, fmt.Errorf("渲染图表失败: %w", err)
	}
	return buf.Bytes(), nil
}

// Summary 生成对齐的文本摘要块，CLI 输出使用。
func Summary(result *backtest.BacktestResult) string {
	if result == nil {
		return ""
	}
	var b strings.Builder
	line := func(label string, format string, args ...any) {
		b.WriteString(fmt.Sprintf("  %-22s "+format+"\n", append([]any{label}, args...)...))
	}
	b.WriteString(fmt.Sprintf("===== %s (%s ~ %s) =====\n", result.StrategyName, result.StartDate, result.EndDate))
	line("初始资金", "%.2f", result.InitialCapital)
	line("期末资金", "%.2f", result.FinalEquity)
	line("总收益率", "%.2f%%", result.TotalReturn)
	line("最大回撤", "%.2f%%", result.MaxDrawdown)
	line("夏普比率", "%.2f", result.SharpeRatio)
	line("平仓笔数", "%d (入场 %d 次)", result.TotalTrades, result.UniqueEntries)
	line("胜率", "%.2f%% (%dW / %dL)", result.WinRate, result.WinningTrades, result.LosingTrades)
	line("盈亏因子", "%.2f", result.ProfitFactor)
	line("平均盈亏比", "%.2f", result.AvgRR)
	line("平均盈利/亏损", "%.2f / %.2f", result.AvgWin, result.AvgLoss)
	line("最大单笔盈利/亏损", "%.2f / %.2f", result.LargestWin, result.LargestLoss)
	line("最长连胜/连亏", "%d / %d", result.MaxConsecutiveWins, result.MaxConsecutiveLosses)
	line("实现点数", "%.2f (回撤 %.2f)", result.RealizedPoints, result.MaxDrawdownPoints)
	line("手续费合计", "%.2f", result.TotalCommissions)
	if len(result.ExitReasonStats) > 0 {
		b.WriteString("  离场原因分布:\n")
		for _, reason := range []string{
			backtest.ReasonTP1, backtest.ReasonTP2, backtest.ReasonTP3,
			backtest.ReasonSL, backtest.ReasonBreakeven, backtest.ReasonExit,
			backtest.ReasonForceCloseEOD, backtest.ReasonEarlyClose,
		} {
			if n, ok := result.ExitReasonStats[reason]; ok && n > 0 {
				b.WriteString(fmt.Sprintf("    %-16s %d\n", reason, n))
			}
		}
	}
	return b.String()
}
