package backtest

// Trade 记录一段 fill-to-fill 的平仓腿（部分或全部），创建后不可变。
type Trade struct {
	EntryTime  string  `json:"entry_time"`
	ExitTime   string  `json:"exit_time"`
	EntryPrice float64 `json:"entry_price"`
	ExitPrice  float64 `json:"exit_price"`
	Direction  int     `json:"direction"` // 1 多 / -1 空
	Quantity   int     `json:"quantity"`
	PnL        float64 `json:"pnl"`
	PnLPercent float64 `json:"pnl_percent"`
	IsWin      bool    `json:"is_win"`
	ExitReason string  `json:"exit_reason"`
}

// EquityPoint 是稀疏资金曲线上的一个点：仅在资金或方向变化时追加。
type EquityPoint struct {
	Timestamp string  `json:"timestamp"`
	Equity    float64 `json:"equity"`
	Direction int     `json:"trade_direction"`
}

// SessionStats 按交易时段聚合的胜率统计。
type SessionStats struct {
	Total   int     `json:"total"`
	Wins    int     `json:"wins"`
	Losses  int     `json:"losses"`
	WinRate float64 `json:"win_rate"`
}

// BacktestResult 汇总一次模拟的账本、资金曲线与派生指标。
// 纯数据对象，可直接序列化。
type BacktestResult struct {
	StrategyName   string  `json:"strategy_name"`
	StartDate      string  `json:"start_date"`
	EndDate        string  `json:"end_date"`
	InitialCapital float64 `json:"initial_capital"`

	FinalEquity float64 `json:"final_equity"`
	TotalReturn float64 `json:"total_return"`
	MaxDrawdown float64 `json:"max_drawdown"`
	SharpeRatio float64 `json:"sharpe_ratio"`

	TotalTrades      int     `json:"total_trades"`
	UniqueEntries    int     `json:"unique_entries"`
	WinningTrades    int     `json:"winning_trades"`
	LosingTrades     int     `json:"losing_trades"`
	WinRate          float64 `json:"win_rate"`
	AvgWin           float64 `json:"avg_win"`
	AvgLoss          float64 `json:"avg_loss"`
	ProfitFactor     float64 `json:"profit_factor"`
	AvgRR            float64 `json:"avg_rr"`
	TotalCommissions float64 `json:"total_commissions"`

	MaxConsecutiveWins   int     `json:"max_consecutive_wins"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"`
	LargestWin           float64 `json:"largest_win"`
	LargestLoss          float64 `json:"largest_loss"`

	RealizedPoints    float64 `json:"realized_points"`
	MaxDrawdownPoints float64 `json:"max_drawdown_points"`

	SessionStats    map[string]SessionStats `json:"session_stats"`
	HourlyStats     map[int]SessionStats    `json:"hourly_stats"`
	ExitReasonStats map[string]int          `json:"exit_reason_stats"`

	EquityCurve []EquityPoint `json:"equity_curve"`
	Trades      []Trade       `json:"trades"`
}

// TrialMetrics 是优化器每个 trial 记录的指标子集。
type TrialMetrics struct {
	TotalReturn  float64 `json:"total_return"`
	SharpeRatio  float64 `json:"sharpe_ratio"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	WinRate      float64 `json:"win_rate"`
	ProfitFactor float64 `json:"profit_factor"`
	TotalTrades  int     `json:"total_trades"`
	AvgWin       float64 `json:"avg_win"`
	AvgLoss      float64 `json:"avg_loss"`
	AvgRR        float64 `json:"avg_rr"`
	FinalEquity  float64 `json:"final_equity"`
}

// SelectedMetrics 提取优化排序所需指标。
func (r *BacktestResult) SelectedMetrics() TrialMetrics {
	return TrialMetrics{
		TotalReturn:  r.TotalReturn,
		SharpeRatio:  r.SharpeRatio,
		MaxDrawdown:  r.MaxDrawdown,
		WinRate:      r.WinRate,
		ProfitFactor: r.ProfitFactor,
		TotalTrades:  r.TotalTrades,
		AvgWin:       r.AvgWin,
		AvgLoss:      r.AvgLoss,
		AvgRR:        r.AvgRR,
		FinalEquity:  r.FinalEquity,
	}
}

// Metric 按名称取值；未知名称返回 0 与 false。
func (m TrialMetrics) Metric(name string) (float64, bool) {
	switch name {
	case "total_return":
		return m.TotalReturn, true
	case "sharpe_ratio":
		return m.SharpeRatio, true
	case "max_drawdown":
		return m.MaxDrawdown, true
	case "win_rate":
		return m.WinRate, true
	case "profit_factor":
		return m.ProfitFactor, true
	case "total_trades":
		return float64(m.TotalTrades), true
	case "avg_win":
		return m.AvgWin, true
	case "avg_loss":
		return m.AvgLoss, true
	case "avg_rr":
		return m.AvgRR, true
	case "final_equity":
		return m.FinalEquity, true
	default:
		return 0, false
	}
}
