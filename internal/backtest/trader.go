package backtest

import (
	"backlab/internal/market"
)

// Direction 表示持仓方向。
type Direction int

const (
	Flat  Direction = 0
	Long  Direction = 1
	Short Direction = -1
)

// Position 是策略可见的仓位快照；数量与方向满足
// quantity == 0 ⇔ direction == Flat。
type Position struct {
	Direction  Direction `json:"direction"`
	EntryPrice float64   `json:"entry_price"`
	Quantity   int       `json:"quantity"`
	EntryTime  string    `json:"entry_time"`
}

// Trader 是订单与仓位状态机：持有唯一的待执行意图槽位，
// 在下一根 bar 开盘按滑点/手续费规则成交。策略只能通过它读仓位、
// 提交意图，不能直接改写状态。
type Trader struct {
	spec              market.InstrumentSpec
	commissionPerUnit float64
	slippageTicks     int

	pending *Intent

	direction  Direction
	entryPrice float64
	entryTime  string
	quantity   int

	equity           float64
	totalCommissions float64
	uniqueEntries    int
	trades           []Trade
}

func newTrader(spec market.InstrumentSpec, initialCapital, commissionPerUnit float64, slippageTicks int) *Trader {
	return &Trader{
		spec:              spec.Normalize(),
		commissionPerUnit: commissionPerUnit,
		slippageTicks:     slippageTicks,
		equity:            initialCapital,
	}
}

// SubmitIntent 存入待执行意图；未消费的旧意图被覆盖（单槽，无队列）。
func (t *Trader) SubmitIntent(it Intent) {
	t.pending = &it
}

// Buy 提交买入意图，下一根 bar 开盘成交。
func (t *Trader) Buy(quantity int, reason string) {
	t.SubmitIntent(Intent{Action: ActionBuy, Quantity: quantity, Reason: reason})
}

// Sell 提交卖出意图，下一根 bar 开盘成交。
func (t *Trader) Sell(quantity int, reason string) {
	t.SubmitIntent(Intent{Action: ActionSell, Quantity: quantity, Reason: reason})
}

// Position 返回当前仓位快照（只读）。
func (t *Trader) Position() Position {
	return Position{
		Direction:  t.direction,
		EntryPrice: t.entryPrice,
		Quantity:   t.quantity,
		EntryTime:  t.entryTime,
	}
}

// Direction 返回当前方向。
func (t *Trader) Direction() Direction { return t.direction }

// Quantity 返回剩余持仓数量。
func (t *Trader) Quantity() int { return t.quantity }

// EntryPrice 返回当前持仓的入场价；空仓时为 0。
func (t *Trader) EntryPrice() float64 { return t.entryPrice }

// Equity 返回已实现资金（不含浮动盈亏）。
func (t *Trader) Equity() float64 { return t.equity }

// Instrument 返回合约规格。
func (t *Trader) Instrument() market.InstrumentSpec { return t.spec }

func (t *Trader) applySlippage(price float64, sign int) float64 {
	if t.slippageTicks == 0 {
		return price
	}
	return price + float64(t.slippageTicks)*t.spec.TickSize*float64(sign)
}

// isPendingExit 判断待执行意图是否为持仓的反向退出单。
func (t *Trader) isPendingExit() bool {
	if t.pending == nil || t.direction == Flat {
		return false
	}
	return Direction(t.pending.directionSign()) == -t.direction
}

// fillPending 在 bar 开盘解析上一根 bar 留下的意图。
// 停牌窗口内仅放行退出单；入场意图保留到窗口结束（不丢弃）。
func (t *Trader) fillPending(bar market.Bar, inHalt bool, sizer func(capital, price float64) int) {
	if t.pending == nil {
		return
	}
	if inHalt && !t.isPendingExit() {
		return
	}
	it := *t.pending
	t.pending = nil

	switch {
	case t.direction != Flat:
		// 持仓中：仅识别退出闭集，入场信号静默丢弃（无反手、无加仓）。
		if !IsExitReason(it.Reason) {
			return
		}
		qty := it.Quantity
		if qty > t.quantity {
			qty = t.quantity
		}
		if qty <= 0 {
			return
		}
		t.exit(qty, bar.Open, it.Reason, bar.Timestamp)

	default:
		sign := it.directionSign()
		execPrice := t.applySlippage(bar.Open, sign)
		qty := it.Quantity
		if qty <= 0 && sizer != nil {
			qty = sizer(t.equity, execPrice)
		}
		if qty <= 0 {
			return
		}
		t.direction = Direction(sign)
		t.entryPrice = execPrice
		t.entryTime = bar.Timestamp
		t.quantity = qty

		entryCommission := t.commissionPerUnit * float64(qty)
		t.equity -= entryCommission
		t.totalCommissions += entryCommission
		t.uniqueEntries++
	}
}

// exit 统一处理部分与全部平仓：以退出方向的滑点调整价成交，
// 数量减到 0 即回到空仓。
func (t *Trader) exit(quantity int, rawPrice float64, reason, ts string) {
	sign := -int(t.direction)
	execPrice := t.applySlippage(rawPrice, sign)

	pnl := t.spec.PnL(t.entryPrice, execPrice, quantity, int(t.direction))
	exitCommission := t.commissionPerUnit * float64(quantity)
	pnl -= exitCommission
	t.totalCommissions += exitCommission
	t.equity += pnl

	pnlPercent := 0.0
	if t.entryPrice != 0 {
		pnlPercent = (execPrice - t.entryPrice) / t.entryPrice * float64(t.direction) * 100
	}
	t.trades = append(t.trades, Trade{
		EntryTime:  t.entryTime,
		ExitTime:   ts,
		EntryPrice: t.entryPrice,
		ExitPrice:  execPrice,
		Direction:  int(t.direction),
		Quantity:   quantity,
		PnL:        pnl,
		PnLPercent: pnlPercent,
		IsWin:      pnl > 0,
		ExitReason: reason,
	})

	t.quantity -= quantity
	if t.quantity <= 0 {
		t.direction = Flat
		t.entryPrice = 0
		t.entryTime = ""
		t.quantity = 0
	}
}

// forceClose 平掉全部剩余仓位（早收盘/收盘强平），绕过意图槽。
func (t *Trader) forceClose(rawPrice float64, reason, ts string) {
	if t.direction == Flat || t.quantity <= 0 {
		return
	}
	t.exit(t.quantity, rawPrice, reason, ts)
}
