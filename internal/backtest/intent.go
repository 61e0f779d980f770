package backtest

// Action 表示意图方向。
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
)

// 退出原因闭集。携带这些原因的意图在停牌窗口内仍会被执行，
// 并且在持仓状态下按减仓处理（而非反手/加仓）。
const (
	ReasonEntry         = "ENTRY"
	ReasonTP1           = "TP1"
	ReasonTP2           = "TP2"
	ReasonTP3           = "TP3"
	ReasonSL            = "SL"
	ReasonBreakeven     = "BREAKEVEN"
	ReasonExit          = "EXIT"
	ReasonForceCloseEOD = "FORCE_CLOSE_EOD"
	ReasonEarlyClose    = "EARLY_CLOSE"
)

var exitReasons = map[string]bool{
	ReasonTP1:           true,
	ReasonTP2:           true,
	ReasonTP3:           true,
	ReasonSL:            true,
	ReasonBreakeven:     true,
	ReasonExit:          true,
	ReasonForceCloseEOD: true,
	ReasonEarlyClose:    true,
}

// IsExitReason 判断原因是否属于退出闭集。
func IsExitReason(reason string) bool { return exitReasons[reason] }

// Intent 是策略对下一根 bar 开盘价的一次交易请求。
// 同一时刻最多存在一个未消费的 Intent，新意图覆盖旧意图。
type Intent struct {
	Action   Action `json:"action"`
	Quantity int    `json:"quantity"`
	Reason   string `json:"reason,omitempty"`
}

func (it Intent) directionSign() int {
	if it.Action == ActionBuy {
		return 1
	}
	return -1
}
