package strategy

import "qmt-trader/internal/market"

// Signal 为策略对单根K线给出的交易信号。
type Signal string

const (
	SignalHold Signal = "hold"
	SignalBuy  Signal = "buy"
	SignalSell Signal = "sell"
)

// Strategy 定义策略能力契约。
//
// 引擎在连接前调用一次 Initialize，对每根规范化K线同步调用一次 OnBar
// （同一策略不会被并发调用），关停时恰好调用一次 Stop。
// 策略可以在调用之间持有私有状态（如指标滚动窗口）。
type Strategy interface {
	Initialize() error
	OnBar(bar market.Bar) (Signal, error)
	Stop() error
}
