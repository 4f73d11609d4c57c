package record

import "time"

// EventType 表示引擎事件类型。
type EventType string

const (
	EventBar    EventType = "bar"
	EventSignal EventType = "signal"
	EventOrder  EventType = "order"
	EventError  EventType = "error"
)

// Event 封装通用引擎事件。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// HistoryPoint 为一次决策时的账户切片，供报表消费。
type HistoryPoint struct {
	Timestamp      time.Time `json:"timestamp"`
	Symbol         string    `json:"symbol"`
	Cash           float64   `json:"cash"`
	MarketValue    float64   `json:"market_value"`
	TotalAsset     float64   `json:"total_asset"`
	PositionVolume float64   `json:"position_volume"`
}

// TradeRecord 为一笔已提交委托的记录，卖出时带已实现盈亏。
type TradeRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	Price     float64   `json:"price"`
	Quantity  float64   `json:"quantity"`
	PnL       float64   `json:"pnl"`
}

// Results 为报表消费方读取的键控表格序列。
type Results struct {
	History []HistoryPoint `json:"history"`
	Trades  []TradeRecord  `json:"trades"`
}
