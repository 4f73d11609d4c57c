package market

import "time"

// Bar 表示一根 OHLCV K线，构造后不再修改。
type Bar struct {
	Datetime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}
