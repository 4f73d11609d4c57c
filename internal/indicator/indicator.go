package indicator

import (
	"math"

	talib "github.com/markcheno/go-talib"
)

// RSI 返回给定收盘序列的最新 RSI 值，数据不足时返回 NaN。
func RSI(closes []float64, period int) float64 {
	if period < 2 || len(closes) <= period {
		return math.NaN()
	}
	return Last(talib.Rsi(closes, period))
}

// SMA 返回最新的简单均线值，数据不足时返回 NaN。
func SMA(closes []float64, period int) float64 {
	if period < 1 || len(closes) < period {
		return math.NaN()
	}
	return Last(talib.Sma(closes, period))
}

// Last 返回序列最后一个值，若为空则返回 NaN。
func Last(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	return values[len(values)-1]
}

// Prev 返回序列倒数第二个值，若不足两个元素则返回 NaN。
func Prev(values []float64) float64 {
	if len(values) < 2 {
		return math.NaN()
	}
	return values[len(values)-2]
}

// Tail 返回序列末尾 n 个值，不足时返回全部拷贝。
func Tail(values []float64, n int) []float64 {
	if n <= 0 || len(values) == 0 {
		return nil
	}
	if len(values) <= n {
		dst := make([]float64, len(values))
		copy(dst, values)
		return dst
	}
	dst := make([]float64, n)
	copy(dst, values[len(values)-n:])
	return dst
}
