package market

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// msEpochThreshold 为时间戳单位推断的分界：大于等于 1e10 的时间戳按毫秒解释，
// 否则按秒解释。分界值本身（1e10）落在毫秒一侧。
const msEpochThreshold = 1e10

// ErrSkipPayload 表示行情数据为空或与当前订阅无关，直接跳过，不算异常。
var ErrSkipPayload = errors.New("market: 行情数据跳过")

// FormatError 表示行情数据格式无法识别或字段残缺，上层应按警告处理并继续。
type FormatError struct {
	Symbol string
	Reason string
	Raw    interface{}
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("market: %s 行情格式异常: %s", e.Symbol, e.Reason)
}

// Normalizer 将网关推送的异构行情载荷转换为规范化 Bar。
type Normalizer struct {
	symbols map[string]struct{}
	logger  *zap.Logger
	now     func() time.Time
}

// NewNormalizer 创建 Normalizer，只接受订阅列表内的标的。
func NewNormalizer(symbols []string, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}

	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		set[strings.TrimSpace(s)] = struct{}{}
	}

	return &Normalizer{
		symbols: set,
		logger:  logger,
		now:     time.Now,
	}
}

// Normalize 将原始载荷转换为 Bar。
//
// 列表形载荷按K线流处理：取最后一组 [timestamp, open, high, low, close, volume, ...]；
// 字典形载荷按 tick 处理：按字段名读取 lastPrice/open/high/low/volume/time。
// 空载荷、未订阅标的返回 ErrSkipPayload；字段残缺或形状不识别返回 *FormatError。
func (n *Normalizer) Normalize(symbol string, payload interface{}) (Bar, error) {
	if _, ok := n.symbols[symbol]; !ok {
		return Bar{}, fmt.Errorf("%w: 未订阅标的 %s", ErrSkipPayload, symbol)
	}

	if isEmptyPayload(payload) {
		return Bar{}, fmt.Errorf("%w: %s 载荷为空", ErrSkipPayload, symbol)
	}

	var (
		bar Bar
		err error
	)

	switch data := payload.(type) {
	case []interface{}:
		bar, err = n.fromBarStream(symbol, data)
	case [][]float64:
		rows := make([]interface{}, len(data))
		for i := range data {
			rows[i] = data[i]
		}
		bar, err = n.fromBarStream(symbol, rows)
	case map[string]interface{}:
		bar, err = n.fromTick(symbol, data)
	default:
		return Bar{}, &FormatError{
			Symbol: symbol,
			Reason: fmt.Sprintf("未识别的数据形状 %T", payload),
			Raw:    payload,
		}
	}
	if err != nil {
		return Bar{}, err
	}

	n.logger.Info("行情K线",
		zap.String("symbol", symbol),
		zap.Time("datetime", bar.Datetime),
		zap.Float64("open", bar.Open),
		zap.Float64("high", bar.High),
		zap.Float64("low", bar.Low),
		zap.Float64("close", bar.Close),
		zap.Float64("volume", bar.Volume),
	)

	return bar, nil
}

// fromBarStream 取最近一组K线元组并做数值转换。
func (n *Normalizer) fromBarStream(symbol string, rows []interface{}) (Bar, error) {
	if len(rows) == 0 {
		return Bar{}, fmt.Errorf("%w: %s K线流为空", ErrSkipPayload, symbol)
	}

	latest := rows[len(rows)-1]
	fields, ok := tupleFields(latest)
	if !ok {
		return Bar{}, &FormatError{
			Symbol: symbol,
			Reason: fmt.Sprintf("K线元组类型异常 %T", latest),
			Raw:    latest,
		}
	}
	if len(fields) < 6 {
		return Bar{}, &FormatError{
			Symbol: symbol,
			Reason: fmt.Sprintf("K线元组字段不足: %d", len(fields)),
			Raw:    latest,
		}
	}

	return Bar{
		Datetime: epochToTime(fields[0]),
		Open:     fields[1],
		High:     fields[2],
		Low:      fields[3],
		Close:    fields[4],
		Volume:   fields[5],
	}, nil
}

// fromTick 按字段名读取 tick 数据，lastPrice 缺失则跳过。
func (n *Normalizer) fromTick(symbol string, data map[string]interface{}) (Bar, error) {
	lastPrice := toFloat(data["lastPrice"])
	if lastPrice == 0 {
		return Bar{}, fmt.Errorf("%w: %s tick 缺少 lastPrice", ErrSkipPayload, symbol)
	}

	ts := toFloat(data["time"])
	if ts == 0 {
		ts = float64(n.now().UnixMilli())
	}

	return Bar{
		Datetime: epochToTime(ts),
		Open:     toFloat(data["open"]),
		High:     toFloat(data["high"]),
		Low:      toFloat(data["low"]),
		Close:    lastPrice,
		Volume:   toFloat(data["volume"]),
	}, nil
}

func isEmptyPayload(payload interface{}) bool {
	switch data := payload.(type) {
	case nil:
		return true
	case int:
		return data == 0
	case int64:
		return data == 0
	case float64:
		return data == 0
	case []interface{}:
		return len(data) == 0
	case [][]float64:
		return len(data) == 0
	case map[string]interface{}:
		return len(data) == 0
	default:
		return false
	}
}

func tupleFields(tuple interface{}) ([]float64, bool) {
	switch values := tuple.(type) {
	case []float64:
		return values, true
	case []interface{}:
		fields := make([]float64, len(values))
		for i, v := range values {
			fields[i] = toFloat(v)
		}
		return fields, true
	default:
		return nil, false
	}
}

// epochToTime 按 msEpochThreshold 推断时间戳单位并换算为本地时间。
func epochToTime(ts float64) time.Time {
	if ts >= msEpochThreshold {
		return time.UnixMilli(int64(ts))
	}
	return time.Unix(int64(ts), 0)
}

func toFloat(value interface{}) float64 {
	switch v := value.(type) {
	case nil:
		return 0
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case uint32:
		return float64(v)
	case uint64:
		return float64(v)
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return 0
}
