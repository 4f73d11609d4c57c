package strategy

import (
	"math"

	"go.uber.org/zap"

	"qmt-trader/internal/config"
	"qmt-trader/internal/indicator"
	"qmt-trader/internal/market"
)

// RSI 为经典超买超卖策略：RSI 跌破 oversold 给出买入信号，
// 升破 overbought 给出卖出信号，其余情况观望。
type RSI struct {
	period     int
	overbought float64
	oversold   float64
	logger     *zap.Logger

	closes []float64
}

// NewRSI 创建 RSI 策略。
func NewRSI(cfg config.RSIConfig, logger *zap.Logger) *RSI {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Period < 2 {
		cfg.Period = 14
	}
	if cfg.Overbought <= 0 {
		cfg.Overbought = 70
	}
	if cfg.Oversold <= 0 {
		cfg.Oversold = 30
	}

	return &RSI{
		period:     cfg.Period,
		overbought: cfg.Overbought,
		oversold:   cfg.Oversold,
		logger:     logger,
	}
}

// Initialize 重置指标窗口。
func (s *RSI) Initialize() error {
	s.closes = s.closes[:0]
	s.logger.Info("RSI策略初始化",
		zap.Int("period", s.period),
		zap.Float64("overbought", s.overbought),
		zap.Float64("oversold", s.oversold),
	)
	return nil
}

// OnBar 更新收盘窗口并给出信号。窗口不足一个周期加一时观望。
func (s *RSI) OnBar(bar market.Bar) (Signal, error) {
	s.closes = append(s.closes, bar.Close)
	maxWindow := s.period * 10
	if len(s.closes) > maxWindow {
		s.closes = s.closes[len(s.closes)-maxWindow:]
	}

	value := indicator.RSI(s.closes, s.period)
	if math.IsNaN(value) {
		return SignalHold, nil
	}

	switch {
	case value <= s.oversold:
		s.logger.Debug("RSI超卖", zap.Float64("rsi", value))
		return SignalBuy, nil
	case value >= s.overbought:
		s.logger.Debug("RSI超买", zap.Float64("rsi", value))
		return SignalSell, nil
	default:
		return SignalHold, nil
	}
}

// Stop 无需清理。
func (s *RSI) Stop() error {
	s.logger.Info("RSI策略已停止")
	return nil
}

var _ Strategy = (*RSI)(nil)
