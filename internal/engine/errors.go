package engine

import "fmt"

// StrategyError 表示策略在处理单根K线时失败，按单次更新失败恢复。
type StrategyError struct {
	Symbol string
	Err    error
}

func (e *StrategyError) Error() string {
	return fmt.Sprintf("engine: %s 策略执行失败: %v", e.Symbol, e.Err)
}

func (e *StrategyError) Unwrap() error {
	return e.Err
}

// GatewayError 表示决策路径上的网关调用失败，按单次更新失败恢复。
type GatewayError struct {
	Op     string
	Symbol string
	Err    error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("engine: %s %s 失败: %v", e.Symbol, e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}
