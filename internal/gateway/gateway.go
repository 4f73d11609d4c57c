package gateway

import (
	"context"
	"fmt"
)

// OrderSide 表示委托方向。
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Position 为网关持仓快照，引擎每次决策前重新拉取，从不缓存。
type Position struct {
	Symbol      string
	Volume      float64
	OpenPrice   float64
	MarketValue float64
}

// Asset 为网关资金快照。
type Asset struct {
	Cash        float64
	MarketValue float64
	TotalAsset  float64
}

// Order 为一笔待提交委托。
type Order struct {
	Symbol   string
	Price    float64
	Quantity float64
	Side     OrderSide
	Tag      string
}

// MarketDataCallback 由网关在行情到达时调用，可能运行在网关自己的协程上。
type MarketDataCallback func(symbol string, payload interface{})

// Error 表示网关调用失败，Code 对应网关返回码（0 为成功）。
type Error struct {
	Op   string
	Code int
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gateway: %s 失败 (code=%d): %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("gateway: %s 失败 (code=%d)", e.Op, e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Gateway 抽象交易终端提供的连接、行情与交易原语。
//
// 所有调用均为同步往返，允许阻塞调用方；行情回调可能与调用方并发执行。
type Gateway interface {
	Connect(ctx context.Context) error
	SubscribeAccount(ctx context.Context, accountID string) error
	SubscribeMarketData(symbol, period string, cb MarketDataCallback) error
	Positions(ctx context.Context) ([]Position, error)
	Asset(ctx context.Context) (Asset, error)
	SubmitOrder(ctx context.Context, order Order) (string, error)
	Close() error
}
