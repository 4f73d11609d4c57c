package execution

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"qmt-trader/internal/gateway"
)

// Manager 是网关交易原语的唯一出入口：资金与持仓每次查询都是一次
// 新的网关往返，委托提交后不追踪成交状态（fire-and-forget）。
type Manager struct {
	gw     gateway.Gateway
	logger *zap.Logger
}

// NewManager 创建订单管理器。
func NewManager(gw gateway.Gateway, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		gw:     gw,
		logger: logger,
	}
}

// Positions 查询当前持仓，每次调用都是一次新的网关往返。
func (m *Manager) Positions(ctx context.Context) ([]gateway.Position, error) {
	positions, err := m.gw.Positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询持仓失败: %w", err)
	}
	return positions, nil
}

// Asset 查询当前资金，每次调用都是一次新的网关往返。
func (m *Manager) Asset(ctx context.Context) (gateway.Asset, error) {
	asset, err := m.gw.Asset(ctx)
	if err != nil {
		return gateway.Asset{}, fmt.Errorf("查询资金失败: %w", err)
	}
	return asset, nil
}

// Buy 提交买入委托。
func (m *Manager) Buy(ctx context.Context, symbol string, price, quantity float64, tag string) (string, error) {
	return m.submit(ctx, gateway.Order{
		Symbol:   symbol,
		Price:    price,
		Quantity: quantity,
		Side:     gateway.OrderSideBuy,
		Tag:      tag,
	})
}

// Sell 提交卖出委托。
func (m *Manager) Sell(ctx context.Context, symbol string, price, quantity float64, tag string) (string, error) {
	return m.submit(ctx, gateway.Order{
		Symbol:   symbol,
		Price:    price,
		Quantity: quantity,
		Side:     gateway.OrderSideSell,
		Tag:      tag,
	})
}

// Submit 按委托意图提交。提交失败只记录，不重试，也不回滚任何本地状态
// （本地不持有任何权威状态，下次决策前会重新查询资金与持仓）。
func (m *Manager) Submit(ctx context.Context, intent *OrderIntent) (string, error) {
	if intent == nil {
		return "", nil
	}
	return m.submit(ctx, gateway.Order{
		Symbol:   intent.Symbol,
		Price:    intent.Price,
		Quantity: intent.Quantity,
		Side:     intent.Side,
		Tag:      intent.Tag,
	})
}

func (m *Manager) submit(ctx context.Context, order gateway.Order) (string, error) {
	ack, err := m.gw.SubmitOrder(ctx, order)
	if err != nil {
		m.logger.Error("委托提交失败",
			zap.String("symbol", order.Symbol),
			zap.String("side", string(order.Side)),
			zap.Float64("price", order.Price),
			zap.Float64("quantity", order.Quantity),
			zap.Error(err),
		)
		return "", fmt.Errorf("提交委托失败: %w", err)
	}

	m.logger.Info("委托已提交",
		zap.String("order_id", ack),
		zap.String("symbol", order.Symbol),
		zap.String("side", string(order.Side)),
		zap.Float64("price", order.Price),
		zap.Float64("quantity", order.Quantity),
		zap.String("tag", order.Tag),
	)
	return ack, nil
}
