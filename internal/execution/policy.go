package execution

import (
	"go.uber.org/zap"

	"qmt-trader/internal/gateway"
	"qmt-trader/internal/strategy"
)

// defaultLotSize 为买入信号的固定手数。
const defaultLotSize = 100

// OrderIntent 描述一笔待提交委托。
type OrderIntent struct {
	Symbol   string
	Side     gateway.OrderSide
	Price    float64
	Quantity float64
	Tag      string
}

// Policy 将策略信号映射为委托意图，只做现金与持仓校验，不含风险模型。
type Policy struct {
	lotSize float64
	tag     string
	logger  *zap.Logger
}

// NewPolicy 创建执行策略。lotSize 不合法时回落到固定 100 手。
func NewPolicy(lotSize float64, tag string, logger *zap.Logger) *Policy {
	if logger == nil {
		logger = zap.NewNop()
	}
	if lotSize <= 0 {
		lotSize = defaultLotSize
	}
	return &Policy{
		lotSize: lotSize,
		tag:     tag,
		logger:  logger,
	}
}

// Decide 根据信号与最新资金/持仓快照给出委托意图，无动作时返回 nil。
//
// buy: 固定手数，成本 = price × lotSize，仅当 cash 严格大于成本时下单；
// sell: 清空当前持仓全部数量，无持仓则不动作；
// hold 及未识别信号: 不动作。
func (p *Policy) Decide(signal strategy.Signal, symbol string, price float64, positions []gateway.Position, asset gateway.Asset) *OrderIntent {
	switch signal {
	case strategy.SignalHold:
		return nil

	case strategy.SignalBuy:
		cost := price * p.lotSize
		if asset.Cash > cost {
			return &OrderIntent{
				Symbol:   symbol,
				Side:     gateway.OrderSideBuy,
				Price:    price,
				Quantity: p.lotSize,
				Tag:      p.tag,
			}
		}
		p.logger.Warn("现金不足，放弃买入",
			zap.String("symbol", symbol),
			zap.Float64("cash", asset.Cash),
			zap.Float64("cost", cost),
		)
		return nil

	case strategy.SignalSell:
		volume := holdingVolume(symbol, positions)
		if volume > 0 {
			return &OrderIntent{
				Symbol:   symbol,
				Side:     gateway.OrderSideSell,
				Price:    price,
				Quantity: volume,
				Tag:      p.tag,
			}
		}
		p.logger.Warn("无持仓可卖", zap.String("symbol", symbol))
		return nil

	default:
		p.logger.Warn("未识别的信号，忽略",
			zap.String("symbol", symbol),
			zap.String("signal", string(signal)),
		)
		return nil
	}
}

func holdingVolume(symbol string, positions []gateway.Position) float64 {
	for _, pos := range positions {
		if pos.Symbol == symbol {
			return pos.Volume
		}
	}
	return 0
}
