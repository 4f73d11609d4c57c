package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"qmt-trader/internal/config"
)

// Sim 是内存撮合的纸面交易网关：委托即时成交，行情为随机游走合成K线。
type Sim struct {
	cfg    config.SimConfig
	logger *zap.Logger

	mu        sync.Mutex
	cash      float64
	positions map[string]*simPosition
	lastPrice map[string]float64

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	orderSeq  atomic.Int64
	rng       *rand.Rand
}

type simPosition struct {
	volume    float64
	openPrice float64
}

// NewSim 创建纸面交易网关。
func NewSim(cfg config.SimConfig, logger *zap.Logger) *Sim {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.InitialCash <= 0 {
		cfg.InitialCash = 1000000
	}
	if cfg.StartPrice <= 0 {
		cfg.StartPrice = 3.0
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}

	return &Sim{
		cfg:       cfg,
		logger:    logger,
		cash:      cfg.InitialCash,
		positions: make(map[string]*simPosition),
		lastPrice: make(map[string]float64),
		done:      make(chan struct{}),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Connect 对纸面网关恒为成功。
func (s *Sim) Connect(ctx context.Context) error {
	s.logger.Info("纸面网关已连接", zap.Float64("initial_cash", s.cfg.InitialCash))
	return nil
}

// SubscribeAccount 纸面网关无账户校验。
func (s *Sim) SubscribeAccount(ctx context.Context, accountID string) error {
	s.logger.Info("纸面网关订阅账户", zap.String("account_id", accountID))
	return nil
}

// SubscribeMarketData 启动合成行情推送，载荷为列表形K线流。
func (s *Sim) SubscribeMarketData(symbol, period string, cb MarketDataCallback) error {
	s.mu.Lock()
	if _, ok := s.lastPrice[symbol]; !ok {
		s.lastPrice[symbol] = s.cfg.StartPrice
	}
	s.mu.Unlock()

	s.wg.Add(1)
	go s.feed(symbol, cb)
	return nil
}

func (s *Sim) feed(symbol string, cb MarketDataCallback) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			cb(symbol, s.nextBar(symbol))
		}
	}
}

// nextBar 以上一价为中心做随机游走，生成一组K线元组。
func (s *Sim) nextBar(symbol string) []interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.lastPrice[symbol]
	drift := prev * (s.rng.Float64() - 0.5) * 0.01
	close := prev + drift
	if close <= 0 {
		close = prev
	}
	high := maxFloat(prev, close) * 1.002
	low := minFloat(prev, close) * 0.998
	volume := 5000 + s.rng.Float64()*10000

	s.lastPrice[symbol] = close

	return []interface{}{
		[]float64{float64(time.Now().UnixMilli()), prev, high, low, close, volume},
	}
}

// Positions 返回当前持仓快照。
func (s *Sim) Positions(ctx context.Context) ([]Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	positions := make([]Position, 0, len(s.positions))
	for symbol, pos := range s.positions {
		price := s.lastPrice[symbol]
		if price <= 0 {
			price = pos.openPrice
		}
		positions = append(positions, Position{
			Symbol:      symbol,
			Volume:      pos.volume,
			OpenPrice:   pos.openPrice,
			MarketValue: pos.volume * price,
		})
	}
	return positions, nil
}

// Asset 返回现金与市值快照。
func (s *Sim) Asset(ctx context.Context) (Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	marketValue := 0.0
	for symbol, pos := range s.positions {
		price := s.lastPrice[symbol]
		if price <= 0 {
			price = pos.openPrice
		}
		marketValue += pos.volume * price
	}

	return Asset{
		Cash:        s.cash,
		MarketValue: marketValue,
		TotalAsset:  s.cash + marketValue,
	}, nil
}

// SubmitOrder 即时按委托价成交并更新现金与持仓。
func (s *Sim) SubmitOrder(ctx context.Context, order Order) (string, error) {
	if order.Price <= 0 || order.Quantity <= 0 {
		return "", &Error{Op: "submit_order", Code: 1, Err: fmt.Errorf("委托价格或数量无效: %+v", order)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	amount := order.Price * order.Quantity

	switch order.Side {
	case OrderSideBuy:
		if s.cash < amount {
			return "", &Error{Op: "submit_order", Code: 2, Err: fmt.Errorf("资金不足: cash=%.2f cost=%.2f", s.cash, amount)}
		}
		s.cash -= amount
		pos := s.positions[order.Symbol]
		if pos == nil {
			pos = &simPosition{}
			s.positions[order.Symbol] = pos
		}
		total := pos.volume + order.Quantity
		pos.openPrice = (pos.openPrice*pos.volume + amount) / total
		pos.volume = total
	case OrderSideSell:
		pos := s.positions[order.Symbol]
		if pos == nil || pos.volume < order.Quantity {
			return "", &Error{Op: "submit_order", Code: 3, Err: fmt.Errorf("持仓不足: %s", order.Symbol)}
		}
		s.cash += amount
		pos.volume -= order.Quantity
		if pos.volume <= 0 {
			delete(s.positions, order.Symbol)
		}
	default:
		return "", &Error{Op: "submit_order", Code: 4, Err: fmt.Errorf("未知委托方向 %q", order.Side)}
	}

	id := fmt.Sprintf("sim-%d", s.orderSeq.Add(1))
	s.logger.Info("纸面成交",
		zap.String("order_id", id),
		zap.String("symbol", order.Symbol),
		zap.String("side", string(order.Side)),
		zap.Float64("price", order.Price),
		zap.Float64("quantity", order.Quantity),
		zap.String("tag", order.Tag),
	)
	return id, nil
}

// Close 停止行情推送。
func (s *Sim) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
	return nil
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

var _ Gateway = (*Sim)(nil)
