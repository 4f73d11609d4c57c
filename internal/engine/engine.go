package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"qmt-trader/internal/execution"
	"qmt-trader/internal/gateway"
	"qmt-trader/internal/market"
	"qmt-trader/internal/record"
	"qmt-trader/internal/session"
	"qmt-trader/internal/strategy"
)

// Options 聚合引擎依赖与运行参数。
type Options struct {
	AccountID      string
	Symbols        []string
	Period         string
	PollInterval   time.Duration
	QueueSize      int
	StatusInterval time.Duration

	Gateway  gateway.Gateway
	Strategy strategy.Strategy
	Policy   *execution.Policy
	Recorder *record.Recorder // 可为 nil，关闭持久化
	Logger   *zap.Logger
}

type update struct {
	symbol     string
	payload    interface{}
	receivedAt time.Time
}

// Engine 将行情回调串成单消费者队列，依次经过规范化、策略、执行策略与
// 订单管理器。所有“查资金/持仓→提交委托”序列由唯一的消费协程串行执行，
// 进程内不会自我交错；网关侧状态仍以网关为准，检查与提交之间的
// 过期风险由每次决策前的重新查询兜底。
type Engine struct {
	opts       Options
	logger     *zap.Logger
	session    *session.Session
	normalizer *market.Normalizer
	policy     *execution.Policy
	orders     *execution.Manager
	recorder   *record.Recorder

	updates  chan update
	done     chan struct{}
	doneOnce sync.Once
}

// New 创建引擎。
func New(opts Options) (*Engine, error) {
	if opts.Gateway == nil {
		return nil, errors.New("engine: gateway 不能为空")
	}
	if opts.Strategy == nil {
		return nil, errors.New("engine: strategy 不能为空")
	}
	if len(opts.Symbols) == 0 {
		return nil, errors.New("engine: 至少订阅一个标的")
	}
	if opts.Period == "" {
		return nil, errors.New("engine: period 不能为空")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Policy == nil {
		opts.Policy = execution.NewPolicy(0, "", opts.Logger)
	}

	return &Engine{
		opts:       opts,
		logger:     opts.Logger,
		session:    session.New(opts.AccountID, opts.Gateway, opts.Strategy, opts.Logger),
		normalizer: market.NewNormalizer(opts.Symbols, opts.Logger),
		policy:     opts.Policy,
		orders:     execution.NewManager(opts.Gateway, opts.Logger),
		recorder:   opts.Recorder,
		updates:    make(chan update, opts.QueueSize),
		done:       make(chan struct{}),
	}, nil
}

// Session 返回会话，供外部检视状态。
func (e *Engine) Session() *session.Session {
	return e.session
}

// Connect 初始化策略并建立网关会话。连接失败向调用方返回错误，
// 不自动重试，也不进入运行状态。
func (e *Engine) Connect(ctx context.Context) error {
	e.logger.Info("初始化策略")
	if err := e.opts.Strategy.Initialize(); err != nil {
		return fmt.Errorf("初始化策略失败: %w", err)
	}
	return e.session.Connect(ctx)
}

// Start 订阅行情并进入主循环，阻塞直至 ctx 取消或 Stop 被调用。
// 若尚未连接则先隐式调用 Connect。
func (e *Engine) Start(ctx context.Context) error {
	if e.session.Status() != session.StatusSubscribed {
		if err := e.Connect(ctx); err != nil {
			return err
		}
	}

	for _, symbol := range e.opts.Symbols {
		e.logger.Info("订阅行情",
			zap.String("symbol", symbol),
			zap.String("period", e.opts.Period),
		)
		if err := e.opts.Gateway.SubscribeMarketData(symbol, e.opts.Period, e.onMarketData); err != nil {
			return fmt.Errorf("订阅行情失败 (%s): %w", symbol, err)
		}
	}

	if err := e.session.MarkRunning(); err != nil {
		return err
	}
	e.logger.Info("引擎进入运行状态", zap.String("session_id", e.session.ID()))

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return e.consumeLoop(groupCtx)
	})
	group.Go(func() error {
		return e.waitLoop(groupCtx)
	})

	err := group.Wait()

	// 无论因何退出，都尽力完成一次有序停止。
	if stopErr := e.Stop(); stopErr != nil && !errors.Is(stopErr, session.ErrInvalidTransition) {
		e.logger.Warn("停止引擎时出现异常", zap.Error(stopErr))
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Stop 停止引擎。幂等，可从任意协程调用，主循环在一个轮询周期内观察到。
func (e *Engine) Stop() error {
	e.doneOnce.Do(func() {
		close(e.done)
	})
	return e.session.Stop()
}

// onMarketData 由网关在行情到达时调用，可能运行在网关自己的协程上。
// 更新入队保持到达顺序；引擎停止后丢弃。
func (e *Engine) onMarketData(symbol string, payload interface{}) {
	select {
	case <-e.done:
	case e.updates <- update{symbol: symbol, payload: payload, receivedAt: time.Now()}:
	}
}

// consumeLoop 是唯一的决策消费者：同一时间只处理一条更新，
// 单个标的的更新严格按到达顺序处理。
func (e *Engine) consumeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.done:
			return nil
		case u := <-e.updates:
			e.processUpdate(ctx, u)
		}
	}
}

// waitLoop 是主循环唯一的阻塞点：按轮询间隔检查停止条件，
// 并周期性输出资产组合状态。
func (e *Engine) waitLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()

	var statusTicker *time.Ticker
	var statusC <-chan time.Time
	if e.opts.StatusInterval > 0 {
		statusTicker = time.NewTicker(e.opts.StatusInterval)
		defer statusTicker.Stop()
		statusC = statusTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.done:
			return nil
		case <-ticker.C:
			if e.session.Status() == session.StatusStopped {
				return nil
			}
		case <-statusC:
			e.logPortfolioStatus(ctx)
		}
	}
}

// processUpdate 处理一条行情更新。任何失败（格式、策略、网关、panic）
// 都只影响本次更新：记录后继续处理后续更新，绝不中断会话。
func (e *Engine) processUpdate(ctx context.Context, u update) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("处理行情更新时发生panic",
				zap.String("symbol", u.symbol),
				zap.Any("raw_payload", u.payload),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			if e.recorder != nil {
				e.recorder.RecordError(ctx, "处理行情更新panic", fmt.Errorf("%v", r),
					map[string]interface{}{"symbol": u.symbol})
			}
		}
	}()

	bar, err := e.normalizer.Normalize(u.symbol, u.payload)
	if err != nil {
		var formatErr *market.FormatError
		switch {
		case errors.Is(err, market.ErrSkipPayload):
			e.logger.Debug("跳过行情更新", zap.String("symbol", u.symbol), zap.Error(err))
		case errors.As(err, &formatErr):
			e.logger.Warn("行情格式异常，跳过",
				zap.String("symbol", u.symbol),
				zap.Any("raw_payload", u.payload),
				zap.Error(err),
			)
			if e.recorder != nil {
				e.recorder.RecordError(ctx, "行情格式异常", err,
					map[string]interface{}{"symbol": u.symbol})
			}
		default:
			e.logger.Warn("行情规范化失败", zap.String("symbol", u.symbol), zap.Error(err))
		}
		return
	}

	if e.recorder != nil {
		e.recorder.RecordEvent(ctx, record.EventBar, map[string]interface{}{
			"symbol": u.symbol,
			"bar":    bar,
		})
	}

	signal, err := e.opts.Strategy.OnBar(bar)
	if err != nil {
		stratErr := &StrategyError{Symbol: u.symbol, Err: err}
		e.logger.Error("策略执行失败",
			zap.String("symbol", u.symbol),
			zap.Any("raw_payload", u.payload),
			zap.Error(stratErr),
		)
		if e.recorder != nil {
			e.recorder.RecordError(ctx, "策略执行失败", stratErr,
				map[string]interface{}{"symbol": u.symbol})
		}
		return
	}

	if signal == strategy.SignalHold {
		return
	}

	e.logger.Info("收到交易信号",
		zap.String("symbol", u.symbol),
		zap.String("signal", string(signal)),
		zap.Float64("price", bar.Close),
	)
	if e.recorder != nil {
		e.recorder.RecordEvent(ctx, record.EventSignal, map[string]interface{}{
			"symbol": u.symbol,
			"signal": string(signal),
			"price":  bar.Close,
		})
	}

	e.executeSignal(ctx, u.symbol, signal, bar.Close)
}

// executeSignal 在提交前重新拉取资金与持仓快照，决策后立即提交，
// 不在检查与提交之间保留任何本地预占。
func (e *Engine) executeSignal(ctx context.Context, symbol string, signal strategy.Signal, price float64) {
	positions, err := e.orders.Positions(ctx)
	if err != nil {
		e.recordGatewayError(ctx, "fetch_positions", symbol, err)
		return
	}
	asset, err := e.orders.Asset(ctx)
	if err != nil {
		e.recordGatewayError(ctx, "fetch_asset", symbol, err)
		return
	}

	if e.recorder != nil {
		e.recorder.RecordSnapshot(ctx, record.HistoryPoint{
			Timestamp:      time.Now().UTC(),
			Symbol:         symbol,
			Cash:           asset.Cash,
			MarketValue:    asset.MarketValue,
			TotalAsset:     asset.TotalAsset,
			PositionVolume: positionVolume(symbol, positions),
		})
	}

	intent := e.policy.Decide(signal, symbol, price, positions, asset)
	if intent == nil {
		return
	}

	ack, err := e.orders.Submit(ctx, intent)
	if err != nil {
		// 提交失败只记录，不重试；下次决策会重新查询资金与持仓。
		e.recordGatewayError(ctx, "submit_order", symbol, err)
		return
	}

	if e.recorder != nil {
		e.recorder.RecordEvent(ctx, record.EventOrder, map[string]interface{}{
			"order_id": ack,
			"symbol":   intent.Symbol,
			"side":     string(intent.Side),
			"price":    intent.Price,
			"quantity": intent.Quantity,
			"tag":      intent.Tag,
		})
		e.recorder.RecordTrade(ctx, record.TradeRecord{
			Timestamp: time.Now().UTC(),
			Symbol:    intent.Symbol,
			Side:      string(intent.Side),
			Price:     intent.Price,
			Quantity:  intent.Quantity,
			PnL:       realizedPnL(intent, positions),
		})
	}
}

func (e *Engine) recordGatewayError(ctx context.Context, op, symbol string, err error) {
	gwErr := &GatewayError{Op: op, Symbol: symbol, Err: err}
	e.logger.Error("决策路径网关调用失败",
		zap.String("symbol", symbol),
		zap.String("operation", op),
		zap.Error(gwErr),
	)
	if e.recorder != nil {
		e.recorder.RecordError(ctx, "网关调用失败", gwErr,
			map[string]interface{}{"symbol": symbol, "operation": op})
	}
}

// logPortfolioStatus 输出当前资产组合状态，仅用于观察。
func (e *Engine) logPortfolioStatus(ctx context.Context) {
	asset, err := e.orders.Asset(ctx)
	if err != nil {
		e.logger.Warn("查询资产状态失败", zap.Error(err))
		return
	}
	e.logger.Info("资产组合状态",
		zap.Float64("cash", asset.Cash),
		zap.Float64("market_value", asset.MarketValue),
		zap.Float64("total_asset", asset.TotalAsset),
	)

	positions, err := e.orders.Positions(ctx)
	if err != nil {
		e.logger.Warn("查询持仓状态失败", zap.Error(err))
		return
	}
	for _, pos := range positions {
		e.logger.Info("持仓",
			zap.String("symbol", pos.Symbol),
			zap.Float64("volume", pos.Volume),
			zap.Float64("pnl", pos.MarketValue-pos.OpenPrice*pos.Volume),
		)
	}
}

func positionVolume(symbol string, positions []gateway.Position) float64 {
	for _, pos := range positions {
		if pos.Symbol == symbol {
			return pos.Volume
		}
	}
	return 0
}

// realizedPnL 对卖出委托按快照里的开仓均价估算已实现盈亏。
func realizedPnL(intent *execution.OrderIntent, positions []gateway.Position) float64 {
	if intent.Side != gateway.OrderSideSell {
		return 0
	}
	for _, pos := range positions {
		if pos.Symbol == intent.Symbol && pos.OpenPrice > 0 {
			return (intent.Price - pos.OpenPrice) * intent.Quantity
		}
	}
	return 0
}
