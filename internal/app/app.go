package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"qmt-trader/internal/config"
	"qmt-trader/internal/engine"
	"qmt-trader/internal/execution"
	"qmt-trader/internal/gateway"
	"qmt-trader/internal/record"
	"qmt-trader/internal/store"
	"qmt-trader/internal/strategy"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 按配置组装网关、策略与引擎，在交易时段内运行主循环，
// 阻塞直至 ctx 取消或当日收盘。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("交易系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("gateway", a.cfg.Gateway.Name),
		zap.String("strategy", a.cfg.Strategy.Name),
		zap.Strings("symbols", a.cfg.Trading.Symbols),
	)

	hours := NewMarketHours(a.cfg.MarketHours, a.logger)
	open, err := hours.WaitForOpen(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			a.logger.Info("等待开盘期间收到退出信号")
			return nil
		}
		return err
	}
	if !open {
		a.logger.Info("当日已收盘，不再启动交易")
		return nil
	}

	gw, err := a.buildGateway()
	if err != nil {
		return err
	}

	strat, err := a.buildStrategy()
	if err != nil {
		return err
	}

	var recorder *record.Recorder
	if a.store != nil {
		recorder, err = record.NewRecorder(a.store, a.logger)
		if err != nil {
			return err
		}
	}

	eng, err := engine.New(engine.Options{
		AccountID:      a.cfg.Gateway.AccountID,
		Symbols:        a.cfg.Trading.Symbols,
		Period:         a.cfg.Trading.Period,
		PollInterval:   a.cfg.Engine.PollInterval,
		QueueSize:      a.cfg.Engine.QueueSize,
		StatusInterval: a.cfg.Engine.StatusInterval,
		Gateway:        gw,
		Strategy:       strat,
		Policy:         execution.NewPolicy(a.cfg.Trading.LotSize, a.cfg.Trading.OrderTag, a.logger),
		Recorder:       recorder,
		Logger:         a.logger,
	})
	if err != nil {
		return err
	}

	if a.cfg.Report.Enabled && recorder != nil {
		if err := startReportServer(ctx, recorder, a.cfg.Report.Port, a.logger); err != nil {
			return err
		}
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return eng.Start(groupCtx)
	})
	group.Go(func() error {
		return a.watchClose(groupCtx, hours, eng)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("系统运行异常: %w", err)
	}

	a.logger.Info("系统收到退出信号，已停止")
	return nil
}

// watchClose 在交易时段结束后主动停止引擎。
func (a *App) watchClose(ctx context.Context, hours *MarketHours, eng *engine.Engine) error {
	if !a.cfg.MarketHours.Enabled {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if hours.Closed(time.Now()) {
				a.logger.Info("交易时段结束，停止引擎")
				return eng.Stop()
			}
		}
	}
}

func (a *App) buildGateway() (gateway.Gateway, error) {
	switch a.cfg.Gateway.Name {
	case "sim":
		return gateway.NewSim(a.cfg.Gateway.Sim, a.logger), nil
	case "ccxt":
		return gateway.NewCCXT(a.cfg.Gateway, a.logger)
	default:
		return nil, fmt.Errorf("不支持的网关: %q", a.cfg.Gateway.Name)
	}
}

func (a *App) buildStrategy() (strategy.Strategy, error) {
	switch a.cfg.Strategy.Name {
	case "rsi":
		return strategy.NewRSI(a.cfg.Strategy.RSI, a.logger), nil
	case "advisor":
		return strategy.NewAdvisor(a.cfg.OpenAI, a.logger)
	default:
		return nil, fmt.Errorf("不支持的策略: %q", a.cfg.Strategy.Name)
	}
}
