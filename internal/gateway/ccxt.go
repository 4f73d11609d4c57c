package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"qmt-trader/internal/config"
)

// CCXT 通过 ccxt 客户端实现 Gateway：行情走 FetchOHLCV 轮询，
// 资金与持仓每次决策前重新查询，委托走限价单。
type CCXT struct {
	cfg      config.GatewayConfig
	logger   *zap.Logger
	exchange *ccxt.Binanceusdm

	marketsMu     sync.Mutex
	marketsLoaded bool

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewCCXT 构造 ccxt 网关，目前支持 binanceusdm。
func NewCCXT(cfg config.GatewayConfig, logger *zap.Logger) (*CCXT, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !strings.EqualFold(cfg.Exchange, "binanceusdm") {
		return nil, fmt.Errorf("gateway: 不支持的交易所 %q", cfg.Exchange)
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
		"options": map[string]interface{}{
			"adjustForTimeDifference": true,
			"defaultType":             "future",
		},
	}
	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}
	if cfg.APIPass != "" {
		userConfig["password"] = cfg.APIPass
	}

	ex := ccxt.NewBinanceusdm(userConfig)
	if cfg.UseSandbox {
		ex.SetSandboxMode(true)
	}

	return &CCXT{
		cfg:      cfg,
		logger:   logger,
		exchange: ex,
		done:     make(chan struct{}),
	}, nil
}

// Connect 加载市场元数据，失败时返回 *Error 并保持未连接。
func (g *CCXT) Connect(ctx context.Context) error {
	if err := g.ensureMarketsLoaded(ctx); err != nil {
		return &Error{Op: "connect", Code: -1, Err: err}
	}
	g.logger.Info("网关已连接", zap.String("exchange", g.cfg.Exchange))
	return nil
}

// SubscribeAccount 通过一次余额查询校验账户可用。
func (g *CCXT) SubscribeAccount(ctx context.Context, accountID string) error {
	err := g.callWithRetry(ctx, "subscribe_account", func() error {
		_, balanceErr := g.exchange.FetchBalance()
		return balanceErr
	})
	if err != nil {
		return &Error{Op: "subscribe_account", Code: -1, Err: err}
	}
	g.logger.Info("账户已订阅", zap.String("account_id", accountID))
	return nil
}

// SubscribeMarketData 启动轮询协程，将最新K线以列表形载荷推送给回调。
func (g *CCXT) SubscribeMarketData(symbol, period string, cb MarketDataCallback) error {
	interval := g.cfg.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	g.wg.Add(1)
	go g.poll(symbol, period, interval, cb)
	return nil
}

func (g *CCXT) poll(symbol, period string, interval time.Duration, cb MarketDataCallback) {
	defer g.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx := context.Background()
	for {
		select {
		case <-g.done:
			return
		case <-ticker.C:
			rows, err := g.fetchBarRows(ctx, symbol, period)
			if err != nil {
				g.logger.Warn("拉取K线失败",
					zap.String("symbol", symbol),
					zap.String("period", period),
					zap.Error(err),
				)
				continue
			}
			if len(rows) == 0 {
				continue
			}
			cb(symbol, rows)
		}
	}
}

func (g *CCXT) fetchBarRows(ctx context.Context, symbol, period string) ([]interface{}, error) {
	var raw []ccxt.OHLCV

	err := g.callWithRetry(ctx, fmt.Sprintf("fetch_ohlcv_%s", period), func() error {
		if loadErr := g.ensureMarketsLoaded(ctx); loadErr != nil {
			return loadErr
		}
		result, fetchErr := g.exchange.FetchOHLCV(
			symbol,
			ccxt.WithFetchOHLCVTimeframe(period),
			ccxt.WithFetchOHLCVLimit(2),
		)
		if fetchErr != nil {
			return fetchErr
		}
		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	rows := make([]interface{}, 0, len(raw))
	for _, item := range raw {
		rows = append(rows, []float64{
			float64(item.Timestamp),
			item.Open,
			item.High,
			item.Low,
			item.Close,
			item.Volume,
		})
	}
	return rows, nil
}

// Positions 拉取当前持仓快照。
func (g *CCXT) Positions(ctx context.Context) ([]Position, error) {
	var raw []ccxt.Position
	err := g.callWithRetry(ctx, "fetch_positions", func() error {
		result, fetchErr := g.exchange.FetchPositions()
		if fetchErr != nil {
			return fetchErr
		}
		raw = result
		return nil
	})
	if err != nil {
		return nil, &Error{Op: "fetch_positions", Code: -1, Err: err}
	}

	positions := make([]Position, 0, len(raw))
	for _, pos := range raw {
		symbol := derefString(pos.Symbol)
		volume := derefFloat(pos.Contracts)
		if symbol == "" || volume == 0 {
			continue
		}
		positions = append(positions, Position{
			Symbol:      symbol,
			Volume:      volume,
			OpenPrice:   derefFloat(pos.EntryPrice),
			MarketValue: derefFloat(pos.Notional),
		})
	}
	return positions, nil
}

// Asset 拉取资金快照，现金取 USDT/USDC/USD 可用余额。
func (g *CCXT) Asset(ctx context.Context) (Asset, error) {
	var balances ccxt.Balances
	err := g.callWithRetry(ctx, "fetch_balance", func() error {
		result, fetchErr := g.exchange.FetchBalance()
		if fetchErr != nil {
			return fetchErr
		}
		balances = result
		return nil
	})
	if err != nil {
		return Asset{}, &Error{Op: "fetch_balance", Code: -1, Err: err}
	}

	var asset Asset
	for _, code := range []string{"USDT", "USDC", "USD"} {
		if balances.Free != nil {
			if free, ok := balances.Free[code]; ok && free != nil && asset.Cash == 0 {
				asset.Cash = *free
			}
		}
		if balances.Total != nil {
			if total, ok := balances.Total[code]; ok && total != nil && asset.TotalAsset == 0 {
				asset.TotalAsset = *total
			}
		}
	}
	if asset.TotalAsset == 0 {
		asset.TotalAsset = asset.Cash
	}
	asset.MarketValue = asset.TotalAsset - asset.Cash
	if asset.MarketValue < 0 {
		asset.MarketValue = 0
	}
	return asset, nil
}

// SubmitOrder 提交限价委托。失败不重试，由调用方决定是否记录后继续。
func (g *CCXT) SubmitOrder(ctx context.Context, order Order) (string, error) {
	result, err := g.exchange.CreateLimitOrder(
		order.Symbol,
		string(order.Side),
		order.Quantity,
		order.Price,
	)
	if err != nil {
		return "", &Error{Op: "submit_order", Code: -1, Err: err}
	}
	return derefString(result.Id), nil
}

// Close 停止轮询协程。
func (g *CCXT) Close() error {
	g.closeOnce.Do(func() {
		close(g.done)
	})
	g.wg.Wait()
	return nil
}

func (g *CCXT) ensureMarketsLoaded(ctx context.Context) error {
	if g.marketsLoaded {
		return nil
	}

	g.marketsMu.Lock()
	defer g.marketsMu.Unlock()

	if g.marketsLoaded {
		return nil
	}

	loadErr := g.callWithRetry(ctx, "load_markets", func() error {
		_, err := g.exchange.LoadMarkets()
		return err
	})
	if loadErr != nil {
		return loadErr
	}

	g.marketsLoaded = true
	g.logger.Info("已完成市场元数据加载", zap.String("exchange", g.cfg.Exchange))
	return nil
}

func (g *CCXT) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	delay := g.cfg.Retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := g.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	maxAttempts := g.cfg.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		err := fn()
		if err == nil {
			if attempt > 1 {
				g.logger.Info("网关调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
				)
			}
			return nil
		}

		if !retryable(err) || attempt >= maxAttempts {
			g.logger.Error("网关调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Error(err),
			)
			return err
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}
		g.logger.Warn("网关调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.RateLimitExceededErrType,
			ccxt.DDoSProtectionErrType,
			ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return true
		default:
			return false
		}
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

var _ Gateway = (*CCXT)(nil)
