package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"qmt-trader/internal/execution"
	"qmt-trader/internal/gateway"
	"qmt-trader/internal/market"
	"qmt-trader/internal/session"
	"qmt-trader/internal/strategy"
)

type fakeGateway struct {
	mu        sync.Mutex
	callbacks map[string]gateway.MarketDataCallback
	positions []gateway.Position
	asset     gateway.Asset
	orders    []gateway.Order
	submitErr error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		callbacks: make(map[string]gateway.MarketDataCallback),
		asset:     gateway.Asset{Cash: 1000000, TotalAsset: 1000000},
	}
}

func (f *fakeGateway) Connect(ctx context.Context) error { return nil }
func (f *fakeGateway) SubscribeAccount(ctx context.Context, accountID string) error {
	return nil
}
func (f *fakeGateway) SubscribeMarketData(symbol, period string, cb gateway.MarketDataCallback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks[symbol] = cb
	return nil
}
func (f *fakeGateway) Positions(ctx context.Context) ([]gateway.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gateway.Position(nil), f.positions...), nil
}
func (f *fakeGateway) Asset(ctx context.Context) (gateway.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.asset, nil
}
func (f *fakeGateway) SubmitOrder(ctx context.Context, order gateway.Order) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.orders = append(f.orders, order)
	return "ack", nil
}
func (f *fakeGateway) Close() error { return nil }

func (f *fakeGateway) submitted() []gateway.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gateway.Order(nil), f.orders...)
}

// scriptedStrategy 按标的返回预设行为：报错、panic 或固定信号。
type scriptedStrategy struct {
	signals   map[float64]strategy.Signal // 以收盘价为键
	failAt    float64
	panicAt   float64
	stopCalls int
}

func (s *scriptedStrategy) Initialize() error { return nil }
func (s *scriptedStrategy) OnBar(bar market.Bar) (strategy.Signal, error) {
	if s.failAt != 0 && bar.Close == s.failAt {
		return strategy.SignalHold, errors.New("indicator blew up")
	}
	if s.panicAt != 0 && bar.Close == s.panicAt {
		panic("strategy panic")
	}
	if sig, ok := s.signals[bar.Close]; ok {
		return sig, nil
	}
	return strategy.SignalHold, nil
}
func (s *scriptedStrategy) Stop() error { s.stopCalls++; return nil }

func barPayload(ts float64, close float64) []interface{} {
	return []interface{}{
		[]float64{ts, close, close, close, close, 1000},
	}
}

func newTestEngine(t *testing.T, gw gateway.Gateway, strat strategy.Strategy, symbols []string) *Engine {
	t.Helper()
	eng, err := New(Options{
		AccountID:    "40688525",
		Symbols:      symbols,
		Period:       "5m",
		PollInterval: 10 * time.Millisecond,
		QueueSize:    16,
		Gateway:      gw,
		Strategy:     strat,
		Policy:       execution.NewPolicy(100, "LiveStrategy", nil),
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return eng
}

func TestProcessUpdate_FailureIsolatedPerUpdate(t *testing.T) {
	gw := newFakeGateway()
	strat := &scriptedStrategy{
		failAt:  1.11,
		signals: map[float64]strategy.Signal{3.00: strategy.SignalBuy},
	}
	eng := newTestEngine(t, gw, strat, []string{"A.SH", "B.SH"})

	ctx := context.Background()
	// 更新N：A.SH 的策略执行报错。
	eng.processUpdate(ctx, update{symbol: "A.SH", payload: barPayload(1700000000000, 1.11)})
	// 更新N+1：B.SH 仍须被处理并触发下单。
	eng.processUpdate(ctx, update{symbol: "B.SH", payload: barPayload(1700000001000, 3.00)})

	orders := gw.submitted()
	if len(orders) != 1 {
		t.Fatalf("expected 1 order after isolated failure, got %d", len(orders))
	}
	if orders[0].Symbol != "B.SH" || orders[0].Side != gateway.OrderSideBuy {
		t.Errorf("unexpected order: %+v", orders[0])
	}
}

func TestProcessUpdate_StrategyPanicDoesNotKillLoop(t *testing.T) {
	gw := newFakeGateway()
	strat := &scriptedStrategy{
		panicAt: 2.22,
		signals: map[float64]strategy.Signal{3.00: strategy.SignalBuy},
	}
	eng := newTestEngine(t, gw, strat, []string{"A.SH"})

	ctx := context.Background()
	eng.processUpdate(ctx, update{symbol: "A.SH", payload: barPayload(1700000000000, 2.22)})
	eng.processUpdate(ctx, update{symbol: "A.SH", payload: barPayload(1700000001000, 3.00)})

	if len(gw.submitted()) != 1 {
		t.Fatalf("expected processing to continue after panic, got %d orders", len(gw.submitted()))
	}
}

func TestProcessUpdate_MalformedPayloadSkipped(t *testing.T) {
	gw := newFakeGateway()
	strat := &scriptedStrategy{}
	eng := newTestEngine(t, gw, strat, []string{"A.SH"})

	ctx := context.Background()
	eng.processUpdate(ctx, update{symbol: "A.SH", payload: nil})
	eng.processUpdate(ctx, update{symbol: "A.SH", payload: "garbage"})
	eng.processUpdate(ctx, update{symbol: "A.SH", payload: []interface{}{[]float64{1, 2}}})

	if len(gw.submitted()) != 0 {
		t.Fatalf("malformed payloads must not reach the gateway, got %d orders", len(gw.submitted()))
	}
}

func TestProcessUpdate_SubmissionFailureDoesNotEscalate(t *testing.T) {
	gw := newFakeGateway()
	gw.submitErr = &gateway.Error{Op: "submit_order", Code: 5}
	strat := &scriptedStrategy{
		signals: map[float64]strategy.Signal{3.00: strategy.SignalBuy},
	}
	eng := newTestEngine(t, gw, strat, []string{"A.SH"})

	ctx := context.Background()
	eng.processUpdate(ctx, update{symbol: "A.SH", payload: barPayload(1700000000000, 3.00)})

	// 失败只记录；下一次更新继续决策。
	gw.mu.Lock()
	gw.submitErr = nil
	gw.mu.Unlock()
	eng.processUpdate(ctx, update{symbol: "A.SH", payload: barPayload(1700000001000, 3.00)})

	if len(gw.submitted()) != 1 {
		t.Fatalf("expected exactly 1 order after recovery, got %d", len(gw.submitted()))
	}
}

func TestEngine_StartStopLifecycle(t *testing.T) {
	gw := newFakeGateway()
	strat := &scriptedStrategy{
		signals: map[float64]strategy.Signal{3.00: strategy.SignalBuy},
	}
	eng := newTestEngine(t, gw, strat, []string{"A.SH"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	doneCh := make(chan error, 1)
	go func() {
		doneCh <- eng.Start(ctx)
	}()

	// 等待订阅完成，再通过网关回调推送一条行情。
	deadline := time.After(2 * time.Second)
	for {
		gw.mu.Lock()
		cb := gw.callbacks["A.SH"]
		gw.mu.Unlock()
		if cb != nil {
			cb("A.SH", barPayload(1700000000000, 3.00))
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for subscription")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// 等待消费协程处理完。
	waitDeadline := time.After(2 * time.Second)
	for len(gw.submitted()) == 0 {
		select {
		case <-waitDeadline:
			t.Fatal("timed out waiting for order submission")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if err := eng.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}

	select {
	case err := <-doneCh:
		if err != nil {
			t.Fatalf("Start returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not observe stop within poll interval")
	}

	if eng.Session().Status() != session.StatusStopped {
		t.Fatalf("expected stopped session, got %s", eng.Session().Status())
	}
	if strat.stopCalls != 1 {
		t.Fatalf("strategy Stop called %d times, want 1", strat.stopCalls)
	}

	// 再次 Stop 必须保持幂等。
	if err := eng.Stop(); err != nil {
		t.Fatalf("second Stop returned error: %v", err)
	}
	if strat.stopCalls != 1 {
		t.Fatalf("strategy Stop called %d times after double stop, want 1", strat.stopCalls)
	}
}
