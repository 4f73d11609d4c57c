package session

import (
	"context"
	"errors"
	"testing"

	"qmt-trader/internal/gateway"
	"qmt-trader/internal/market"
	"qmt-trader/internal/strategy"
)

type stubStrategy struct {
	initCalls int
	stopCalls int
}

func (s *stubStrategy) Initialize() error { s.initCalls++; return nil }
func (s *stubStrategy) OnBar(bar market.Bar) (strategy.Signal, error) {
	return strategy.SignalHold, nil
}
func (s *stubStrategy) Stop() error { s.stopCalls++; return nil }

type stubGateway struct {
	connectErr   error
	subscribeErr error
	closeCalls   int
}

func (g *stubGateway) Connect(ctx context.Context) error { return g.connectErr }
func (g *stubGateway) SubscribeAccount(ctx context.Context, accountID string) error {
	return g.subscribeErr
}
func (g *stubGateway) SubscribeMarketData(symbol, period string, cb gateway.MarketDataCallback) error {
	return nil
}
func (g *stubGateway) Positions(ctx context.Context) ([]gateway.Position, error) { return nil, nil }
func (g *stubGateway) Asset(ctx context.Context) (gateway.Asset, error)          { return gateway.Asset{}, nil }
func (g *stubGateway) SubmitOrder(ctx context.Context, order gateway.Order) (string, error) {
	return "", nil
}
func (g *stubGateway) Close() error { g.closeCalls++; return nil }

func TestSession_ConnectTransitionsToSubscribed(t *testing.T) {
	s := New("40688525", &stubGateway{}, &stubStrategy{}, nil)

	if got := s.Status(); got != StatusDisconnected {
		t.Fatalf("initial status: got %s", got)
	}
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	if got := s.Status(); got != StatusSubscribed {
		t.Fatalf("expected subscribed after connect, got %s", got)
	}
	if err := s.MarkRunning(); err != nil {
		t.Fatalf("MarkRunning returned error: %v", err)
	}
	if got := s.Status(); got != StatusRunning {
		t.Fatalf("expected running, got %s", got)
	}
}

func TestSession_ConnectFailureStaysDisconnected(t *testing.T) {
	gw := &stubGateway{connectErr: &gateway.Error{Op: "connect", Code: 3}}
	s := New("40688525", gw, &stubStrategy{}, nil)

	err := s.Connect(context.Background())
	if err == nil {
		t.Fatal("expected connect error")
	}
	var gwErr *gateway.Error
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected *gateway.Error in chain, got %v", err)
	}
	if got := s.Status(); got != StatusDisconnected {
		t.Fatalf("expected disconnected after failure, got %s", got)
	}
	if err := s.MarkRunning(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("running after failed connect must be invalid, got %v", err)
	}
}

func TestSession_StopIsIdempotentAndStopsStrategyOnce(t *testing.T) {
	strat := &stubStrategy{}
	gw := &stubGateway{}
	s := New("40688525", gw, strat, nil)

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("first Stop returned error: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop returned error: %v", err)
	}

	if strat.stopCalls != 1 {
		t.Errorf("strategy Stop called %d times, want 1", strat.stopCalls)
	}
	if gw.closeCalls != 1 {
		t.Errorf("gateway Close called %d times, want 1", gw.closeCalls)
	}
	if got := s.Status(); got != StatusStopped {
		t.Fatalf("expected stopped, got %s", got)
	}
}

func TestSession_StopBeforeConnectIsInvalid(t *testing.T) {
	s := New("40688525", &stubGateway{}, &stubStrategy{}, nil)

	if err := s.Stop(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestSession_IDsAreUniqueWithinProcess(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		s := New("40688525", &stubGateway{}, &stubStrategy{}, nil)
		if _, dup := seen[s.ID()]; dup {
			t.Fatalf("duplicate session id %s", s.ID())
		}
		seen[s.ID()] = struct{}{}
	}
}
