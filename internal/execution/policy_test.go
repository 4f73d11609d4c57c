package execution

import (
	"context"
	"errors"
	"testing"

	"qmt-trader/internal/gateway"
	"qmt-trader/internal/strategy"
)

func TestPolicyDecide_BuyGuardBlocksOnInsufficientCash(t *testing.T) {
	p := NewPolicy(100, "LiveStrategy", nil)

	intent := p.Decide(strategy.SignalBuy, "510050.SH", 3.00, nil, gateway.Asset{Cash: 250.00})
	if intent != nil {
		t.Fatalf("expected no intent when cash < cost, got %+v", intent)
	}
}

func TestPolicyDecide_BuyGuardRequiresStrictInequality(t *testing.T) {
	p := NewPolicy(100, "LiveStrategy", nil)

	// cash == cost 不满足严格大于，不下单。
	intent := p.Decide(strategy.SignalBuy, "510050.SH", 3.00, nil, gateway.Asset{Cash: 300.00})
	if intent != nil {
		t.Fatalf("expected no intent when cash == cost, got %+v", intent)
	}
}

func TestPolicyDecide_BuySubmitsFixedLot(t *testing.T) {
	p := NewPolicy(100, "LiveStrategy", nil)

	intent := p.Decide(strategy.SignalBuy, "510050.SH", 3.00, nil, gateway.Asset{Cash: 301.00})
	if intent == nil {
		t.Fatal("expected a buy intent")
	}
	if intent.Side != gateway.OrderSideBuy {
		t.Errorf("unexpected side: %s", intent.Side)
	}
	if intent.Quantity != 100 {
		t.Errorf("expected quantity 100, got %v", intent.Quantity)
	}
	if intent.Price != 3.00 {
		t.Errorf("expected price 3.00, got %v", intent.Price)
	}
	if intent.Tag != "LiveStrategy" {
		t.Errorf("unexpected tag: %s", intent.Tag)
	}
}

func TestPolicyDecide_SellGuardBlocksWithoutPosition(t *testing.T) {
	p := NewPolicy(100, "LiveStrategy", nil)

	positions := []gateway.Position{
		{Symbol: "510050.SH", Volume: 0},
	}
	intent := p.Decide(strategy.SignalSell, "510050.SH", 3.00, positions, gateway.Asset{Cash: 10000})
	if intent != nil {
		t.Fatalf("expected no intent without holdings, got %+v", intent)
	}
}

func TestPolicyDecide_SellLiquidatesFullPosition(t *testing.T) {
	p := NewPolicy(100, "LiveStrategy", nil)

	positions := []gateway.Position{
		{Symbol: "600000.SH", Volume: 500},
		{Symbol: "510050.SH", Volume: 250, OpenPrice: 2.80},
	}
	intent := p.Decide(strategy.SignalSell, "510050.SH", 3.00, positions, gateway.Asset{Cash: 0})
	if intent == nil {
		t.Fatal("expected a sell intent")
	}
	if intent.Side != gateway.OrderSideSell {
		t.Errorf("unexpected side: %s", intent.Side)
	}
	if intent.Quantity != 250 {
		t.Errorf("expected full liquidation of 250, got %v", intent.Quantity)
	}
}

func TestPolicyDecide_HoldAndUnknownSignalsIgnored(t *testing.T) {
	p := NewPolicy(100, "LiveStrategy", nil)

	if intent := p.Decide(strategy.SignalHold, "510050.SH", 3.00, nil, gateway.Asset{Cash: 1e6}); intent != nil {
		t.Fatalf("hold must not produce an intent, got %+v", intent)
	}
	if intent := p.Decide(strategy.Signal("panic"), "510050.SH", 3.00, nil, gateway.Asset{Cash: 1e6}); intent != nil {
		t.Fatalf("unknown signal must be ignored, got %+v", intent)
	}
}

type fakeOrderGateway struct {
	orders    []gateway.Order
	submitErr error
}

func (f *fakeOrderGateway) Connect(ctx context.Context) error { return nil }
func (f *fakeOrderGateway) SubscribeAccount(ctx context.Context, accountID string) error {
	return nil
}
func (f *fakeOrderGateway) SubscribeMarketData(symbol, period string, cb gateway.MarketDataCallback) error {
	return nil
}
func (f *fakeOrderGateway) Positions(ctx context.Context) ([]gateway.Position, error) {
	return nil, nil
}
func (f *fakeOrderGateway) Asset(ctx context.Context) (gateway.Asset, error) {
	return gateway.Asset{}, nil
}
func (f *fakeOrderGateway) SubmitOrder(ctx context.Context, order gateway.Order) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.orders = append(f.orders, order)
	return "ack-1", nil
}
func (f *fakeOrderGateway) Close() error { return nil }

func TestManagerSubmit_PassesIntentThrough(t *testing.T) {
	fake := &fakeOrderGateway{}
	m := NewManager(fake, nil)

	intent := &OrderIntent{
		Symbol:   "510050.SH",
		Side:     gateway.OrderSideBuy,
		Price:    3.00,
		Quantity: 100,
		Tag:      "LiveStrategy",
	}
	ack, err := m.Submit(context.Background(), intent)
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if ack != "ack-1" {
		t.Errorf("unexpected ack: %s", ack)
	}
	if len(fake.orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(fake.orders))
	}
	if fake.orders[0].Quantity != 100 || fake.orders[0].Side != gateway.OrderSideBuy {
		t.Errorf("unexpected order: %+v", fake.orders[0])
	}
}

func TestManagerSubmit_SubmissionFailureIsSurfacedNotRetried(t *testing.T) {
	wantErr := &gateway.Error{Op: "submit_order", Code: 7, Err: errors.New("rejected")}
	fake := &fakeOrderGateway{submitErr: wantErr}
	m := NewManager(fake, nil)

	_, err := m.Buy(context.Background(), "510050.SH", 3.00, 100, "LiveStrategy")
	if err == nil {
		t.Fatal("expected error from failed submission")
	}
	var gwErr *gateway.Error
	if !errors.As(err, &gwErr) {
		t.Fatalf("expected *gateway.Error in chain, got %v", err)
	}
	if len(fake.orders) != 0 {
		t.Fatalf("failed submission must not be retried, got %d orders", len(fake.orders))
	}
}
