package market

import (
	"errors"
	"testing"
	"time"
)

func newTestNormalizer() *Normalizer {
	return NewNormalizer([]string{"510050.SH"}, nil)
}

func TestNormalize_MalformedPayloadsSkipWithoutPanic(t *testing.T) {
	n := newTestNormalizer()

	cases := []struct {
		name    string
		payload interface{}
	}{
		{"nil", nil},
		{"zero", 0},
		{"empty_list", []interface{}{}},
		{"empty_map", map[string]interface{}{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := n.Normalize("510050.SH", tc.payload)
			if !errors.Is(err, ErrSkipPayload) {
				t.Fatalf("expected ErrSkipPayload, got %v", err)
			}
		})
	}
}

func TestNormalize_ShortTupleIsFormatError(t *testing.T) {
	n := newTestNormalizer()

	payload := []interface{}{
		[]float64{1700000000000, 3.01, 3.05},
	}

	_, err := n.Normalize("510050.SH", payload)
	var formatErr *FormatError
	if !errors.As(err, &formatErr) {
		t.Fatalf("expected *FormatError, got %v", err)
	}
	if errors.Is(err, ErrSkipPayload) {
		t.Fatalf("format error must not be classified as skip")
	}
}

func TestNormalize_UnrecognizedShapeIsFormatError(t *testing.T) {
	n := newTestNormalizer()

	_, err := n.Normalize("510050.SH", "not a payload")
	var formatErr *FormatError
	if !errors.As(err, &formatErr) {
		t.Fatalf("expected *FormatError, got %v", err)
	}
}

func TestNormalize_UnsubscribedSymbolSkips(t *testing.T) {
	n := newTestNormalizer()

	payload := []interface{}{
		[]float64{1700000000000, 3.01, 3.05, 3.00, 3.03, 12000},
	}

	_, err := n.Normalize("600000.SH", payload)
	if !errors.Is(err, ErrSkipPayload) {
		t.Fatalf("expected ErrSkipPayload for unsubscribed symbol, got %v", err)
	}
}

func TestNormalize_TimestampUnitInference(t *testing.T) {
	n := newTestNormalizer()

	barFor := func(ts float64) Bar {
		t.Helper()
		payload := []interface{}{
			[]float64{ts, 3.01, 3.05, 3.00, 3.03, 12000},
		}
		bar, err := n.Normalize("510050.SH", payload)
		if err != nil {
			t.Fatalf("Normalize returned error: %v", err)
		}
		return bar
	}

	msBar := barFor(1700000000000)
	if got, want := msBar.Datetime, time.UnixMilli(1700000000000); !got.Equal(want) {
		t.Errorf("millisecond timestamp: got %v want %v", got, want)
	}

	secBar := barFor(1700000000)
	if got, want := secBar.Datetime, time.Unix(1700000000, 0); !got.Equal(want) {
		t.Errorf("second timestamp: got %v want %v", got, want)
	}

	// 分界值 1e10 必须确定地按毫秒解释。
	boundaryBar := barFor(1e10)
	if got, want := boundaryBar.Datetime, time.UnixMilli(1e10); !got.Equal(want) {
		t.Errorf("boundary timestamp: got %v want %v", got, want)
	}
}

func TestNormalize_BarFieldFidelity(t *testing.T) {
	n := newTestNormalizer()

	payload := []interface{}{
		[]float64{1690000000000, 2.9, 3.0, 2.8, 2.95, 8000},
		[]float64{1700000000000, 3.01, 3.05, 3.00, 3.03, 12000},
	}

	bar, err := n.Normalize("510050.SH", payload)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}

	if bar.Open != 3.01 || bar.High != 3.05 || bar.Low != 3.00 || bar.Close != 3.03 {
		t.Errorf("unexpected OHLC: %+v", bar)
	}
	if bar.Volume != 12000.0 {
		t.Errorf("unexpected volume: %v", bar.Volume)
	}
	if got, want := bar.Datetime, time.UnixMilli(1700000000000); !got.Equal(want) {
		t.Errorf("unexpected datetime: got %v want %v", got, want)
	}
}

func TestNormalize_TickPayload(t *testing.T) {
	n := newTestNormalizer()

	payload := map[string]interface{}{
		"lastPrice": 3.03,
		"open":      3.01,
		"high":      3.05,
		"low":       3.00,
		"volume":    12000,
		"time":      float64(1700000000000),
	}

	bar, err := n.Normalize("510050.SH", payload)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if bar.Close != 3.03 {
		t.Errorf("tick close should come from lastPrice, got %v", bar.Close)
	}
	if got, want := bar.Datetime, time.UnixMilli(1700000000000); !got.Equal(want) {
		t.Errorf("unexpected datetime: got %v want %v", got, want)
	}
}

func TestNormalize_TickWithoutLastPriceSkips(t *testing.T) {
	n := newTestNormalizer()

	payload := map[string]interface{}{
		"open": 3.01,
		"time": float64(1700000000000),
	}

	_, err := n.Normalize("510050.SH", payload)
	if !errors.Is(err, ErrSkipPayload) {
		t.Fatalf("expected ErrSkipPayload when lastPrice missing, got %v", err)
	}
}

func TestNormalize_TickTimeDefaultsToNow(t *testing.T) {
	n := newTestNormalizer()
	fixed := time.Date(2026, 8, 21, 10, 0, 0, 0, time.Local)
	n.now = func() time.Time { return fixed }

	payload := map[string]interface{}{
		"lastPrice": 3.03,
	}

	bar, err := n.Normalize("510050.SH", payload)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if got, want := bar.Datetime, time.UnixMilli(fixed.UnixMilli()); !got.Equal(want) {
		t.Errorf("unexpected default datetime: got %v want %v", got, want)
	}
}
