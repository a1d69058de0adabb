package strategy

import (
	"math"
	"testing"
	"time"

	"github.com/lucasreyna/backtestEngine/internal/market"
)

func makeTrend(n int, start, step float64) []market.Candle {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]market.Candle, n)
	price := start
	for i := range candles {
		candles[i] = market.Candle{
			Timestamp: ts.Add(time.Duration(i) * time.Hour),
			Open:      price,
			High:      price + 1,
			Low:       price - 1,
			Close:     price + step,
			Volume:    1000,
		}
		price += step
	}
	return candles
}

func TestSMA_Basic(t *testing.T) {
	candles := makeTrend(5, 100, 1) // closes 101..105
	if got := SMA(candles, 5); math.Abs(got-103) > 1e-12 {
		t.Errorf("SMA = %v, want 103", got)
	}
	if got := SMA(candles, 10); got != 0 {
		t.Errorf("SMA with short history = %v, want 0", got)
	}
}

func TestATR_FallbackAndAverage(t *testing.T) {
	candles := makeTrend(3, 100, 0)
	// Short history: falls back to last bar's range (2.0).
	if got := ATR(candles, 14); got != 2 {
		t.Errorf("ATR fallback = %v, want 2", got)
	}

	candles = makeTrend(30, 100, 0)
	if got := ATR(candles, 14); got != 2 {
		t.Errorf("ATR flat trend = %v, want 2", got)
	}
}

func TestHighestHigh_ExcludesCurrentBar(t *testing.T) {
	candles := makeTrend(10, 100, 1)
	// Highs are 101..110; the last bar (110) is excluded.
	if got := HighestHigh(candles, 9); got != 109 {
		t.Errorf("highest high = %v, want 109", got)
	}
}

func TestHoldStrategy_NeverTrades(t *testing.T) {
	s := HoldStrategy{}
	candles := makeTrend(50, 100, 1)
	for i := range candles {
		sig := s.OnBar(Context{Bar: candles[i], History: candles[:i+1], Equity: 10000})
		if sig.Action != ActionHold {
			t.Fatalf("identity strategy produced %v at bar %d", sig.Action, i)
		}
	}
}

func TestSMACross_EntersOnCross(t *testing.T) {
	s := NewSMACross()

	// Downtrend then sharp reversal: the fast SMA must cross up eventually.
	candles := makeTrend(40, 200, -1)
	candles = append(candles, makeTrend(25, 160, 3)...)
	// Re-time so the series is strictly increasing.
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range candles {
		candles[i].Timestamp = ts.Add(time.Duration(i) * time.Hour)
	}

	entered := false
	for i := s.SlowPeriod + 1; i < len(candles); i++ {
		sig := s.OnBar(Context{Bar: candles[i], History: candles[:i+1], Equity: 10000})
		if sig.Action == ActionEnter {
			entered = true
			if sig.Side != Buy {
				t.Errorf("side = %v, want BUY", sig.Side)
			}
			if sig.StopLoss >= sig.EntryPrice {
				t.Errorf("stop %v not below entry %v", sig.StopLoss, sig.EntryPrice)
			}
			if sig.TakeProfit <= sig.EntryPrice {
				t.Errorf("target %v not above entry %v", sig.TakeProfit, sig.EntryPrice)
			}
			break
		}
	}
	if !entered {
		t.Error("expected an entry signal after the reversal")
	}
}

func TestSMACross_Deterministic(t *testing.T) {
	s := NewSMACross()
	candles := makeTrend(60, 100, 0.5)
	ctx := Context{Bar: candles[59], History: candles, Equity: 10000}

	first := s.OnBar(ctx)
	second := s.OnBar(ctx)
	if first != second {
		t.Errorf("same context produced different signals: %+v vs %+v", first, second)
	}
}

func TestBreakout_EntersAboveChannel(t *testing.T) {
	s := NewBreakout()

	candles := makeTrend(25, 100, 0) // flat channel, highs at 101
	last := candles[len(candles)-1]
	last.Close = 103 // close above the 20-bar high
	last.High = 103.5
	candles[len(candles)-1] = last

	sig := s.OnBar(Context{Bar: last, History: candles, Equity: 10000})
	if sig.Action != ActionEnter {
		t.Fatalf("action = %v, want enter", sig.Action)
	}
	if sig.StopLoss >= sig.EntryPrice {
		t.Errorf("stop %v not below entry %v", sig.StopLoss, sig.EntryPrice)
	}
}

func TestBreakout_TrailsInProfit(t *testing.T) {
	s := NewBreakout()
	candles := makeTrend(25, 100, 0)

	sig := s.OnBar(Context{
		Bar:     candles[len(candles)-1],
		History: candles,
		Equity:  10000,
		Position: &PositionView{
			Side:     Buy,
			Size:     1,
			AvgEntry: 95,
			MFE:      5, // beyond one ATR (2.0)
		},
	})
	if sig.Action != ActionTrailingStop {
		t.Fatalf("action = %v, want trailing_stop", sig.Action)
	}
	if sig.TrailingDistance <= 0 {
		t.Errorf("trailing distance = %v, want > 0", sig.TrailingDistance)
	}
}
