package order

import (
	"math"
	"testing"
	"time"

	"github.com/lucasreyna/backtestEngine/internal/market"
	"github.com/lucasreyna/backtestEngine/internal/orderbook"
)

var testTS = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func makeTestBar(open, high, low, close float64) market.Candle {
	return market.Candle{
		Timestamp: testTS,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    1000,
	}
}

func makeTestBook(t *testing.T, bids, asks []orderbook.Level) *orderbook.Snapshot {
	t.Helper()
	snap, err := orderbook.NewSnapshot(testTS, "BTCUSDT", "binance", bids, asks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return snap
}

func TestMarketOrder_FillsAgainstBook(t *testing.T) {
	book := makeTestBook(t,
		[]orderbook.Level{{Price: 99, Qty: 100}},
		[]orderbook.Level{{Price: 100, Qty: 3}, {Price: 101, Qty: 4}, {Price: 102, Qty: 2}},
	)
	o := NewMarket("BTCUSDT", Buy, 5, testTS)

	res := o.TryFill(makeTestBar(100, 102, 99, 101), book)

	if res.FilledQty != 5 {
		t.Errorf("filled = %v, want 5", res.FilledQty)
	}
	want := (3*100.0 + 2*101.0) / 5.0
	if math.Abs(res.AvgPrice-want) > 1e-12 {
		t.Errorf("avg price = %v, want %v", res.AvgPrice, want)
	}
	if res.Status != StatusFilled {
		t.Errorf("status = %v, want filled", res.Status)
	}
}

func TestMarketOrder_PartialFillShallowBook(t *testing.T) {
	// Scenario from the fixture suite: buy 10 against asks
	// [(100,3),(101,4),(102,2)] fills 9 across three levels.
	book := makeTestBook(t,
		[]orderbook.Level{{Price: 99, Qty: 100}},
		[]orderbook.Level{{Price: 100, Qty: 3}, {Price: 101, Qty: 4}, {Price: 102, Qty: 2}},
	)
	o := NewMarket("BTCUSDT", Buy, 10, testTS)

	res := o.TryFill(makeTestBar(100, 102, 99, 101), book)

	if res.FilledQty != 9 {
		t.Errorf("filled = %v, want 9", res.FilledQty)
	}
	want := (3*100.0 + 4*101.0 + 2*102.0) / 9.0
	if math.Abs(res.AvgPrice-want) > 1e-12 {
		t.Errorf("avg price = %v, want %v", res.AvgPrice, want)
	}
	if res.Status != StatusPartiallyFilled {
		t.Errorf("status = %v, want partially_filled", res.Status)
	}
	if len(res.PartialFills) != 3 {
		t.Errorf("partial fills = %d, want 3", len(res.PartialFills))
	}
	if o.Remaining() != 1 {
		t.Errorf("remaining = %v, want 1", o.Remaining())
	}
}

func TestMarketOrder_BarFallback(t *testing.T) {
	o := NewMarket("BTCUSDT", Buy, 2, testTS)
	res := o.TryFill(makeTestBar(100, 102, 99, 101), nil)

	if res.FilledQty != 2 {
		t.Errorf("filled = %v, want 2", res.FilledQty)
	}
	if res.AvgPrice != 102 { // buy approximates at the high
		t.Errorf("avg price = %v, want 102", res.AvgPrice)
	}
	if res.SlippagePct != 0.001 {
		t.Errorf("slippage = %v, want 0.001", res.SlippagePct)
	}

	s := NewMarket("BTCUSDT", Sell, 2, testTS)
	res = s.TryFill(makeTestBar(100, 102, 99, 101), nil)
	if res.AvgPrice != 99 { // sell approximates at the low
		t.Errorf("sell avg price = %v, want 99", res.AvgPrice)
	}
}

func TestLimitOrder_FillsOnlyWhenCrossed(t *testing.T) {
	o := NewLimit("BTCUSDT", Buy, 1, 95, testTS)

	// Bar low above the limit: no fill, order ages.
	res := o.TryFill(makeTestBar(100, 102, 96, 101), nil)
	if res.FilledQty != 0 {
		t.Errorf("filled = %v, want 0", res.FilledQty)
	}
	if o.AgeBars != 1 {
		t.Errorf("age = %d, want 1", o.AgeBars)
	}

	// Bar trades through the limit: fill at the limit price.
	res = o.TryFill(makeTestBar(96, 97, 94, 95), nil)
	if res.FilledQty != 1 {
		t.Errorf("filled = %v, want 1", res.FilledQty)
	}
	if res.AvgPrice != 95 {
		t.Errorf("avg price = %v, want 95", res.AvgPrice)
	}
	if res.Status != StatusFilled {
		t.Errorf("status = %v, want filled", res.Status)
	}
}

func TestLimitOrder_BookWalkRespectsLimit(t *testing.T) {
	book := makeTestBook(t,
		[]orderbook.Level{{Price: 94, Qty: 100}},
		[]orderbook.Level{{Price: 95, Qty: 2}, {Price: 96, Qty: 3}, {Price: 99, Qty: 10}},
	)
	o := NewLimit("BTCUSDT", Buy, 10, 96, testTS)

	res := o.TryFill(makeTestBar(95, 99, 94, 98), book)

	// Levels 95 and 96 respect the limit (within tolerance); 99 does not.
	if res.FilledQty != 5 {
		t.Errorf("filled = %v, want 5", res.FilledQty)
	}
	want := (2*95.0 + 3*96.0) / 5.0
	if math.Abs(res.AvgPrice-want) > 1e-12 {
		t.Errorf("avg price = %v, want %v", res.AvgPrice, want)
	}
	if res.Status != StatusPartiallyFilled {
		t.Errorf("status = %v, want partially_filled", res.Status)
	}
}

func TestLimitOrder_CancelsAfterMaxWait(t *testing.T) {
	o := NewLimit("BTCUSDT", Buy, 1, 50, testTS)
	o.Config.MaxWaitBars = 3

	bar := makeTestBar(100, 102, 99, 101) // never crosses 50
	for i := 0; i < 3; i++ {
		res := o.TryFill(bar, nil)
		if res.FilledQty != 0 {
			t.Fatalf("unexpected fill at bar %d", i)
		}
	}

	res := o.TryFill(bar, nil)
	if res.Status != StatusCancelled {
		t.Errorf("status = %v, want cancelled", res.Status)
	}
	if o.Filled != 0 {
		t.Errorf("filled = %v, want 0", o.Filled)
	}
}

func TestStopOrder_TwoPhaseLifecycle(t *testing.T) {
	// Sell stop at 95 protecting a long.
	o := NewStop("BTCUSDT", Sell, 2, 95, 0, testTS)
	if o.Status != StatusPending {
		t.Fatalf("status = %v, want pending", o.Status)
	}

	// Price above the stop: no trigger.
	res := o.TryFill(makeTestBar(100, 102, 99, 101), nil)
	if o.Triggered || res.FilledQty != 0 {
		t.Fatalf("stop should not trigger at close 101")
	}

	// Close crosses the stop: trigger and execute as market at bar low.
	res = o.TryFill(makeTestBar(96, 97, 93, 94), nil)
	if !o.Triggered {
		t.Fatal("stop should have triggered at close 94")
	}
	if res.FilledQty != 2 {
		t.Errorf("filled = %v, want 2", res.FilledQty)
	}
	if res.AvgPrice != 93 { // market sell approximates at the low
		t.Errorf("avg price = %v, want 93", res.AvgPrice)
	}
	if res.Status != StatusFilled {
		t.Errorf("status = %v, want filled", res.Status)
	}
}

func TestStopOrder_LimitVariantPreservesState(t *testing.T) {
	o := NewStop("BTCUSDT", Sell, 2, 95, 94.5, testTS)
	o.AgeBars = 2

	// Trigger bar, fillable at the limit (bar high >= 94.5 floor).
	res := o.TryFill(makeTestBar(95, 96, 94, 94.8), nil)
	if !o.Triggered {
		t.Fatal("stop-limit should have triggered")
	}
	if res.FilledQty != 2 {
		t.Errorf("filled = %v, want 2", res.FilledQty)
	}
	if res.AvgPrice != 94.5 {
		t.Errorf("avg price = %v, want 94.5", res.AvgPrice)
	}
}

func TestBuyStop_TriggersAbove(t *testing.T) {
	o := NewStop("BTCUSDT", Buy, 1, 105, 0, testTS)

	o.TryFill(makeTestBar(100, 104, 99, 103), nil)
	if o.Triggered {
		t.Fatal("buy stop should not trigger below stop price")
	}

	res := o.TryFill(makeTestBar(104, 107, 103, 106), nil)
	if !o.Triggered {
		t.Fatal("buy stop should trigger at close 106")
	}
	if res.FilledQty != 1 {
		t.Errorf("filled = %v, want 1", res.FilledQty)
	}
}

func TestOrder_NoOverfill(t *testing.T) {
	book := makeTestBook(t,
		[]orderbook.Level{{Price: 99, Qty: 100}},
		[]orderbook.Level{{Price: 100, Qty: 50}},
	)
	o := NewMarket("BTCUSDT", Buy, 5, testTS)

	o.TryFill(makeTestBar(100, 102, 99, 101), book)
	res := o.TryFill(makeTestBar(100, 102, 99, 101), book)

	if res.FilledQty != 0 {
		t.Errorf("second attempt filled = %v, want 0", res.FilledQty)
	}
	if o.Filled > o.Qty {
		t.Errorf("overfill: filled %v > requested %v", o.Filled, o.Qty)
	}
}
