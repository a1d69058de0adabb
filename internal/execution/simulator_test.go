package execution

import (
	"context"
	"testing"
	"time"

	"github.com/lucasreyna/backtestEngine/internal/market"
	"github.com/lucasreyna/backtestEngine/internal/order"
	"github.com/lucasreyna/backtestEngine/internal/orderbook"
)

var testTS = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func makeTestBar(ts time.Time) market.Candle {
	return market.Candle{Timestamp: ts, Open: 100, High: 102, Low: 99, Close: 101, Volume: 1000}
}

func makeRepoWith(t *testing.T, ts time.Time, bids, asks []orderbook.Level) orderbook.Repository {
	t.Helper()
	repo := orderbook.NewMemoryRepository()
	snap, err := orderbook.NewSnapshot(ts, "BTCUSDT", "binance", bids, asks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := repo.Save(context.Background(), "BTCUSDT", []*orderbook.Snapshot{snap}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return repo
}

func TestSimulator_RoutesToBook(t *testing.T) {
	repo := makeRepoWith(t, testTS,
		[]orderbook.Level{{Price: 100, Qty: 50}},
		[]orderbook.Level{{Price: 100.5, Qty: 50}},
	)
	sim := NewSimulator(repo, DefaultConfig(), nil)

	o := order.NewMarket("BTCUSDT", order.Buy, 5, testTS)
	res, err := sim.Execute(context.Background(), o, makeTestBar(testTS))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.AvgPrice != 100.5 { // book level, not the bar high
		t.Errorf("avg price = %v, want 100.5", res.AvgPrice)
	}
	if sim.FallbackCount() != 0 {
		t.Errorf("fallback count = %d, want 0", sim.FallbackCount())
	}
}

func TestSimulator_FallsBackWhenMissing(t *testing.T) {
	sim := NewSimulator(orderbook.NewMemoryRepository(), DefaultConfig(), nil)

	o := order.NewMarket("BTCUSDT", order.Buy, 5, testTS)
	res, err := sim.Execute(context.Background(), o, makeTestBar(testTS))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.AvgPrice != 102 { // bar high approximation
		t.Errorf("avg price = %v, want 102", res.AvgPrice)
	}
	if sim.FallbackCount() != 1 {
		t.Errorf("fallback count = %d, want 1", sim.FallbackCount())
	}
	if len(sim.Warnings()) != 1 || sim.Warnings()[0].Reason != FallbackMissing {
		t.Errorf("warnings = %+v, want one missing", sim.Warnings())
	}
}

func TestSimulator_EmptySideFallsBack(t *testing.T) {
	// Bids only: a buy has nothing to take.
	repo := makeRepoWith(t, testTS,
		[]orderbook.Level{{Price: 100, Qty: 50}},
		nil,
	)
	sim := NewSimulator(repo, DefaultConfig(), nil)

	o := order.NewMarket("BTCUSDT", order.Buy, 5, testTS)
	if _, err := sim.Execute(context.Background(), o, makeTestBar(testTS)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sim.Warnings()) != 1 || sim.Warnings()[0].Reason != FallbackEmptySide {
		t.Errorf("warnings = %+v, want one empty_side", sim.Warnings())
	}
}

func TestSimulator_StaleSnapshot(t *testing.T) {
	// Snapshot 8s away: outside the 5s tolerance, inside the 10s stale window.
	repo := makeRepoWith(t, testTS.Add(-8*time.Second),
		[]orderbook.Level{{Price: 100, Qty: 50}},
		[]orderbook.Level{{Price: 100.5, Qty: 50}},
	)
	sim := NewSimulator(repo, DefaultConfig(), nil)

	o := order.NewMarket("BTCUSDT", order.Buy, 5, testTS)
	if _, err := sim.Execute(context.Background(), o, makeTestBar(testTS)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sim.Warnings()) != 1 || sim.Warnings()[0].Reason != FallbackStale {
		t.Errorf("warnings = %+v, want one stale", sim.Warnings())
	}
}

func TestSimulator_WideSpreadNotTrusted(t *testing.T) {
	// Spread 10 on mid 100: 10%, above the 5% limit.
	repo := makeRepoWith(t, testTS,
		[]orderbook.Level{{Price: 95, Qty: 50}},
		[]orderbook.Level{{Price: 105, Qty: 50}},
	)
	sim := NewSimulator(repo, DefaultConfig(), nil)

	o := order.NewMarket("BTCUSDT", order.Buy, 5, testTS)
	if _, err := sim.Execute(context.Background(), o, makeTestBar(testTS)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sim.Warnings()) != 1 || sim.Warnings()[0].Reason != FallbackWideSpread {
		t.Errorf("warnings = %+v, want one wide_spread", sim.Warnings())
	}
}

func TestSimulator_ReliabilityThresholds(t *testing.T) {
	sim := NewSimulator(orderbook.NewMemoryRepository(), DefaultConfig(), nil)

	// 3 fallbacks over 10 bars: 30% -> DEGRADED.
	for i := 0; i < 3; i++ {
		o := order.NewMarket("BTCUSDT", order.Buy, 1, testTS)
		if _, err := sim.Execute(context.Background(), o, makeTestBar(testTS.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := sim.Reliability(10); got != ReliabilityDegraded {
		t.Errorf("reliability at 30%% = %v, want DEGRADED", got)
	}

	// 6 of 10: UNRELIABLE.
	for i := 0; i < 3; i++ {
		o := order.NewMarket("BTCUSDT", order.Buy, 1, testTS)
		if _, err := sim.Execute(context.Background(), o, makeTestBar(testTS.Add(time.Duration(10+i)*time.Hour))); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := sim.Reliability(10); got != ReliabilityUnreliable {
		t.Errorf("reliability at 60%% = %v, want UNRELIABLE", got)
	}

	// 6 of 100: OK.
	if got := sim.Reliability(100); got != ReliabilityOK {
		t.Errorf("reliability at 6%% = %v, want OK", got)
	}

	sim.Reset()
	if sim.FallbackCount() != 0 || len(sim.Warnings()) != 0 {
		t.Error("reset should clear accumulation")
	}
}

func TestSimulator_DisabledBookIsNotDegradation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UseOrderbook = false
	sim := NewSimulator(nil, cfg, nil)

	o := order.NewMarket("BTCUSDT", order.Buy, 5, testTS)
	res, err := sim.Execute(context.Background(), o, makeTestBar(testTS))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.FilledQty != 5 {
		t.Errorf("filled = %v, want 5", res.FilledQty)
	}
	if sim.FallbackCount() != 0 {
		t.Errorf("fallback count = %d, want 0 when book disabled", sim.FallbackCount())
	}
	if got := sim.Reliability(10); got != ReliabilityOK {
		t.Errorf("reliability = %v, want OK when book disabled", got)
	}
}
