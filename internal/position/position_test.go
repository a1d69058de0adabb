package position

import (
	"math"
	"testing"
	"time"
)

var testTS = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func makeTestLong(t *testing.T, cfg Config, price, qty float64) *Position {
	t.Helper()
	p, err := New("BTCUSDT", Long, cfg, price, qty, testTS)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return p
}

func TestPosition_WeightedAverageEntry(t *testing.T) {
	p := makeTestLong(t, Config{}, 100, 2)
	p.ApplyFill(110, 1, testTS.Add(time.Hour), "")

	want := (100.0*2 + 110.0*1) / 3.0
	if math.Abs(p.AvgEntry-want) > 1e-12 {
		t.Errorf("avg entry = %v, want %v", p.AvgEntry, want)
	}
	if p.Size != 3 {
		t.Errorf("size = %v, want 3", p.Size)
	}
}

func TestPosition_LevelsRecomputeOnFill(t *testing.T) {
	p := makeTestLong(t, Config{RiskPerUnit: 4, RiskRewardRatio: 2}, 100, 1)

	if p.StopLoss != 96 {
		t.Errorf("stop = %v, want 96", p.StopLoss)
	}
	if p.TakeProfit != 108 {
		t.Errorf("target = %v, want 108", p.TakeProfit)
	}

	// Scale in higher: levels follow the new weighted entry.
	p.ApplyFill(104, 1, testTS.Add(time.Hour), "")
	if p.StopLoss != 98 {
		t.Errorf("stop after scale-in = %v, want 98", p.StopLoss)
	}
	if p.TakeProfit != 110 {
		t.Errorf("target after scale-in = %v, want 110", p.TakeProfit)
	}
}

func TestPosition_ShortLevelsMirror(t *testing.T) {
	p, err := New("BTCUSDT", Short, Config{RiskPerUnit: 4, RewardPerUnit: 8}, 100, 1, testTS)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.StopLoss != 104 {
		t.Errorf("short stop = %v, want 104", p.StopLoss)
	}
	if p.TakeProfit != 92 {
		t.Errorf("short target = %v, want 92", p.TakeProfit)
	}
}

func TestPosition_PartialCloseKeepsEntry(t *testing.T) {
	p := makeTestLong(t, Config{}, 100, 4)
	p.UpdatePrice(110, testTS.Add(time.Hour))

	result, err := p.ApplyPartialClose(110, 1, testTS.Add(time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.RealizedPnL != 10 {
		t.Errorf("pnl = %v, want 10", result.RealizedPnL)
	}
	if p.Size != 3 {
		t.Errorf("size = %v, want 3", p.Size)
	}
	if p.AvgEntry != 100 {
		t.Errorf("avg entry changed on partial close: %v", p.AvgEntry)
	}
}

func TestPosition_FullCloseResetsState(t *testing.T) {
	p := makeTestLong(t, Config{RiskPerUnit: 5}, 100, 2)
	if _, err := p.ApplyPartialClose(103, 2, testTS.Add(time.Hour)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Size != 0 || p.AvgEntry != 0 || p.StopLoss != 0 || p.TakeProfit != 0 {
		t.Errorf("state not reset: %+v", p)
	}
}

func TestPosition_RejectsOversizedClose(t *testing.T) {
	p := makeTestLong(t, Config{}, 100, 1)
	if _, err := p.ApplyPartialClose(110, 2, testTS); err == nil {
		t.Error("expected error closing more than position size")
	}
}

func TestPosition_BreakevenShift(t *testing.T) {
	p := makeTestLong(t, Config{RiskPerUnit: 5, BreakevenTrigger: 3}, 100, 1)

	p.UpdatePrice(102, testTS.Add(time.Hour))
	if p.BreakevenArmed {
		t.Fatal("breakeven should not arm below trigger")
	}
	if p.StopLoss != 95 {
		t.Errorf("stop = %v, want 95", p.StopLoss)
	}

	p.UpdatePrice(103, testTS.Add(2*time.Hour))
	if !p.BreakevenArmed {
		t.Fatal("breakeven should arm at +3")
	}
	if p.StopLoss != 100 {
		t.Errorf("stop = %v, want breakeven 100", p.StopLoss)
	}

	// The shift happens once; later adverse moves do not re-trigger.
	p.UpdatePrice(101, testTS.Add(3*time.Hour))
	if p.StopLoss != 100 {
		t.Errorf("stop moved after breakeven: %v", p.StopLoss)
	}
}

func TestPosition_TrailingStopRatchets(t *testing.T) {
	p := makeTestLong(t, Config{RiskPerUnit: 5, TrailingStop: true, TrailingDistance: 4}, 100, 1)

	p.UpdatePrice(106, testTS.Add(time.Hour))
	if p.StopLoss != 102 {
		t.Errorf("trailing stop = %v, want 102", p.StopLoss)
	}

	// Price retreats: the stop holds.
	p.UpdatePrice(104, testTS.Add(2*time.Hour))
	if p.StopLoss != 102 {
		t.Errorf("trailing stop moved down: %v", p.StopLoss)
	}

	// New high ratchets it up.
	p.UpdatePrice(110, testTS.Add(3*time.Hour))
	if p.StopLoss != 106 {
		t.Errorf("trailing stop = %v, want 106", p.StopLoss)
	}
}

func TestPosition_TrailingShort(t *testing.T) {
	p, err := New("BTCUSDT", Short, Config{RiskPerUnit: 5, TrailingStop: true, TrailingDistance: 4}, 100, 1, testTS)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p.UpdatePrice(94, testTS.Add(time.Hour))
	if p.StopLoss != 98 {
		t.Errorf("short trailing stop = %v, want 98", p.StopLoss)
	}
	p.UpdatePrice(97, testTS.Add(2*time.Hour))
	if p.StopLoss != 98 {
		t.Errorf("short trailing stop moved up: %v", p.StopLoss)
	}
}

func TestPosition_PartialTakeProfits(t *testing.T) {
	cfg := Config{
		PartialTPs: []PartialTPConfig{
			{Offset: 5, QtyPct: 0.5},
			{Offset: 10, QtyPct: 0.5},
		},
	}
	p := makeTestLong(t, cfg, 100, 4)

	events := p.UpdatePrice(105, testTS.Add(time.Hour))
	if len(events) != 1 {
		t.Fatalf("expected 1 partial TP, got %d", len(events))
	}
	if events[0].ClosedQty != 2 {
		t.Errorf("closed qty = %v, want 2", events[0].ClosedQty)
	}
	if p.Size != 2 {
		t.Errorf("size = %v, want 2", p.Size)
	}

	events = p.UpdatePrice(110, testTS.Add(2*time.Hour))
	if len(events) != 1 {
		t.Fatalf("expected second partial TP, got %d", len(events))
	}
	if events[0].ClosedQty != 2 {
		t.Errorf("closed qty = %v, want 2", events[0].ClosedQty)
	}
	if p.Size != 0 {
		t.Errorf("size = %v, want 0", p.Size)
	}
}

func TestPosition_MAEMFE(t *testing.T) {
	p := makeTestLong(t, Config{}, 100, 1)

	p.UpdatePrice(108, testTS.Add(time.Hour))
	p.UpdatePrice(95, testTS.Add(2*time.Hour))
	p.UpdatePrice(103, testTS.Add(3*time.Hour))

	if p.MFE != 8 {
		t.Errorf("MFE = %v, want 8", p.MFE)
	}
	if p.MAE != 5 {
		t.Errorf("MAE = %v, want 5", p.MAE)
	}

	a := p.TradeAnalytics()
	if math.Abs(a.MFEPct-8) > 1e-12 || math.Abs(a.MAEPct-5) > 1e-12 {
		t.Errorf("analytics = %+v, want 8%%/5%%", a)
	}
}

func TestPosition_CheckExitStopFirst(t *testing.T) {
	p := makeTestLong(t, Config{RiskPerUnit: 4, RewardPerUnit: 6}, 100, 1)

	// Price below the stop.
	p.CurrentPrice = 95
	check := p.CheckExit()
	if !check.Triggered || check.Reason != ExitStopLoss || check.Price != 96 {
		t.Errorf("check = %+v, want stop at 96", check)
	}

	// Price above the target.
	p.CurrentPrice = 107
	check = p.CheckExit()
	if !check.Triggered || check.Reason != ExitTakeProfit || check.Price != 106 {
		t.Errorf("check = %+v, want target at 106", check)
	}
}

func TestManager_LifecycleAndOwnership(t *testing.T) {
	m := NewManager()

	if _, err := m.Open("BTCUSDT", Long, Config{}, 100, 2, testTS); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Count() != 1 {
		t.Fatalf("count = %d, want 1", m.Count())
	}

	// Adding to the same symbol reuses the position.
	p, err := m.Open("BTCUSDT", Long, Config{}, 110, 2, testTS.Add(time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Size != 4 {
		t.Errorf("size = %v, want 4", p.Size)
	}

	// Full close destroys the entry.
	if _, ok := m.Close("BTCUSDT", 120, 0, testTS.Add(2*time.Hour)); !ok {
		t.Fatal("expected close to succeed")
	}
	if m.Get("BTCUSDT") != nil {
		t.Error("position should be destroyed at zero size")
	}
	if m.Count() != 0 {
		t.Errorf("count = %d, want 0", m.Count())
	}
}
