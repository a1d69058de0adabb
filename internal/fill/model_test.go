package fill

import (
	"math"
	"testing"
	"time"

	"github.com/lucasreyna/backtestEngine/internal/orderbook"
)

func makeTestBook(t *testing.T) *orderbook.Snapshot {
	t.Helper()
	snap, err := orderbook.NewSnapshot(
		time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), "BTCUSDT", "binance",
		[]orderbook.Level{{Price: 99.5, Qty: 10}, {Price: 99, Qty: 20}, {Price: 98, Qty: 40}},
		[]orderbook.Level{{Price: 100.5, Qty: 10}, {Price: 101, Qty: 20}, {Price: 102, Qty: 40}},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return snap
}

func TestModel_ExpectedSlippageTerms(t *testing.T) {
	m := NewModel(Config{Alpha: 0.001, Beta: 0.5, Gamma: 1.0})
	book := makeTestBook(t)

	// mid = 100, spread = 1: half-spread term = 0.005.
	// depth (notional within 2x spread of 100.5, i.e. <= 102.5):
	// 100.5*10 + 101*20 + 102*40 = 1005 + 2020 + 4080 = 7105.
	notional := 710.5 // 10% of depth -> impact 0.1 -> impact term 0.0001
	vol := 0.02       // vol term 0.01

	got := m.ExpectedSlippage(Buy, notional, book, vol)
	want := 0.005 + 0.001*0.1 + 0.5*0.02
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("slippage = %v, want %v", got, want)
	}
}

func TestModel_MissingBookCollapsesToDefault(t *testing.T) {
	m := NewModel(DefaultConfig())
	if got := m.ExpectedSlippage(Buy, 1000, nil, 0.02); got != DefaultMissingBookSlippage {
		t.Errorf("slippage without book = %v, want %v", got, DefaultMissingBookSlippage)
	}
}

func TestModel_ZeroDepthClampsImpact(t *testing.T) {
	m := NewModel(DefaultConfig())
	if got := m.MarketImpact(1000, 0); got != 1.0 {
		t.Errorf("impact with zero depth = %v, want 1.0", got)
	}
}

func TestModel_ExponentialImpact(t *testing.T) {
	m := NewModel(Config{Impact: ImpactExponential})
	got := m.MarketImpact(500, 1000)
	want := 1.0 - math.Exp(-0.5)
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("exponential impact = %v, want %v", got, want)
	}
}

func TestModel_NonPositiveMidNeutral(t *testing.T) {
	m := NewModel(DefaultConfig())
	empty := &orderbook.Snapshot{Symbol: "BTCUSDT"}
	if got := m.ExpectedSlippage(Buy, 1000, empty, 0.02); got != 0 {
		t.Errorf("slippage with empty book = %v, want 0", got)
	}
}

func TestModel_FillProbabilityDecay(t *testing.T) {
	m := NewModel(DefaultConfig())
	book := makeTestBook(t)

	small := m.FillProbability(Buy, 100, book, 0, 0)
	large := m.FillProbability(Buy, 5000, book, 0, 0)

	if small.FillProbability <= large.FillProbability {
		t.Errorf("probability should decay with size: small %v <= large %v",
			small.FillProbability, large.FillProbability)
	}
	if small.FillProbability <= 0 || small.FillProbability > 1 {
		t.Errorf("probability out of range: %v", small.FillProbability)
	}

	// Volatility penalty reduces probability.
	calm := m.FillProbability(Buy, 100, book, 0, 0)
	stressed := m.FillProbability(Buy, 100, book, 0, 0.5)
	if stressed.FillProbability >= calm.FillProbability {
		t.Errorf("volatility should reduce probability: %v >= %v",
			stressed.FillProbability, calm.FillProbability)
	}
}

func TestModel_DepthMetricMethods(t *testing.T) {
	book := makeTestBook(t)

	notional := NewModel(Config{DepthMethod: DepthNotionalAtSpread}).DepthMetric(book, Buy)
	if math.Abs(notional-7105) > 1e-9 {
		t.Errorf("notional depth = %v, want 7105", notional)
	}

	qty := NewModel(Config{DepthMethod: DepthCumulativeQty}).DepthMetric(book, Buy)
	if qty != 70 {
		t.Errorf("cumulative depth = %v, want 70", qty)
	}

	effective := NewModel(Config{DepthMethod: DepthEffective}).DepthMetric(book, Buy)
	want := 100.5*10 + 101*20/1.1 + 102*40/1.2
	if math.Abs(effective-want) > 1e-9 {
		t.Errorf("effective depth = %v, want %v", effective, want)
	}
}

func TestModel_OptimalSplit(t *testing.T) {
	m := NewModel(DefaultConfig())
	book := makeTestBook(t)

	// Small order: single leg.
	plan := m.OptimalSplit(Buy, 50, book, 0, 5, 100)
	if len(plan.Legs) != 1 {
		t.Fatalf("expected 1 leg for small order, got %d", len(plan.Legs))
	}

	// Large order: split, and the notional must be conserved.
	plan = m.OptimalSplit(Buy, 5000, book, 0, 5, 100)
	if len(plan.Legs) < 2 {
		t.Fatalf("expected multiple legs, got %d", len(plan.Legs))
	}
	var total float64
	for _, leg := range plan.Legs {
		total += leg.Notional
	}
	if math.Abs(total-5000) > 1e-9 {
		t.Errorf("split legs sum to %v, want 5000", total)
	}
	if plan.WeightedAvgSlippagePct > plan.SingleOrderSlippagePct {
		t.Errorf("splitting should not increase slippage: %v > %v",
			plan.WeightedAvgSlippagePct, plan.SingleOrderSlippagePct)
	}
}
