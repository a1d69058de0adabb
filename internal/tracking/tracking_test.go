package tracking

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
)

func TestCompute_IdenticalCurvesZeroError(t *testing.T) {
	curve := []float64{10000, 10100, 10050, 10200, 10150}

	stats, err := Compute(curve, curve, 365*24)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.RMSE != 0 {
		t.Errorf("rmse = %v, want 0", stats.RMSE)
	}
	if stats.MaxDivergenceBps != 0 {
		t.Errorf("max divergence = %v, want 0", stats.MaxDivergenceBps)
	}
	if stats.AnnualizedTE != 0 {
		t.Errorf("annualized TE = %v, want 0", stats.AnnualizedTE)
	}
	if math.Abs(stats.Correlation-1) > 1e-12 {
		t.Errorf("correlation = %v, want 1", stats.Correlation)
	}
}

func TestCompute_FrictionWidensDivergence(t *testing.T) {
	theo := []float64{10000, 10100, 10200, 10300}
	real := []float64{10000, 10090, 10180, 10260}

	stats, err := Compute(theo, real, 365)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.RMSE <= 0 {
		t.Errorf("rmse = %v, want > 0", stats.RMSE)
	}
	// Final divergence: |10260/10300 - 1| ~ 38.8 bps.
	want := math.Abs(10260.0/10300.0-1) * 10000
	if math.Abs(stats.MaxDivergenceBps-want) > 1e-9 {
		t.Errorf("max divergence = %v, want %v", stats.MaxDivergenceBps, want)
	}
}

func TestCompute_ZeroVarianceYieldsNull(t *testing.T) {
	// Flat curves: zero return variance on both sides.
	flat := []float64{10000, 10000, 10000, 10000}

	stats, err := Compute(flat, flat, 365)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !math.IsNaN(stats.Correlation) {
		t.Errorf("correlation = %v, want NaN", stats.Correlation)
	}

	// NaN must serialize as null, not crash or emit "NaN".
	data, err := json.Marshal(stats)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"correlation":null`) {
		t.Errorf("expected null correlation in %s", data)
	}
}

func TestCompute_LengthMismatch(t *testing.T) {
	if _, err := Compute([]float64{1, 2, 3}, []float64{1, 2}, 365); err == nil {
		t.Error("expected error for mismatched lengths")
	}
	if _, err := Compute([]float64{1}, []float64{1}, 365); err == nil {
		t.Error("expected error for short curves")
	}
}

func TestSeries_CumulativeSums(t *testing.T) {
	theo := []float64{100, 110, 121}
	real := []float64{100, 105, 110.25}

	samples, cumulative := Series(theo, real)
	if len(samples) != 2 || len(cumulative) != 2 {
		t.Fatalf("series lengths = %d/%d, want 2/2", len(samples), len(cumulative))
	}

	// Per-bar diff: 0.10 - 0.05 = 0.05 each bar.
	for i, s := range samples {
		if math.Abs(s.Value-0.05) > 1e-12 {
			t.Errorf("sample[%d] = %v, want 0.05", i, s.Value)
		}
	}
	if math.Abs(cumulative[1].Value-0.10) > 1e-12 {
		t.Errorf("cumulative[1] = %v, want 0.10", cumulative[1].Value)
	}
}

func TestIdentityStrategyInvariance(t *testing.T) {
	// An identity strategy never trades, so realistic == theoretical and the
	// tracking error of (run, run+identity) is the tracking error of the run
	// against itself: all zeros.
	curve := []float64{10000, 10000, 10000, 10000, 10000}
	stats, err := Compute(curve, curve, 365)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.RMSE != 0 || stats.MaxDivergenceBps != 0 {
		t.Errorf("identity run should have zero tracking error: %+v", stats)
	}
}
