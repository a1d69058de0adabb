package analytics

import (
	"math"
	"testing"
	"time"

	"github.com/lucasreyna/backtestEngine/internal/storage"
)

func makeClosedTrade(entry time.Time, pnl float64) storage.TradeFill {
	exit := entry.Add(4 * time.Hour)
	return storage.TradeFill{
		SignalTime: entry,
		EntryTime:  entry,
		ExitTime:   &exit,
		EntryPrice: 100,
		ExitPrice:  100 + pnl,
		Size:       1,
		Side:       "BUY",
		Status:     storage.TradeClosed,
		PnL:        pnl,
	}
}

func TestAnalyze_EmptyInput(t *testing.T) {
	report := Analyze(nil, 10000, time.Time{}, time.Time{})
	if report == nil {
		t.Fatal("expected non-nil report")
	}
	if report.TotalTrades != 0 {
		t.Errorf("total trades = %d, want 0", report.TotalTrades)
	}
}

func TestAnalyze_BasicMetrics(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	trades := []storage.TradeFill{
		makeClosedTrade(start, 100),
		makeClosedTrade(start.Add(24*time.Hour), -50),
		makeClosedTrade(start.Add(48*time.Hour), 200),
		makeClosedTrade(start.Add(72*time.Hour), -25),
	}

	report := Analyze(trades, 10000, start, start.Add(96*time.Hour))

	if report.TotalTrades != 4 {
		t.Errorf("total trades = %d, want 4", report.TotalTrades)
	}
	if report.WinningTrades != 2 || report.LosingTrades != 2 {
		t.Errorf("wins/losses = %d/%d, want 2/2", report.WinningTrades, report.LosingTrades)
	}
	if report.WinRate != 50 {
		t.Errorf("win rate = %v, want 50", report.WinRate)
	}
	if report.TotalPnL != 225 {
		t.Errorf("total pnl = %v, want 225", report.TotalPnL)
	}
	if math.Abs(report.ProfitFactor-300.0/75.0) > 1e-12 {
		t.Errorf("profit factor = %v, want 4", report.ProfitFactor)
	}
	// Avg win 150, avg loss 37.5.
	if math.Abs(report.PayoffRatio-4) > 1e-12 {
		t.Errorf("payoff ratio = %v, want 4", report.PayoffRatio)
	}
}

func TestAnalyze_MaxDrawdown(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	trades := []storage.TradeFill{
		makeClosedTrade(start, 500),
		makeClosedTrade(start.Add(24*time.Hour), -300),
		makeClosedTrade(start.Add(48*time.Hour), -200),
		makeClosedTrade(start.Add(72*time.Hour), 100),
	}

	report := Analyze(trades, 10000, start, start.Add(96*time.Hour))

	// Peak 10500 after first trade, trough 10000 after the two losses.
	if report.MaxDrawdown != 500 {
		t.Errorf("max drawdown = %v, want 500", report.MaxDrawdown)
	}
	want := 500.0 / 10500.0 * 100
	if math.Abs(report.MaxDrawdownPct-want) > 1e-9 {
		t.Errorf("max drawdown pct = %v, want %v", report.MaxDrawdownPct, want)
	}
}

func TestAnalyze_SkipsOpenTrades(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	open := storage.TradeFill{
		EntryTime: start,
		Status:    storage.TradeOpen,
		PnL:       999,
	}
	trades := []storage.TradeFill{makeClosedTrade(start, 10), open}

	report := Analyze(trades, 10000, start, start.Add(24*time.Hour))
	if report.TotalTrades != 1 {
		t.Errorf("total trades = %d, want 1 (open excluded)", report.TotalTrades)
	}
	if report.TotalPnL != 10 {
		t.Errorf("total pnl = %v, want 10", report.TotalPnL)
	}
}

func TestAnalyze_CAGR(t *testing.T) {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(1, 0, 0)
	trades := []storage.TradeFill{makeClosedTrade(start, 1000)}

	report := Analyze(trades, 10000, start, end)
	// 10000 -> 11000 over one year: 10%.
	if math.Abs(report.CAGRPct-10) > 0.1 {
		t.Errorf("CAGR = %v, want ~10", report.CAGRPct)
	}
}
