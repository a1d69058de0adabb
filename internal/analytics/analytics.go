// Package analytics computes performance metrics from closed trade fills.
//
// It provides:
//   - Win rate, total P&L, average P&L
//   - Maximum drawdown (absolute and percentage)
//   - Sharpe ratio (annualized)
//   - Profit factor (gross profits / gross losses)
//   - CAGR from the closed-trade equity path (initial capital plus trade PnL)
//
// All functions are stateless and work on slices of storage.TradeFill.
package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/lucasreyna/backtestEngine/internal/storage"
)

// Report holds all computed performance metrics.
type Report struct {
	// Overall trade stats.
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"` // percentage (0-100)

	// P&L.
	TotalPnL    float64 `json:"total_pnl"`
	AveragePnL  float64 `json:"average_pnl"`
	GrossProfit float64 `json:"gross_profit"`
	GrossLoss   float64 `json:"gross_loss"`

	// Risk metrics.
	MaxDrawdown    float64 `json:"max_drawdown"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	SharpeRatio    float64 `json:"sharpe_ratio"` // annualized
	ProfitFactor   float64 `json:"profit_factor"`
	PayoffRatio    float64 `json:"payoff_ratio"` // avg win / avg loss

	// Growth.
	CAGRPct float64 `json:"cagr_pct"`
}

// Analyze computes the full report from closed trades. initialCapital is the
// starting equity; start/end bound the run for CAGR. Returns an empty report
// (not nil) when no trades are provided.
func Analyze(trades []storage.TradeFill, initialCapital float64, start, end time.Time) *Report {
	report := &Report{}
	if len(trades) == 0 {
		return report
	}

	// Sort by exit time for sequential analysis.
	sorted := make([]storage.TradeFill, len(trades))
	copy(sorted, trades)
	sort.Slice(sorted, func(i, j int) bool {
		return exitTime(sorted[i]).Before(exitTime(sorted[j]))
	})

	var pnls []float64
	for _, t := range sorted {
		if t.Status != storage.TradeClosed {
			continue
		}
		pnl := t.PnL
		pnls = append(pnls, pnl)
		report.TotalTrades++
		report.TotalPnL += pnl

		if pnl > 0 {
			report.WinningTrades++
			report.GrossProfit += pnl
		} else if pnl < 0 {
			report.LosingTrades++
			report.GrossLoss += math.Abs(pnl)
		}
	}
	if report.TotalTrades == 0 {
		return report
	}

	report.WinRate = float64(report.WinningTrades) / float64(report.TotalTrades) * 100
	report.AveragePnL = report.TotalPnL / float64(report.TotalTrades)

	if report.GrossLoss > 0 {
		report.ProfitFactor = report.GrossProfit / report.GrossLoss
	} else if report.GrossProfit > 0 {
		report.ProfitFactor = math.Inf(1)
	}

	if report.WinningTrades > 0 && report.LosingTrades > 0 {
		avgWin := report.GrossProfit / float64(report.WinningTrades)
		avgLoss := report.GrossLoss / float64(report.LosingTrades)
		if avgLoss > 0 {
			report.PayoffRatio = avgWin / avgLoss
		}
	}

	// Max drawdown from the trade-by-trade equity path.
	equity := initialCapital
	peak := equity
	for _, pnl := range pnls {
		equity += pnl
		if equity > peak {
			peak = equity
		}
		dd := peak - equity
		if dd > report.MaxDrawdown {
			report.MaxDrawdown = dd
			if peak > 0 {
				report.MaxDrawdownPct = dd / peak * 100
			}
		}
	}

	report.SharpeRatio = sharpeRatio(pnls)
	report.CAGRPct = cagr(initialCapital, equity, start, end)
	return report
}

// exitTime safely extracts the exit time from a trade fill.
func exitTime(t storage.TradeFill) time.Time {
	if t.ExitTime != nil {
		return *t.ExitTime
	}
	return t.EntryTime
}

// sharpeRatio calculates the annualized Sharpe from per-trade P&L values,
// assuming zero risk-free rate and 252 trading days per year.
func sharpeRatio(pnls []float64) float64 {
	if len(pnls) < 2 {
		return 0
	}

	var sum float64
	for _, p := range pnls {
		sum += p
	}
	mean := sum / float64(len(pnls))

	var variance float64
	for _, p := range pnls {
		diff := p - mean
		variance += diff * diff
	}
	variance /= float64(len(pnls) - 1)
	stdDev := math.Sqrt(variance)
	if stdDev == 0 {
		return 0
	}

	return mean / stdDev * math.Sqrt(252)
}

// cagr annualizes the growth between initial and final capital over the run
// window. Degenerate windows or capital return 0.
func cagr(initial, final float64, start, end time.Time) float64 {
	years := end.Sub(start).Hours() / (24 * 365)
	if initial <= 0 || final <= 0 || years <= 0 {
		return 0
	}
	return (math.Pow(final/initial, 1/years) - 1) * 100
}
