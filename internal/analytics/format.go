package analytics

import (
	"fmt"
	"strings"
)

// FormatReport returns a human-readable text summary of the report.
func FormatReport(report *Report) string {
	if report == nil || report.TotalTrades == 0 {
		return "No closed trades to analyze."
	}

	var b strings.Builder

	b.WriteString("═══════════════════════════════════════════════════\n")
	b.WriteString("              PERFORMANCE REPORT\n")
	b.WriteString("═══════════════════════════════════════════════════\n\n")

	b.WriteString("── TRADE SUMMARY ──\n")
	fmt.Fprintf(&b, "  Total trades:    %d\n", report.TotalTrades)
	fmt.Fprintf(&b, "  Winning trades:  %d (%.1f%%)\n", report.WinningTrades, report.WinRate)
	fmt.Fprintf(&b, "  Losing trades:   %d\n", report.LosingTrades)
	b.WriteString("\n")

	b.WriteString("── PROFIT & LOSS ──\n")
	fmt.Fprintf(&b, "  Total P&L:       %.2f\n", report.TotalPnL)
	fmt.Fprintf(&b, "  Average P&L:     %.2f\n", report.AveragePnL)
	fmt.Fprintf(&b, "  Gross profit:    %.2f\n", report.GrossProfit)
	fmt.Fprintf(&b, "  Gross loss:      %.2f\n", report.GrossLoss)
	fmt.Fprintf(&b, "  Profit factor:   %.2f\n", report.ProfitFactor)
	b.WriteString("\n")

	b.WriteString("── RISK METRICS ──\n")
	fmt.Fprintf(&b, "  Max drawdown:    %.2f (%.2f%%)\n", report.MaxDrawdown, report.MaxDrawdownPct)
	fmt.Fprintf(&b, "  Sharpe ratio:    %.2f\n", report.SharpeRatio)
	fmt.Fprintf(&b, "  Payoff ratio:    %.2f\n", report.PayoffRatio)
	fmt.Fprintf(&b, "  CAGR:            %.2f%%\n", report.CAGRPct)
	b.WriteString("\n")

	b.WriteString("═══════════════════════════════════════════════════\n")
	return b.String()
}
