package risk

import (
	"fmt"
	"math"
)

// TradeOutcome is the minimal closed-trade view the shutdown policy needs.
type TradeOutcome struct {
	PnL       float64
	ReturnPct float64
}

// StrategyMetrics is the rolling health snapshot evaluated by the policy.
type StrategyMetrics struct {
	DrawdownPct   float64
	PeakEquity    float64
	CurrentEquity float64
	Trades        []TradeOutcome
}

// RollingSharpe computes the annualized Sharpe over the last lookback closed
// trades. The second return is false when fewer than two trades exist or the
// return variance is zero; the policy's missing-data branch decides what
// that means.
func (m StrategyMetrics) RollingSharpe(lookback int) (float64, bool) {
	trades := tail(m.Trades, lookback)
	if len(trades) < 2 {
		return 0, false
	}

	returns := make([]float64, len(trades))
	for i, t := range trades {
		r := t.ReturnPct
		if r == 0 && m.CurrentEquity > 0 {
			r = t.PnL / m.CurrentEquity * 100
		}
		returns[i] = r
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))
	std := math.Sqrt(variance)
	if std == 0 {
		return 0, false
	}

	return mean / std * math.Sqrt(252), true
}

// RollingHitRate returns the win percentage over the last lookback trades,
// 0 when no trades exist.
func (m StrategyMetrics) RollingHitRate(lookback int) float64 {
	trades := tail(m.Trades, lookback)
	if len(trades) == 0 {
		return 0
	}
	wins := 0
	for _, t := range trades {
		if t.PnL > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(trades)) * 100
}

func tail(trades []TradeOutcome, n int) []TradeOutcome {
	if n <= 0 || len(trades) <= n {
		return trades
	}
	return trades[len(trades)-n:]
}

// ShutdownPolicy suspends or degrades trading on drawdown breaches and
// performance decay.
//
//   - Hard stop when drawdown >= MaxDrawdownPct.
//   - Degrade (size * ReductionFactor) when approaching the drawdown limit
//     or when Sharpe/hit-rate sit inside the warning band above their floors.
//   - With insufficient history to compute rolling Sharpe, the policy blocks
//     unless AllowMissingData opts into bypassing (development environments).
type ShutdownPolicy struct {
	MaxDrawdownPct      float64
	MinRollingSharpe    float64
	MinHitRatePct       float64
	LookbackTrades      int
	ReductionFactor     float64
	EnableSizeReduction bool
	AllowMissingData    bool
}

// DefaultShutdownPolicy returns the production policy.
func DefaultShutdownPolicy() ShutdownPolicy {
	return ShutdownPolicy{
		MaxDrawdownPct:      20.0,
		MinRollingSharpe:    0.2,
		MinHitRatePct:       40.0,
		LookbackTrades:      50,
		ReductionFactor:     0.5,
		EnableSizeReduction: true,
	}
}

// ShutdownStatus is the evaluated policy outcome. It is a policy result,
// not an error.
type ShutdownStatus struct {
	Shutdown            bool
	ShutdownReason      string
	SizeReduction       bool
	SizeReductionFactor float64
	SizeReductionReason string
	RollingSharpe       float64
	HasSharpeData       bool
	RollingHitRate      float64
	DrawdownPct         float64
}

// Evaluate applies the policy to the metrics.
func (p ShutdownPolicy) Evaluate(m StrategyMetrics) ShutdownStatus {
	status := ShutdownStatus{
		SizeReductionFactor: 1.0,
		DrawdownPct:         m.DrawdownPct,
		RollingHitRate:      m.RollingHitRate(p.LookbackTrades),
	}
	status.RollingSharpe, status.HasSharpeData = m.RollingSharpe(p.LookbackTrades)

	// Hard stop: drawdown breach.
	if m.DrawdownPct >= p.MaxDrawdownPct {
		status.Shutdown = true
		status.ShutdownReason = fmt.Sprintf("drawdown hard-stop: %.2f%% >= %.2f%%",
			m.DrawdownPct, p.MaxDrawdownPct)
		return status
	}

	// Performance guard: rolling Sharpe.
	if !status.HasSharpeData {
		if !p.AllowMissingData {
			status.Shutdown = true
			status.ShutdownReason = fmt.Sprintf(
				"insufficient performance history: need at least 2 trades to compute rolling Sharpe (last %d trades)",
				p.LookbackTrades)
			return status
		}
	} else if status.RollingSharpe < p.MinRollingSharpe {
		status.Shutdown = true
		status.ShutdownReason = fmt.Sprintf("rolling Sharpe breach: %.2f < %.2f (last %d trades)",
			status.RollingSharpe, p.MinRollingSharpe, p.LookbackTrades)
		return status
	}

	// Performance guard: rolling hit rate.
	if len(m.Trades) == 0 {
		if !p.AllowMissingData {
			status.Shutdown = true
			status.ShutdownReason = fmt.Sprintf(
				"insufficient performance history: need trade history to compute rolling hit rate (last %d trades)",
				p.LookbackTrades)
			return status
		}
	} else if status.RollingHitRate < p.MinHitRatePct {
		status.Shutdown = true
		status.ShutdownReason = fmt.Sprintf("rolling hit rate breach: %.2f%% < %.2f%% (last %d trades)",
			status.RollingHitRate, p.MinHitRatePct, p.LookbackTrades)
		return status
	}

	// Warning band: degrade size instead of shutting down.
	if p.EnableSizeReduction {
		if reason, reduce := p.warningBand(status); reduce {
			status.SizeReduction = true
			status.SizeReductionFactor = p.ReductionFactor
			status.SizeReductionReason = reason
		}
	}
	return status
}

func (p ShutdownPolicy) warningBand(status ShutdownStatus) (string, bool) {
	ddWarning := p.MaxDrawdownPct * 0.8
	if status.DrawdownPct >= ddWarning {
		return fmt.Sprintf("drawdown warning: %.2f%% >= %.2f%%", status.DrawdownPct, ddWarning), true
	}

	sharpeWarning := p.MinRollingSharpe * 1.2
	if status.HasSharpeData && status.RollingSharpe < sharpeWarning && status.RollingSharpe >= p.MinRollingSharpe {
		return fmt.Sprintf("Sharpe warning: %.2f < %.2f", status.RollingSharpe, sharpeWarning), true
	}

	hitWarning := p.MinHitRatePct * 1.2
	if status.RollingHitRate < hitWarning && status.RollingHitRate >= p.MinHitRatePct {
		return fmt.Sprintf("hit rate warning: %.2f%% < %.2f%%", status.RollingHitRate, hitWarning), true
	}

	return "", false
}

// ShutdownManager latches the shutdown state and applies recovery
// hysteresis: once shut down, trading resumes only when drawdown has
// retreated below 80% of the limit and the performance floors are cleared
// again. Size reduction recovers on stricter thresholds.
type ShutdownManager struct {
	Policy ShutdownPolicy

	isShutdown          bool
	shutdownReason      string
	sizeReductionFactor float64
	sizeReductionReason string
}

// NewShutdownManager creates a manager around the policy.
func NewShutdownManager(policy ShutdownPolicy) *ShutdownManager {
	return &ShutdownManager{Policy: policy, sizeReductionFactor: 1.0}
}

// Evaluate runs the policy and updates the latched state.
func (sm *ShutdownManager) Evaluate(m StrategyMetrics) ShutdownStatus {
	status := sm.Policy.Evaluate(m)

	if status.Shutdown {
		sm.isShutdown = true
		sm.shutdownReason = status.ShutdownReason
	} else if sm.isShutdown {
		recoveredDD := m.DrawdownPct < sm.Policy.MaxDrawdownPct*0.8
		recoveredSharpe := !status.HasSharpeData || status.RollingSharpe >= sm.Policy.MinRollingSharpe
		recoveredHitRate := status.RollingHitRate >= sm.Policy.MinHitRatePct
		if recoveredDD && recoveredSharpe && recoveredHitRate {
			sm.isShutdown = false
			sm.shutdownReason = ""
		}
	}

	if status.SizeReduction {
		sm.sizeReductionFactor = status.SizeReductionFactor
		sm.sizeReductionReason = status.SizeReductionReason
	} else if sm.sizeReductionFactor < 1.0 {
		recoveredDD := m.DrawdownPct < sm.Policy.MaxDrawdownPct*0.6
		recoveredSharpe := !status.HasSharpeData || status.RollingSharpe >= sm.Policy.MinRollingSharpe*1.5
		recoveredHitRate := status.RollingHitRate >= sm.Policy.MinHitRatePct*1.2
		if recoveredDD && recoveredSharpe && recoveredHitRate {
			sm.sizeReductionFactor = 1.0
			sm.sizeReductionReason = ""
		}
	}

	status.Shutdown = sm.isShutdown
	if sm.isShutdown {
		status.ShutdownReason = sm.shutdownReason
	}
	status.SizeReductionFactor = sm.sizeReductionFactor
	return status
}

// SizeMultiplier returns 0 while shut down, else the latched reduction factor.
func (sm *ShutdownManager) SizeMultiplier() float64 {
	if sm.isShutdown {
		return 0
	}
	return sm.sizeReductionFactor
}

// IsShutdown reports the latched shutdown state.
func (sm *ShutdownManager) IsShutdown() bool { return sm.isShutdown }

// ShutdownReason returns the reason for the latched shutdown, if any.
func (sm *ShutdownManager) ShutdownReason() string { return sm.shutdownReason }

// Reset clears all latched state (manual override).
func (sm *ShutdownManager) Reset() {
	sm.isShutdown = false
	sm.shutdownReason = ""
	sm.sizeReductionFactor = 1.0
	sm.sizeReductionReason = ""
}
