// Package risk implements position sizing and the guardrails around it.
//
// Design rules:
//   - Sizing rules cannot be overridden by strategies. The engine asks the
//     risk layer for units; the answer is final.
//   - All sizers share one contract: given equity, entry, and stop, return
//     units >= 0. Zero is a valid, deliberate answer.
//   - Drawdown always attenuates: the deeper the hole, the smaller the next
//     position, until the shutdown policy stops trading entirely.
package risk

import (
	"fmt"
	"math"
)

// SizerContext carries the optional inputs a sizer may consume. Fields are
// zero-valued when the caller has nothing better.
type SizerContext struct {
	WinRate            float64            // rolling win rate in (0, 1)
	PayoffRatio        float64            // avg win / avg loss
	RealizedVol        float64            // annualized realized volatility
	DrawdownPct        float64            // current drawdown in percent
	RegimeProbabilities map[string]float64 // calm / balanced / stress weights
}

// FixedRiskSizer sizes positions so the loss at the stop equals a fixed
// fraction of equity.
//
// With equity 10000, risk 1%, entry 50000, stop 48000: the risk budget is
// 100 and the distance 2000, so the size is 0.05 units.
type FixedRiskSizer struct {
	RiskBudgetPct float64 // fraction of equity risked per trade
	MinSize       float64
	MaxSize       float64 // 0 means unlimited
}

// NewFixedRiskSizer creates a fixed-risk sizer with the default 1% budget.
func NewFixedRiskSizer() *FixedRiskSizer {
	return &FixedRiskSizer{RiskBudgetPct: 0.01, MinSize: 0.001}
}

// Size returns the unit count for the trade. A zero stop distance returns 0
// with a diagnostic error rather than dividing by zero.
func (s *FixedRiskSizer) Size(equity, entry, stop float64) (float64, error) {
	if equity <= 0 || entry <= 0 {
		return 0, nil
	}
	riskPerUnit := math.Abs(entry - stop)
	if riskPerUnit == 0 {
		return 0, fmt.Errorf("risk sizer: zero stop distance (entry %.8f == stop %.8f)", entry, stop)
	}

	units := equity * s.RiskBudgetPct / riskPerUnit
	if units < s.MinSize {
		units = s.MinSize
	}
	if s.MaxSize > 0 && units > s.MaxSize {
		units = s.MaxSize
	}
	return units, nil
}

// RiskAmount returns the loss realized if the stop is hit at this size.
func (s *FixedRiskSizer) RiskAmount(units, entry, stop float64) float64 {
	return units * math.Abs(entry-stop)
}

// AdaptiveRegimeSizer blends the base risk budget by regime probabilities:
// calm regimes risk more, stress regimes risk less.
type AdaptiveRegimeSizer struct {
	BaseRiskPct        float64
	CalmMultiplier     float64
	BalancedMultiplier float64
	StressMultiplier   float64
	MinSize            float64
	MaxSize            float64
}

// NewAdaptiveRegimeSizer creates an adaptive sizer with production defaults.
func NewAdaptiveRegimeSizer() *AdaptiveRegimeSizer {
	return &AdaptiveRegimeSizer{
		BaseRiskPct:        0.01,
		CalmMultiplier:     1.5,
		BalancedMultiplier: 1.0,
		StressMultiplier:   0.5,
		MinSize:            0.001,
	}
}

// EffectiveRiskPct returns the regime-weighted risk budget.
func (s *AdaptiveRegimeSizer) EffectiveRiskPct(regimeProbabilities map[string]float64) float64 {
	if len(regimeProbabilities) == 0 {
		return s.BaseRiskPct
	}
	mult := regimeProbabilities["calm"]*s.CalmMultiplier +
		regimeProbabilities["balanced"]*s.BalancedMultiplier +
		regimeProbabilities["stress"]*s.StressMultiplier
	return s.BaseRiskPct * mult
}

// Size returns units under the regime-weighted risk budget.
func (s *AdaptiveRegimeSizer) Size(equity, entry, stop float64, regimeProbabilities map[string]float64) (float64, error) {
	inner := &FixedRiskSizer{
		RiskBudgetPct: s.EffectiveRiskPct(regimeProbabilities),
		MinSize:       s.MinSize,
		MaxSize:       s.MaxSize,
	}
	return inner.Size(equity, entry, stop)
}

// DrawdownController attenuates exposure linearly with drawdown:
// multiplier(dd) = clamp(1 - dd/maxDD, 0, 1). At maxDD the multiplier is
// zero and trading stops.
type DrawdownController struct {
	MaxDrawdownPct float64
}

// NewDrawdownController creates a controller that zeroes risk at maxDD percent.
func NewDrawdownController(maxDrawdownPct float64) *DrawdownController {
	return &DrawdownController{MaxDrawdownPct: maxDrawdownPct}
}

// Multiplier returns the exposure multiplier in [0, 1] for the drawdown.
func (c *DrawdownController) Multiplier(drawdownPct float64) float64 {
	if c.MaxDrawdownPct <= 0 {
		return 1.0
	}
	m := 1.0 - drawdownPct/c.MaxDrawdownPct
	if m < 0 {
		return 0
	}
	if m > 1 {
		return 1
	}
	return m
}

// AdjustedRiskBudget applies the drawdown multiplier to a base budget.
func (c *DrawdownController) AdjustedRiskBudget(baseRiskPct, drawdownPct float64) float64 {
	return baseRiskPct * c.Multiplier(drawdownPct)
}
