package risk

// KellySizer computes the Kelly fraction with truncation for safety:
// kelly = p - (1-p)/b, then applied = clamp(kelly * cap, 0, maxFraction).
// Zero or negative Kelly yields zero units.
type KellySizer struct {
	Cap         float64 // fraction of full Kelly applied
	MaxFraction float64 // absolute ceiling on the capital fraction
}

// NewKellySizer creates a half-Kelly sizer capped at 25% of capital.
func NewKellySizer() *KellySizer {
	return &KellySizer{Cap: 0.5, MaxFraction: 0.25}
}

// TruncatedFraction returns the capital fraction to commit.
func (k *KellySizer) TruncatedFraction(winRate, payoffRatio float64) float64 {
	if winRate <= 0 || winRate >= 1 || payoffRatio <= 0 {
		return 0
	}
	full := winRate - (1-winRate)/payoffRatio
	if full <= 0 {
		return 0
	}
	truncated := full * k.Cap
	if truncated > k.MaxFraction {
		return k.MaxFraction
	}
	return truncated
}

// Size converts the truncated fraction into units at the entry price.
func (k *KellySizer) Size(capital, winRate, payoffRatio, entry float64) float64 {
	if capital <= 0 || entry <= 0 {
		return 0
	}
	return capital * k.TruncatedFraction(winRate, payoffRatio) / entry
}

// VolatilityTargeting scales a base size so realized volatility lands on
// the target: scale = clamp(targetVol/realizedVol, minScale, maxScale).
type VolatilityTargeting struct {
	TargetVol float64
	MinScale  float64
	MaxScale  float64
}

// NewVolatilityTargeting creates a 10% vol target with [0.1, 2.0] clamps.
func NewVolatilityTargeting() *VolatilityTargeting {
	return &VolatilityTargeting{TargetVol: 0.10, MinScale: 0.1, MaxScale: 2.0}
}

// ScaleFactor returns the clamped scale for the given realized volatility.
// Non-positive volatility leaves the size untouched.
func (v *VolatilityTargeting) ScaleFactor(realizedVol float64) float64 {
	if realizedVol <= 0 {
		return 1.0
	}
	scale := v.TargetVol / realizedVol
	if scale < v.MinScale {
		return v.MinScale
	}
	if scale > v.MaxScale {
		return v.MaxScale
	}
	return scale
}

// AdjustUnits applies the scale factor to a base size.
func (v *VolatilityTargeting) AdjustUnits(baseUnits, realizedVol float64) float64 {
	if baseUnits <= 0 {
		return baseUnits
	}
	return baseUnits * v.ScaleFactor(realizedVol)
}

// SizeResult reports a combined sizing decision and the adjustment chain
// that produced it, for transparency in results and sizing endpoints.
type SizeResult struct {
	Units        float64
	Notional     float64
	RiskAmount   float64
	SizingMethod string
	Adjustments  map[string]float64
}

// CombinedSizer runs the full sizing pipeline: fixed-risk base, optional
// Kelly floor (element-wise min for safety), volatility scaling, and
// drawdown attenuation.
type CombinedSizer struct {
	RiskSizer  *FixedRiskSizer
	Kelly      *KellySizer          // nil disables the Kelly floor
	VolTarget  *VolatilityTargeting // nil disables vol scaling
	Drawdown   *DrawdownController  // nil disables attenuation
}

// Size produces the final unit count plus the applied adjustments.
func (c *CombinedSizer) Size(capital, entry, stop float64, ctx SizerContext) (SizeResult, error) {
	result := SizeResult{Adjustments: make(map[string]float64)}

	base, err := c.RiskSizer.Size(capital, entry, stop)
	if err != nil {
		return result, err
	}
	method := "risk_based"

	if c.Kelly != nil && ctx.WinRate > 0 && ctx.PayoffRatio > 0 {
		kellyUnits := c.Kelly.Size(capital, ctx.WinRate, ctx.PayoffRatio, entry)
		result.Adjustments["kelly_units"] = kellyUnits
		if kellyUnits < base {
			base = kellyUnits
		}
		method = "risk_kelly_min"
	}
	result.Adjustments["base_units"] = base

	if base <= 0 {
		result.SizingMethod = "none"
		return result, nil
	}

	units := base
	if c.VolTarget != nil && ctx.RealizedVol > 0 {
		scale := c.VolTarget.ScaleFactor(ctx.RealizedVol)
		units = c.VolTarget.AdjustUnits(units, ctx.RealizedVol)
		result.Adjustments["vol_scale"] = scale
		method += "_vol_adjusted"
	}

	if c.Drawdown != nil && ctx.DrawdownPct > 0 {
		mult := c.Drawdown.Multiplier(ctx.DrawdownPct)
		units *= mult
		result.Adjustments["dd_multiplier"] = mult
		method += "_dd_adjusted"
	}

	result.Units = units
	result.Notional = units * entry
	result.RiskAmount = c.RiskSizer.RiskAmount(units, entry, stop)
	result.SizingMethod = method
	return result, nil
}
