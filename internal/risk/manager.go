package risk

import (
	"fmt"
	"math"
	"time"
)

// Violation explains why a limit check rejected a request.
// It mirrors the rejection-reason pattern used across the risk layer.
type Violation struct {
	Rule    string
	Message string
}

func (v Violation) Error() string {
	return fmt.Sprintf("risk rejected [%s]: %s", v.Rule, v.Message)
}

// ManagerConfig configures the unified risk manager.
type ManagerConfig struct {
	BaseCapital      float64
	RiskBudgetPct    float64 // fraction of equity risked per trade
	MaxDrawdownPct   float64 // drawdown at which exposure reaches zero
	UseKelly         bool
	KellyCap         float64
	UseVolTargeting  bool
	TargetVolatility float64
	ShutdownPolicy   *ShutdownPolicy // nil uses DefaultShutdownPolicy
	RuinThreshold    float64
	RuinHorizon      int
	Seed             int64
}

// DefaultManagerConfig returns the production defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		BaseCapital:      10000,
		RiskBudgetPct:    0.01,
		MaxDrawdownPct:   50.0,
		KellyCap:         0.5,
		TargetVolatility: 0.10,
		RuinThreshold:    0.5,
		RuinHorizon:      250,
	}
}

// UnifiedManager composes the sizers, the drawdown controller, and the
// shutdown manager behind one sizing interface. It is the final gatekeeper:
// strategies request sizes, the manager answers, and the answer cannot be
// overridden.
//
// Outside a backtest the manager serializes per-user mutations behind a
// single writer; inside a run the owning engine is that writer.
type UnifiedManager struct {
	cfg ManagerConfig

	CurrentEquity float64
	PeakEquity    float64
	DrawdownPct   float64

	sizer    *FixedRiskSizer
	combined *CombinedSizer
	drawdown *DrawdownController
	shutdown *ShutdownManager
	ruin     *RuinSimulator

	tradeHistory []TradeOutcome
	lastUpdate   time.Time
}

// NewUnifiedManager builds the manager from config.
func NewUnifiedManager(cfg ManagerConfig) *UnifiedManager {
	if cfg.BaseCapital <= 0 {
		cfg.BaseCapital = DefaultManagerConfig().BaseCapital
	}
	if cfg.RiskBudgetPct <= 0 {
		cfg.RiskBudgetPct = DefaultManagerConfig().RiskBudgetPct
	}
	if cfg.MaxDrawdownPct <= 0 {
		cfg.MaxDrawdownPct = DefaultManagerConfig().MaxDrawdownPct
	}
	if cfg.RuinThreshold <= 0 {
		cfg.RuinThreshold = DefaultManagerConfig().RuinThreshold
	}
	if cfg.RuinHorizon <= 0 {
		cfg.RuinHorizon = DefaultManagerConfig().RuinHorizon
	}

	sizer := &FixedRiskSizer{RiskBudgetPct: cfg.RiskBudgetPct, MinSize: 0.001}
	drawdown := NewDrawdownController(cfg.MaxDrawdownPct)

	combined := &CombinedSizer{RiskSizer: sizer, Drawdown: drawdown}
	if cfg.UseKelly {
		kelly := NewKellySizer()
		if cfg.KellyCap > 0 {
			kelly.Cap = cfg.KellyCap
		}
		combined.Kelly = kelly
	}
	if cfg.UseVolTargeting {
		vt := NewVolatilityTargeting()
		if cfg.TargetVolatility > 0 {
			vt.TargetVol = cfg.TargetVolatility
		}
		combined.VolTarget = vt
	}

	policy := DefaultShutdownPolicy()
	if cfg.ShutdownPolicy != nil {
		policy = *cfg.ShutdownPolicy
	}

	return &UnifiedManager{
		cfg:           cfg,
		CurrentEquity: cfg.BaseCapital,
		PeakEquity:    cfg.BaseCapital,
		sizer:         sizer,
		combined:      combined,
		drawdown:      drawdown,
		shutdown:      NewShutdownManager(policy),
		ruin:          NewRuinSimulator(cfg.Seed, 5000),
	}
}

// SizeDecision is the complete outcome of a sizing request.
type SizeDecision struct {
	Units               float64
	Notional            float64
	RiskAmount          float64
	RiskPct             float64
	SizingMethod        string
	SizeReductionFactor float64
	Adjustments         map[string]float64
	Blocked             bool
	BlockReason         string
}

// SizeTrade runs the full sizing pipeline. A latched shutdown overrides
// everything and returns zero units; a degrade state multiplies the final
// size by the reduction factor.
func (um *UnifiedManager) SizeTrade(entry, stop float64, ctx SizerContext) (SizeDecision, error) {
	if entry <= 0 || stop <= 0 {
		return SizeDecision{Blocked: true, BlockReason: "invalid entry or stop price", SizingMethod: "invalid"}, nil
	}

	status := um.shutdown.Evaluate(um.metrics())
	if status.Shutdown {
		return SizeDecision{
			Blocked:      true,
			BlockReason:  status.ShutdownReason,
			SizingMethod: "shutdown",
		}, nil
	}

	if ctx.DrawdownPct == 0 {
		ctx.DrawdownPct = um.DrawdownPct
	}

	result, err := um.combined.Size(um.CurrentEquity, entry, stop, ctx)
	if err != nil {
		return SizeDecision{SizingMethod: "invalid", BlockReason: err.Error()}, err
	}

	units := result.Units * status.SizeReductionFactor
	riskAmount := um.sizer.RiskAmount(units, entry, stop)
	riskPct := 0.0
	if um.CurrentEquity > 0 {
		riskPct = riskAmount / um.CurrentEquity * 100
	}

	return SizeDecision{
		Units:               units,
		Notional:            units * entry,
		RiskAmount:          riskAmount,
		RiskPct:             riskPct,
		SizingMethod:        result.SizingMethod,
		SizeReductionFactor: status.SizeReductionFactor,
		Adjustments:         result.Adjustments,
	}, nil
}

// UpdateDrawdown refreshes peak/drawdown from the latest equity and caches
// the recent trade history for the shutdown policy and ruin simulation.
func (um *UnifiedManager) UpdateDrawdown(currentEquity float64, trades []TradeOutcome) {
	um.CurrentEquity = currentEquity
	if currentEquity > um.PeakEquity {
		um.PeakEquity = currentEquity
	}
	if um.PeakEquity > 0 {
		um.DrawdownPct = (um.PeakEquity - currentEquity) / um.PeakEquity * 100
	} else {
		um.DrawdownPct = 100
	}
	if len(trades) > 0 {
		keep := trades
		if len(keep) > 100 {
			keep = keep[len(keep)-100:]
		}
		um.tradeHistory = append(um.tradeHistory[:0], keep...)
	}
	um.lastUpdate = time.Now().UTC()
}

// CheckShutdown evaluates the latched shutdown state against current metrics.
func (um *UnifiedManager) CheckShutdown() ShutdownStatus {
	return um.shutdown.Evaluate(um.metrics())
}

// ExposureProfile approximates the effective risk fraction in [0, 1] after
// drawdown controls and size reduction.
func (um *UnifiedManager) ExposureProfile() float64 {
	fraction := um.cfg.RiskBudgetPct *
		um.drawdown.Multiplier(um.DrawdownPct) *
		um.shutdown.SizeMultiplier()
	if fraction < 0 {
		return 0
	}
	if fraction > 1 {
		return 1
	}
	return fraction
}

// SimulateRuin estimates ruin probability from the cached trade history,
// falling back to explicit parameters when history is thin.
func (um *UnifiedManager) SimulateRuin(winRate, payoffRatio float64) float64 {
	if p, ok := um.ruin.EstimateFromTrades(um.tradeHistory, um.cfg.RuinHorizon, um.cfg.RuinThreshold); ok {
		return p
	}
	if winRate > 0 && payoffRatio > 0 {
		return um.ruin.Estimate(winRate, payoffRatio, um.cfg.RuinHorizon, um.cfg.RuinThreshold)
	}
	return 0
}

// Reset clears drawdown and shutdown state, optionally rebasing capital.
func (um *UnifiedManager) Reset(newCapital float64) {
	if newCapital > 0 {
		um.CurrentEquity = newCapital
	}
	um.PeakEquity = um.CurrentEquity
	um.DrawdownPct = 0
	um.tradeHistory = nil
	um.shutdown.Reset()
}

func (um *UnifiedManager) metrics() StrategyMetrics {
	return StrategyMetrics{
		DrawdownPct:   um.DrawdownPct,
		PeakEquity:    um.PeakEquity,
		CurrentEquity: um.CurrentEquity,
		Trades:        um.tradeHistory,
	}
}

// PositionRequest describes a proposed position for limit checks.
type PositionRequest struct {
	Symbol   string
	Side     string // "BUY" or "SELL"
	Notional float64
}

// PositionExposure describes an existing position for limit checks.
type PositionExposure struct {
	Symbol   string
	Side     string
	Notional float64
}

// LimitCaps are the portfolio guardrails enforced by ApplyLimits.
type LimitCaps struct {
	ExposureCap          float64 // gross exposure as a fraction of equity
	ConcentrationPct     float64 // per-symbol cap as a percent of equity
	CorrelationThreshold float64 // max |rho| between same-side positions
}

// DefaultLimitCaps returns the production guardrails.
func DefaultLimitCaps() LimitCaps {
	return LimitCaps{ExposureCap: 1.0, ConcentrationPct: 30.0, CorrelationThreshold: 0.7}
}

// LimitResult reports the limit decision with every violated rule.
type LimitResult struct {
	Allowed    bool
	Violations []Violation
}

// ApplyLimits validates a position request against portfolio guardrails:
// gross exposure cap, per-symbol concentration, and the correlation limit
// for same-side positions. A zero-notional request is always allowed.
func (um *UnifiedManager) ApplyLimits(
	req PositionRequest,
	equity float64,
	existing []PositionExposure,
	corrMatrix map[string]map[string]float64,
	caps LimitCaps,
) LimitResult {
	if equity <= 0 {
		return LimitResult{Violations: []Violation{{
			Rule:    "INVALID_EQUITY",
			Message: "equity must be positive",
		}}}
	}
	if req.Notional <= 0 {
		return LimitResult{Allowed: true}
	}

	result := LimitResult{Allowed: true}
	reject := func(rule, message string) {
		result.Allowed = false
		result.Violations = append(result.Violations, Violation{Rule: rule, Message: message})
	}

	// Gross exposure cap.
	var totalExisting float64
	for _, pos := range existing {
		totalExisting += pos.Notional
	}
	projected := totalExisting + req.Notional
	capNotional := equity * caps.ExposureCap
	if projected > capNotional {
		reject("EXPOSURE_CAP", fmt.Sprintf(
			"projected exposure %.2f exceeds cap %.2f (%.0f%% of %.2f)",
			projected, capNotional, caps.ExposureCap*100, equity))
	}

	// Per-symbol concentration.
	var symbolExisting float64
	for _, pos := range existing {
		if pos.Symbol == req.Symbol {
			symbolExisting += pos.Notional
		}
	}
	concNotional := equity * caps.ConcentrationPct / 100.0
	if symbolExisting+req.Notional > concNotional {
		reject("CONCENTRATION_LIMIT", fmt.Sprintf(
			"%s exposure %.2f exceeds limit %.2f (%.1f%% of equity)",
			req.Symbol, symbolExisting+req.Notional, concNotional, caps.ConcentrationPct))
	}

	// Correlation limit for same-side positions in other symbols.
	if corrMatrix != nil {
		correlations := corrMatrix[req.Symbol]
		for _, pos := range existing {
			if pos.Symbol == req.Symbol || pos.Side != req.Side {
				continue
			}
			rho := math.Abs(correlations[pos.Symbol])
			if rho > caps.CorrelationThreshold {
				reject("CORRELATION_LIMIT", fmt.Sprintf(
					"correlation between %s and %s is %.2f, above %.2f",
					req.Symbol, pos.Symbol, rho, caps.CorrelationThreshold))
			}
		}
	}

	return result
}
