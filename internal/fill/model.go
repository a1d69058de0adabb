// Package fill estimates execution quality: expected slippage, fill
// probability, and order splitting against an order book snapshot.
//
// The slippage estimate is the sum of three additive terms, all expressed as
// fractions of mid price:
//
//	slippage = half_spread + alpha * impact(notional, depth) + beta * vol
//
// Impact is linear (notional/depth) or exponential (1 - exp(-notional/depth)),
// and depth can be measured three ways, selectable in the config.
package fill

import (
	"math"

	"github.com/lucasreyna/backtestEngine/internal/orderbook"
)

// Direction is the taker direction of an order: buys consume asks,
// sells consume bids.
type Direction string

const (
	Buy  Direction = "buy"
	Sell Direction = "sell"
)

// ImpactType selects the market-impact curve.
type ImpactType string

const (
	ImpactLinear      ImpactType = "linear"
	ImpactExponential ImpactType = "exponential"
)

// DepthMethod selects how available liquidity is measured.
type DepthMethod string

const (
	// DepthNotionalAtSpread sums level notional within 2x spread of the touch.
	DepthNotionalAtSpread DepthMethod = "notional_at_spread"
	// DepthCumulativeQty sums level quantity within 2x spread of the touch.
	DepthCumulativeQty DepthMethod = "cumulative_depth"
	// DepthEffective weights level notional down with distance from the touch.
	DepthEffective DepthMethod = "effective_depth"
)

// DefaultMissingBookSlippage is the flat slippage fraction assumed when no
// book is available to measure the spread (0.1%).
const DefaultMissingBookSlippage = 0.001

// Config holds the fill model coefficients.
type Config struct {
	Alpha       float64     // impact coefficient
	Beta        float64     // volatility coefficient
	Gamma       float64     // overall weighting factor
	Impact      ImpactType  // impact curve
	DepthMethod DepthMethod // liquidity measure
}

// DefaultConfig returns the calibration used in production backtests.
func DefaultConfig() Config {
	return Config{
		Alpha:       0.001,
		Beta:        0.5,
		Gamma:       1.0,
		Impact:      ImpactLinear,
		DepthMethod: DepthNotionalAtSpread,
	}
}

// Model estimates slippage and fill probability from book state.
type Model struct {
	cfg Config
}

// NewModel creates a fill model. Zero coefficients fall back to defaults.
func NewModel(cfg Config) *Model {
	def := DefaultConfig()
	if cfg.Alpha == 0 {
		cfg.Alpha = def.Alpha
	}
	if cfg.Beta == 0 {
		cfg.Beta = def.Beta
	}
	if cfg.Gamma == 0 {
		cfg.Gamma = def.Gamma
	}
	if cfg.Impact == "" {
		cfg.Impact = def.Impact
	}
	if cfg.DepthMethod == "" {
		cfg.DepthMethod = def.DepthMethod
	}
	return &Model{cfg: cfg}
}

// takenLevels returns the book side a taker in the given direction consumes.
func takenLevels(book *orderbook.Snapshot, dir Direction) []orderbook.Level {
	if dir == Buy {
		return book.Asks
	}
	return book.Bids
}

// DepthMetric measures available liquidity on the side an order in the given
// direction would take. Higher means more liquidity. The unit depends on the
// configured method: notional for notional_at_spread and effective_depth,
// quantity for cumulative_depth.
func (m *Model) DepthMetric(book *orderbook.Snapshot, dir Direction) float64 {
	levels := takenLevels(book, dir)
	if len(levels) == 0 {
		return 0
	}

	switch m.cfg.DepthMethod {
	case DepthCumulativeQty:
		spread := book.Spread()
		if spread == 0 {
			return 0
		}
		var depth float64
		if dir == Buy {
			threshold := book.BestAsk() + 2*spread
			for _, l := range levels {
				if l.Price > threshold {
					break
				}
				depth += l.Qty
			}
		} else {
			threshold := book.BestBid() - 2*spread
			for _, l := range levels {
				if l.Price < threshold {
					break
				}
				depth += l.Qty
			}
		}
		return depth

	case DepthEffective:
		if book.Mid() == 0 {
			return 0
		}
		var depth float64
		for i, l := range levels {
			weight := 1.0 / (1.0 + float64(i)*0.1)
			depth += l.Price * l.Qty * weight
		}
		return depth

	default: // DepthNotionalAtSpread
		spread := book.Spread()
		if spread == 0 {
			return 0
		}
		var notional float64
		if dir == Buy {
			threshold := book.BestAsk() + 2*spread
			for _, l := range levels {
				if l.Price > threshold {
					break
				}
				notional += l.Price * l.Qty
			}
		} else {
			threshold := book.BestBid() - 2*spread
			for _, l := range levels {
				if l.Price < threshold {
					break
				}
				notional += l.Price * l.Qty
			}
		}
		return notional
	}
}

// MarketImpact returns the impact coefficient for an order of the given
// notional against the given depth. Zero depth clamps to 1.0 (no liquidity).
func (m *Model) MarketImpact(notional, depth float64) float64 {
	if depth <= 0 {
		return 1.0
	}
	ratio := notional / depth
	if m.cfg.Impact == ImpactExponential {
		return 1.0 - math.Exp(-ratio)
	}
	return ratio
}

// ExpectedSlippage returns the expected slippage fraction for an order.
// A nil book collapses to the flat missing-book default; a non-positive mid
// yields a neutral zero estimate.
func (m *Model) ExpectedSlippage(dir Direction, notional float64, book *orderbook.Snapshot, volEst float64) float64 {
	if book == nil {
		return DefaultMissingBookSlippage
	}
	mid := book.Mid()
	if mid <= 0 {
		return 0
	}

	spreadTerm := book.Spread() / mid / 2.0
	impactTerm := m.cfg.Alpha * m.MarketImpact(notional, m.DepthMetric(book, dir))
	volTerm := m.cfg.Beta * volEst

	slippage := (spreadTerm + impactTerm + volTerm) * m.cfg.Gamma
	if slippage < 0 {
		return 0
	}
	return slippage
}

// Probability is the result of a fill-probability query.
type Probability struct {
	FillProbability     float64
	ExpectedPrice       float64
	TargetPrice         float64
	ExpectedSlippagePct float64
	ExpectedSlippageBps float64
	UtilizationRatio    float64
	DepthMetric         float64
}

// FillProbability estimates the chance of a full fill at targetPrice or
// better. Pass targetPrice 0 to use the touch. Probability decays
// exponentially with book utilization (exp(-2*util)) and is penalised by
// volatility ((1 - beta*vol)).
func (m *Model) FillProbability(dir Direction, notional float64, book *orderbook.Snapshot, targetPrice, volEst float64) Probability {
	if targetPrice == 0 {
		if dir == Buy {
			targetPrice = book.BestAsk()
		} else {
			targetPrice = book.BestBid()
		}
	}
	if targetPrice <= 0 || book.Mid() <= 0 {
		return Probability{}
	}

	slippage := m.ExpectedSlippage(dir, notional, book, volEst)
	expectedPrice := targetPrice * (1.0 + slippage)
	if dir == Sell {
		expectedPrice = targetPrice * (1.0 - slippage)
	}

	depth := m.DepthMetric(book, dir)
	requiredQty := notional / targetPrice

	util := 1.0
	var prob float64
	if depth > 0 {
		depthQty := depth / targetPrice
		if m.cfg.DepthMethod == DepthCumulativeQty {
			depthQty = depth
		}
		if depthQty > 0 {
			util = requiredQty / depthQty
		}
		prob = math.Exp(-util * 2.0)
		if prob > 1 {
			prob = 1
		}
	}

	if volEst > 0 {
		adj := 1.0 - volEst*m.cfg.Beta
		if adj < 0 {
			adj = 0
		}
		prob *= adj
	}

	return Probability{
		FillProbability:     prob,
		ExpectedPrice:       expectedPrice,
		TargetPrice:         targetPrice,
		ExpectedSlippagePct: slippage,
		ExpectedSlippageBps: slippage * 10000,
		UtilizationRatio:    util,
		DepthMetric:         depth,
	}
}

// PartialFillProbability estimates the chance of filling at least
// fillRatio of the order.
func (m *Model) PartialFillProbability(dir Direction, notional float64, book *orderbook.Snapshot, fillRatio, volEst float64) float64 {
	return m.FillProbability(dir, notional*fillRatio, book, 0, volEst).FillProbability
}
