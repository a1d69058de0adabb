package fill

import "github.com/lucasreyna/backtestEngine/internal/orderbook"

// SplitLeg is one clip of a split order plan.
type SplitLeg struct {
	Split               int
	Notional            float64
	ExpectedSlippagePct float64
	ExpectedSlippageBps float64
}

// SplitPlan suggests how to break a large order into clips so that no single
// clip consumes too much of the visible depth.
type SplitPlan struct {
	Legs                     []SplitLeg
	TotalNotional            float64
	WeightedAvgSlippagePct   float64
	SingleOrderSlippagePct   float64
	SlippageReductionPct     float64
}

// maxDepthFractionPerClip caps each clip at this share of measured depth.
const maxDepthFractionPerClip = 0.2

// OptimalSplit proposes clip sizes for totalNotional and estimates the
// slippage saved versus a single order. Orders at or below minSplitSize are
// returned as a single leg.
func (m *Model) OptimalSplit(dir Direction, totalNotional float64, book *orderbook.Snapshot, volEst float64, maxSplits int, minSplitSize float64) SplitPlan {
	single := m.ExpectedSlippage(dir, totalNotional, book, volEst)

	if totalNotional <= minSplitSize || maxSplits <= 1 {
		return SplitPlan{
			Legs: []SplitLeg{{
				Split:               1,
				Notional:            totalNotional,
				ExpectedSlippagePct: single,
				ExpectedSlippageBps: single * 10000,
			}},
			TotalNotional:          totalNotional,
			WeightedAvgSlippagePct: single,
			SingleOrderSlippagePct: single,
		}
	}

	depth := m.DepthMetric(book, dir)
	splitSize := totalNotional / float64(maxSplits)
	if capped := depth * maxDepthFractionPerClip; capped > 0 && capped < splitSize {
		splitSize = capped
	}
	if splitSize < minSplitSize {
		splitSize = minSplitSize
	}

	var legs []SplitLeg
	remaining := totalNotional
	var weighted float64
	for i := 1; remaining > 0 && i <= maxSplits; i++ {
		clip := splitSize
		if clip > remaining {
			clip = remaining
		}
		slip := m.ExpectedSlippage(dir, clip, book, volEst)
		legs = append(legs, SplitLeg{
			Split:               i,
			Notional:            clip,
			ExpectedSlippagePct: slip,
			ExpectedSlippageBps: slip * 10000,
		})
		weighted += slip * clip
		remaining -= clip
	}

	avg := 0.0
	if totalNotional > 0 {
		avg = weighted / totalNotional
	}
	reduction := single - avg
	if reduction < 0 {
		reduction = 0
	}

	return SplitPlan{
		Legs:                   legs,
		TotalNotional:          totalNotional,
		WeightedAvgSlippagePct: avg,
		SingleOrderSlippagePct: single,
		SlippageReductionPct:   reduction,
	}
}
