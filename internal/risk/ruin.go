package risk

import (
	"math"
	"math/rand"
)

// RuinSimulator estimates the probability that an equity path breaches a
// ruin threshold within a trade horizon, by Monte-Carlo over standardized
// outcomes: wins pay +payoffRatio, losses cost -1. The RNG is seeded so
// identical inputs yield identical estimates.
type RuinSimulator struct {
	Trials int
	rng    *rand.Rand
}

// NewRuinSimulator creates a simulator with the given determinism seed.
func NewRuinSimulator(seed int64, trials int) *RuinSimulator {
	if trials <= 0 {
		trials = 5000
	}
	return &RuinSimulator{Trials: trials, rng: rand.New(rand.NewSource(seed))}
}

// Estimate returns the ruin probability in [0, 1]. threshold is the equity
// fraction regarded as ruin (0.5 means -50% from initial). Degenerate win
// rates short-circuit: certain loss ruins, certain win never does.
func (rs *RuinSimulator) Estimate(winRate, payoffRatio float64, horizon int, threshold float64) float64 {
	if winRate <= 0 {
		return 1.0
	}
	if winRate >= 1 || payoffRatio <= 0 {
		return 0.0
	}
	if horizon <= 0 {
		return 0.0
	}

	thresholdLog := math.Inf(-1)
	if threshold > 0 {
		thresholdLog = math.Log(threshold)
	}

	ruined := 0
	for trial := 0; trial < rs.Trials; trial++ {
		path := 0.0
		for i := 0; i < horizon; i++ {
			if rs.rng.Float64() < winRate {
				path += payoffRatio
			} else {
				path -= 1.0
			}
			if path <= thresholdLog {
				ruined++
				break
			}
		}
	}
	return float64(ruined) / float64(rs.Trials)
}

// EstimateFromTrades derives win rate and payoff ratio from closed trades
// and runs the simulation. Returns 0 with ok=false when fewer than ten
// trades exist to parameterize from.
func (rs *RuinSimulator) EstimateFromTrades(trades []TradeOutcome, horizon int, threshold float64) (float64, bool) {
	if len(trades) < 10 {
		return 0, false
	}

	var wins, losses int
	var winSum, lossSum float64
	for _, t := range trades {
		if t.PnL > 0 {
			wins++
			winSum += t.PnL
		} else if t.PnL < 0 {
			losses++
			lossSum += -t.PnL
		}
	}
	if wins+losses == 0 {
		return 0, false
	}

	winRate := float64(wins) / float64(len(trades))
	avgLoss := 1.0
	if losses > 0 {
		avgLoss = lossSum / float64(losses)
	}
	avgWin := 0.0
	if wins > 0 {
		avgWin = winSum / float64(wins)
	}
	payoffRatio := 0.0
	if avgLoss > 0 {
		payoffRatio = avgWin / avgLoss
	}

	return rs.Estimate(winRate, payoffRatio, horizon, threshold), true
}
