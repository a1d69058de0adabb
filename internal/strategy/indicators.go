// Package strategy - indicators.go provides shared technical indicator
// calculations used by the built-in strategies. All functions are stateless
// and deterministic: the same candle slice always returns the same result.
package strategy

import (
	"math"

	"github.com/lucasreyna/backtestEngine/internal/market"
)

// ATR computes the Average True Range over the given period.
// True Range = max(high-low, |high-prevClose|, |low-prevClose|).
// Falls back to the last candle's range when history is short.
func ATR(candles []market.Candle, period int) float64 {
	if len(candles) == 0 {
		return 0
	}
	if len(candles) < period+1 {
		last := candles[len(candles)-1]
		return last.High - last.Low
	}

	var total float64
	for i := len(candles) - period; i < len(candles); i++ {
		curr := candles[i]
		prev := candles[i-1]

		tr := curr.High - curr.Low
		if hc := math.Abs(curr.High - prev.Close); hc > tr {
			tr = hc
		}
		if lc := math.Abs(curr.Low - prev.Close); lc > tr {
			tr = lc
		}
		total += tr
	}
	return total / float64(period)
}

// SMA computes the simple moving average of closes over the given period.
// Returns 0 when history is insufficient.
func SMA(candles []market.Candle, period int) float64 {
	if len(candles) < period || period <= 0 {
		return 0
	}
	var sum float64
	for i := len(candles) - period; i < len(candles); i++ {
		sum += candles[i].Close
	}
	return sum / float64(period)
}

// ROC computes the rate of change of close over the given period as a
// fraction. Returns 0 when history is insufficient.
func ROC(candles []market.Candle, period int) float64 {
	if len(candles) < period+1 || period <= 0 {
		return 0
	}
	current := candles[len(candles)-1].Close
	past := candles[len(candles)-1-period].Close
	if past == 0 {
		return 0
	}
	return (current - past) / past
}

// HighestHigh returns the highest high over the last period candles,
// excluding the most recent bar (the breakout candidate itself).
func HighestHigh(candles []market.Candle, period int) float64 {
	if len(candles) < 2 || period <= 0 {
		return 0
	}
	end := len(candles) - 1
	start := end - period
	if start < 0 {
		start = 0
	}
	highest := candles[start].High
	for _, c := range candles[start:end] {
		if c.High > highest {
			highest = c.High
		}
	}
	return highest
}

// RealizedVol computes the annualized volatility of close-to-close log
// returns over the last period candles. barsPerYear annualizes.
func RealizedVol(candles []market.Candle, period int, barsPerYear float64) float64 {
	if len(candles) < period+1 || period < 2 {
		return 0
	}
	start := len(candles) - period
	returns := make([]float64, 0, period)
	for i := start; i < len(candles); i++ {
		prev := candles[i-1].Close
		if prev <= 0 || candles[i].Close <= 0 {
			continue
		}
		returns = append(returns, math.Log(candles[i].Close/prev))
	}
	if len(returns) < 2 {
		return 0
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)

	return math.Sqrt(variance) * math.Sqrt(barsPerYear)
}
