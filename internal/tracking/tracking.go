// Package tracking compares the frictionless (theoretical) equity path to
// the frictional (realistic) one and reports how far execution costs pull
// the two apart.
//
// All statistics operate on per-bar returns r_t = E_t/E_{t-1} - 1 of each
// curve. Zero-variance denominators produce NaN, which serializes as null:
// "no meaningful value" is an answer, not a crash.
package tracking

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Stats is the tracking-error summary between two aligned equity curves.
type Stats struct {
	RMSE             float64
	MaxDivergenceBps float64
	Correlation      float64
	AnnualizedTE     float64
}

// MarshalJSON emits NaN and infinite values as null.
func (s Stats) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"rmse":               jsonFloat(s.RMSE),
		"max_divergence_bps": jsonFloat(s.MaxDivergenceBps),
		"correlation":        jsonFloat(s.Correlation),
		"annualized_te":      jsonFloat(s.AnnualizedTE),
	})
}

func jsonFloat(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

// Sample is one per-bar tracking-error observation: the return difference
// between the two curves at that bar.
type Sample struct {
	Value float64
}

// MarshalJSON emits non-finite samples as null.
func (s Sample) MarshalJSON() ([]byte, error) {
	if v := jsonFloat(s.Value); v == nil {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(s.Value, 'g', -1, 64)), nil
}

// Compute derives the tracking-error statistics for two aligned curves.
// barsPerYear annualizes the standard deviation of the return differences.
// Curves shorter than two samples or of mismatched length are an error.
func Compute(theoretical, realistic []float64, barsPerYear float64) (Stats, error) {
	if len(theoretical) != len(realistic) {
		return Stats{}, fmt.Errorf("tracking error: curve lengths differ (%d vs %d)",
			len(theoretical), len(realistic))
	}
	if len(theoretical) < 2 {
		return Stats{}, fmt.Errorf("tracking error: need at least 2 samples, got %d", len(theoretical))
	}

	rTheo := returns(theoretical)
	rReal := returns(realistic)

	// RMSE of the return differences.
	var sumSq float64
	diffs := make([]float64, len(rTheo))
	for i := range rTheo {
		d := rTheo[i] - rReal[i]
		diffs[i] = d
		sumSq += d * d
	}
	rmse := math.Sqrt(sumSq / float64(len(diffs)))

	// Maximum equity-level divergence in basis points.
	var maxDiv float64
	for i := range theoretical {
		if theoretical[i] == 0 {
			continue
		}
		div := math.Abs(realistic[i]/theoretical[i] - 1)
		if div > maxDiv {
			maxDiv = div
		}
	}

	return Stats{
		RMSE:             rmse,
		MaxDivergenceBps: maxDiv * 10000,
		Correlation:      correlation(rTheo, rReal),
		AnnualizedTE:     stddev(diffs) * math.Sqrt(barsPerYear),
	}, nil
}

// Series returns the per-bar return differences and their running sum.
// The first bar has no return, so both series are one shorter than the
// input curves.
func Series(theoretical, realistic []float64) (samples []Sample, cumulative []Sample) {
	if len(theoretical) != len(realistic) || len(theoretical) < 2 {
		return nil, nil
	}
	rTheo := returns(theoretical)
	rReal := returns(realistic)

	samples = make([]Sample, len(rTheo))
	cumulative = make([]Sample, len(rTheo))
	var running float64
	for i := range rTheo {
		d := rTheo[i] - rReal[i]
		samples[i] = Sample{Value: d}
		running += d
		cumulative[i] = Sample{Value: running}
	}
	return samples, cumulative
}

func returns(curve []float64) []float64 {
	out := make([]float64, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		if curve[i-1] == 0 {
			out[i-1] = math.NaN()
			continue
		}
		out[i-1] = curve[i]/curve[i-1] - 1
	}
	return out
}

// correlation returns the Pearson correlation of two equal-length series,
// NaN when either side has zero variance.
func correlation(a, b []float64) float64 {
	n := float64(len(a))
	if n == 0 {
		return math.NaN()
	}

	var meanA, meanB float64
	for i := range a {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= n
	meanB /= n

	var cov, varA, varB float64
	for i := range a {
		da := a[i] - meanA
		db := b[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return math.NaN()
	}
	return cov / math.Sqrt(varA*varB)
}

// stddev returns the population standard deviation.
func stddev(values []float64) float64 {
	n := float64(len(values))
	if n == 0 {
		return math.NaN()
	}
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= n

	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	return math.Sqrt(variance / n)
}
