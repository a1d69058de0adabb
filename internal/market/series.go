package market

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// CandleSeries is an immutable, chronologically sorted sequence of bars for
// one symbol and timeframe. Construct it with NewCandleSeries, which sorts,
// validates, and fingerprints the data; afterwards callers must treat the
// series as read-only.
type CandleSeries struct {
	Symbol    string
	Timeframe Timeframe
	candles   []Candle
	dataHash  string
}

// NewCandleSeries builds a validated series from raw bars.
// Bars are sorted by timestamp; duplicates and OHLC inconsistencies are errors.
func NewCandleSeries(symbol string, timeframe Timeframe, candles []Candle) (*CandleSeries, error) {
	if symbol == "" {
		return nil, fmt.Errorf("candle series: symbol is required")
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("candle series %s: no data", symbol)
	}

	sorted := make([]Candle, len(candles))
	copy(sorted, candles)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	for i, c := range sorted {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("candle series %s: %w", symbol, err)
		}
		if i > 0 && !sorted[i-1].Timestamp.Before(c.Timestamp) {
			return nil, fmt.Errorf("candle series %s: duplicate timestamp %s",
				symbol, c.Timestamp.Format(time.RFC3339))
		}
	}

	s := &CandleSeries{
		Symbol:    symbol,
		Timeframe: timeframe,
		candles:   sorted,
	}
	s.dataHash = s.computeHash()
	return s, nil
}

// computeHash fingerprints the series content for reproducibility checks.
// Two runs over byte-identical data produce the same hash.
func (s *CandleSeries) computeHash() string {
	var b strings.Builder
	for _, c := range s.candles {
		b.WriteString(strconv.FormatInt(c.Timestamp.UnixMilli(), 10))
		b.WriteByte(',')
		b.WriteString(strconv.FormatFloat(c.Open, 'g', -1, 64))
		b.WriteByte(',')
		b.WriteString(strconv.FormatFloat(c.High, 'g', -1, 64))
		b.WriteByte(',')
		b.WriteString(strconv.FormatFloat(c.Low, 'g', -1, 64))
		b.WriteByte(',')
		b.WriteString(strconv.FormatFloat(c.Close, 'g', -1, 64))
		b.WriteByte(',')
		b.WriteString(strconv.FormatFloat(c.Volume, 'g', -1, 64))
		b.WriteByte('\n')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])[:16]
}

// DataHash returns the 16-hex-character content digest of the series.
func (s *CandleSeries) DataHash() string { return s.dataHash }

// Len returns the number of bars in the series.
func (s *CandleSeries) Len() int { return len(s.candles) }

// At returns the bar at index i.
func (s *CandleSeries) At(i int) Candle { return s.candles[i] }

// Candles returns a copy of the underlying bars.
func (s *CandleSeries) Candles() []Candle {
	out := make([]Candle, len(s.candles))
	copy(out, s.candles)
	return out
}

// First returns the earliest bar.
func (s *CandleSeries) First() Candle { return s.candles[0] }

// Last returns the latest bar.
func (s *CandleSeries) Last() Candle { return s.candles[len(s.candles)-1] }

// Slice returns a sub-series covering [start, end] inclusive.
// Returns an error when the window contains no bars.
func (s *CandleSeries) Slice(start, end time.Time) (*CandleSeries, error) {
	lo := sort.Search(len(s.candles), func(i int) bool {
		return !s.candles[i].Timestamp.Before(start)
	})
	hi := sort.Search(len(s.candles), func(i int) bool {
		return s.candles[i].Timestamp.After(end)
	})
	if lo >= hi {
		return nil, fmt.Errorf("candle series %s: no data in range %s to %s (available %s to %s)",
			s.Symbol,
			start.Format(time.RFC3339), end.Format(time.RFC3339),
			s.First().Timestamp.Format(time.RFC3339), s.Last().Timestamp.Format(time.RFC3339))
	}
	sub := &CandleSeries{
		Symbol:    s.Symbol,
		Timeframe: s.Timeframe,
		candles:   s.candles[lo:hi],
	}
	sub.dataHash = sub.computeHash()
	return sub, nil
}

// GapStats summarizes the temporal regularity of a series.
type GapStats struct {
	TotalBars           int
	GapCount            int
	SignificantGapCount int
	GapRatio            float64
}

// Gaps counts spacing irregularities. A gap is any spacing wider than one
// timeframe interval; a significant gap exceeds thresholdMultiplier intervals.
func (s *CandleSeries) Gaps(thresholdMultiplier float64) GapStats {
	stats := GapStats{TotalBars: len(s.candles)}
	if len(s.candles) < 2 {
		return stats
	}
	interval := s.Timeframe.Duration()
	threshold := time.Duration(float64(interval) * thresholdMultiplier)
	for i := 1; i < len(s.candles); i++ {
		gap := s.candles[i].Timestamp.Sub(s.candles[i-1].Timestamp)
		if gap > interval {
			stats.GapCount++
			if gap > threshold {
				stats.SignificantGapCount++
			}
		}
	}
	stats.GapRatio = float64(stats.GapCount) / float64(stats.TotalBars)
	return stats
}
