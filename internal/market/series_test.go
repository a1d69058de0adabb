package market

import (
	"testing"
	"time"
)

func makeTestCandles(n int, start time.Time, step time.Duration) []Candle {
	candles := make([]Candle, n)
	price := 100.0
	for i := range candles {
		candles[i] = Candle{
			Timestamp: start.Add(time.Duration(i) * step),
			Open:      price,
			High:      price + 1,
			Low:       price - 1,
			Close:     price + 0.5,
			Volume:    1000,
		}
		price += 0.5
	}
	return candles
}

func TestCandleSeries_SortsAndHashes(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := makeTestCandles(10, start, time.Hour)

	// Shuffle deterministically by swapping a few pairs.
	candles[0], candles[5] = candles[5], candles[0]
	candles[2], candles[8] = candles[8], candles[2]

	s, err := NewCandleSeries("BTCUSDT", Timeframe1h, candles)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 1; i < s.Len(); i++ {
		if !s.At(i - 1).Timestamp.Before(s.At(i).Timestamp) {
			t.Fatalf("series not sorted at index %d", i)
		}
	}
	if s.DataHash() == "" || len(s.DataHash()) != 16 {
		t.Errorf("expected 16-char data hash, got %q", s.DataHash())
	}

	// Same content, different input order, same hash.
	s2, err := NewCandleSeries("BTCUSDT", Timeframe1h, makeTestCandles(10, start, time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.DataHash() != s2.DataHash() {
		t.Errorf("hash not content-derived: %s vs %s", s.DataHash(), s2.DataHash())
	}
}

func TestCandleSeries_RejectsDuplicates(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := makeTestCandles(5, start, time.Hour)
	candles[3].Timestamp = candles[2].Timestamp

	if _, err := NewCandleSeries("BTCUSDT", Timeframe1h, candles); err == nil {
		t.Error("expected error for duplicate timestamps")
	}
}

func TestCandleSeries_RejectsBadOHLC(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := makeTestCandles(3, start, time.Hour)
	candles[1].Low = candles[1].Close + 10 // low above close

	if _, err := NewCandleSeries("BTCUSDT", Timeframe1h, candles); err == nil {
		t.Error("expected error for low above close")
	}
}

func TestCandleSeries_SliceEmptyRange(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s, err := NewCandleSeries("BTCUSDT", Timeframe1h, makeTestCandles(5, start, time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := s.Slice(start.AddDate(1, 0, 0), start.AddDate(1, 0, 1)); err == nil {
		t.Error("expected error for empty range")
	}

	sub, err := s.Slice(start.Add(time.Hour), start.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.Len() != 3 {
		t.Errorf("expected 3 bars, got %d", sub.Len())
	}
}

func TestCandleSeries_GapAccounting(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := makeTestCandles(4, start, time.Hour)
	// Insert a 3h gap (significant at 2x threshold) and a 90m gap (minor).
	candles = append(candles,
		Candle{Timestamp: candles[3].Timestamp.Add(3 * time.Hour), Open: 100, High: 101, Low: 99, Close: 100, Volume: 1},
	)
	candles = append(candles,
		Candle{Timestamp: candles[4].Timestamp.Add(90 * time.Minute), Open: 100, High: 101, Low: 99, Close: 100, Volume: 1},
	)

	s, err := NewCandleSeries("BTCUSDT", Timeframe1h, candles)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stats := s.Gaps(2.0)
	if stats.GapCount != 2 {
		t.Errorf("expected 2 gaps, got %d", stats.GapCount)
	}
	if stats.SignificantGapCount != 1 {
		t.Errorf("expected 1 significant gap, got %d", stats.SignificantGapCount)
	}
}

func TestTimeframe_BarsPerYear(t *testing.T) {
	if got := Timeframe1h.BarsPerYear(); got != 365*24 {
		t.Errorf("1h bars per year = %v, want %v", got, 365*24)
	}
	if got := Timeframe1w.BarsPerYear(); got != 52 {
		t.Errorf("1w bars per year = %v, want 52", got)
	}
}
