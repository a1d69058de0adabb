package market

import (
	"strings"
	"testing"
)

func TestReadCSV_Basic(t *testing.T) {
	input := `timestamp,open,high,low,close,volume
2024-01-01T00:00:00Z,100,101,99,100.5,1500
2024-01-01T01:00:00Z,100.5,102,100,101,1600
`
	candles, err := ReadCSV(strings.NewReader(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("candles = %d, want 2", len(candles))
	}
	if candles[0].Open != 100 || candles[0].Close != 100.5 {
		t.Errorf("first candle = %+v", candles[0])
	}
	if candles[1].Volume != 1600 {
		t.Errorf("second volume = %v, want 1600", candles[1].Volume)
	}
}

func TestReadCSV_EpochMillisAndATR(t *testing.T) {
	input := `open_time,open,high,low,close,volume,atr
1704067200000,100,101,99,100.5,1500,1.2
`
	candles, err := ReadCSV(strings.NewReader(input))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if candles[0].Timestamp.Year() != 2024 {
		t.Errorf("timestamp = %v, want 2024", candles[0].Timestamp)
	}
	if candles[0].ATR != 1.2 {
		t.Errorf("atr = %v, want 1.2", candles[0].ATR)
	}
}

func TestReadCSV_MissingColumn(t *testing.T) {
	input := "timestamp,open,high,low,close\n2024-01-01,1,2,0.5,1.5\n"
	if _, err := ReadCSV(strings.NewReader(input)); err == nil {
		t.Error("expected error for missing volume column")
	}
}

func TestReadCSV_BadTimestamp(t *testing.T) {
	input := "timestamp,open,high,low,close,volume\nnotatime,1,2,0.5,1.5,10\n"
	if _, err := ReadCSV(strings.NewReader(input)); err == nil {
		t.Error("expected error for unparseable timestamp")
	}
}
