package market

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadCSV reads a candle series from a CSV file with the header
// timestamp,open,high,low,close,volume and optional atr column. Timestamps
// are RFC3339 or epoch milliseconds.
func LoadCSV(path, symbol string, timeframe Timeframe) (*CandleSeries, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("candle csv: open %s: %w", path, err)
	}
	defer f.Close()

	candles, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("candle csv: %s: %w", path, err)
	}
	return NewCandleSeries(symbol, timeframe, candles)
}

// ReadCSV parses candles from the reader. The header row names the columns;
// unknown columns are ignored.
func ReadCSV(r io.Reader) ([]Candle, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	tsCol, ok := cols["timestamp"]
	if !ok {
		if tsCol, ok = cols["open_time"]; !ok {
			return nil, fmt.Errorf("missing timestamp column (need timestamp or open_time)")
		}
	}
	for _, required := range []string{"open", "high", "low", "close", "volume"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("missing required column %q", required)
		}
	}

	var candles []Candle
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		ts, err := parseTimestamp(record[tsCol])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		c := Candle{Timestamp: ts}
		if c.Open, err = parseField(record, cols, "open"); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if c.High, err = parseField(record, cols, "high"); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if c.Low, err = parseField(record, cols, "low"); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if c.Close, err = parseField(record, cols, "close"); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if c.Volume, err = parseField(record, cols, "volume"); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if idx, ok := cols["atr"]; ok && idx < len(record) && record[idx] != "" {
			if c.ATR, err = strconv.ParseFloat(record[idx], 64); err != nil {
				return nil, fmt.Errorf("line %d: atr: %w", line, err)
			}
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func parseField(record []string, cols map[string]int, name string) (float64, error) {
	idx := cols[name]
	if idx >= len(record) {
		return 0, fmt.Errorf("%s: column out of range", name)
	}
	v, err := strconv.ParseFloat(record[idx], 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return v, nil
}

// parseTimestamp accepts RFC3339 strings, date-only strings, and epoch
// milliseconds or seconds.
func parseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if epoch, err := strconv.ParseInt(value, 10, 64); err == nil {
		if epoch > 1e12 {
			return time.UnixMilli(epoch).UTC(), nil
		}
		return time.Unix(epoch, 0).UTC(), nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", value)
}
