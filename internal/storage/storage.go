// Package storage defines the persistence interfaces and canonical records
// for backtest runs.
//
// Uses Postgres for:
//   - OHLCV candles
//   - Backtest run summaries
//   - Trade fills
//
// The engine itself never requires a database; persistence is an optional
// sink wired in by the CLI when a connection string is configured.
package storage

import (
	"context"
	"time"

	"github.com/lucasreyna/backtestEngine/internal/market"
)

// TradeStatus is the lifecycle state of a trade fill.
type TradeStatus string

const (
	TradeOpen      TradeStatus = "open"
	TradeClosed    TradeStatus = "closed"
	TradeCancelled TradeStatus = "cancelled"
)

// TradeFill is the canonical record of one trade through its lifecycle.
// Every fill has full traceability: the signal that requested it, entry and
// exit details, frictions, and the exit reason.
type TradeFill struct {
	SignalTime    time.Time   `json:"signal_time"`
	EntryTime     time.Time   `json:"entry_time"`
	ExitTime      *time.Time  `json:"exit_time"` // nil while open
	EntryPrice    float64     `json:"entry_price"`
	ExitPrice     float64     `json:"exit_price"`
	Size          float64     `json:"size"`
	Side          string      `json:"side"` // "BUY" or "SELL"
	FeesEntry     float64     `json:"fees_entry"`
	FeesExit      float64     `json:"fees_exit"`
	SlippageEntry float64     `json:"slippage_entry"`
	SlippageExit  float64     `json:"slippage_exit"`
	Status        TradeStatus `json:"status"`
	ExitReason    string      `json:"exit_reason"`
	PnL           float64     `json:"pnl"`
	PnLPct        float64     `json:"pnl_pct"`
	ReturnPct     float64     `json:"return_pct"`
	MAE           float64     `json:"mae"`
	MFE           float64     `json:"mfe"`
}

// RunRecord summarizes one persisted backtest run.
type RunRecord struct {
	RunID          string
	Symbol         string
	Timeframe      string
	StrategyID     string
	Start          time.Time
	End            time.Time
	InitialCapital float64
	FinalCapital   float64
	TradeCount     int
	DataHash       string
	Seed           int64
	TemporalStatus string
	Reliability    string
	CreatedAt      time.Time
}

// Store is the persistence interface for backtest artifacts.
type Store interface {
	// Candle operations.
	SaveCandles(ctx context.Context, symbol string, timeframe string, candles []market.Candle) error
	GetCandles(ctx context.Context, symbol string, timeframe string, from, to time.Time) ([]market.Candle, error)

	// Run operations.
	SaveRun(ctx context.Context, run *RunRecord, trades []TradeFill) error
	GetRun(ctx context.Context, runID string) (*RunRecord, error)
	GetTrades(ctx context.Context, runID string) ([]TradeFill, error)

	// Health check.
	Ping(ctx context.Context) error

	// Close releases the underlying pool.
	Close()
}
