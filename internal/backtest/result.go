package backtest

import (
	"time"

	"github.com/lucasreyna/backtestEngine/internal/analytics"
	"github.com/lucasreyna/backtestEngine/internal/execution"
	"github.com/lucasreyna/backtestEngine/internal/storage"
	"github.com/lucasreyna/backtestEngine/internal/tracking"
)

// TemporalStatus tags the temporal-validation outcome of a run.
type TemporalStatus string

const (
	TemporalPass   TemporalStatus = "PASS"
	TemporalFailed TemporalStatus = "FAILED_TEMPORAL_VALIDATION"
)

// EquitySample is one point of the dual equity curve.
type EquitySample struct {
	Timestamp     time.Time `json:"timestamp"`
	Theoretical   float64   `json:"equity_theoretical"`
	Realistic     float64   `json:"equity_realistic"`
	DivergencePct float64   `json:"equity_divergence_pct"`
}

// DivergenceMetrics summarizes the equity divergence over the run.
type DivergenceMetrics struct {
	MaxPct float64 `json:"max_pct"`
	MinPct float64 `json:"min_pct"`
	AvgPct float64 `json:"avg_pct"`
}

// PeriodicReturns buckets realized returns by calendar period.
type PeriodicReturns struct {
	Daily   []float64 `json:"daily"`
	Weekly  []float64 `json:"weekly"`
	Monthly []float64 `json:"monthly"`
}

// TemporalValidation reports the gap accounting of the run.
type TemporalValidation struct {
	Status              TemporalStatus `json:"status"`
	GapCount            int            `json:"gap_count"`
	SignificantGapCount int            `json:"significant_gap_count"`
	TotalBars           int            `json:"total_bars"`
	GapRatio            float64        `json:"gap_ratio"`
	MaxGapRatio         float64        `json:"max_gap_ratio"`
}

// PartialFillRecord tracks one partial fill for execution stats.
type PartialFillRecord struct {
	OrderID      string    `json:"order_id"`
	Timestamp    time.Time `json:"timestamp"`
	RequestedQty float64   `json:"requested_qty"`
	FilledQty    float64   `json:"filled_qty"`
	FillRatio    float64   `json:"fill_ratio"`
	RemainingQty float64   `json:"remaining_qty"`
}

// RejectedOrder tracks one order that could not execute.
type RejectedOrder struct {
	OrderID   string    `json:"order_id"`
	Timestamp time.Time `json:"timestamp"`
	Side      string    `json:"side"`
	Qty       float64   `json:"qty"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason"`
}

// ExecutionStats aggregates execution quality over the run.
type ExecutionStats struct {
	PartialFills           int                   `json:"partial_fills"`
	RejectedOrders         int                   `json:"rejected_orders"`
	PartialFillDetails     []PartialFillRecord   `json:"partial_fill_details"`
	RejectedOrderDetails   []RejectedOrder       `json:"rejected_order_details"`
	OrderbookFallbackCount int                   `json:"orderbook_fallback_count"`
	OrderbookFallbackPct   float64               `json:"orderbook_fallback_pct"`
	Warnings               []execution.Warning   `json:"warnings"`
	Reliability            execution.Reliability `json:"reliability"`
}

// Metadata carries the request parameters that shaped the run.
type Metadata struct {
	Symbol         string  `json:"symbol"`
	Timeframe      string  `json:"timeframe"`
	StrategyID     string  `json:"strategy_id"`
	CommissionRate float64 `json:"commission_rate"`
	SlippageModel  string  `json:"slippage_model"`
	UseOrderbook   bool    `json:"use_orderbook"`
}

// Result is the complete outcome of one backtest run.
type Result struct {
	RunID          string    `json:"run_id"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	Symbol         string    `json:"symbol"`
	Interval       string    `json:"interval"`
	InitialCapital float64   `json:"initial_capital"`
	FinalCapital   float64   `json:"final_capital"`

	Trades      []storage.TradeFill `json:"trades"`
	EquityCurve []EquitySample      `json:"equity_curve"`

	EquityDivergence DivergenceMetrics `json:"equity_divergence_metrics"`
	Returns          PeriodicReturns   `json:"returns_per_period"`

	DataHash string `json:"data_hash"`
	Seed     int64  `json:"seed"`

	Temporal  TemporalValidation `json:"temporal_validation"`
	Execution ExecutionStats     `json:"execution_stats"`

	TrackingError           tracking.Stats    `json:"tracking_error"`
	TrackingErrorSeries     []tracking.Sample `json:"tracking_error_series"`
	TrackingErrorCumulative []tracking.Sample `json:"tracking_error_cumulative"`

	Performance *analytics.Report `json:"performance"`
	Metadata    Metadata          `json:"metadata"`
}
