// Package execution routes orders to book-matched or bar-approximated fills
// and accounts for every degradation along the way.
//
// Routing per bar: locate a snapshot within tolerance of the bar timestamp;
// if it exists, is two-sided for the order, and is not trading at an absurd
// spread, execute against it. Otherwise fall back to bar approximation and
// record a structured warning. Sustained fallback degrades the whole run's
// execution-reliability tag, which downstream consumers must surface.
package execution

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/lucasreyna/backtestEngine/internal/market"
	"github.com/lucasreyna/backtestEngine/internal/order"
	"github.com/lucasreyna/backtestEngine/internal/orderbook"
)

// FallbackReason classifies why book matching was skipped for a bar.
type FallbackReason string

const (
	FallbackMissing    FallbackReason = "missing"
	FallbackEmptySide  FallbackReason = "empty_side"
	FallbackStale      FallbackReason = "stale"
	FallbackWideSpread FallbackReason = "wide_spread"
)

// Warning is one structured degradation record.
type Warning struct {
	Timestamp time.Time      `json:"timestamp"`
	Reason    FallbackReason `json:"reason"`
}

// Reliability tags the run's overall execution quality.
type Reliability string

const (
	ReliabilityOK         Reliability = "OK"
	ReliabilityDegraded   Reliability = "DEGRADED"
	ReliabilityUnreliable Reliability = "UNRELIABLE"
)

// Config holds the simulator thresholds.
type Config struct {
	UseOrderbook        bool
	SnapshotTolerance   time.Duration // how far a snapshot may sit from the bar
	WideSpreadPctMax    float64       // books wider than this are not trusted
	DegradedThreshold   float64       // fallback fraction that tags DEGRADED
	UnreliableThreshold float64       // fallback fraction that tags UNRELIABLE
}

// DefaultConfig returns the production routing thresholds.
func DefaultConfig() Config {
	return Config{
		UseOrderbook:        true,
		SnapshotTolerance:   5 * time.Second,
		WideSpreadPctMax:    5.0,
		DegradedThreshold:   0.20,
		UnreliableThreshold: 0.50,
	}
}

// Simulator wraps order execution for one run. It is owned by a single
// engine; the repository behind it is read-only and safe to share.
type Simulator struct {
	repo   orderbook.Repository
	cfg    Config
	logger *log.Logger

	fallbackCount int
	warnings      []Warning
}

// NewSimulator creates a simulator. repo may be nil when book execution is
// disabled; a nil logger falls back to the default.
func NewSimulator(repo orderbook.Repository, cfg Config, logger *log.Logger) *Simulator {
	if logger == nil {
		logger = log.New(log.Writer(), "[execution] ", log.LstdFlags)
	}
	if cfg.SnapshotTolerance == 0 {
		cfg.SnapshotTolerance = DefaultConfig().SnapshotTolerance
	}
	if cfg.DegradedThreshold == 0 {
		cfg.DegradedThreshold = DefaultConfig().DegradedThreshold
	}
	if cfg.UnreliableThreshold == 0 {
		cfg.UnreliableThreshold = DefaultConfig().UnreliableThreshold
	}
	if cfg.WideSpreadPctMax == 0 {
		cfg.WideSpreadPctMax = DefaultConfig().WideSpreadPctMax
	}
	return &Simulator{repo: repo, cfg: cfg, logger: logger}
}

// Execute routes one order against the current bar.
func (s *Simulator) Execute(ctx context.Context, o *order.Order, bar market.Candle) (order.FillResult, error) {
	book, reason, err := s.resolveBook(ctx, o, bar)
	if err != nil {
		return order.FillResult{}, err
	}

	if book == nil && s.cfg.UseOrderbook {
		s.fallbackCount++
		s.warnings = append(s.warnings, Warning{Timestamp: bar.Timestamp, Reason: reason})
	}

	return o.TryFill(bar, book), nil
}

// resolveBook finds a usable snapshot for the bar, or explains why there is
// none. A disabled repository is not a degradation, just a configuration.
func (s *Simulator) resolveBook(ctx context.Context, o *order.Order, bar market.Candle) (*orderbook.Snapshot, FallbackReason, error) {
	if !s.cfg.UseOrderbook || s.repo == nil {
		return nil, "", nil
	}

	snap, err := s.repo.SnapshotNear(ctx, o.Symbol, bar.Timestamp, s.cfg.SnapshotTolerance)
	if err != nil {
		return nil, "", fmt.Errorf("execution: snapshot lookup %s@%s: %w",
			o.Symbol, bar.Timestamp.Format(time.RFC3339), err)
	}
	if snap == nil {
		// Distinguish "nothing near" from "something, but too old to trust".
		stale, err := s.repo.SnapshotNear(ctx, o.Symbol, bar.Timestamp, 2*s.cfg.SnapshotTolerance)
		if err != nil {
			return nil, "", fmt.Errorf("execution: snapshot lookup %s@%s: %w",
				o.Symbol, bar.Timestamp.Format(time.RFC3339), err)
		}
		if stale != nil {
			return nil, FallbackStale, nil
		}
		return nil, FallbackMissing, nil
	}

	needed := orderbook.SideAsk
	if o.Side == order.Sell {
		needed = orderbook.SideBid
	}
	if snap.Empty(needed) {
		return nil, FallbackEmptySide, nil
	}

	if snap.SpreadPct() > s.cfg.WideSpreadPctMax {
		return nil, FallbackWideSpread, nil
	}

	return snap, "", nil
}

// FallbackCount returns how many executions degraded to bar approximation.
func (s *Simulator) FallbackCount() int { return s.fallbackCount }

// Warnings returns the accumulated degradation records.
func (s *Simulator) Warnings() []Warning { return s.warnings }

// Reliability classifies the run given the total bar count.
func (s *Simulator) Reliability(totalBars int) Reliability {
	if totalBars <= 0 || !s.cfg.UseOrderbook {
		return ReliabilityOK
	}
	ratio := float64(s.fallbackCount) / float64(totalBars)
	switch {
	case ratio > s.cfg.UnreliableThreshold:
		return ReliabilityUnreliable
	case ratio > s.cfg.DegradedThreshold:
		return ReliabilityDegraded
	default:
		return ReliabilityOK
	}
}

// FallbackPct returns the fallback fraction of total bars, in percent.
func (s *Simulator) FallbackPct(totalBars int) float64 {
	if totalBars <= 0 {
		return 0
	}
	return float64(s.fallbackCount) / float64(totalBars) * 100
}

// Reset clears per-run accumulation so a simulator can be reused.
func (s *Simulator) Reset() {
	s.fallbackCount = 0
	s.warnings = nil
}
