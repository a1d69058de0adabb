package backtest

import (
	"time"

	"github.com/lucasreyna/backtestEngine/internal/position"
	"github.com/lucasreyna/backtestEngine/internal/storage"
	"github.com/lucasreyna/backtestEngine/internal/strategy"
)

// equityTolerance is the rounding tolerance on the realistic-vs-theoretical
// invariant: realistic may never exceed theoretical by more than this factor.
const equityTolerance = 1.001

// state is the per-run mutable state, owned exclusively by the engine.
type state struct {
	cashTheoretical float64
	cashRealistic   float64

	equityTheoretical float64
	equityRealistic   float64
	peakEquity        float64
	drawdown          float64 // fraction, 0..1

	pos *position.Position

	openTrades   []storage.TradeFill
	closedTrades []storage.TradeFill

	partialFills   []PartialFillRecord
	rejectedOrders []RejectedOrder

	equityCurve []EquitySample

	trackingTheo []float64
	trackingReal []float64

	returnsDaily   []float64
	returnsWeekly  []float64
	returnsMonthly []float64
	lastDailyTS    time.Time
	lastWeeklyTS   time.Time
	lastMonthlyTS  time.Time

	lastBarTS time.Time
}

func newState(initialCapital float64) *state {
	return &state{
		cashTheoretical:   initialCapital,
		cashRealistic:     initialCapital,
		equityTheoretical: initialCapital,
		equityRealistic:   initialCapital,
		peakEquity:        initialCapital,
	}
}

// markToMarket revalues both equity paths at the given price and appends an
// equity sample. Returns false when the realistic path exceeds the
// theoretical one beyond rounding tolerance, which is a logic error.
func (s *state) markToMarket(ts time.Time, price float64) bool {
	// Long inventory is an asset; short inventory is a liability against the
	// entry proceeds already sitting in cash.
	var posValue float64
	if s.pos != nil && s.pos.Size > 0 {
		posValue = s.pos.Size * price
		if s.pos.Side == position.Short {
			posValue = -posValue
		}
	}

	s.equityTheoretical = s.cashTheoretical + posValue
	s.equityRealistic = s.cashRealistic + posValue

	if s.equityRealistic > s.peakEquity {
		s.peakEquity = s.equityRealistic
	}
	if s.peakEquity > 0 {
		s.drawdown = (s.peakEquity - s.equityRealistic) / s.peakEquity
	}

	divergencePct := 0.0
	if s.equityTheoretical > 0 {
		divergencePct = (s.equityRealistic - s.equityTheoretical) / s.equityTheoretical * 100
	}

	s.equityCurve = append(s.equityCurve, EquitySample{
		Timestamp:     ts,
		Theoretical:   s.equityTheoretical,
		Realistic:     s.equityRealistic,
		DivergencePct: divergencePct,
	})
	s.trackingTheo = append(s.trackingTheo, s.equityTheoretical)
	s.trackingReal = append(s.trackingReal, s.equityRealistic)

	return s.equityRealistic <= s.equityTheoretical*equityTolerance
}

// equityAtOrBefore returns the realistic equity at or before ts, false when
// no sample qualifies.
func (s *state) equityAtOrBefore(ts time.Time) (float64, bool) {
	for i := len(s.equityCurve) - 1; i >= 0; i-- {
		if !s.equityCurve[i].Timestamp.After(ts) {
			return s.equityCurve[i].Realistic, true
		}
	}
	return 0, false
}

// recordPeriodicReturns emits a bucketed return whenever a calendar anchor
// boundary is crossed, measured against the equity at the previous anchor.
func (s *state) recordPeriodicReturns(ts time.Time) {
	if s.lastDailyTS.IsZero() || ts.Sub(s.lastDailyTS) >= 24*time.Hour {
		if !s.lastDailyTS.IsZero() {
			if prev, ok := s.equityAtOrBefore(s.lastDailyTS); ok && prev > 0 {
				s.returnsDaily = append(s.returnsDaily, (s.equityRealistic-prev)/prev)
			}
		}
		s.lastDailyTS = ts
	}

	if s.lastWeeklyTS.IsZero() || ts.Sub(s.lastWeeklyTS) >= 7*24*time.Hour {
		if !s.lastWeeklyTS.IsZero() {
			if prev, ok := s.equityAtOrBefore(s.lastWeeklyTS); ok && prev > 0 {
				s.returnsWeekly = append(s.returnsWeekly, (s.equityRealistic-prev)/prev)
			}
		}
		s.lastWeeklyTS = ts
	}

	if s.lastMonthlyTS.IsZero() || ts.Sub(s.lastMonthlyTS) >= 30*24*time.Hour {
		if !s.lastMonthlyTS.IsZero() {
			if prev, ok := s.equityAtOrBefore(s.lastMonthlyTS); ok && prev > 0 {
				s.returnsMonthly = append(s.returnsMonthly, (s.equityRealistic-prev)/prev)
			}
		}
		s.lastMonthlyTS = ts
	}
}

// positionView builds the immutable snapshot handed to strategies.
func (s *state) positionView() *strategy.PositionView {
	if s.pos == nil {
		return nil
	}
	side := strategy.Buy
	if s.pos.Side == position.Short {
		side = strategy.Sell
	}
	return &strategy.PositionView{
		Side:       side,
		Size:       s.pos.Size,
		AvgEntry:   s.pos.AvgEntry,
		StopLoss:   s.pos.StopLoss,
		TakeProfit: s.pos.TakeProfit,
		MAE:        s.pos.MAE,
		MFE:        s.pos.MFE,
	}
}
