package backtest

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/lucasreyna/backtestEngine/internal/analytics"
	"github.com/lucasreyna/backtestEngine/internal/execution"
	"github.com/lucasreyna/backtestEngine/internal/market"
	"github.com/lucasreyna/backtestEngine/internal/order"
	"github.com/lucasreyna/backtestEngine/internal/orderbook"
	"github.com/lucasreyna/backtestEngine/internal/position"
	"github.com/lucasreyna/backtestEngine/internal/risk"
	"github.com/lucasreyna/backtestEngine/internal/storage"
	"github.com/lucasreyna/backtestEngine/internal/strategy"
	"github.com/lucasreyna/backtestEngine/internal/tracking"
)

// SlippageModel selects how exit/entry slippage is charged.
type SlippageModel string

const (
	SlippageNone    SlippageModel = "none"
	SlippageFixed   SlippageModel = "fixed"
	SlippageDynamic SlippageModel = "dynamic"
)

// RunRequest is the per-run immutable configuration. Every knob the loop
// consults lives here; nothing is reloadable mid-run.
type RunRequest struct {
	Symbol         string
	Timeframe      market.Timeframe
	Start          time.Time // zero means "from the first bar"
	End            time.Time // zero means "to the last bar"
	InitialCapital float64

	CommissionRate   float64
	SlippageModel    SlippageModel
	FixedSlippageBps float64
	UseOrderbook     bool
	Seed             int64

	Strategy strategy.Strategy

	// Temporal validation.
	MaxGapRatio            float64 // default 0.10
	GapThresholdMultiplier float64 // default 2.0
	AbortOnTemporalFailure bool

	// Execution.
	OrderConfig       order.Config
	SnapshotTolerance time.Duration

	// Risk. Zero value uses defaults with the backtest missing-data bypass.
	Risk risk.ManagerConfig

	// Protective policy applied to every opened position.
	PartialTPs       []position.PartialTPConfig
	BreakevenTrigger float64
}

// Engine owns one run at a time. Independent engines may run in parallel;
// they share nothing but the read-only snapshot repository.
type Engine struct {
	repo     orderbook.Repository
	logger   *log.Logger
	observer Observer
}

// NewEngine creates an engine. repo may be nil when book execution is not
// wanted; a nil observer drops events; a nil logger uses the default.
func NewEngine(repo orderbook.Repository, observer Observer, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(log.Writer(), "[engine] ", log.LstdFlags)
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Engine{repo: repo, logger: logger, observer: observer}
}

// run bundles everything one simulation touches.
type run struct {
	req      RunRequest
	runID    string
	state    *state
	sim      *execution.Simulator
	sizer    *risk.CombinedSizer
	shutdown *risk.ShutdownManager // nil unless a shutdown policy was configured
	series   *market.CandleSeries
	cands    []market.Candle

	// Bar index from which protective levels may trigger. Levels registered
	// at bar b are evaluated from bar b+1 onward; the engine never resolves
	// a level against the bar that created it.
	protectiveActiveFrom int

	totalBars           int
	gapCount            int
	significantGapCount int
}

// Run executes the full simulation over the series and assembles the result.
// Chronology violations and equity-invariant breaches abort with an error;
// everything else degrades into warnings on the result.
func (e *Engine) Run(ctx context.Context, req RunRequest, series *market.CandleSeries) (*Result, error) {
	if err := normalizeRequest(&req); err != nil {
		return nil, err
	}
	if series == nil {
		return nil, fmt.Errorf("backtest: candle series is required")
	}
	if !req.Start.IsZero() || !req.End.IsZero() {
		start, end := req.Start, req.End
		if start.IsZero() {
			start = series.First().Timestamp
		}
		if end.IsZero() {
			end = series.Last().Timestamp
		}
		sliced, err := series.Slice(start, end)
		if err != nil {
			return nil, err
		}
		series = sliced
	}

	riskCfg := req.Risk
	if riskCfg.RiskBudgetPct <= 0 {
		riskCfg.RiskBudgetPct = risk.DefaultManagerConfig().RiskBudgetPct
	}
	if riskCfg.MaxDrawdownPct <= 0 {
		riskCfg.MaxDrawdownPct = risk.DefaultManagerConfig().MaxDrawdownPct
	}

	sizer := &risk.CombinedSizer{
		RiskSizer: &risk.FixedRiskSizer{RiskBudgetPct: riskCfg.RiskBudgetPct, MinSize: 0.001},
		Drawdown:  risk.NewDrawdownController(riskCfg.MaxDrawdownPct),
	}
	if riskCfg.UseKelly {
		kelly := risk.NewKellySizer()
		if riskCfg.KellyCap > 0 {
			kelly.Cap = riskCfg.KellyCap
		}
		sizer.Kelly = kelly
	}
	if riskCfg.UseVolTargeting {
		vt := risk.NewVolatilityTargeting()
		if riskCfg.TargetVolatility > 0 {
			vt.TargetVol = riskCfg.TargetVolatility
		}
		sizer.VolTarget = vt
	}

	r := &run{
		req:    req,
		runID:  uuid.NewString(),
		state:  newState(req.InitialCapital),
		sizer:  sizer,
		series: series,
		cands:  series.Candles(),
	}
	// The shutdown policy gates sizing only when explicitly requested;
	// a plain backtest sizes with drawdown attenuation alone.
	if riskCfg.ShutdownPolicy != nil {
		r.shutdown = risk.NewShutdownManager(*riskCfg.ShutdownPolicy)
	}

	var repo orderbook.Repository
	if req.UseOrderbook {
		repo = e.repo
	}
	r.sim = execution.NewSimulator(repo, execution.Config{
		UseOrderbook:      req.UseOrderbook && repo != nil,
		SnapshotTolerance: req.SnapshotTolerance,
	}, e.logger)

	e.observer.Emit(Event{Type: EventRunStarted, RunID: r.runID, Timestamp: series.First().Timestamp, Payload: req.Symbol})

	interval := req.Timeframe.Duration()
	gapThreshold := time.Duration(float64(interval) * req.GapThresholdMultiplier)

	var prevTS time.Time
	for i, bar := range r.cands {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("backtest: cancelled at bar %d: %w", i, err)
		}
		r.totalBars++

		// 1. Temporal validation.
		if !prevTS.IsZero() {
			if !bar.Timestamp.After(prevTS) {
				return nil, &TemporalError{Previous: prevTS, Current: bar.Timestamp, BarIndex: i}
			}
			gap := bar.Timestamp.Sub(prevTS)
			if gap > interval {
				r.gapCount++
				if gap > gapThreshold {
					r.significantGapCount++
				}
			}
		}
		prevTS = bar.Timestamp
		r.state.lastBarTS = bar.Timestamp

		// 2. Strategy call on the pre-bar state.
		sig := e.callStrategy(r, i, bar)
		if err := validateSignal(sig, r.state.pos != nil); err != nil {
			e.logger.Printf("run %s: %v (bar %s)", r.runID, err, bar.Timestamp.Format(time.RFC3339))
			e.observer.Emit(Event{Type: EventSignalInvalid, RunID: r.runID, Timestamp: bar.Timestamp, Payload: err.Error()})
			sig = strategy.Hold()
		}

		// 3. Protective sweep: resolve SL/TP registered at earlier bars
		// against this bar's range, SL first.
		if r.state.pos != nil && i >= r.protectiveActiveFrom {
			e.resolveProtective(r, bar)
		}

		// 4 + 5. Translate the signal into orders and execute them.
		if err := e.applySignal(ctx, r, i, bar, sig); err != nil {
			return nil, err
		}

		// Advance the open position to the bar close: excursions, breakeven,
		// trailing, partial targets. The entry bar only marks the price so
		// that levels created this bar cannot fire on their own bar.
		if r.state.pos != nil {
			if i < r.protectiveActiveFrom {
				r.state.pos.CurrentPrice = bar.Close
				r.state.pos.LastUpdate = bar.Timestamp
			} else {
				for _, pc := range r.state.pos.UpdatePrice(bar.Close, bar.Timestamp) {
					e.bookPartialClose(r, bar, pc)
				}
				if r.state.pos != nil && r.state.pos.Size == 0 {
					r.state.pos = nil
				}
			}
		}

		// 6. Equity update and invariant check.
		if ok := r.state.markToMarket(bar.Timestamp, bar.Close); !ok {
			return nil, fmt.Errorf(
				"backtest: equity invariant violated at %s: realistic %.8f > theoretical %.8f",
				bar.Timestamp.Format(time.RFC3339), r.state.equityRealistic, r.state.equityTheoretical)
		}
		sample := r.state.equityCurve[len(r.state.equityCurve)-1]
		e.observer.Emit(Event{Type: EventEquitySample, RunID: r.runID, Timestamp: bar.Timestamp, Payload: sample})

		// 8. Periodic returns.
		r.state.recordPeriodicReturns(bar.Timestamp)

		// Latch the shutdown state when a policy is active.
		if r.shutdown != nil {
			r.shutdown.Evaluate(r.metrics())
		}
	}

	return e.assembleResult(r)
}

func normalizeRequest(req *RunRequest) error {
	if req.Strategy == nil {
		return fmt.Errorf("backtest: strategy is required")
	}
	if req.InitialCapital <= 0 {
		return fmt.Errorf("backtest: initial capital must be positive, got %.2f", req.InitialCapital)
	}
	if req.Timeframe == "" {
		req.Timeframe = market.Timeframe1h
	}
	if !req.Timeframe.Valid() {
		return fmt.Errorf("backtest: unsupported timeframe %q", req.Timeframe)
	}
	if req.SlippageModel == "" {
		req.SlippageModel = SlippageDynamic
	}
	if req.MaxGapRatio == 0 {
		req.MaxGapRatio = 0.10
	}
	if req.GapThresholdMultiplier == 0 {
		req.GapThresholdMultiplier = 2.0
	}
	if req.OrderConfig == (order.Config{}) {
		req.OrderConfig = order.DefaultConfig()
	}
	return nil
}

// callStrategy obtains the signal, converting panics into hold-with-warning:
// a broken strategy never takes the run down.
func (e *Engine) callStrategy(r *run, i int, bar market.Candle) (sig strategy.Signal) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Printf("run %s: strategy panic at %s: %v", r.runID, bar.Timestamp.Format(time.RFC3339), rec)
			e.observer.Emit(Event{Type: EventSignalInvalid, RunID: r.runID, Timestamp: bar.Timestamp,
				Payload: fmt.Sprintf("strategy panic: %v", rec)})
			sig = strategy.Hold()
		}
	}()

	return r.req.Strategy.OnBar(strategy.Context{
		Bar:            bar,
		History:        r.cands[:i+1],
		Equity:         r.state.equityRealistic,
		Drawdown:       r.state.drawdown,
		Position:       r.state.positionView(),
		OpenTradeCount: len(r.state.openTrades),
	})
}

// resolveProtective applies the conservative intrabar tie-break to the open
// position's levels against one bar:
//
//   - open gapped through the stop: exit at the open, stop wins outright
//   - open gapped through the target (stop not gapped): exit at the open
//   - both levels inside the range: the stop wins
//   - target alone inside the range: exit at the target
func (e *Engine) resolveProtective(r *run, bar market.Candle) {
	pos := r.state.pos
	sl, tp := pos.StopLoss, pos.TakeProfit
	if sl == 0 && tp == 0 {
		return
	}

	long := pos.Side == position.Long

	slGapped := sl > 0 && ((long && bar.Open <= sl) || (!long && bar.Open >= sl))
	tpGapped := tp > 0 && ((long && bar.Open >= tp) || (!long && bar.Open <= tp))
	slHit := sl > 0 && ((long && bar.Low <= sl) || (!long && bar.High >= sl))
	tpHit := tp > 0 && ((long && bar.High >= tp) || (!long && bar.Low <= tp))

	var price float64
	var reason position.ExitReason
	switch {
	case slGapped:
		price, reason = bar.Open, position.ExitStopLossGap
	case tpGapped:
		price, reason = bar.Open, position.ExitTakeProfitGap
	case slHit:
		price, reason = sl, position.ExitStopLoss
		if pos.TrailingStop != 0 && sl == pos.TrailingStop {
			reason = position.ExitTrailingStop
		}
	case tpHit:
		price, reason = tp, position.ExitTakeProfit
	default:
		return
	}

	e.closeTrade(r, bar, price, pos.Size, reason)
}

// applySignal translates a validated signal into state changes and orders.
// The protective sweep may have closed the position since validation, so
// position-dependent actions re-check and quietly drop when stale.
func (e *Engine) applySignal(ctx context.Context, r *run, i int, bar market.Candle, sig strategy.Signal) error {
	st := r.state
	switch sig.Action {
	case strategy.ActionEnter:
		if st.pos != nil {
			return nil
		}
		return e.enterPosition(ctx, r, i, bar, sig)

	case strategy.ActionExit:
		if st.pos == nil {
			return nil
		}
		return e.exitBySignal(ctx, r, bar, st.pos.Size)

	case strategy.ActionStopLoss:
		if st.pos == nil {
			return nil
		}
		st.pos.SetStopLoss(sig.StopLoss)
		r.protectiveActiveFrom = i + 1

	case strategy.ActionTakeProfit:
		if st.pos == nil {
			return nil
		}
		st.pos.SetTakeProfit(sig.TakeProfit)
		r.protectiveActiveFrom = i + 1

	case strategy.ActionTrailingStop:
		if st.pos == nil {
			return nil
		}
		distance := sig.TrailingDistance
		if distance == 0 {
			distance = bar.Close * sig.TrailingDistancePct
		}
		st.pos.ArmTrailing(distance)
		r.protectiveActiveFrom = i + 1

	case strategy.ActionAdjust:
		if st.pos == nil {
			return nil
		}
		if sig.Size > 0 {
			return e.scaleIn(ctx, r, bar, sig.Size)
		}
		qty := -sig.Size
		if qty > st.pos.Size {
			qty = st.pos.Size
		}
		return e.exitBySignal(ctx, r, bar, qty)
	}
	return nil
}

// slippageFor resolves the engine-level slippage fraction for a fill.
func (r *run) slippageFor(resultSlippage float64) float64 {
	switch r.req.SlippageModel {
	case SlippageNone:
		return 0
	case SlippageFixed:
		return r.req.FixedSlippageBps / 10000.0
	default:
		return resultSlippage
	}
}

// enterPosition sizes and executes a new entry.
func (e *Engine) enterPosition(ctx context.Context, r *run, i int, bar market.Candle, sig strategy.Signal) error {
	st := r.state

	if sig.StopLoss <= 0 {
		// No stop means no measurable risk: the sizer has nothing to work
		// with and the trade is skipped.
		e.logger.Printf("run %s: enter without stop at %s skipped", r.runID, bar.Timestamp.Format(time.RFC3339))
		return nil
	}

	sizeFactor := 1.0
	if r.shutdown != nil {
		status := r.shutdown.Evaluate(r.metrics())
		if status.Shutdown {
			e.logger.Printf("run %s: entry blocked: %s", r.runID, status.ShutdownReason)
			return nil
		}
		sizeFactor = status.SizeReductionFactor
	}

	decision, err := r.sizer.Size(st.equityRealistic, sig.EntryPrice, sig.StopLoss,
		risk.SizerContext{DrawdownPct: st.drawdown * 100})
	if err != nil {
		e.logger.Printf("run %s: sizing diagnostic at %s: %v", r.runID, bar.Timestamp.Format(time.RFC3339), err)
		return nil
	}
	decision.Units *= sizeFactor
	if decision.Units <= 0 {
		return nil
	}

	side := order.Buy
	posSide := position.Long
	if sig.Side == strategy.Sell {
		side = order.Sell
		posSide = position.Short
	}

	o := order.NewMarket(r.req.Symbol, side, decision.Units, bar.Timestamp)
	o.Config = r.req.OrderConfig
	res, err := r.sim.Execute(ctx, o, bar)
	if err != nil {
		return err
	}
	if res.FilledQty <= 0 {
		st.rejectedOrders = append(st.rejectedOrders, RejectedOrder{
			OrderID: o.ID, Timestamp: bar.Timestamp, Side: string(side),
			Qty: decision.Units, Status: string(res.Status), Reason: "no liquidity",
		})
		return nil
	}
	if res.FilledQty < decision.Units {
		st.partialFills = append(st.partialFills, PartialFillRecord{
			OrderID: o.ID, Timestamp: bar.Timestamp,
			RequestedQty: decision.Units, FilledQty: res.FilledQty,
			FillRatio: res.FilledQty / decision.Units, RemainingQty: decision.Units - res.FilledQty,
		})
		// The unfilled remainder is not chased; it is reported and dropped.
		st.rejectedOrders = append(st.rejectedOrders, RejectedOrder{
			OrderID: o.ID, Timestamp: bar.Timestamp, Side: string(side),
			Qty: decision.Units - res.FilledQty, Status: string(order.StatusCancelled), Reason: "book shallower than order",
		})
	}

	slip := r.slippageFor(res.SlippagePct)
	fees := res.AvgPrice * res.FilledQty * r.req.CommissionRate
	notional := res.AvgPrice * res.FilledQty

	if posSide == position.Long {
		st.cashTheoretical -= notional
		st.cashRealistic -= notional*(1+slip) + fees
	} else {
		st.cashTheoretical += notional
		st.cashRealistic += notional*(1-slip) - fees
	}

	cfg := position.Config{
		FixedStopLoss:    sig.StopLoss,
		FixedTakeProfit:  sig.TakeProfit,
		BreakevenTrigger: r.req.BreakevenTrigger,
		PartialTPs:       r.req.PartialTPs,
	}
	pos, err := position.New(r.req.Symbol, posSide, cfg, res.AvgPrice, res.FilledQty, bar.Timestamp)
	if err != nil {
		return fmt.Errorf("backtest: open position: %w", err)
	}
	st.pos = pos
	r.protectiveActiveFrom = i + 1

	trade := storage.TradeFill{
		SignalTime:    bar.Timestamp,
		EntryTime:     bar.Timestamp,
		EntryPrice:    res.AvgPrice,
		Size:          res.FilledQty,
		Side:          string(side),
		FeesEntry:     fees,
		SlippageEntry: slip,
		Status:        storage.TradeOpen,
	}
	st.openTrades = append(st.openTrades, trade)
	e.observer.Emit(Event{Type: EventTradeOpened, RunID: r.runID, Timestamp: bar.Timestamp, Payload: trade})
	return nil
}

// scaleIn adds to the open position at market.
func (e *Engine) scaleIn(ctx context.Context, r *run, bar market.Candle, qty float64) error {
	st := r.state
	pos := st.pos

	side := order.Buy
	if pos.Side == position.Short {
		side = order.Sell
	}
	o := order.NewMarket(r.req.Symbol, side, qty, bar.Timestamp)
	o.Config = r.req.OrderConfig
	res, err := r.sim.Execute(ctx, o, bar)
	if err != nil {
		return err
	}
	if res.FilledQty <= 0 {
		st.rejectedOrders = append(st.rejectedOrders, RejectedOrder{
			OrderID: o.ID, Timestamp: bar.Timestamp, Side: string(side),
			Qty: qty, Status: string(res.Status), Reason: "no liquidity",
		})
		return nil
	}

	slip := r.slippageFor(res.SlippagePct)
	fees := res.AvgPrice * res.FilledQty * r.req.CommissionRate
	notional := res.AvgPrice * res.FilledQty

	if pos.Side == position.Long {
		st.cashTheoretical -= notional
		st.cashRealistic -= notional*(1+slip) + fees
	} else {
		st.cashTheoretical += notional
		st.cashRealistic += notional*(1-slip) - fees
	}

	pos.ApplyFill(res.AvgPrice, res.FilledQty, bar.Timestamp, o.ID)

	// Fold the addition into the open trade record: weighted entry, summed
	// fees, size-weighted slippage. Splitting instead is equally valid; the
	// averaged record keeps one trade per position lifecycle.
	if n := len(st.openTrades); n > 0 {
		t := &st.openTrades[n-1]
		newSize := t.Size + res.FilledQty
		t.EntryPrice = (t.EntryPrice*t.Size + res.AvgPrice*res.FilledQty) / newSize
		t.SlippageEntry = (t.SlippageEntry*t.Size + slip*res.FilledQty) / newSize
		t.FeesEntry += fees
		t.Size = newSize
	}
	return nil
}

// exitBySignal closes qty of the position at market.
func (e *Engine) exitBySignal(ctx context.Context, r *run, bar market.Candle, qty float64) error {
	pos := r.state.pos

	side := order.Sell
	if pos.Side == position.Short {
		side = order.Buy
	}
	o := order.NewMarket(r.req.Symbol, side, qty, bar.Timestamp)
	o.Config = r.req.OrderConfig
	res, err := r.sim.Execute(ctx, o, bar)
	if err != nil {
		return err
	}
	if res.FilledQty <= 0 {
		r.state.rejectedOrders = append(r.state.rejectedOrders, RejectedOrder{
			OrderID: o.ID, Timestamp: bar.Timestamp, Side: string(side),
			Qty: qty, Status: string(res.Status), Reason: "no liquidity",
		})
		return nil
	}

	e.closeTradeAt(r, bar, res.AvgPrice, res.FilledQty, position.ExitSignal, r.slippageFor(res.SlippagePct))
	return nil
}

// closeTrade closes at an exact protective level price (or gap open).
// Protective exits charge the configured slippage model against the level.
func (e *Engine) closeTrade(r *run, bar market.Candle, price, qty float64, reason position.ExitReason) {
	slip := r.slippageFor(0)
	if r.req.SlippageModel == SlippageDynamic {
		// Dynamic slippage without a book estimate: five percent of the bar's
		// relative range is the stand-in for stop-driven exits.
		if bar.Close > 0 {
			slip = (bar.High - bar.Low) / bar.Close * 0.05
		}
	}
	e.closeTradeAt(r, bar, price, qty, reason, slip)
}

// closeTradeAt books a (possibly partial) close of the open position.
func (e *Engine) closeTradeAt(r *run, bar market.Candle, price, qty float64, reason position.ExitReason, slip float64) {
	st := r.state
	pos := st.pos
	if pos == nil || qty <= 0 {
		return
	}
	if qty > pos.Size {
		qty = pos.Size
	}

	analyticsSnapshot := pos.TradeAnalytics()
	long := pos.Side == position.Long

	fees := price * qty * r.req.CommissionRate
	notional := price * qty
	if long {
		st.cashTheoretical += notional
		st.cashRealistic += notional*(1-slip) - fees
	} else {
		st.cashTheoretical -= notional
		st.cashRealistic -= notional*(1+slip) + fees
	}

	closeResult, err := pos.ApplyPartialClose(price, qty, bar.Timestamp)
	if err != nil {
		e.logger.Printf("run %s: close failed: %v", r.runID, err)
		return
	}
	if pos.Size == 0 {
		st.pos = nil
	}

	if len(st.openTrades) == 0 {
		return
	}
	open := &st.openTrades[0]
	exitRatio := qty / open.Size
	if exitRatio > 1 {
		exitRatio = 1
	}

	entryFeesShare := open.FeesEntry * exitRatio
	entrySlipCost := open.EntryPrice * qty * open.SlippageEntry
	exitSlipCost := price * qty * slip

	exitTS := bar.Timestamp
	closed := storage.TradeFill{
		SignalTime:    open.SignalTime,
		EntryTime:     open.EntryTime,
		ExitTime:      &exitTS,
		EntryPrice:    open.EntryPrice,
		ExitPrice:     price,
		Size:          qty,
		Side:          open.Side,
		FeesEntry:     entryFeesShare,
		FeesExit:      fees,
		SlippageEntry: open.SlippageEntry,
		SlippageExit:  slip,
		Status:        storage.TradeClosed,
		ExitReason:    string(reason),
		PnL:           closeResult.RealizedPnL - entryFeesShare - fees - entrySlipCost - exitSlipCost,
		PnLPct:        closeResult.RealizedPnLPct,
		MAE:           analyticsSnapshot.MAE,
		MFE:           analyticsSnapshot.MFE,
	}
	if open.EntryPrice > 0 {
		if long {
			closed.ReturnPct = (price/open.EntryPrice - 1) * 100
		} else {
			closed.ReturnPct = (open.EntryPrice/price - 1) * 100
		}
	}
	st.closedTrades = append(st.closedTrades, closed)
	e.observer.Emit(Event{Type: EventTradeClosed, RunID: r.runID, Timestamp: bar.Timestamp, Payload: closed})

	if closeResult.RemainingSize > 0 {
		open.Size = closeResult.RemainingSize
		open.FeesEntry -= entryFeesShare
	} else {
		st.openTrades = st.openTrades[1:]
	}
}

// bookPartialClose books a partial take-profit fired inside the position.
func (e *Engine) bookPartialClose(r *run, bar market.Candle, pc position.PartialClose) {
	st := r.state
	pos := st.pos
	if pos == nil {
		return
	}

	// The position already shrank; only the cash and trade records move here.
	long := pos.Side == position.Long
	slip := r.slippageFor(0)
	fees := pc.ClosePrice * pc.ClosedQty * r.req.CommissionRate
	notional := pc.ClosePrice * pc.ClosedQty
	if long {
		st.cashTheoretical += notional
		st.cashRealistic += notional*(1-slip) - fees
	} else {
		st.cashTheoretical -= notional
		st.cashRealistic -= notional*(1+slip) + fees
	}

	if len(st.openTrades) == 0 {
		return
	}
	open := &st.openTrades[0]
	exitRatio := pc.ClosedQty / open.Size
	if exitRatio > 1 {
		exitRatio = 1
	}
	entryFeesShare := open.FeesEntry * exitRatio

	exitTS := bar.Timestamp
	closed := storage.TradeFill{
		SignalTime:    open.SignalTime,
		EntryTime:     open.EntryTime,
		ExitTime:      &exitTS,
		EntryPrice:    open.EntryPrice,
		ExitPrice:     pc.ClosePrice,
		Size:          pc.ClosedQty,
		Side:          open.Side,
		FeesEntry:     entryFeesShare,
		FeesExit:      fees,
		SlippageEntry: open.SlippageEntry,
		SlippageExit:  slip,
		Status:        storage.TradeClosed,
		ExitReason:    string(position.ExitTakeProfit),
		PnL:           pc.RealizedPnL - entryFeesShare - fees,
		PnLPct:        pc.RealizedPnLPct,
	}
	st.closedTrades = append(st.closedTrades, closed)
	e.observer.Emit(Event{Type: EventTradeClosed, RunID: r.runID, Timestamp: bar.Timestamp, Payload: closed})

	if pc.RemainingSize > 0 {
		open.Size = pc.RemainingSize
		open.FeesEntry -= entryFeesShare
	} else {
		st.openTrades = st.openTrades[1:]
	}
}

// metrics builds the shutdown policy's view of the run so far.
func (r *run) metrics() risk.StrategyMetrics {
	return risk.StrategyMetrics{
		DrawdownPct:   r.state.drawdown * 100,
		PeakEquity:    r.state.peakEquity,
		CurrentEquity: r.state.equityRealistic,
		Trades:        tradeOutcomes(r.state.closedTrades),
	}
}

func tradeOutcomes(trades []storage.TradeFill) []risk.TradeOutcome {
	start := 0
	if len(trades) > 100 {
		start = len(trades) - 100
	}
	out := make([]risk.TradeOutcome, 0, len(trades)-start)
	for _, t := range trades[start:] {
		out = append(out, risk.TradeOutcome{PnL: t.PnL, ReturnPct: t.ReturnPct})
	}
	return out
}

// assembleResult finalizes everything into the structured result.
func (e *Engine) assembleResult(r *run) (*Result, error) {
	st := r.state

	gapRatio := 0.0
	if r.totalBars > 0 {
		gapRatio = float64(r.gapCount) / float64(r.totalBars)
	}
	temporalStatus := TemporalPass
	if gapRatio > r.req.MaxGapRatio {
		temporalStatus = TemporalFailed
		e.logger.Printf("run %s: failed temporal validation: gap ratio %.4f > %.4f",
			r.runID, gapRatio, r.req.MaxGapRatio)
		if r.req.AbortOnTemporalFailure {
			return nil, fmt.Errorf("backtest: gap ratio %.4f exceeds maximum %.4f", gapRatio, r.req.MaxGapRatio)
		}
	}

	divergence := DivergenceMetrics{MaxPct: math.Inf(-1), MinPct: math.Inf(1)}
	var divSum float64
	for _, s := range st.equityCurve {
		if s.DivergencePct > divergence.MaxPct {
			divergence.MaxPct = s.DivergencePct
		}
		if s.DivergencePct < divergence.MinPct {
			divergence.MinPct = s.DivergencePct
		}
		divSum += s.DivergencePct
	}
	if len(st.equityCurve) > 0 {
		divergence.AvgPct = divSum / float64(len(st.equityCurve))
	} else {
		divergence = DivergenceMetrics{}
	}

	var trackingStats tracking.Stats
	var trackingSeries, trackingCumulative []tracking.Sample
	if len(st.trackingTheo) >= 2 {
		stats, err := tracking.Compute(st.trackingTheo, st.trackingReal, r.req.Timeframe.BarsPerYear())
		if err != nil {
			// Post-processing failures degrade to null metrics, never abort.
			e.logger.Printf("run %s: tracking error computation failed: %v", r.runID, err)
			trackingStats = tracking.Stats{
				RMSE: math.NaN(), MaxDivergenceBps: math.NaN(),
				Correlation: math.NaN(), AnnualizedTE: math.NaN(),
			}
		} else {
			trackingStats = stats
		}
		trackingSeries, trackingCumulative = tracking.Series(st.trackingTheo, st.trackingReal)
	}

	trades := append([]storage.TradeFill{}, st.closedTrades...)
	trades = append(trades, st.openTrades...)

	var start, end time.Time
	if r.series.Len() > 0 {
		start = r.series.First().Timestamp
		end = r.series.Last().Timestamp
	}

	result := &Result{
		RunID:          r.runID,
		Start:          start,
		End:            end,
		Symbol:         r.req.Symbol,
		Interval:       string(r.req.Timeframe),
		InitialCapital: r.req.InitialCapital,
		FinalCapital:   st.equityRealistic,
		Trades:         trades,
		EquityCurve:    st.equityCurve,

		EquityDivergence: divergence,
		Returns: PeriodicReturns{
			Daily:   st.returnsDaily,
			Weekly:  st.returnsWeekly,
			Monthly: st.returnsMonthly,
		},

		DataHash: r.series.DataHash(),
		Seed:     r.req.Seed,

		Temporal: TemporalValidation{
			Status:              temporalStatus,
			GapCount:            r.gapCount,
			SignificantGapCount: r.significantGapCount,
			TotalBars:           r.totalBars,
			GapRatio:            gapRatio,
			MaxGapRatio:         r.req.MaxGapRatio,
		},
		Execution: ExecutionStats{
			PartialFills:           len(st.partialFills),
			RejectedOrders:         len(st.rejectedOrders),
			PartialFillDetails:     st.partialFills,
			RejectedOrderDetails:   st.rejectedOrders,
			OrderbookFallbackCount: r.sim.FallbackCount(),
			OrderbookFallbackPct:   r.sim.FallbackPct(r.totalBars),
			Warnings:               r.sim.Warnings(),
			Reliability:            r.sim.Reliability(r.totalBars),
		},

		TrackingError:           trackingStats,
		TrackingErrorSeries:     trackingSeries,
		TrackingErrorCumulative: trackingCumulative,

		Performance: analytics.Analyze(st.closedTrades, r.req.InitialCapital, start, end),
		Metadata: Metadata{
			Symbol:         r.req.Symbol,
			Timeframe:      string(r.req.Timeframe),
			StrategyID:     r.req.Strategy.ID(),
			CommissionRate: r.req.CommissionRate,
			SlippageModel:  string(r.req.SlippageModel),
			UseOrderbook:   r.req.UseOrderbook,
		},
	}

	e.observer.Emit(Event{Type: EventRunCompleted, RunID: r.runID, Timestamp: end, Payload: result})
	return result, nil
}
