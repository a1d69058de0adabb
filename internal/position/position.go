// Package position maintains open position state through its lifecycle:
// size-weighted average entry, automatic stop/target recomputation after
// fills, breakeven shifts, trailing stops, partial take-profits, and
// MAE/MFE excursion tracking.
//
// Design rules:
//   - A position has exactly one owner; the engine is the sole mutator.
//     Strategies read a copy (the engine builds a strategy.PositionView).
//   - Partial closes realize PnL at the current weighted entry and never
//     alter the remainder's average entry.
//   - The stop always takes precedence over the target when both could
//     fire; that tie-break lives in the engine, which reads levels from here.
package position

import (
	"fmt"
	"time"
)

// Side is the position direction.
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

// ExitReason explains why an exit condition fired.
type ExitReason string

const (
	ExitStopLoss      ExitReason = "stop_loss"
	ExitStopLossGap   ExitReason = "stop_loss_gap"
	ExitTakeProfit    ExitReason = "take_profit"
	ExitTakeProfitGap ExitReason = "take_profit_gap"
	ExitTrailingStop  ExitReason = "trailing_stop"
	ExitSignal        ExitReason = "signal"
)

// PartialTPConfig declares one partial take-profit level. Exactly one of
// Price, Offset, or RRMultiple positions the level; exactly one of Qty and
// QtyPct sizes the slice.
type PartialTPConfig struct {
	Price      float64 // absolute target price
	Offset     float64 // distance from average entry
	RRMultiple float64 // multiple of the reward-per-unit distance
	Qty        float64 // absolute quantity to close
	QtyPct     float64 // fraction of the reference size to close
}

// Config holds the protective-level policy applied to a position.
type Config struct {
	RiskPerUnit      float64 // SL distance from average entry; 0 disables
	RewardPerUnit    float64 // TP distance from average entry; 0 disables
	RiskRewardRatio  float64 // derives RewardPerUnit from RiskPerUnit when set
	FixedStopLoss    float64 // absolute SL price; overrides RiskPerUnit
	FixedTakeProfit  float64 // absolute TP price; overrides RewardPerUnit
	TrailingStop     bool
	TrailingDistance float64
	BreakevenTrigger float64 // favourable move that shifts SL to entry; 0 disables
	PartialTPs       []PartialTPConfig
}

// PartialTPLevel is the execution state of one configured partial target.
type PartialTPLevel struct {
	Price         float64
	Qty           float64
	QtyPct        float64
	Triggered     bool
	TriggeredAt   time.Time
	ReferenceSize float64
}

// Fill records one entry fill applied to the position.
type Fill struct {
	Timestamp time.Time
	Price     float64
	Qty       float64
	OrderID   string
}

// PartialClose reports a realized slice of the position.
type PartialClose struct {
	Timestamp       time.Time
	ClosedQty       float64
	ClosePrice      float64
	RealizedPnL     float64
	RealizedPnLPct  float64
	RemainingSize   float64
	TargetPrice     float64 // set when a partial TP drove the close
	PartialTP       bool
}

// Position is the mutable position owned by the engine.
type Position struct {
	Symbol string
	Side   Side
	Config Config

	Size         float64
	AvgEntry     float64
	CurrentPrice float64
	StopLoss     float64 // 0 means no stop
	TakeProfit   float64 // 0 means no target

	TrailingDistance float64
	TrailingStop     float64
	BreakevenArmed   bool

	PartialTPs []PartialTPLevel
	Fills      []Fill

	OpenedAt   time.Time
	LastUpdate time.Time

	// Excursion tracking relative to average entry.
	MaxFavorablePrice float64
	MaxAdversePrice   float64
	MAE               float64
	MFE               float64
}

// New opens a position with an initial fill.
func New(symbol string, side Side, cfg Config, fillPrice, qty float64, openedAt time.Time) (*Position, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("position %s: non-positive initial qty %.8f", symbol, qty)
	}
	if fillPrice <= 0 {
		return nil, fmt.Errorf("position %s: non-positive fill price %.8f", symbol, fillPrice)
	}
	if cfg.RiskRewardRatio > 0 && cfg.RiskPerUnit > 0 {
		cfg.RewardPerUnit = cfg.RiskPerUnit * cfg.RiskRewardRatio
	}

	p := &Position{
		Symbol:           symbol,
		Side:             side,
		Config:           cfg,
		OpenedAt:         openedAt,
		TrailingDistance: cfg.TrailingDistance,
	}
	p.ApplyFill(fillPrice, qty, openedAt, "")
	return p, nil
}

// ApplyFill adds quantity at the fill price, reweights the average entry,
// and recomputes protective levels and partial-TP targets.
func (p *Position) ApplyFill(price, qty float64, ts time.Time, orderID string) {
	if qty <= 0 {
		return
	}

	isNew := p.Size == 0
	if p.Size > 0 {
		p.AvgEntry = (p.AvgEntry*p.Size + price*qty) / (p.Size + qty)
	} else {
		p.AvgEntry = price
	}
	p.Size += qty

	if isNew {
		p.MaxFavorablePrice = p.AvgEntry
		p.MaxAdversePrice = p.AvgEntry
		p.MAE = 0
		p.MFE = 0
	}

	p.Fills = append(p.Fills, Fill{Timestamp: ts, Price: price, Qty: qty, OrderID: orderID})
	p.LastUpdate = ts
	if p.CurrentPrice == 0 {
		p.CurrentPrice = price
	}

	p.recalcLevels()
	p.rebuildPartialTPs()
}

// recalcLevels derives SL/TP from the current average entry and config.
func (p *Position) recalcLevels() {
	if p.AvgEntry == 0 {
		return
	}

	switch {
	case p.Config.FixedStopLoss > 0:
		p.StopLoss = p.Config.FixedStopLoss
	case p.Config.RiskPerUnit > 0:
		if p.Side == Long {
			p.StopLoss = p.AvgEntry - p.Config.RiskPerUnit
		} else {
			p.StopLoss = p.AvgEntry + p.Config.RiskPerUnit
		}
	}

	switch {
	case p.Config.FixedTakeProfit > 0:
		p.TakeProfit = p.Config.FixedTakeProfit
	case p.Config.RewardPerUnit > 0:
		if p.Side == Long {
			p.TakeProfit = p.AvgEntry + p.Config.RewardPerUnit
		} else {
			p.TakeProfit = p.AvgEntry - p.Config.RewardPerUnit
		}
	}
}

// rebuildPartialTPs rebuilds the partial target ladder after the position
// composition changes. Already-triggered state is intentionally reset: the
// ladder applies to the new composition.
func (p *Position) rebuildPartialTPs() {
	p.PartialTPs = p.PartialTPs[:0]
	for _, cfg := range p.Config.PartialTPs {
		price := cfg.Price
		if price == 0 {
			offset := cfg.Offset
			if cfg.RRMultiple > 0 && p.Config.RewardPerUnit > 0 {
				offset = p.Config.RewardPerUnit * cfg.RRMultiple
			}
			if offset == 0 {
				continue
			}
			if p.Side == Long {
				price = p.AvgEntry + offset
			} else {
				price = p.AvgEntry - offset
			}
		}
		p.PartialTPs = append(p.PartialTPs, PartialTPLevel{
			Price:         price,
			Qty:           cfg.Qty,
			QtyPct:        cfg.QtyPct,
			ReferenceSize: p.Size,
		})
	}
}

// SetStopLoss replaces the protective stop.
func (p *Position) SetStopLoss(price float64) { p.StopLoss = price }

// SetTakeProfit replaces the profit target.
func (p *Position) SetTakeProfit(price float64) { p.TakeProfit = price }

// ArmTrailing enables the trailing stop with the given distance and seeds the
// trailing level from the current extremum.
func (p *Position) ArmTrailing(distance float64) {
	p.Config.TrailingStop = true
	p.TrailingDistance = distance
	if p.Side == Long {
		p.TrailingStop = p.MaxFavorablePrice - distance
	} else {
		p.TrailingStop = p.MaxFavorablePrice + distance
	}
}

// UnrealizedPnL returns the open PnL at the current price.
func (p *Position) UnrealizedPnL() float64 {
	if p.Size == 0 || p.AvgEntry == 0 {
		return 0
	}
	diff := p.CurrentPrice - p.AvgEntry
	if p.Side == Short {
		diff = -diff
	}
	return diff * p.Size
}

// UpdatePrice advances the position to the latest price: excursions first,
// then the breakeven shift, then the trailing stop, then partial targets in
// price order. Returns the partial closes executed this update.
func (p *Position) UpdatePrice(price float64, ts time.Time) []PartialClose {
	p.CurrentPrice = price
	p.LastUpdate = ts
	if p.Size == 0 || p.AvgEntry == 0 {
		return nil
	}

	p.updateExtrema(price)
	shifted := p.maybeBreakeven(price)
	p.advanceTrailing(price, shifted)
	return p.processPartialTPs(price, ts)
}

func (p *Position) updateExtrema(price float64) {
	if p.MaxFavorablePrice == 0 {
		p.MaxFavorablePrice = p.AvgEntry
		p.MaxAdversePrice = p.AvgEntry
	}
	if p.Side == Long {
		if price > p.MaxFavorablePrice {
			p.MaxFavorablePrice = price
		}
		if price < p.MaxAdversePrice {
			p.MaxAdversePrice = price
		}
		if mfe := p.MaxFavorablePrice - p.AvgEntry; mfe > p.MFE {
			p.MFE = mfe
		}
		if mae := p.AvgEntry - p.MaxAdversePrice; mae > p.MAE {
			p.MAE = mae
		}
	} else {
		if price < p.MaxFavorablePrice {
			p.MaxFavorablePrice = price
		}
		if price > p.MaxAdversePrice {
			p.MaxAdversePrice = price
		}
		if mfe := p.AvgEntry - p.MaxFavorablePrice; mfe > p.MFE {
			p.MFE = mfe
		}
		if mae := p.MaxAdversePrice - p.AvgEntry; mae > p.MAE {
			p.MAE = mae
		}
	}
}

// maybeBreakeven shifts the stop to the entry the first time the favourable
// move reaches the trigger distance.
func (p *Position) maybeBreakeven(price float64) bool {
	if p.BreakevenArmed || p.Config.BreakevenTrigger <= 0 {
		return false
	}
	move := price - p.AvgEntry
	if p.Side == Short {
		move = p.AvgEntry - price
	}
	if move >= p.Config.BreakevenTrigger {
		p.StopLoss = p.AvgEntry
		p.BreakevenArmed = true
		return true
	}
	return false
}

// advanceTrailing ratchets the trailing stop toward the favourable extremum.
// The bar that armed breakeven skips trailing so the shift is not immediately
// overridden; with a breakeven trigger configured, trailing waits until armed.
func (p *Position) advanceTrailing(price float64, breakevenShifted bool) {
	if !p.Config.TrailingStop || p.TrailingDistance <= 0 || breakevenShifted {
		return
	}
	if p.Config.BreakevenTrigger > 0 && !p.BreakevenArmed {
		return
	}

	if p.Side == Long {
		candidate := p.MaxFavorablePrice - p.TrailingDistance
		if candidate > p.StopLoss {
			p.StopLoss = candidate
			p.TrailingStop = candidate
		}
	} else {
		candidate := p.MaxFavorablePrice + p.TrailingDistance
		if p.StopLoss == 0 || candidate < p.StopLoss {
			p.StopLoss = candidate
			p.TrailingStop = candidate
		}
	}
}

func (p *Position) processPartialTPs(price float64, ts time.Time) []PartialClose {
	var events []PartialClose
	for i := range p.PartialTPs {
		level := &p.PartialTPs[i]
		if level.Triggered {
			continue
		}
		hit := (p.Side == Long && price >= level.Price) ||
			(p.Side == Short && price <= level.Price)
		if !hit {
			continue
		}

		qty := level.Qty
		if qty == 0 && level.QtyPct > 0 {
			base := level.ReferenceSize
			if base == 0 {
				base = p.Size
			}
			qty = base * level.QtyPct
		}
		if qty > p.Size {
			qty = p.Size
		}

		level.Triggered = true
		level.TriggeredAt = ts
		if qty <= 0 {
			continue
		}

		close, err := p.ApplyPartialClose(level.Price, qty, ts)
		if err != nil {
			continue
		}
		close.PartialTP = true
		close.TargetPrice = level.Price
		events = append(events, close)

		if p.Size == 0 {
			break
		}
	}
	return events
}

// ExitCheck is the result of evaluating protective levels at the current price.
type ExitCheck struct {
	Triggered bool
	Reason    ExitReason
	Price     float64
}

// CheckExit evaluates SL then TP at the current price. The stop takes
// precedence: when both levels are breached at once the adverse one wins.
func (p *Position) CheckExit() ExitCheck {
	if p.Size == 0 || p.CurrentPrice == 0 {
		return ExitCheck{}
	}

	if p.StopLoss > 0 {
		if (p.Side == Long && p.CurrentPrice <= p.StopLoss) ||
			(p.Side == Short && p.CurrentPrice >= p.StopLoss) {
			reason := ExitStopLoss
			if p.TrailingStop != 0 && p.StopLoss == p.TrailingStop {
				reason = ExitTrailingStop
			}
			return ExitCheck{Triggered: true, Reason: reason, Price: p.StopLoss}
		}
	}

	if p.TakeProfit > 0 {
		if (p.Side == Long && p.CurrentPrice >= p.TakeProfit) ||
			(p.Side == Short && p.CurrentPrice <= p.TakeProfit) {
			return ExitCheck{Triggered: true, Reason: ExitTakeProfit, Price: p.TakeProfit}
		}
	}

	return ExitCheck{}
}

// ApplyPartialClose realizes PnL on qty at the close price and shrinks the
// position. The remainder keeps its average entry unchanged. Closing the
// final slice resets all protective state.
func (p *Position) ApplyPartialClose(price, qty float64, ts time.Time) (PartialClose, error) {
	if qty <= 0 || qty > p.Size {
		return PartialClose{}, fmt.Errorf("position %s: invalid close qty %.8f (size %.8f)", p.Symbol, qty, p.Size)
	}

	diff := price - p.AvgEntry
	if p.Side == Short {
		diff = -diff
	}
	pnl := diff * qty
	pnlPct := 0.0
	if p.AvgEntry > 0 {
		pnlPct = pnl / (p.AvgEntry * qty) * 100
	}

	p.Size -= qty
	p.LastUpdate = ts

	if p.Size == 0 {
		p.AvgEntry = 0
		p.StopLoss = 0
		p.TakeProfit = 0
		p.TrailingStop = 0
		p.BreakevenArmed = false
		p.PartialTPs = nil
	}

	return PartialClose{
		Timestamp:      ts,
		ClosedQty:      qty,
		ClosePrice:     price,
		RealizedPnL:    pnl,
		RealizedPnLPct: pnlPct,
		RemainingSize:  p.Size,
	}, nil
}

// Analytics summarizes the excursion metrics for downstream reporting.
type Analytics struct {
	MAE    float64
	MFE    float64
	MAEPct float64
	MFEPct float64
}

// TradeAnalytics returns MAE/MFE in absolute and percentage terms.
func (p *Position) TradeAnalytics() Analytics {
	a := Analytics{MAE: p.MAE, MFE: p.MFE}
	if p.AvgEntry > 0 {
		a.MAEPct = p.MAE / p.AvgEntry * 100
		a.MFEPct = p.MFE / p.AvgEntry * 100
	}
	return a
}
