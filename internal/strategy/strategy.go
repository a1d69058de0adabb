// Package strategy defines the strategy port of the backtest engine.
//
// Design rules:
//   - A strategy is a pure decision engine: same context in, same signal out.
//   - Strategies are stateless across runs, deterministic, and testable in
//     isolation. Built-ins keep only derived indicator state.
//   - Strategies never place orders. They emit Signals; the engine validates
//     them and the risk layer sizes them.
//   - A strategy only ever sees data observable by the close of the current
//     bar. The engine enforces this; strategies must not try to work around it.
package strategy

import (
	"github.com/lucasreyna/backtestEngine/internal/market"
)

// Action is what a signal asks the engine to do.
type Action string

const (
	ActionEnter        Action = "enter"
	ActionExit         Action = "exit"
	ActionStopLoss     Action = "stop_loss"
	ActionTakeProfit   Action = "take_profit"
	ActionTrailingStop Action = "trailing_stop"
	ActionAdjust       Action = "adjust"
	ActionHold         Action = "hold"
)

// Side is the requested direction for enter signals.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Signal is a strategy's request for this bar. Which fields are required
// depends on the action; the engine validates before acting.
type Signal struct {
	Action Action
	Side   Side

	EntryPrice float64
	StopLoss   float64
	TakeProfit float64

	TrailingDistance    float64
	TrailingDistancePct float64

	// Size adjusts the open position: positive scales in, negative scales out.
	Size float64

	// Reason explains the decision for the audit trail.
	Reason string
}

// Hold is the neutral signal.
func Hold() Signal { return Signal{Action: ActionHold} }

// PositionView is the immutable snapshot of the open position a strategy may
// inspect. Nil in the context means flat.
type PositionView struct {
	Side       Side
	Size       float64
	AvgEntry   float64
	StopLoss   float64
	TakeProfit float64
	MAE        float64
	MFE        float64
}

// Context is everything a strategy may consult for one bar.
type Context struct {
	Bar            market.Candle
	History        []market.Candle // bars up to and including the current one
	Equity         float64
	Drawdown       float64
	Position       *PositionView
	OpenTradeCount int
}

// Strategy is the interface all trading strategies implement.
type Strategy interface {
	// ID returns the stable identifier used in records and results.
	ID() string

	// Name returns a human-readable name.
	Name() string

	// OnBar evaluates one bar and returns the strategy's request.
	// It must not produce side effects.
	OnBar(ctx Context) Signal
}
