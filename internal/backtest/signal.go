package backtest

import (
	"github.com/lucasreyna/backtestEngine/internal/strategy"
)

// validateSignal checks the per-action field and precondition table.
// A violation yields an InvalidSignalError; the engine converts it into a
// warning and skips the bar's signal, never aborting the run.
func validateSignal(sig strategy.Signal, hasPosition bool) error {
	switch sig.Action {
	case strategy.ActionEnter:
		if sig.Side != strategy.Buy && sig.Side != strategy.Sell {
			return &InvalidSignalError{Action: string(sig.Action), Reason: "side must be BUY or SELL"}
		}
		if sig.EntryPrice <= 0 {
			return &InvalidSignalError{Action: string(sig.Action), Reason: "entry_price is required"}
		}
		if hasPosition {
			return &InvalidSignalError{Action: string(sig.Action), Reason: "position already open"}
		}

	case strategy.ActionExit:
		if !hasPosition {
			return &InvalidSignalError{Action: string(sig.Action), Reason: "no open position"}
		}

	case strategy.ActionStopLoss:
		if !hasPosition {
			return &InvalidSignalError{Action: string(sig.Action), Reason: "no open position"}
		}
		if sig.StopLoss <= 0 {
			return &InvalidSignalError{Action: string(sig.Action), Reason: "stop_loss price is required"}
		}

	case strategy.ActionTakeProfit:
		if !hasPosition {
			return &InvalidSignalError{Action: string(sig.Action), Reason: "no open position"}
		}
		if sig.TakeProfit <= 0 {
			return &InvalidSignalError{Action: string(sig.Action), Reason: "take_profit price is required"}
		}

	case strategy.ActionTrailingStop:
		if !hasPosition {
			return &InvalidSignalError{Action: string(sig.Action), Reason: "no open position"}
		}
		hasAbs := sig.TrailingDistance > 0
		hasPct := sig.TrailingDistancePct > 0
		if hasAbs == hasPct {
			return &InvalidSignalError{
				Action: string(sig.Action),
				Reason: "exactly one of trailing_distance and trailing_distance_pct is required",
			}
		}

	case strategy.ActionAdjust:
		if !hasPosition {
			return &InvalidSignalError{Action: string(sig.Action), Reason: "no open position"}
		}
		if sig.Size == 0 {
			return &InvalidSignalError{Action: string(sig.Action), Reason: "size must be non-zero"}
		}

	case strategy.ActionHold, "":
		// Nothing to check.

	default:
		return &InvalidSignalError{Action: string(sig.Action), Reason: "unknown action"}
	}
	return nil
}
