package order

import (
	"github.com/lucasreyna/backtestEngine/internal/market"
	"github.com/lucasreyna/backtestEngine/internal/orderbook"
)

// CheckTrigger evaluates the stop trigger against the current price: a buy
// stop triggers at or above StopPrice, a sell stop at or below. The book mid
// is preferred as the reference; the bar close is the fallback. Triggering
// is a one-way transition from pending to active.
func (o *Order) CheckTrigger(bar market.Candle, book *orderbook.Snapshot) bool {
	if o.Type != TypeStop {
		return false
	}
	if o.Triggered {
		return true
	}

	price := bar.Close
	if book != nil && book.Mid() > 0 {
		price = book.Mid()
	}
	if price <= 0 {
		return false
	}

	triggered := false
	if o.Side == Buy {
		triggered = price >= o.StopPrice
	} else {
		triggered = price <= o.StopPrice
	}

	if triggered {
		o.Triggered = true
		o.TriggerPrice = price
		o.Status = StatusActive
	}
	return triggered
}

// TriggerAt forces the trigger transition at an explicit price without
// consulting the bar or the book. Nothing in this module calls it; the
// engine resolves its protective levels through the position package.
func (o *Order) TriggerAt(price float64) {
	if o.Type != TypeStop || o.Triggered {
		return
	}
	o.Triggered = true
	o.TriggerPrice = price
	o.Status = StatusActive
}

// fillStop runs the two-phase stop lifecycle: while untriggered each bar
// evaluates the trigger; once triggered, execution delegates to the market
// or limit path on this same order, preserving age and fill state.
func (o *Order) fillStop(bar market.Candle, book *orderbook.Snapshot) FillResult {
	if !o.Triggered {
		if !o.CheckTrigger(bar, book) {
			o.UpdateAge()
			return o.noFill()
		}
	}

	if o.Config.StopTriggerType == TriggerLimit {
		// A stop-limit without an explicit limit uses the stop level.
		if o.LimitPrice == 0 {
			o.LimitPrice = o.StopPrice
		}
		return o.fillLimit(bar, book)
	}
	return o.fillMarket(bar, book)
}
