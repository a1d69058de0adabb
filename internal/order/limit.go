package order

import (
	"github.com/lucasreyna/backtestEngine/internal/market"
	"github.com/lucasreyna/backtestEngine/internal/orderbook"
)

// fillLimit executes a limit order. A buy is fillable when the best ask (or
// bar low) is at or below limit*(1+tol); a sell mirrors with the best bid
// (or bar high) and limit*(1-tol). With a book it walks levels as long as
// the level price respects the limit, filling at the better of level price
// and limit. Aging past MaxWaitBars cancels the unfilled remainder.
func (o *Order) fillLimit(bar market.Candle, book *orderbook.Snapshot) FillResult {
	if o.Expired() {
		o.Cancel()
		return o.noFill()
	}

	target := o.Remaining()
	if target <= 0 {
		return o.noFill()
	}

	tol := o.Config.LimitPriceTolerance
	buyCeiling := o.LimitPrice * (1.0 + tol)
	sellFloor := o.LimitPrice * (1.0 - tol)

	canFill := false
	if book != nil {
		if o.Side == Buy {
			canFill = book.BestAsk() > 0 && book.BestAsk() <= buyCeiling
		} else {
			canFill = book.BestBid() > 0 && book.BestBid() >= sellFloor
		}
	} else {
		if o.Side == Buy {
			canFill = bar.Low <= buyCeiling
		} else {
			canFill = bar.High >= sellFloor
		}
	}

	if !canFill {
		o.UpdateAge()
		return o.noFill()
	}

	var (
		executed float64
		avgPrice float64
		partials []Execution
	)

	if book != nil {
		var cost float64
		levels := book.Asks
		if o.Side == Sell {
			levels = book.Bids
		}
		for _, l := range levels {
			if o.Side == Buy && l.Price > buyCeiling {
				break
			}
			if o.Side == Sell && l.Price < sellFloor {
				break
			}
			if executed >= target {
				break
			}

			qty := target - executed
			if l.Qty < qty {
				qty = l.Qty
			}
			// Fill at the limit or better.
			price := l.Price
			if o.Side == Buy && price > o.LimitPrice {
				price = o.LimitPrice
			}
			if o.Side == Sell && price < o.LimitPrice {
				price = o.LimitPrice
			}

			executed += qty
			cost += price * qty
			partials = append(partials, Execution{
				Timestamp: bar.Timestamp,
				Qty:       qty,
				Price:     price,
				Notional:  price * qty,
			})
		}
		if executed > 0 {
			avgPrice = cost / executed
		} else {
			avgPrice = o.LimitPrice
		}
	} else {
		// No book: a bar touch fills the full remainder at the limit, but only
		// when the config trusts bar-level matching.
		avgPrice = o.LimitPrice
		if o.Config.FillPartial {
			executed = target
			partials = []Execution{{
				Timestamp: bar.Timestamp,
				Qty:       executed,
				Price:     avgPrice,
				Notional:  avgPrice * executed,
			}}
		}
	}

	if executed <= 0 {
		o.UpdateAge()
		return o.noFill()
	}

	// Limit slippage is measured against the limit itself; price improvement
	// shows up as a negative value.
	slippagePct := 0.0
	if o.LimitPrice > 0 {
		slippagePct = (avgPrice - o.LimitPrice) / o.LimitPrice
	}

	o.record(executed, avgPrice, bar.Timestamp)
	if !o.Complete() {
		o.UpdateAge()
	}

	return FillResult{
		FilledQty:      executed,
		AvgPrice:       avgPrice,
		FilledNotional: avgPrice * executed,
		SlippagePct:    slippagePct,
		SlippageBps:    slippagePct * 10000,
		Status:         o.Status,
		PartialFills:   partials,
	}
}
