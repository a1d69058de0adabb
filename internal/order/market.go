package order

import (
	"github.com/lucasreyna/backtestEngine/internal/fill"
	"github.com/lucasreyna/backtestEngine/internal/market"
	"github.com/lucasreyna/backtestEngine/internal/orderbook"
)

// fillMarket executes a market order. With a book it walks the opposite side
// level by level; partial fills happen only when the book is shallower than
// the remainder. Without a book it approximates the taker price with the
// bar's high (buy) or low (sell) and a flat slippage default.
func (o *Order) fillMarket(bar market.Candle, book *orderbook.Snapshot) FillResult {
	target := o.Remaining()
	if target <= 0 {
		return o.noFill()
	}

	var (
		executed    float64
		avgPrice    float64
		slippagePct float64
		partials    []Execution
	)

	if book != nil {
		executed, avgPrice, partials = o.matchAgainstBook(book, target, bar.Timestamp)
		if executed <= 0 {
			o.UpdateAge()
			return o.noFill()
		}

		reference := book.BestAsk()
		if o.Side == Sell {
			reference = book.BestBid()
		}
		if reference > 0 {
			slippagePct = (avgPrice - reference) / reference
			if slippagePct < 0 {
				slippagePct = -slippagePct
			}
		}

		// Use actual slippage or the model estimate, whichever is worse.
		volEst := book.SpreadPct() / 100.0
		if volEst == 0 {
			volEst = 0.02
		}
		expected := o.Model.ExpectedSlippage(o.Side.Direction(), avgPrice*executed, book, volEst)
		if expected > slippagePct {
			slippagePct = expected
		}
	} else {
		if o.Side == Buy {
			avgPrice = bar.High
		} else {
			avgPrice = bar.Low
		}
		if avgPrice <= 0 {
			avgPrice = bar.Close
		}
		executed = target
		slippagePct = fill.DefaultMissingBookSlippage
		partials = []Execution{{
			Timestamp: bar.Timestamp,
			Qty:       executed,
			Price:     avgPrice,
			Notional:  avgPrice * executed,
		}}
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
