// Package orderbook provides typed L1-L10 order book snapshots and the
// repository used by the execution simulator to look them up by time.
//
// Design rules:
//   - Snapshots are immutable after construction; concurrent readers are safe.
//   - Absence of a snapshot is not an error. Callers fall back to
//     bar-approximated execution and account for the degradation.
//   - Bids are sorted descending, asks ascending; crossing books are rejected.
package orderbook

import (
	"fmt"
	"sort"
	"time"
)

// Side identifies which half of the book a query targets.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// Level is one price level of the book.
type Level struct {
	Price float64 `json:"price"`
	Qty   float64 `json:"qty"`
}

// Snapshot is a point-in-time view of the order book for one symbol.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Symbol    string    `json:"symbol"`
	Venue     string    `json:"venue"`
	Bids      []Level   `json:"bids"` // sorted descending by price
	Asks      []Level   `json:"asks"` // sorted ascending by price
}

// NewSnapshot builds a validated snapshot. Input levels may arrive in any
// order; they are sorted into book order. Negative quantities and crossed
// books (best bid >= best ask) are rejected.
func NewSnapshot(ts time.Time, symbol, venue string, bids, asks []Level) (*Snapshot, error) {
	for _, l := range bids {
		if l.Qty < 0 {
			return nil, fmt.Errorf("orderbook %s: negative bid qty at price %.8f", symbol, l.Price)
		}
	}
	for _, l := range asks {
		if l.Qty < 0 {
			return nil, fmt.Errorf("orderbook %s: negative ask qty at price %.8f", symbol, l.Price)
		}
	}

	b := make([]Level, len(bids))
	copy(b, bids)
	sort.Slice(b, func(i, j int) bool { return b[i].Price > b[j].Price })

	a := make([]Level, len(asks))
	copy(a, asks)
	sort.Slice(a, func(i, j int) bool { return a[i].Price < a[j].Price })

	if len(b) > 0 && len(a) > 0 && b[0].Price >= a[0].Price {
		return nil, fmt.Errorf("orderbook %s: crossed book, best bid %.8f >= best ask %.8f",
			symbol, b[0].Price, a[0].Price)
	}

	return &Snapshot{Timestamp: ts, Symbol: symbol, Venue: venue, Bids: b, Asks: a}, nil
}

// BestBid returns the highest bid price, or 0 when the bid side is empty.
func (s *Snapshot) BestBid() float64 {
	if len(s.Bids) == 0 {
		return 0
	}
	return s.Bids[0].Price
}

// BestAsk returns the lowest ask price, or 0 when the ask side is empty.
func (s *Snapshot) BestAsk() float64 {
	if len(s.Asks) == 0 {
		return 0
	}
	return s.Asks[0].Price
}

// Mid returns (bestBid + bestAsk) / 2, or 0 when either side is empty.
func (s *Snapshot) Mid() float64 {
	bid, ask := s.BestBid(), s.BestAsk()
	if bid == 0 || ask == 0 {
		return 0
	}
	return (bid + ask) / 2
}

// Spread returns bestAsk - bestBid, or 0 when either side is empty.
func (s *Snapshot) Spread() float64 {
	bid, ask := s.BestBid(), s.BestAsk()
	if bid == 0 || ask == 0 {
		return 0
	}
	return ask - bid
}

// SpreadPct returns the spread as a percentage of mid price.
func (s *Snapshot) SpreadPct() float64 {
	mid := s.Mid()
	if mid == 0 {
		return 0
	}
	return s.Spread() / mid * 100
}

// Empty reports whether the given side has no liquidity.
func (s *Snapshot) Empty(side Side) bool {
	if side == SideBid {
		return len(s.Bids) == 0
	}
	return len(s.Asks) == 0
}

// DepthAtPrice returns the cumulative quantity available at the given price
// or better: bids at or above price, asks at or below price.
func (s *Snapshot) DepthAtPrice(price float64, side Side) float64 {
	var depth float64
	if side == SideBid {
		for _, l := range s.Bids {
			if l.Price < price {
				break
			}
			depth += l.Qty
		}
		return depth
	}
	for _, l := range s.Asks {
		if l.Price > price {
			break
		}
		depth += l.Qty
	}
	return depth
}

// DepthForNotional walks levels until the cumulative notional (price * qty)
// reaches the target and returns the worst level touched together with the
// cumulative quantity. When the book is too thin, it returns the deepest
// reachable level and whatever quantity was accumulated.
func (s *Snapshot) DepthForNotional(notional float64, side Side) (priceLevel, cumQty float64) {
	levels := s.Asks
	if side == SideBid {
		levels = s.Bids
	}
	if len(levels) == 0 {
		return 0, 0
	}

	var cumNotional float64
	for _, l := range levels {
		cumQty += l.Qty
		cumNotional += l.Price * l.Qty
		if cumNotional >= notional {
			return l.Price, cumQty
		}
	}
	return levels[len(levels)-1].Price, cumQty
}

// Levels returns the top n levels of each side.
func (s *Snapshot) Levels(n int) (bids, asks []Level) {
	nb, na := n, n
	if nb > len(s.Bids) {
		nb = len(s.Bids)
	}
	if na > len(s.Asks) {
		na = len(s.Asks)
	}
	bids = make([]Level, nb)
	copy(bids, s.Bids[:nb])
	asks = make([]Level, na)
	copy(asks, s.Asks[:na])
	return bids, asks
}

// SpreadDepth summarizes spread and depth for a target notional at one instant.
type SpreadDepth struct {
	Timestamp       time.Time `json:"timestamp"`
	Symbol          string    `json:"symbol"`
	Notional        float64   `json:"notional"`
	BestBid         float64   `json:"best_bid"`
	BestAsk         float64   `json:"best_ask"`
	BidPrice        float64   `json:"bid_price"`
	BidQty          float64   `json:"bid_qty"`
	AskPrice        float64   `json:"ask_price"`
	AskQty          float64   `json:"ask_qty"`
	EffectiveSpread float64   `json:"effective_spread"`
	BidLevels       []Level   `json:"bid_levels"`
	AskLevels       []Level   `json:"ask_levels"`
}
