// Package order implements the order type hierarchy with fill simulation.
//
// Market, limit, and stop orders share a single Order struct tagged by Type
// and a uniform TryFill contract: given the current bar and an optional book
// snapshot, attempt execution and report what happened. Stop orders carry a
// typed triggered transition; once triggered they execute through the market
// or limit path while preserving age and fill state.
//
// Design rules:
//   - TryFill never looks beyond the bar it is given.
//   - Orders age one bar per unfilled attempt; aging past MaxWaitBars
//     cancels the remainder.
//   - A market order fills partially only when the book is shallower than
//     the remaining quantity; a limit order also stops at the first level
//     beyond its limit.
package order

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lucasreyna/backtestEngine/internal/fill"
	"github.com/lucasreyna/backtestEngine/internal/market"
	"github.com/lucasreyna/backtestEngine/internal/orderbook"
)

// Side is the order direction.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Direction maps the order side onto the fill model's taker direction.
func (s Side) Direction() fill.Direction {
	if s == Buy {
		return fill.Buy
	}
	return fill.Sell
}

// Type tags the order variant.
type Type string

const (
	TypeMarket Type = "market"
	TypeLimit  Type = "limit"
	TypeStop   Type = "stop"
)

// Status is the order lifecycle state.
type Status string

const (
	StatusPending         Status = "pending"
	StatusActive          Status = "active"
	StatusPartiallyFilled Status = "partially_filled"
	StatusFilled          Status = "filled"
	StatusCancelled       Status = "cancelled"
	StatusRejected        Status = "rejected"
)

// TriggerType selects how a stop order executes once triggered.
type TriggerType string

const (
	TriggerMarket TriggerType = "market"
	TriggerLimit  TriggerType = "limit"
)

// Config holds execution knobs shared by all order types.
type Config struct {
	MaxWaitBars         int         // bars to wait before cancelling the remainder
	StopTriggerType     TriggerType // execution style after a stop triggers
	LimitPriceTolerance float64     // matching tolerance as a fraction of the limit
	FillPartial         bool        // allow partial fills
}

// DefaultConfig mirrors the production execution defaults.
func DefaultConfig() Config {
	return Config{
		MaxWaitBars:         10,
		StopTriggerType:     TriggerMarket,
		LimitPriceTolerance: 0.001,
		FillPartial:         true,
	}
}

// Execution records one fill event.
type Execution struct {
	Timestamp time.Time `json:"timestamp"`
	Qty       float64   `json:"qty"`
	Price     float64   `json:"price"`
	Notional  float64   `json:"notional"`
}

// FillResult reports the outcome of one TryFill attempt.
type FillResult struct {
	FilledQty      float64
	AvgPrice       float64
	FilledNotional float64
	SlippagePct    float64
	SlippageBps    float64
	Status         Status
	PartialFills   []Execution
}

// Order is a tagged order: exactly one of the type-specific price fields is
// meaningful per Type. LimitPrice doubles as the optional stop-limit price
// for stop orders.
type Order struct {
	ID        string
	Symbol    string
	Side      Side
	Type      Type
	Qty       float64
	CreatedAt time.Time

	LimitPrice float64 // limit orders; optional limit for stops
	StopPrice  float64 // stop orders

	Config Config
	Model  *fill.Model

	// Execution state.
	Filled       float64
	AvgFillPrice float64
	Status       Status
	AgeBars      int
	Triggered    bool
	TriggerPrice float64
	History      []Execution
}

// NewMarket creates a market order.
func NewMarket(symbol string, side Side, qty float64, ts time.Time) *Order {
	return newOrder(symbol, side, TypeMarket, qty, ts)
}

// NewLimit creates a limit order at the given price.
func NewLimit(symbol string, side Side, qty, limitPrice float64, ts time.Time) *Order {
	o := newOrder(symbol, side, TypeLimit, qty, ts)
	o.LimitPrice = limitPrice
	o.Status = StatusActive
	return o
}

// NewStop creates a stop order. Pass limitPrice 0 for a stop-market.
func NewStop(symbol string, side Side, qty, stopPrice, limitPrice float64, ts time.Time) *Order {
	o := newOrder(symbol, side, TypeStop, qty, ts)
	o.StopPrice = stopPrice
	o.LimitPrice = limitPrice
	if limitPrice > 0 {
		o.Config.StopTriggerType = TriggerLimit
	}
	return o
}

func newOrder(symbol string, side Side, typ Type, qty float64, ts time.Time) *Order {
	return &Order{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Side:      side,
		Type:      typ,
		Qty:       qty,
		CreatedAt: ts,
		Config:    DefaultConfig(),
		Model:     fill.NewModel(fill.DefaultConfig()),
		Status:    StatusPending,
	}
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() float64 { return o.Qty - o.Filled }

// FillRatio returns filled/requested in [0, 1].
func (o *Order) FillRatio() float64 {
	if o.Qty <= 0 {
		return 0
	}
	return o.Filled / o.Qty
}

// Complete reports whether the order is fully filled.
func (o *Order) Complete() bool { return o.Filled >= o.Qty }

// UpdateAge increments the bar age; the engine calls it once per bar in
// which the order did not complete.
func (o *Order) UpdateAge() { o.AgeBars++ }

// Cancel marks the order cancelled. The remainder is never executed.
func (o *Order) Cancel() { o.Status = StatusCancelled }

// Expired reports whether the order has waited past its allowance.
func (o *Order) Expired() bool {
	return o.Config.MaxWaitBars > 0 && o.AgeBars >= o.Config.MaxWaitBars && !o.Complete()
}

// TryFill attempts execution against the bar and optional book and returns
// what happened. It is the single dispatch point over the order variants.
func (o *Order) TryFill(bar market.Candle, book *orderbook.Snapshot) FillResult {
	switch o.Type {
	case TypeMarket:
		return o.fillMarket(bar, book)
	case TypeLimit:
		return o.fillLimit(bar, book)
	case TypeStop:
		return o.fillStop(bar, book)
	default:
		return o.noFill()
	}
}

// noFill reports the current state with no executed quantity.
func (o *Order) noFill() FillResult {
	return FillResult{Status: o.Status}
}

// matchAgainstBook walks the opposite side of the book consuming levels until
// targetQty is filled or the book is exhausted.
func (o *Order) matchAgainstBook(book *orderbook.Snapshot, targetQty float64, ts time.Time) (float64, float64, []Execution) {
	if targetQty <= 0 {
		return 0, 0, nil
	}

	levels := book.Asks
	if o.Side == Sell {
		levels = book.Bids
	}

	var executed, cost float64
	var fills []Execution
	for _, l := range levels {
		if executed >= targetQty {
			break
		}
		qty := targetQty - executed
		if l.Qty < qty {
			qty = l.Qty
		}
		executed += qty
		cost += l.Price * qty
		fills = append(fills, Execution{
			Timestamp: ts,
			Qty:       qty,
			Price:     l.Price,
			Notional:  l.Price * qty,
		})
	}
	if executed <= 0 {
		return 0, 0, nil
	}
	return executed, cost / executed, fills
}

// record applies an execution to the order's running state.
func (o *Order) record(qty, price float64, ts time.Time) {
	prevFilled := o.Filled
	o.Filled += qty
	if o.Filled > 0 {
		o.AvgFillPrice = (o.AvgFillPrice*prevFilled + price*qty) / o.Filled
	}
	o.History = append(o.History, Execution{
		Timestamp: ts,
		Qty:       qty,
		Price:     price,
		Notional:  price * qty,
	})

	switch {
	case o.Complete():
		o.Status = StatusFilled
	case o.Filled > 0:
		o.Status = StatusPartiallyFilled
	default:
		o.Status = StatusActive
	}
}

func (o *Order) String() string {
	return fmt.Sprintf("%s %s %s qty=%.8f filled=%.8f status=%s",
		o.Type, o.Side, o.Symbol, o.Qty, o.Filled, o.Status)
}
