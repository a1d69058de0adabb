package position

import "time"

// Manager owns at most one position per symbol. It is the multi-symbol
// extension point: the core engine drives a single symbol, the portfolio
// risk layer keys into the same manager across symbols.
type Manager struct {
	positions map[string]*Position
}

// NewManager creates an empty position manager.
func NewManager() *Manager {
	return &Manager{positions: make(map[string]*Position)}
}

// Get returns the position for symbol, or nil when flat.
func (m *Manager) Get(symbol string) *Position {
	return m.positions[symbol]
}

// Open creates a position or adds to the existing one for the symbol.
func (m *Manager) Open(symbol string, side Side, cfg Config, fillPrice, qty float64, ts time.Time) (*Position, error) {
	if existing := m.positions[symbol]; existing != nil {
		existing.ApplyFill(fillPrice, qty, ts, "")
		return existing, nil
	}
	p, err := New(symbol, side, cfg, fillPrice, qty, ts)
	if err != nil {
		return nil, err
	}
	m.positions[symbol] = p
	return p, nil
}

// Close reduces (or fully closes) the position for symbol. Pass qty 0 to
// close everything. The position is destroyed when its size reaches zero.
func (m *Manager) Close(symbol string, price, qty float64, ts time.Time) (PartialClose, bool) {
	p := m.positions[symbol]
	if p == nil {
		return PartialClose{}, false
	}
	if qty <= 0 || qty > p.Size {
		qty = p.Size
	}
	result, err := p.ApplyPartialClose(price, qty, ts)
	if err != nil {
		return PartialClose{}, false
	}
	if p.Size == 0 {
		delete(m.positions, symbol)
	}
	return result, true
}

// UpdatePrices pushes the latest price per symbol and collects any partial
// take-profit closes that fired.
func (m *Manager) UpdatePrices(prices map[string]float64, ts time.Time) map[string][]PartialClose {
	events := make(map[string][]PartialClose)
	for symbol, price := range prices {
		if p := m.positions[symbol]; p != nil {
			if closes := p.UpdatePrice(price, ts); len(closes) > 0 {
				events[symbol] = closes
			}
			if p.Size == 0 {
				delete(m.positions, symbol)
			}
		}
	}
	return events
}

// CheckExits evaluates protective levels for all open positions.
func (m *Manager) CheckExits() map[string]ExitCheck {
	exits := make(map[string]ExitCheck)
	for symbol, p := range m.positions {
		if check := p.CheckExit(); check.Triggered {
			exits[symbol] = check
		}
	}
	return exits
}

// Count returns the number of open positions.
func (m *Manager) Count() int { return len(m.positions) }

// Symbols lists the symbols with open positions.
func (m *Manager) Symbols() []string {
	out := make([]string, 0, len(m.positions))
	for s := range m.positions {
		out = append(out, s)
	}
	return out
}
