package orderbook

import (
	"context"
	"sort"
	"sync"
	"time"
)

// SaveAudit records what a Save call actually wrote.
type SaveAudit struct {
	Symbol    string
	Written   int
	Duplicate int
}

// Repository is the time-indexed snapshot store consumed by the execution
// simulator. Implementations must be safe for concurrent readers; the
// backtest engine only reads.
type Repository interface {
	// Save stores snapshots for a symbol, ordering and deduplicating by
	// timestamp. Re-saving an existing timestamp keeps the newest write.
	Save(ctx context.Context, symbol string, snapshots []*Snapshot) (SaveAudit, error)

	// Load returns all snapshots in [start, end] inclusive, in time order.
	Load(ctx context.Context, symbol string, start, end time.Time) ([]*Snapshot, error)

	// SnapshotNear returns the snapshot closest to ts within tolerance,
	// or nil when none exists. Absence is not an error.
	SnapshotNear(ctx context.Context, symbol string, ts time.Time, tolerance time.Duration) (*Snapshot, error)

	// SpreadDepth resolves the snapshot nearest ts and summarizes spread and
	// depth for the given notional. Returns nil when no snapshot is in range.
	SpreadDepth(ctx context.Context, symbol string, ts time.Time, notional float64, tolerance time.Duration) (*SpreadDepth, error)
}

// MemoryRepository keeps snapshots in a sorted in-memory index per symbol.
// It is the preferred backend for backtests: the book is preloaded once and
// per-bar lookups are binary searches with no suspension.
type MemoryRepository struct {
	mu        sync.RWMutex
	bySymbol  map[string][]*Snapshot // sorted ascending by timestamp
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{bySymbol: make(map[string][]*Snapshot)}
}

func (r *MemoryRepository) Save(_ context.Context, symbol string, snapshots []*Snapshot) (SaveAudit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	audit := SaveAudit{Symbol: symbol}
	existing := r.bySymbol[symbol]

	byTS := make(map[int64]*Snapshot, len(existing)+len(snapshots))
	for _, s := range existing {
		byTS[s.Timestamp.UnixNano()] = s
	}
	for _, s := range snapshots {
		key := s.Timestamp.UnixNano()
		if _, ok := byTS[key]; ok {
			audit.Duplicate++
		} else {
			audit.Written++
		}
		byTS[key] = s // newest write wins
	}

	merged := make([]*Snapshot, 0, len(byTS))
	for _, s := range byTS {
		merged = append(merged, s)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})
	r.bySymbol[symbol] = merged
	return audit, nil
}

func (r *MemoryRepository) Load(_ context.Context, symbol string, start, end time.Time) ([]*Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := r.bySymbol[symbol]
	lo := sort.Search(len(all), func(i int) bool { return !all[i].Timestamp.Before(start) })
	hi := sort.Search(len(all), func(i int) bool { return all[i].Timestamp.After(end) })
	if lo >= hi {
		return nil, nil
	}
	out := make([]*Snapshot, hi-lo)
	copy(out, all[lo:hi])
	return out, nil
}

func (r *MemoryRepository) SnapshotNear(_ context.Context, symbol string, ts time.Time, tolerance time.Duration) (*Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := r.bySymbol[symbol]
	if len(all) == 0 {
		return nil, nil
	}

	// Binary search for the insertion point, then compare neighbors.
	idx := sort.Search(len(all), func(i int) bool { return !all[i].Timestamp.Before(ts) })

	var best *Snapshot
	bestDiff := tolerance + 1
	for _, i := range []int{idx - 1, idx} {
		if i < 0 || i >= len(all) {
			continue
		}
		diff := absDuration(all[i].Timestamp.Sub(ts))
		if diff <= tolerance && diff < bestDiff {
			best = all[i]
			bestDiff = diff
		}
	}
	return best, nil
}

func (r *MemoryRepository) SpreadDepth(ctx context.Context, symbol string, ts time.Time, notional float64, tolerance time.Duration) (*SpreadDepth, error) {
	snap, err := r.SnapshotNear(ctx, symbol, ts, tolerance)
	if err != nil || snap == nil {
		return nil, err
	}
	return spreadDepthFrom(snap, notional), nil
}

// spreadDepthFrom summarizes one snapshot for a target notional.
// Shared by every repository backend.
func spreadDepthFrom(snap *Snapshot, notional float64) *SpreadDepth {
	bidPrice, bidQty := snap.DepthForNotional(notional, SideBid)
	askPrice, askQty := snap.DepthForNotional(notional, SideAsk)

	var effective float64
	if bidPrice > 0 && askPrice > 0 {
		effective = askPrice - bidPrice
	}

	bids, asks := snap.Levels(10)
	return &SpreadDepth{
		Timestamp:       snap.Timestamp,
		Symbol:          snap.Symbol,
		Notional:        notional,
		BestBid:         snap.BestBid(),
		BestAsk:         snap.BestAsk(),
		BidPrice:        bidPrice,
		BidQty:          bidQty,
		AskPrice:        askPrice,
		AskQty:          askQty,
		EffectiveSpread: effective,
		BidLevels:       bids,
		AskLevels:       asks,
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
