package orderbook

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteRepository persists snapshots in a local SQLite database so collected
// books survive between research sessions. Level arrays are stored as JSON;
// lookups are indexed on (symbol, ts).
type SQLiteRepository struct {
	db *sql.DB
}

// OpenSQLiteRepository opens (creating if needed) a snapshot database at path.
// Use ":memory:" for an ephemeral store in tests.
func OpenSQLiteRepository(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("orderbook sqlite: open %s: %w", path, err)
	}
	// modernc sqlite is not safe for concurrent writers on one connection.
	db.SetMaxOpenConns(1)

	r := &SQLiteRepository{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// Close releases the underlying database handle.
func (r *SQLiteRepository) Close() error { return r.db.Close() }

func (r *SQLiteRepository) migrate() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS orderbook_snapshots (
			symbol TEXT NOT NULL,
			ts     INTEGER NOT NULL,
			venue  TEXT NOT NULL DEFAULT '',
			bids   TEXT NOT NULL,
			asks   TEXT NOT NULL,
			PRIMARY KEY (symbol, ts)
		);
		CREATE INDEX IF NOT EXISTS idx_orderbook_symbol_ts
			ON orderbook_snapshots (symbol, ts);`)
	if err != nil {
		return fmt.Errorf("orderbook sqlite: migrate: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Save(ctx context.Context, symbol string, snapshots []*Snapshot) (SaveAudit, error) {
	audit := SaveAudit{Symbol: symbol}
	if len(snapshots) == 0 {
		return audit, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return audit, fmt.Errorf("orderbook sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	exists, err := tx.PrepareContext(ctx,
		`SELECT 1 FROM orderbook_snapshots WHERE symbol = ? AND ts = ?`)
	if err != nil {
		return audit, fmt.Errorf("orderbook sqlite: prepare: %w", err)
	}
	defer exists.Close()

	upsert, err := tx.PrepareContext(ctx, `
		INSERT INTO orderbook_snapshots (symbol, ts, venue, bids, asks)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(symbol, ts) DO UPDATE SET
			venue = excluded.venue,
			bids  = excluded.bids,
			asks  = excluded.asks`)
	if err != nil {
		return audit, fmt.Errorf("orderbook sqlite: prepare: %w", err)
	}
	defer upsert.Close()

	for _, snap := range snapshots {
		bids, err := json.Marshal(snap.Bids)
		if err != nil {
			return audit, fmt.Errorf("orderbook sqlite: marshal bids: %w", err)
		}
		asks, err := json.Marshal(snap.Asks)
		if err != nil {
			return audit, fmt.Errorf("orderbook sqlite: marshal asks: %w", err)
		}

		tsMilli := snap.Timestamp.UnixMilli()
		var one int
		switch err := exists.QueryRowContext(ctx, symbol, tsMilli).Scan(&one); err {
		case nil:
			audit.Duplicate++
		case sql.ErrNoRows:
			audit.Written++
		default:
			return audit, fmt.Errorf("orderbook sqlite: check %s@%s: %w",
				symbol, snap.Timestamp.Format(time.RFC3339), err)
		}

		if _, err := upsert.ExecContext(ctx, symbol, tsMilli, snap.Venue, string(bids), string(asks)); err != nil {
			return audit, fmt.Errorf("orderbook sqlite: insert %s@%s: %w",
				symbol, snap.Timestamp.Format(time.RFC3339), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return audit, fmt.Errorf("orderbook sqlite: commit: %w", err)
	}
	return audit, nil
}

func (r *SQLiteRepository) Load(ctx context.Context, symbol string, start, end time.Time) ([]*Snapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ts, venue, bids, asks
		  FROM orderbook_snapshots
		 WHERE symbol = ? AND ts >= ? AND ts <= ?
		 ORDER BY ts ASC`,
		symbol, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("orderbook sqlite: load %s: %w", symbol, err)
	}
	defer rows.Close()

	var out []*Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows, symbol)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) SnapshotNear(ctx context.Context, symbol string, ts time.Time, tolerance time.Duration) (*Snapshot, error) {
	target := ts.UnixMilli()
	tol := tolerance.Milliseconds()

	row := r.db.QueryRowContext(ctx, `
		SELECT ts, venue, bids, asks
		  FROM orderbook_snapshots
		 WHERE symbol = ? AND ts >= ? AND ts <= ?
		 ORDER BY ABS(ts - ?) ASC
		 LIMIT 1`,
		symbol, target-tol, target+tol, target)

	snap, err := scanSnapshot(row, symbol)
	if err == sql.ErrNoRows {
		return nil, nil // absence is not an error
	}
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (r *SQLiteRepository) SpreadDepth(ctx context.Context, symbol string, ts time.Time, notional float64, tolerance time.Duration) (*SpreadDepth, error) {
	snap, err := r.SnapshotNear(ctx, symbol, ts, tolerance)
	if err != nil || snap == nil {
		return nil, err
	}
	return spreadDepthFrom(snap, notional), nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner, symbol string) (*Snapshot, error) {
	var (
		tsMilli    int64
		venue      string
		bidsJSON   string
		asksJSON   string
	)
	if err := row.Scan(&tsMilli, &venue, &bidsJSON, &asksJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("orderbook sqlite: scan: %w", err)
	}

	var bids, asks []Level
	if err := json.Unmarshal([]byte(bidsJSON), &bids); err != nil {
		return nil, fmt.Errorf("orderbook sqlite: decode bids: %w", err)
	}
	if err := json.Unmarshal([]byte(asksJSON), &asks); err != nil {
		return nil, fmt.Errorf("orderbook sqlite: decode asks: %w", err)
	}

	return NewSnapshot(time.UnixMilli(tsMilli).UTC(), symbol, venue, bids, asks)
}
