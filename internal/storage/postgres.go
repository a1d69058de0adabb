// Package storage - postgres.go provides the Postgres implementation.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lucasreyna/backtestEngine/internal/market"
)

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database and ensures the schema exists.
func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	if connStr == "" {
		return nil, fmt.Errorf("postgres store: connection string is required")
	}
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("postgres store: connect: %w", err)
	}

	ps := &PostgresStore{pool: pool}
	if err := ps.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return ps, nil
}

func (ps *PostgresStore) migrate(ctx context.Context) error {
	_, err := ps.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS candles (
			symbol     TEXT             NOT NULL,
			timeframe  TEXT             NOT NULL,
			ts         TIMESTAMPTZ      NOT NULL,
			open       DOUBLE PRECISION NOT NULL,
			high       DOUBLE PRECISION NOT NULL,
			low        DOUBLE PRECISION NOT NULL,
			close      DOUBLE PRECISION NOT NULL,
			volume     DOUBLE PRECISION NOT NULL,
			atr        DOUBLE PRECISION NOT NULL DEFAULT 0,
			PRIMARY KEY (symbol, timeframe, ts)
		);
		CREATE TABLE IF NOT EXISTS backtest_runs (
			run_id          TEXT PRIMARY KEY,
			symbol          TEXT             NOT NULL,
			timeframe       TEXT             NOT NULL,
			strategy_id     TEXT             NOT NULL,
			start_ts        TIMESTAMPTZ      NOT NULL,
			end_ts          TIMESTAMPTZ      NOT NULL,
			initial_capital DOUBLE PRECISION NOT NULL,
			final_capital   DOUBLE PRECISION NOT NULL,
			trade_count     INTEGER          NOT NULL,
			data_hash       TEXT             NOT NULL,
			seed            BIGINT           NOT NULL,
			temporal_status TEXT             NOT NULL,
			reliability     TEXT             NOT NULL,
			created_at      TIMESTAMPTZ      NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS backtest_trades (
			id             BIGSERIAL PRIMARY KEY,
			run_id         TEXT             NOT NULL REFERENCES backtest_runs (run_id) ON DELETE CASCADE,
			signal_ts      TIMESTAMPTZ      NOT NULL,
			entry_ts       TIMESTAMPTZ      NOT NULL,
			exit_ts        TIMESTAMPTZ,
			entry_price    DOUBLE PRECISION NOT NULL,
			exit_price     DOUBLE PRECISION NOT NULL DEFAULT 0,
			size           DOUBLE PRECISION NOT NULL,
			side           TEXT             NOT NULL,
			fees_entry     DOUBLE PRECISION NOT NULL DEFAULT 0,
			fees_exit      DOUBLE PRECISION NOT NULL DEFAULT 0,
			slippage_entry DOUBLE PRECISION NOT NULL DEFAULT 0,
			slippage_exit  DOUBLE PRECISION NOT NULL DEFAULT 0,
			status         TEXT             NOT NULL,
			exit_reason    TEXT             NOT NULL DEFAULT '',
			pnl            DOUBLE PRECISION NOT NULL DEFAULT 0,
			pnl_pct        DOUBLE PRECISION NOT NULL DEFAULT 0,
			return_pct     DOUBLE PRECISION NOT NULL DEFAULT 0,
			mae            DOUBLE PRECISION NOT NULL DEFAULT 0,
			mfe            DOUBLE PRECISION NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_backtest_trades_run ON backtest_trades (run_id);`)
	if err != nil {
		return fmt.Errorf("postgres store: migrate: %w", err)
	}
	return nil
}

func (ps *PostgresStore) SaveCandles(ctx context.Context, symbol, timeframe string, candles []market.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, c := range candles {
		batch.Queue(`
			INSERT INTO candles (symbol, timeframe, ts, open, high, low, close, volume, atr)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (symbol, timeframe, ts) DO UPDATE SET
				open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
				close = EXCLUDED.close, volume = EXCLUDED.volume, atr = EXCLUDED.atr`,
			symbol, timeframe, c.Timestamp, c.Open, c.High, c.Low, c.Close, c.Volume, c.ATR)
	}

	results := ps.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range candles {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("postgres store: save candles %s/%s: %w", symbol, timeframe, err)
		}
	}
	return nil
}

func (ps *PostgresStore) GetCandles(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]market.Candle, error) {
	rows, err := ps.pool.Query(ctx, `
		SELECT ts, open, high, low, close, volume, atr
		  FROM candles
		 WHERE symbol = $1 AND timeframe = $2 AND ts >= $3 AND ts <= $4
		 ORDER BY ts ASC`,
		symbol, timeframe, from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres store: get candles %s/%s: %w", symbol, timeframe, err)
	}
	defer rows.Close()

	var candles []market.Candle
	for rows.Next() {
		var c market.Candle
		if err := rows.Scan(&c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.ATR); err != nil {
			return nil, fmt.Errorf("postgres store: scan candle: %w", err)
		}
		c.Timestamp = c.Timestamp.UTC()
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

func (ps *PostgresStore) SaveRun(ctx context.Context, run *RunRecord, trades []TradeFill) error {
	tx, err := ps.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO backtest_runs (
			run_id, symbol, timeframe, strategy_id, start_ts, end_ts,
			initial_capital, final_capital, trade_count, data_hash, seed,
			temporal_status, reliability
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		run.RunID, run.Symbol, run.Timeframe, run.StrategyID, run.Start, run.End,
		run.InitialCapital, run.FinalCapital, run.TradeCount, run.DataHash, run.Seed,
		run.TemporalStatus, run.Reliability)
	if err != nil {
		return fmt.Errorf("postgres store: save run %s: %w", run.RunID, err)
	}

	for _, t := range trades {
		_, err = tx.Exec(ctx, `
			INSERT INTO backtest_trades (
				run_id, signal_ts, entry_ts, exit_ts, entry_price, exit_price,
				size, side, fees_entry, fees_exit, slippage_entry, slippage_exit,
				status, exit_reason, pnl, pnl_pct, return_pct, mae, mfe
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
			run.RunID, t.SignalTime, t.EntryTime, t.ExitTime, t.EntryPrice, t.ExitPrice,
			t.Size, t.Side, t.FeesEntry, t.FeesExit, t.SlippageEntry, t.SlippageExit,
			string(t.Status), t.ExitReason, t.PnL, t.PnLPct, t.ReturnPct, t.MAE, t.MFE)
		if err != nil {
			return fmt.Errorf("postgres store: save trade for run %s: %w", run.RunID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres store: commit run %s: %w", run.RunID, err)
	}
	return nil
}

func (ps *PostgresStore) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	var run RunRecord
	err := ps.pool.QueryRow(ctx, `
		SELECT run_id, symbol, timeframe, strategy_id, start_ts, end_ts,
		       initial_capital, final_capital, trade_count, data_hash, seed,
		       temporal_status, reliability, created_at
		  FROM backtest_runs WHERE run_id = $1`, runID).Scan(
		&run.RunID, &run.Symbol, &run.Timeframe, &run.StrategyID, &run.Start, &run.End,
		&run.InitialCapital, &run.FinalCapital, &run.TradeCount, &run.DataHash, &run.Seed,
		&run.TemporalStatus, &run.Reliability, &run.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("postgres store: run %s not found", runID)
		}
		return nil, fmt.Errorf("postgres store: get run %s: %w", runID, err)
	}
	return &run, nil
}

func (ps *PostgresStore) GetTrades(ctx context.Context, runID string) ([]TradeFill, error) {
	rows, err := ps.pool.Query(ctx, `
		SELECT signal_ts, entry_ts, exit_ts, entry_price, exit_price, size, side,
		       fees_entry, fees_exit, slippage_entry, slippage_exit, status,
		       exit_reason, pnl, pnl_pct, return_pct, mae, mfe
		  FROM backtest_trades WHERE run_id = $1 ORDER BY entry_ts ASC, id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: get trades %s: %w", runID, err)
	}
	defer rows.Close()

	var trades []TradeFill
	for rows.Next() {
		var t TradeFill
		var status string
		if err := rows.Scan(&t.SignalTime, &t.EntryTime, &t.ExitTime, &t.EntryPrice, &t.ExitPrice,
			&t.Size, &t.Side, &t.FeesEntry, &t.FeesExit, &t.SlippageEntry, &t.SlippageExit,
			&status, &t.ExitReason, &t.PnL, &t.PnLPct, &t.ReturnPct, &t.MAE, &t.MFE); err != nil {
			return nil, fmt.Errorf("postgres store: scan trade: %w", err)
		}
		t.Status = TradeStatus(status)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (ps *PostgresStore) Ping(ctx context.Context) error {
	return ps.pool.Ping(ctx)
}

func (ps *PostgresStore) Close() {
	ps.pool.Close()
}
