// Package main is the entry point for a single backtest run.
//
// The binary:
//  1. Loads configuration (YAML + BACKTEST_* environment overrides)
//  2. Loads the candle series from Postgres or a CSV file
//  3. Opens the SQLite order book store when book execution is enabled
//  4. Runs the engine with the configured strategy
//  5. Prints the result summary and performance report
//  6. Persists the run to Postgres when a database URL is configured
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lucasreyna/backtestEngine/internal/analytics"
	"github.com/lucasreyna/backtestEngine/internal/backtest"
	"github.com/lucasreyna/backtestEngine/internal/config"
	"github.com/lucasreyna/backtestEngine/internal/market"
	"github.com/lucasreyna/backtestEngine/internal/orderbook"
	"github.com/lucasreyna/backtestEngine/internal/risk"
	"github.com/lucasreyna/backtestEngine/internal/storage"
	"github.com/lucasreyna/backtestEngine/internal/strategy"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	jsonOut := flag.String("json", "", "write the full result JSON to this file")
	flag.Parse()

	logger := log.New(os.Stdout, "[backtest] ", log.LstdFlags)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Printf("config loaded: symbol=%s timeframe=%s strategy=%s capital=%.2f",
		cfg.Run.Symbol, cfg.Run.Timeframe, cfg.Run.Strategy, cfg.Run.InitialCapital)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	strat, err := resolveStrategy(cfg.Run.Strategy)
	if err != nil {
		logger.Fatalf("%v", err)
	}

	series, store, err := loadSeries(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("failed to load candles: %v", err)
	}
	if store != nil {
		defer store.Close()
	}
	logger.Printf("loaded %d bars (%s to %s, hash %s)",
		series.Len(),
		series.First().Timestamp.Format(time.RFC3339),
		series.Last().Timestamp.Format(time.RFC3339),
		series.DataHash())

	var repo orderbook.Repository
	if cfg.Run.UseOrderbook {
		if cfg.Data.OrderbookDB == "" {
			logger.Fatalf("run.use_orderbook requires data.orderbook_db")
		}
		sqlRepo, err := orderbook.OpenSQLiteRepository(cfg.Data.OrderbookDB)
		if err != nil {
			logger.Fatalf("failed to open order book store: %v", err)
		}
		defer sqlRepo.Close()
		repo = sqlRepo
	}

	req, err := buildRequest(cfg, strat)
	if err != nil {
		logger.Fatalf("%v", err)
	}

	engine := backtest.NewEngine(repo, nil, logger)
	result, err := engine.Run(ctx, req, series)
	if err != nil {
		logger.Fatalf("backtest failed: %v", err)
	}

	printSummary(result)
	fmt.Print(analytics.FormatReport(result.Performance))

	if *jsonOut != "" {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			logger.Fatalf("failed to encode result: %v", err)
		}
		if err := os.WriteFile(*jsonOut, data, 0o644); err != nil {
			logger.Fatalf("failed to write %s: %v", *jsonOut, err)
		}
		logger.Printf("result written to %s", *jsonOut)
	}

	if store != nil {
		if err := persistRun(ctx, store, cfg, result); err != nil {
			logger.Printf("failed to persist run: %v", err)
		} else {
			logger.Printf("run %s persisted", result.RunID)
		}
	}
}

// resolveStrategy maps the configured name to a built-in strategy.
func resolveStrategy(name string) (strategy.Strategy, error) {
	switch name {
	case "sma_cross":
		return strategy.NewSMACross(), nil
	case "breakout":
		return strategy.NewBreakout(), nil
	case "hold":
		return strategy.HoldStrategy{}, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q (have: sma_cross, breakout, hold)", name)
	}
}

// loadSeries prefers Postgres when configured, falling back to CSV.
func loadSeries(ctx context.Context, cfg *config.Config, logger *log.Logger) (*market.CandleSeries, *storage.PostgresStore, error) {
	timeframe := market.Timeframe(cfg.Run.Timeframe)
	start, _ := cfg.StartTime()
	end, _ := cfg.EndTime()

	if cfg.Data.DatabaseURL != "" {
		store, err := storage.NewPostgresStore(ctx, cfg.Data.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if start.IsZero() {
			start = time.Unix(0, 0).UTC()
		}
		if end.IsZero() {
			end = time.Now().UTC()
		}
		candles, err := store.GetCandles(ctx, cfg.Run.Symbol, cfg.Run.Timeframe, start, end)
		if err != nil {
			store.Close()
			return nil, nil, err
		}
		if len(candles) > 0 {
			series, err := market.NewCandleSeries(cfg.Run.Symbol, timeframe, candles)
			if err != nil {
				store.Close()
				return nil, nil, err
			}
			return series, store, nil
		}
		logger.Printf("no candles in database for %s/%s, falling back to CSV", cfg.Run.Symbol, cfg.Run.Timeframe)
		if cfg.Data.CandleCSV == "" {
			store.Close()
			return nil, nil, fmt.Errorf("no candles in database and no data.candle_csv configured")
		}
		series, err := market.LoadCSV(cfg.Data.CandleCSV, cfg.Run.Symbol, timeframe)
		if err != nil {
			store.Close()
			return nil, nil, err
		}
		return series, store, nil
	}

	if cfg.Data.CandleCSV == "" {
		return nil, nil, fmt.Errorf("either data.database_url or data.candle_csv is required")
	}
	series, err := market.LoadCSV(cfg.Data.CandleCSV, cfg.Run.Symbol, timeframe)
	return series, nil, err
}

// buildRequest translates config into the engine's immutable run request.
func buildRequest(cfg *config.Config, strat strategy.Strategy) (backtest.RunRequest, error) {
	start, err := cfg.StartTime()
	if err != nil {
		return backtest.RunRequest{}, err
	}
	end, err := cfg.EndTime()
	if err != nil {
		return backtest.RunRequest{}, err
	}

	var policy *risk.ShutdownPolicy
	if cfg.Risk.ShutdownEnabled {
		policy = &risk.ShutdownPolicy{
			MaxDrawdownPct:      cfg.Risk.ShutdownMaxDrawdownPct,
			MinRollingSharpe:    cfg.Risk.ShutdownMinSharpe,
			MinHitRatePct:       cfg.Risk.ShutdownMinHitRatePct,
			LookbackTrades:      cfg.Risk.ShutdownLookbackTrades,
			ReductionFactor:     0.5,
			EnableSizeReduction: true,
			AllowMissingData:    cfg.Risk.AllowMissingData,
		}
	}

	return backtest.RunRequest{
		Symbol:           cfg.Run.Symbol,
		Timeframe:        market.Timeframe(cfg.Run.Timeframe),
		Start:            start,
		End:              end,
		InitialCapital:   cfg.Run.InitialCapital,
		CommissionRate:   cfg.Run.CommissionRate,
		SlippageModel:    backtest.SlippageModel(cfg.Run.SlippageModel),
		FixedSlippageBps: cfg.Run.FixedSlippageBps,
		UseOrderbook:     cfg.Run.UseOrderbook,
		Seed:             cfg.Run.Seed,
		Strategy:         strat,

		MaxGapRatio:            cfg.Execution.MaxGapRatio,
		GapThresholdMultiplier: cfg.Execution.GapThresholdMultiplier,
		AbortOnTemporalFailure: cfg.Execution.AbortOnTemporalFailure,
		SnapshotTolerance:      time.Duration(cfg.Execution.SnapshotToleranceSeconds) * time.Second,

		Risk: risk.ManagerConfig{
			RiskBudgetPct:    cfg.Risk.RiskBudgetPct / 100.0,
			MaxDrawdownPct:   cfg.Risk.MaxDrawdownPct,
			UseKelly:         cfg.Risk.UseKelly,
			KellyCap:         cfg.Risk.KellyCap,
			UseVolTargeting:  cfg.Risk.UseVolTargeting,
			TargetVolatility: cfg.Risk.TargetVolatility,
			ShutdownPolicy:   policy,
		},
	}, nil
}

func printSummary(result *backtest.Result) {
	fmt.Printf("\nRun %s\n", result.RunID)
	fmt.Printf("  %s %s, %s to %s\n", result.Symbol, result.Interval,
		result.Start.Format("2006-01-02"), result.End.Format("2006-01-02"))
	fmt.Printf("  Capital:      %.2f -> %.2f\n", result.InitialCapital, result.FinalCapital)
	fmt.Printf("  Trades:       %d (%d partial fills, %d rejected orders)\n",
		len(result.Trades), result.Execution.PartialFills, result.Execution.RejectedOrders)
	fmt.Printf("  Temporal:     %s (%d gaps, %d significant, ratio %.2f%%)\n",
		result.Temporal.Status, result.Temporal.GapCount,
		result.Temporal.SignificantGapCount, result.Temporal.GapRatio*100)
	fmt.Printf("  Execution:    %s (book fallback %.1f%%)\n",
		result.Execution.Reliability, result.Execution.OrderbookFallbackPct)
	fmt.Printf("  Divergence:   max %.3f%% min %.3f%% avg %.3f%%\n",
		result.EquityDivergence.MaxPct, result.EquityDivergence.MinPct, result.EquityDivergence.AvgPct)
	fmt.Printf("  Data hash:    %s (seed %d)\n\n", result.DataHash, result.Seed)
}

// persistRun writes the run summary and closed trades to Postgres.
func persistRun(ctx context.Context, store *storage.PostgresStore, cfg *config.Config, result *backtest.Result) error {
	record := &storage.RunRecord{
		RunID:          result.RunID,
		Symbol:         result.Symbol,
		Timeframe:      result.Interval,
		StrategyID:     result.Metadata.StrategyID,
		Start:          result.Start,
		End:            result.End,
		InitialCapital: result.InitialCapital,
		FinalCapital:   result.FinalCapital,
		TradeCount:     len(result.Trades),
		DataHash:       result.DataHash,
		Seed:           result.Seed,
		TemporalStatus: string(result.Temporal.Status),
		Reliability:    string(result.Execution.Reliability),
	}
	return store.SaveRun(ctx, record, result.Trades)
}
