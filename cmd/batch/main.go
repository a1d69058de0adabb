// Package main runs a batch of independent backtests in parallel, one per
// seed. Runs share nothing but the read-only candle series and snapshot
// store, so parallelism lives here rather than inside the engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"sort"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lucasreyna/backtestEngine/internal/backtest"
	"github.com/lucasreyna/backtestEngine/internal/config"
	"github.com/lucasreyna/backtestEngine/internal/market"
	"github.com/lucasreyna/backtestEngine/internal/orderbook"
	"github.com/lucasreyna/backtestEngine/internal/strategy"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	runs := flag.Int("runs", 8, "number of runs (seeds 0..runs-1)")
	parallel := flag.Int("parallel", runtime.NumCPU(), "maximum concurrent runs")
	flag.Parse()

	logger := log.New(os.Stdout, "[batch] ", log.LstdFlags)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	if cfg.Data.CandleCSV == "" {
		logger.Fatalf("batch runs require data.candle_csv")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	timeframe := market.Timeframe(cfg.Run.Timeframe)
	series, err := market.LoadCSV(cfg.Data.CandleCSV, cfg.Run.Symbol, timeframe)
	if err != nil {
		logger.Fatalf("failed to load candles: %v", err)
	}
	logger.Printf("loaded %d bars, hash %s", series.Len(), series.DataHash())

	var repo orderbook.Repository
	if cfg.Run.UseOrderbook && cfg.Data.OrderbookDB != "" {
		sqlRepo, err := orderbook.OpenSQLiteRepository(cfg.Data.OrderbookDB)
		if err != nil {
			logger.Fatalf("failed to open order book store: %v", err)
		}
		defer sqlRepo.Close()
		repo = sqlRepo
	}

	type outcome struct {
		seed  int64
		final float64
		runID string
	}

	var mu sync.Mutex
	var outcomes []outcome

	started := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(*parallel)

	for seed := 0; seed < *runs; seed++ {
		seed := seed
		g.Go(func() error {
			strat, err := resolveStrategy(cfg.Run.Strategy)
			if err != nil {
				return err
			}
			req := backtest.RunRequest{
				Symbol:         cfg.Run.Symbol,
				Timeframe:      timeframe,
				InitialCapital: cfg.Run.InitialCapital,
				CommissionRate: cfg.Run.CommissionRate,
				SlippageModel:  backtest.SlippageModel(cfg.Run.SlippageModel),
				UseOrderbook:   cfg.Run.UseOrderbook,
				Seed:           int64(seed),
				Strategy:       strat,
			}

			engine := backtest.NewEngine(repo, nil, logger)
			result, err := engine.Run(gctx, req, series)
			if err != nil {
				return fmt.Errorf("seed %d: %w", seed, err)
			}

			mu.Lock()
			outcomes = append(outcomes, outcome{seed: int64(seed), final: result.FinalCapital, runID: result.RunID})
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Fatalf("batch failed: %v", err)
	}

	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].seed < outcomes[j].seed })
	fmt.Printf("\n%d runs in %s\n", len(outcomes), time.Since(started).Round(time.Millisecond))
	for _, o := range outcomes {
		fmt.Printf("  seed %3d  final %12.2f  run %s\n", o.seed, o.final, o.runID)
	}
}

// resolveStrategy builds a fresh strategy instance per run so runs share no
// mutable state.
func resolveStrategy(name string) (strategy.Strategy, error) {
	switch name {
	case "sma_cross":
		return strategy.NewSMACross(), nil
	case "breakout":
		return strategy.NewBreakout(), nil
	case "hold":
		return strategy.HoldStrategy{}, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}
