// Package stream - metrics.go exposes Prometheus counters for observability:
//
//   - backtest_runs_total{status}          – completed/started runs
//   - backtest_trades_total{result}        – closed trades by win/loss
//   - backtest_equity                      – latest realistic equity (gauge)
//   - backtest_signal_rejections_total     – invalid signals skipped
//
// Registered in init() and served by the dashboard binary at /metrics.
package stream

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lucasreyna/backtestEngine/internal/backtest"
	"github.com/lucasreyna/backtestEngine/internal/storage"
)

var (
	mtxRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backtest_runs_total",
			Help: "Backtest runs by lifecycle status",
		},
		[]string{"status"},
	)

	mtxTrades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backtest_trades_total",
			Help: "Closed trades by result",
		},
		[]string{"result"},
	)

	mtxEquity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "backtest_equity",
			Help: "Latest realistic equity observed on the event stream",
		},
	)

	mtxSignalRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "backtest_signal_rejections_total",
			Help: "Invalid strategy signals skipped by the engine",
		},
	)
)

func init() {
	prometheus.MustRegister(mtxRuns, mtxTrades, mtxEquity, mtxSignalRejections)
}

// recordEventMetrics updates the counters from one engine event.
func recordEventMetrics(event backtest.Event) {
	switch event.Type {
	case backtest.EventRunStarted:
		mtxRuns.WithLabelValues("started").Inc()
	case backtest.EventRunCompleted:
		mtxRuns.WithLabelValues("completed").Inc()
	case backtest.EventSignalInvalid:
		mtxSignalRejections.Inc()
	case backtest.EventEquitySample:
		if sample, ok := event.Payload.(backtest.EquitySample); ok {
			mtxEquity.Set(sample.Realistic)
		}
	case backtest.EventTradeClosed:
		result := "loss"
		if trade, ok := event.Payload.(storage.TradeFill); ok && trade.PnL > 0 {
			result = "win"
		}
		mtxTrades.WithLabelValues(result).Inc()
	}
}
