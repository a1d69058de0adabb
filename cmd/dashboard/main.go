// Package main serves the observer dashboard feed: engine events over
// WebSocket at /ws, Prometheus metrics at /metrics, and (when a database is
// configured) Postgres NOTIFY events relayed from other processes.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/lucasreyna/backtestEngine/internal/config"
	"github.com/lucasreyna/backtestEngine/internal/stream"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	port := flag.Int("port", 0, "override stream port")
	flag.Parse()

	logger := log.New(os.Stdout, "[dashboard] ", log.LstdFlags)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	listenPort := cfg.Stream.Port
	if *port != 0 {
		listenPort = *port
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	broadcaster := stream.NewBroadcaster(logger)
	go broadcaster.Run()
	defer broadcaster.Shutdown()

	if cfg.Data.DatabaseURL != "" {
		listener := stream.NewEventListener(cfg.Data.DatabaseURL, broadcaster, logger)
		listener.Start(ctx)
		defer listener.Stop()
	} else {
		logger.Println("no database configured, serving in-process events only")
	}

	server := stream.NewServer(listenPort, broadcaster, logger)
	if err := server.Start(ctx); err != nil {
		logger.Fatalf("server failed: %v", err)
	}
}
