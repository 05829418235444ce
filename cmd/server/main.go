package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/brojonat/nodedash/service/config"
	"github.com/brojonat/nodedash/service/console"
	"github.com/brojonat/nodedash/service/link"
	"github.com/brojonat/nodedash/service/metrics"
	"github.com/brojonat/nodedash/service/monitor"
	natspkg "github.com/brojonat/nodedash/service/nats"
	"github.com/brojonat/nodedash/service/registry"
	"github.com/brojonat/nodedash/service/server"
	"github.com/brojonat/nodedash/service/sim"
	"github.com/brojonat/nodedash/service/transfer"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
		"nodes", cfg.NodeCount,
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg, err := registry.New(registry.SeedParams{
		Count:          cfg.NodeCount,
		Host:           cfg.NodeHost,
		BasePort:       cfg.NodeBasePort,
		InitialBalance: cfg.InitialBalance,
	})
	if err != nil {
		logger.Error("failed to seed node registry", "error", err)
		os.Exit(1)
	}
	logger.Info("node registry seeded",
		"nodes", reg.Len(),
		"total_balance", reg.TotalBalance().String(),
	)

	seed := cfg.RandomSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	source := sim.NewRandomSource(seed)

	sched := sim.NewScheduler(clock.New())
	defer sched.Close()

	transfers := transfer.NewSimulator(reg, sched.Now, logger)
	con := console.New(sched, sim.WeightedOutcome{Source: source, Rate: cfg.CommandSuccessRate}, cfg.CommandDelay, logger)
	mon := monitor.New(reg, source, sched, cfg.MonitorInterval, logger)

	m := metrics.NewMetrics(nil)

	deps := server.Deps{
		Registry:  reg,
		Transfers: transfers,
		Console:   con,
		Monitor:   mon,
		Metrics:   m,
	}

	// NATS is optional: without it transfers only reach local stream clients
	if cfg.NATSURL != "" {
		publisher, err := natspkg.NewPublisher(cfg.NATSURL, logger)
		if err != nil {
			logger.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		deps.Publisher = publisher
		logger.Info("connected to NATS", "url", cfg.NATSURL)
	}

	httpServer := server.New(cfg.ServerAddr, deps, logger)
	if err := httpServer.WithTemplates(); err != nil {
		logger.Error("failed to load templates", "error", err)
		os.Exit(1)
	}

	go func() {
		if err := mon.Run(ctx); err != nil {
			logger.Error("network monitor stopped", "error", err)
		}
	}()

	if cfg.FeedURL != "" {
		feed, err := link.New(link.Options{
			URL:        cfg.FeedURL,
			RetryDelay: cfg.ReconnectDelay,
			Nodes:      reg,
			Handler:    httpServer.ReplayTransaction,
			OnState:    httpServer.RecordFeedState,
		}, sched, logger)
		if err != nil {
			logger.Error("invalid feed configuration", "error", err)
			os.Exit(1)
		}
		httpServer.WithFeed(feed)
		go feed.Run(ctx)
	}

	logger.Info("server initialized, all dependencies ready",
		"feed_url", cfg.FeedURL,
		"nats_url", cfg.NATSURL,
		"command_delay", cfg.CommandDelay,
		"command_success_rate", cfg.CommandSuccessRate,
	)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Stop background loops and pending command completions
		cancel()
		con.Close()

		// Graceful shutdown with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
