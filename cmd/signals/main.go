// FinCrime Signals - Labelled synthetic transactions for AML model work.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/fincrime-signals/internal/api"
	"github.com/opensource-finance/fincrime-signals/internal/bus"
	"github.com/opensource-finance/fincrime-signals/internal/cache"
	"github.com/opensource-finance/fincrime-signals/internal/config"
	"github.com/opensource-finance/fincrime-signals/internal/domain"
	"github.com/opensource-finance/fincrime-signals/internal/pipeline"
	"github.com/opensource-finance/fincrime-signals/internal/repository"
	"github.com/opensource-finance/fincrime-signals/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", os.Getenv("FINCRIME_CONFIG"), "YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath, domain.ServerDefaults())
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	if err := config.ApplyEnv(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	logger := config.NewLogger(os.Stdout, cfg.Logging)
	slog.SetDefault(logger)

	slog.Info("starting fincrime-signals",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	if err := config.Validate(cfg); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"customers", cfg.Input.CustomersPath,
	)
	if cfg.Tracing.Enabled {
		slog.Warn("tracing enabled but no exporter is linked; spans use the global provider",
			"service", cfg.Tracing.ServiceName,
		)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Repository
	var repo domain.Repository
	if cfg.Repository.Driver != domain.DriverNone && cfg.Repository.Driver != "" {
		repo, err = repository.New(cfg.Repository)
		if err != nil {
			slog.Error("failed to initialize repository", "error", err)
			os.Exit(1)
		}
		defer repo.Close()
		slog.Info("repository initialized", "driver", cfg.Repository.Driver)
	}

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	p, err := pipeline.New(cfg, pipeline.Options{
		Repository: repo,
		Cache:      cacheImpl,
		Bus:        busImpl,
		Logger:     logger,
	})
	if err != nil {
		slog.Error("failed to initialize pipeline", "error", err)
		os.Exit(1)
	}

	// Batch worker consumes POST /batches requests from the bus
	batchWorker := worker.NewWorker(busImpl, p)
	if err := batchWorker.Start(); err != nil {
		slog.Error("failed to start batch worker", "error", err)
		os.Exit(1)
	}

	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, Version)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	slog.Info("fincrime-signals is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// Let a running batch finish before the sinks close.
	if err := batchWorker.Stop(); err != nil {
		slog.Error("failed to stop batch worker", "error", err)
	}

	stats := batchWorker.GetStats()
	totals := []any{"processed", stats.Processed, "failed", stats.Failed}
	if nb, ok := busImpl.(*bus.NATSBus); ok {
		ns := nb.Stats()
		totals = append(totals,
			"nats_in_msgs", ns.InMsgs,
			"nats_out_msgs", ns.OutMsgs,
			"nats_reconnects", ns.Reconnects,
		)
	}
	slog.Info("batch totals", totals...)

	slog.Info("fincrime-signals shutdown complete")
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  FinCrime Signals")
	fmt.Println("  Labelled synthetic transactions")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("  Output:   %s\n", cfg.Output.Path)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /batches                      - Queue a batch run")
	fmt.Println("    GET  /batches                      - List recent batches")
	fmt.Println("    GET  /batches/latest               - Most recent batch summary")
	fmt.Println("    GET  /batches/{id}                 - Batch summary by ID")
	fmt.Println("    GET  /batches/{id}/transactions    - Batch rows (?alert_type=)")
	fmt.Println("    GET  /health                       - Health check")
	fmt.Println("    GET  /ready                        - Readiness check")
	fmt.Println()
}
