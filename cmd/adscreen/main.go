// Adscreen - Advertising campaign screening and bid adjustment service.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/adscreen/internal/api"
	"github.com/opensource-finance/adscreen/internal/bus"
	"github.com/opensource-finance/adscreen/internal/cache"
	"github.com/opensource-finance/adscreen/internal/config"
	"github.com/opensource-finance/adscreen/internal/domain"
	"github.com/opensource-finance/adscreen/internal/rules"
	"github.com/opensource-finance/adscreen/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// Process roles. Standalone deployments always run both.
const (
	RoleAll    = "all"
	RoleAPI    = "api"
	RoleWorker = "worker"
)

func main() {
	cfg, err := config.Load(os.Getenv("ADSCREEN_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(config.NewLogger(cfg.Logging, os.Stdout))

	slog.Info("starting adscreen",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	role := os.Getenv("ADSCREEN_ROLE")
	if role == "" || cfg.Profile == domain.ProfileStandalone {
		role = RoleAll
	}

	slog.Info("configuration loaded",
		"profile", cfg.Profile,
		"role", role,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"chunk_size", cfg.Engine.ChunkSize,
		"chunk_workers", cfg.Engine.ChunkWorkers,
		"partition_workers", cfg.Engine.PartitionWorkers,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	engine, err := rules.NewEngine(cfg.Engine, rules.WithLogger(slog.Default()))
	if err != nil {
		slog.Error("failed to initialize screening engine", "error", err)
		os.Exit(1)
	}
	slog.Info("screening engine initialized", "families", len(domain.AllFamilies()))

	var asyncWorker *worker.Worker
	if role == RoleAll || role == RoleWorker {
		asyncWorker = worker.NewWorker(busImpl, cacheImpl, engine, cfg.Cache.ResultTTL)
		if err := asyncWorker.Start(); err != nil {
			slog.Error("failed to start worker", "error", err)
			os.Exit(1)
		}
	}

	var srv *api.Server
	if role == RoleAll || role == RoleAPI {
		srv = api.NewServer(cfg, cacheImpl, busImpl, engine, Version)

		go func() {
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				slog.Error("server failed", "error", err)
				stop()
			}
		}()

		slog.Info("adscreen is ready",
			"host", cfg.Server.Host,
			"port", cfg.Server.Port,
		)
		printBanner(cfg, Version)
	}

	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server forced to shutdown", "error", err)
		}
	}

	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop worker", "error", err)
		}
	}

	slog.Info("adscreen shutdown complete")
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ADSCREEN  campaign screening engine")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Profile:  %s\n", cfg.Profile)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /screens/{family}       - Screen an uploaded report")
	fmt.Println("    POST /jobs/{family}          - Queue a screening job")
	fmt.Println("    GET  /results/{id}           - Download a result CSV")
	fmt.Println("    GET  /results/{id}/summary   - Result summary")
	fmt.Println("    GET  /families               - List screening families")
	fmt.Println("    GET  /health                 - Health check")
	fmt.Println()
}
