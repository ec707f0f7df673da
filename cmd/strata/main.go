package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/strata-dw/strata/internal/bootstrap"
	"github.com/strata-dw/strata/internal/config"
	"github.com/strata-dw/strata/internal/metrics"
	"github.com/strata-dw/strata/internal/server"
)

func main() {
	configPath := flag.String("config", "strata.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config",
		"database_type", cfg.Database.Type,
		"grains", cfg.Warehouse.Grains,
		"pipeline_enabled", cfg.Pipeline.Enabled)

	// 2. Assemble the warehouse: store, migrations, services.
	app, err := bootstrap.New(cfg)
	if err != nil {
		slog.Error("Failed to assemble warehouse", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	// 3. Initialize Server
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), app.DB, cfg.Server.Mode)
	app.MountRoutes(srv.Engine)
	srv.Engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	// 4. Start Services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The pipeline scheduler drains the ledger in the background; the
	// ingest API only appends, so the server stays useful even when the
	// scheduler is disabled for operator-driven replays.
	if app.Scheduler != nil {
		go func() {
			if err := app.Scheduler.Start(ctx); err != nil {
				slog.Error("Pipeline scheduler stopped with error", "error", err)
			}
		}()
	} else {
		slog.Info("Pipeline scheduler disabled by config")
	}

	// Signal handler triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	slog.Info("Shutdown complete")
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
