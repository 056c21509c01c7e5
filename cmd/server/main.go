// Package main is the entry point for the tradeinbox server.
// It turns broker trade-confirmation emails into ledger transactions,
// either from the HTTP API or from .eml files dropped into the spool.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/tradeinbox/internal/config"
	"github.com/aristath/tradeinbox/internal/di"
	"github.com/aristath/tradeinbox/internal/scheduler"
	"github.com/aristath/tradeinbox/internal/server"
	"github.com/aristath/tradeinbox/pkg/logger"
)

// main starts the server:
//  1. Loads configuration from the environment (.env supported)
//  2. Wires databases, services and background work
//  3. Starts the work processor, the spool watcher and the cron scheduler
//  4. Serves the HTTP API until SIGINT or SIGTERM
//
// Databases live under INBOX_DATA_DIR:
//   - ledger.db: portfolios, assets, transactions, processed emails
//   - inbox.db: review queue and per-source settings
//   - client_data.db: AI symbol lookup cache
func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting tradeinbox")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	container, err := di.Wire(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}

	go container.WorkProcessor.Run()
	log.Info().Int("work_types", container.WorkRegistry.Count()).Msg("Work processor started")

	if container.Spool != nil {
		if err := container.Spool.Watch(ctx, nil); err != nil {
			log.Error().Err(err).Msg("Failed to start spool watcher, spooled files are only picked up on schedule")
		} else {
			log.Info().Str("dir", cfg.SpoolDir()).Msg("Spool watcher started")
		}
	}

	sched := scheduler.New(log)
	if err := di.RegisterJobs(container, sched, log); err != nil {
		log.Fatal().Err(err).Msg("Failed to register jobs")
	}
	sched.Start()

	srv := server.New(server.Config{
		Log:       log,
		Config:    cfg,
		Container: container,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Server stopped unexpectedly")
			cancel()
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started")

	<-ctx.Done()
	log.Info().Msg("Shutting down...")

	// In-flight requests get 30 seconds before the server is forced down
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	sched.Stop()
	container.WorkProcessor.Stop()
	log.Info().Msg("Work processor stopped")

	if err := container.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close databases")
	}

	log.Info().Msg("Server stopped")
}
