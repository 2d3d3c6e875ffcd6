package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/portfolio-bench/internal/config"
	"github.com/aristath/portfolio-bench/internal/database"
	"github.com/aristath/portfolio-bench/internal/modules/results"
	"github.com/aristath/portfolio-bench/internal/modules/returns"
	"github.com/aristath/portfolio-bench/internal/scheduler"
	"github.com/aristath/portfolio-bench/internal/server"
	"github.com/aristath/portfolio-bench/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Msg("Starting portfolio-bench server")

	// results.db - stored backtest runs
	resultsDB, err := database.New(database.Config{
		Path:    cfg.DatabaseFile,
		Profile: database.ProfileStandard,
		Name:    "results",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize results database")
	}
	defer resultsDB.Close()

	store, err := results.NewStore(resultsDB, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize results store")
	}

	srv := server.New(server.Config{
		Log:     log,
		Config:  cfg,
		Store:   store,
		Port:    cfg.Port,
		DevMode: cfg.DevMode,
	})

	// Load return data if it already exists; the refresh job picks it up
	// later otherwise.
	if m, err := returns.ReadCSVFile(cfg.ReturnsFile); err != nil {
		log.Warn().Err(err).Str("path", cfg.ReturnsFile).Msg("Returns data not loaded yet")
	} else {
		srv.SetMatrix(m)
		log.Info().Int("assets", m.Assets()).Int("periods", m.Periods()).Msg("Returns data loaded")
	}

	// Scheduler keeps the in-memory matrix in sync with the data file.
	sched := scheduler.New(log)
	if cfg.RefreshEnabled {
		refreshJob := scheduler.NewRefreshJob(cfg.ReturnsFile, srv, log)
		if err := sched.AddJob(cfg.RefreshSchedule, refreshJob); err != nil {
			log.Fatal().Err(err).Msg("Failed to register refresh job")
		}
	}
	sched.Start()

	// Start server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	sched.Stop()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
