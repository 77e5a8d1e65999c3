// Command server runs the BEKK estimation service: an HTTP API over the
// estimation, simulation and forecast-loss modules, backed by a SQLite
// store of past runs.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/avolkov/bekk/internal/config"
	"github.com/avolkov/bekk/internal/database"
	"github.com/avolkov/bekk/internal/scheduler"
	"github.com/avolkov/bekk/internal/server"
	"github.com/avolkov/bekk/internal/work"
	"github.com/avolkov/bekk/pkg/logger"
)

func main() {
	fallback := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		fallback.Fatal().Err(err).Msg("failed to load configuration")
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	if err != nil {
		fallback.Fatal().Err(err).Msg("failed to configure logging")
	}

	log.Info().
		Int("port", cfg.Port).
		Int("workers", cfg.Workers).
		Str("dataDir", cfg.DataDir).
		Msg("starting bekk service")

	store, err := database.Open(filepath.Join(cfg.DataDir, "runs.db"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer store.Close()

	pool := work.NewPool(cfg.Workers, log)

	sched := scheduler.New(store, cfg.RunRetentionDays, log)
	if err := sched.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start scheduler")
	}

	srv := server.New(server.Config{
		Port:    cfg.Port,
		Log:     log,
		Store:   store,
		Pool:    pool,
		MaxIter: cfg.MaxIter,
		DevMode: cfg.DevMode,
	})

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errc:
		if err != nil {
			log.Fatal().Err(err).Msg("server failed")
		}
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	<-sched.Stop().Done()

	log.Info().Msg("bekk service stopped")
}
