// Package scheduler runs the periodic maintenance jobs of the service.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/avolkov/bekk/internal/database"
)

// Scheduler owns the cron runner and its jobs.
type Scheduler struct {
	cron          *cron.Cron
	store         *database.Store
	log           zerolog.Logger
	retentionDays int
}

// New creates a scheduler that prunes old estimation runs from the store.
func New(store *database.Store, retentionDays int, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:          cron.New(),
		store:         store,
		log:           log.With().Str("component", "scheduler").Logger(),
		retentionDays: retentionDays,
	}
}

// Start registers the jobs and begins the cron loop.
func (s *Scheduler) Start() error {
	// Nightly, well outside interactive hours.
	if _, err := s.cron.AddFunc("0 3 * * *", s.pruneRuns); err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info().Int("retentionDays", s.retentionDays).Msg("scheduler started")
	return nil
}

// Stop halts the cron loop and waits for running jobs to finish.
func (s *Scheduler) Stop() context.Context {
	s.log.Info().Msg("scheduler stopping")
	return s.cron.Stop()
}

func (s *Scheduler) pruneRuns() {
	if s.retentionDays < 1 {
		return
	}
	removed, err := s.store.PruneRuns(time.Duration(s.retentionDays) * 24 * time.Hour)
	if err != nil {
		s.log.Error().Err(err).Msg("run prune failed")
		return
	}
	if removed > 0 {
		s.log.Info().Int64("removed", removed).Msg("pruned old runs")
	}
}
