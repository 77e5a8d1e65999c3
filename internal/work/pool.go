// Package work provides a bounded worker pool for independent estimation
// jobs. Jobs are pure functions over read-only inputs, so the pool needs no
// coordination beyond fan-out and fan-in.
package work

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// Job is one unit of work. It must not share mutable state with other jobs.
type Job func(ctx context.Context) error

// Pool executes batches of jobs over a fixed number of workers.
type Pool struct {
	workers int
	log     zerolog.Logger
}

// NewPool creates a pool with the given concurrency. A non-positive worker
// count is treated as one.
func NewPool(workers int, log zerolog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		workers: workers,
		log:     log.With().Str("component", "work").Logger(),
	}
}

// Workers returns the pool's concurrency.
func (p *Pool) Workers() int { return p.workers }

// Run executes all jobs and blocks until they finish or the context is
// cancelled. Job errors are collected and joined; a failing job does not
// stop the others.
func (p *Pool) Run(ctx context.Context, jobs []Job) error {
	queue := make(chan Job)
	errc := make(chan error, len(jobs)+1)

	var wg sync.WaitGroup
	for w := 0; w < p.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range queue {
				if err := ctx.Err(); err != nil {
					errc <- err
					continue
				}
				if err := job(ctx); err != nil {
					p.log.Error().Err(err).Msg("job failed")
					errc <- err
				}
			}
		}()
	}

dispatch:
	for _, job := range jobs {
		select {
		case <-ctx.Done():
			errc <- ctx.Err()
			break dispatch
		case queue <- job:
		}
	}
	close(queue)
	wg.Wait()
	close(errc)

	var errs []error
	for err := range errc {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
