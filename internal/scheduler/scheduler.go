// Package scheduler runs the periodic engine cycles.
package scheduler

import (
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job represents a scheduled job
type Job interface {
	Run() error
	Name() string
}

// Scheduler manages background jobs. Each job holds a lease while running:
// if a cycle is still in flight when its next tick fires, the tick is
// skipped rather than overlapped, keeping cycles idempotent.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// New creates a new scheduler
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop stops the scheduler and waits for running jobs to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a new job with a cron schedule (with a seconds field)
// Schedule examples:
//   - "0 */5 * * * *"      - Every 5 minutes
//   - "@hourly"            - Every hour
//   - "@every 30s"         - Every 30 seconds
func (s *Scheduler) AddJob(schedule string, job Job) error {
	lease := &jobLease{}

	_, err := s.cron.AddFunc(schedule, func() {
		if !lease.acquire() {
			s.log.Warn().Str("job", job.Name()).
				Msg("Previous run still in progress, skipping tick")
			return
		}
		defer lease.release()

		s.log.Debug().Str("job", job.Name()).Msg("Running job")
		if err := job.Run(); err != nil {
			s.log.Error().
				Err(err).
				Str("job", job.Name()).
				Msg("Job failed")
		} else {
			s.log.Debug().Str("job", job.Name()).Msg("Job completed")
		}
	})
	if err != nil {
		return err
	}

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")
	return nil
}

// RunNow executes a job immediately (outside schedule)
func (s *Scheduler) RunNow(job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("Running job immediately")
	return job.Run()
}

// jobLease is a non-blocking mutual exclusion flag per job
type jobLease struct {
	running atomic.Bool
}

func (l *jobLease) acquire() bool {
	return l.running.CompareAndSwap(false, true)
}

func (l *jobLease) release() {
	l.running.Store(false)
}
