package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Runner is a job the scheduler runs.
type Runner interface {
	Run(ctx context.Context) (*SweepResult, error)
}

// Scheduler runs the sweep on a local ticker. It replaces Pub/Sub delivery
// when the worker runs without Cloud Scheduler.
type Scheduler struct {
	job      Runner
	interval time.Duration
	logger   zerolog.Logger
}

// NewScheduler creates a scheduler that runs job every interval.
func NewScheduler(job Runner, interval time.Duration, logger zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultSweepConfig().Interval
	}
	return &Scheduler{job: job, interval: interval, logger: logger}
}

// Start runs the job immediately, then on every tick, until ctx is done.
// A failed run is logged and retried on the next tick.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info().Dur("interval", s.interval).Msg("starting sweep scheduler")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("sweep scheduler stopped")
			return nil
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if _, err := s.job.Run(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error().Err(err).Msg("scheduled sweep failed")
	}
}
