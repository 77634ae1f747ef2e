package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/i474232898/cvc-collector/internal/speed"
)

// Runner runs one ingestion cycle. It is implemented by speed.Collector.
type Runner interface {
	RunCycle(ctx context.Context) (speed.CycleReport, error)
}

// Config holds the settings for a Scheduler.
type Config struct {
	Interval time.Duration
	Runner   Runner
	Logger   *slog.Logger
}

// Scheduler re-runs ingestion cycles on a fixed interval.
type Scheduler struct {
	scheduler *gocron.Scheduler
	runner    Runner
	interval  time.Duration
	logger    *slog.Logger
}

// New creates a new Scheduler.
func New(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := gocron.NewScheduler(time.UTC)
	return &Scheduler{
		scheduler: s,
		runner:    cfg.Runner,
		interval:  cfg.Interval,
		logger:    logger,
	}
}

// Run starts the first cycle immediately and then one every interval,
// measured start-to-start rather than from the end of the previous cycle.
// Cycles never overlap. Run blocks until ctx is cancelled, returning nil, or
// until a cycle fails, returning that cycle's error.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("scheduler: invalid interval %s", s.interval)
	}

	errCh := make(chan error, 1)

	_, err := s.scheduler.Every(s.interval).SingletonMode().Do(func() {
		if ctx.Err() != nil {
			return
		}

		s.logger.Info("scheduler: running collection cycle")
		report, err := s.runner.RunCycle(ctx)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				s.logger.Info("scheduler: cycle interrupted by shutdown")
				return
			}
			select {
			case errCh <- err:
			default:
			}
			return
		}
		s.logger.Info("scheduler: completed collection cycle",
			"points", report.Points,
			"next_in", s.interval.String(),
		)
	})
	if err != nil {
		return fmt.Errorf("scheduler: schedule cycle: %w", err)
	}

	s.scheduler.StartAsync()
	defer s.Stop()

	select {
	case <-ctx.Done():
		s.logger.Info("scheduler: stopping")
		return nil
	case err := <-errCh:
		return err
	}
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil && s.scheduler.IsRunning() {
		s.scheduler.Stop()
	}
}
