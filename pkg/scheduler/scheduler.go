// Package scheduler runs the periodic maintenance jobs of the service.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"persona/backend/pkg/logger"

	"github.com/go-co-op/gocron/v2"
)

// Scheduler wraps a gocron scheduler whose jobs share one context
type Scheduler struct {
	s   gocron.Scheduler
	ctx context.Context
	log *logger.Logger
}

// New creates a UTC scheduler. Jobs receive ctx and stop being useful once it is done.
func New(ctx context.Context, log *logger.Logger) (*Scheduler, error) {
	log = log.WithComponent("scheduler")
	s, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
		gocron.WithLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &Scheduler{s: s, ctx: ctx, log: log}, nil
}

// Every runs job at the given interval. Runs never overlap; a run that is
// still busy when the next one is due pushes it back.
func (s *Scheduler) Every(name string, interval time.Duration, job func(ctx context.Context) error) error {
	_, err := s.s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if err := job(s.ctx); err != nil {
				s.log.LogError(err, "Scheduled job failed", "name", name)
			}
		}),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule job %q: %w", name, err)
	}
	s.log.Info("Job scheduled", "name", name, "interval", interval.String())
	return nil
}

func (s *Scheduler) Start() {
	s.s.Start()
}

// Stop waits for running jobs and stops the scheduler
func (s *Scheduler) Stop() error {
	if err := s.s.Shutdown(); err != nil {
		return fmt.Errorf("failed to shutdown scheduler: %w", err)
	}
	return nil
}
