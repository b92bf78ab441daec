// Package scheduler runs backup passes on a cron schedule.
package scheduler

import (
	"context"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Job is one scheduled backup pass.
type Job func(ctx context.Context)

// Scheduler triggers a job on a standard 5-field cron expression. Runs
// never overlap: a trigger that fires while a pass is still going is
// dropped.
type Scheduler struct {
	cron   *cron.Cron
	job    Job
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	runCtx  context.Context
}

// New validates the expression and prepares a scheduler.
func New(spec string, job Job, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scheduler{
		cron:   cron.New(),
		job:    job,
		logger: logger,
	}

	// Scheduled triggers inherit the Run context, so cancellation reaches
	// a pass that is already in flight.
	if _, err := s.cron.AddFunc(spec, func() {
		s.trigger(s.jobCtx())
	}); err != nil {
		return nil, err
	}

	return s, nil
}

// jobCtx returns the context scheduled triggers run under.
func (s *Scheduler) jobCtx() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runCtx == nil {
		return context.Background()
	}

	return s.runCtx
}

// trigger runs the job unless one is already in flight.
func (s *Scheduler) trigger(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("previous run still in progress, skipping trigger")

		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.job(ctx)
}

// Run starts the schedule and blocks until ctx is cancelled. With runNow
// set, one pass executes immediately before the schedule takes over.
func (s *Scheduler) Run(ctx context.Context, runNow bool) {
	s.mu.Lock()
	s.runCtx = ctx
	s.mu.Unlock()

	if runNow {
		s.trigger(ctx)
	}

	s.cron.Start()
	s.logger.Info("scheduler started")

	<-ctx.Done()

	// Let an in-flight pass finish before returning.
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()

	s.logger.Info("scheduler stopped")
}
