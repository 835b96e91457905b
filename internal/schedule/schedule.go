// Package schedule drives repeated fetch runs from a 5-field cron
// expression, for the `fetch --watch` CLI flag. Adapted from the teacher's
// internal/engine/scheduler.go run-loop shape (an immediate first run, then
// a select over a clock.Clock timer channel and ctx.Done()), generalized
// from a fixed poll interval to cron.Schedule.Next so run times follow an
// arbitrary cron expression instead of a constant duration.
package schedule

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/takodist/tako/internal/clock"
	"github.com/takodist/tako/internal/logging"
)

// Task is the operation run on each tick. Overlap is prevented by the
// Scheduler itself — Task is never invoked concurrently with itself.
type Task func(ctx context.Context) error

// Scheduler runs Task once immediately, then again every time expr next
// matches, until ctx is cancelled.
type Scheduler struct {
	expr  cron.Schedule
	task  Task
	log   *logging.Logger
	clock clock.Clock
}

// New parses a standard 5-field cron expression and returns a Scheduler
// that will invoke task according to it.
func New(cronExpr string, task Task, log *logging.Logger, clk clock.Clock) (*Scheduler, error) {
	sched, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return nil, err
	}
	return &Scheduler{expr: sched, task: task, log: log, clock: clk}, nil
}

// Run performs an immediate run, then blocks running task at every
// subsequent cron match until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("running initial fetch before entering watch schedule")
	s.runOnce(ctx)

	for {
		now := s.clock.Now()
		next := s.expr.Next(now)
		wait := next.Sub(now)
		if wait < 0 {
			wait = 0
		}

		select {
		case <-s.clock.After(wait):
			s.runOnce(ctx)
		case <-ctx.Done():
			s.log.Info("watch schedule stopped")
			return nil
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if err := s.task(ctx); err != nil {
		s.log.Error("scheduled fetch failed", "error", err)
	}
}
