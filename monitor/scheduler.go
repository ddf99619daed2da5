package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/rustyeddy/propdesk/pkg/logging"
)

// Task is a unit of scheduled work.
type Task interface {
	Execute(ctx context.Context) error
}

// TaskFunc adapts a function to Task.
type TaskFunc func(ctx context.Context) error

func (f TaskFunc) Execute(ctx context.Context) error { return f(ctx) }

// Scheduler runs a task on wall-clock boundaries of interval. A failed run
// is logged and the schedule continues.
type Scheduler struct {
	name     string
	interval time.Duration
	task     Task
	log      *slog.Logger
}

func NewScheduler(name string, interval time.Duration, task Task, log *slog.Logger) *Scheduler {
	return &Scheduler{name: name, interval: interval, task: task, log: logging.OrDefault(log)}
}

// Start blocks until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	timer := time.NewTimer(s.untilNext(time.Now()))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			if err := s.task.Execute(ctx); err != nil && ctx.Err() == nil {
				s.log.Error("scheduled task failed", "task", s.name, "err", err)
			}
			timer.Reset(s.untilNext(time.Now()))
		}
	}
}

func (s *Scheduler) untilNext(now time.Time) time.Duration {
	if s.interval <= 0 {
		return time.Second
	}
	next := now.Truncate(s.interval).Add(s.interval)
	return next.Sub(now)
}
