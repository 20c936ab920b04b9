// Package scheduler runs the supervised background loops: the retention
// sweeper, the capture-window closer, and the proactive nudge loop. Each
// task is wrapped in a supervisor that counts consecutive failures and
// backs off when the threshold is reached, so a broken dependency cannot
// spin a loop hot.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// maxConsecutiveFailures is how many failed ticks in a row switch a
	// task to its backoff interval.
	maxConsecutiveFailures = 5
	backoffInterval        = 5 * time.Minute
)

// Task is one supervised loop body. Run is invoked once per tick; an error
// counts toward the failure threshold.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Supervisor owns the task loops. Start launches one goroutine per task;
// Stop waits for all of them to drain.
type Supervisor struct {
	tasks []Task

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSupervisor creates a supervisor over the given tasks.
func NewSupervisor(tasks ...Task) *Supervisor {
	return &Supervisor{tasks: tasks}
}

// Start launches the task loops. Calling Start twice is a no-op.
func (s *Supervisor) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)

	for _, task := range s.tasks {
		s.wg.Add(1)
		go func(t Task) {
			defer s.wg.Done()
			s.run(ctx, t)
		}(task)
	}
	slog.Info("Scheduler started", "tasks", len(s.tasks))
}

// Stop signals all loops to exit and waits for them to finish.
func (s *Supervisor) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	slog.Info("Scheduler stopped")
}

func (s *Supervisor) run(ctx context.Context, t Task) {
	interval := t.Interval
	failures := 0

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if err := t.Run(ctx); err != nil {
			failures++
			slog.Error("Scheduled task failed",
				"task", t.Name, "consecutive_failures", failures, "error", err)
			if failures >= maxConsecutiveFailures && interval != backoffInterval {
				interval = backoffInterval
				slog.Warn("Scheduled task backing off",
					"task", t.Name, "interval", interval)
			}
		} else {
			if failures >= maxConsecutiveFailures {
				slog.Info("Scheduled task recovered", "task", t.Name)
			}
			failures = 0
			interval = t.Interval
		}

		timer.Reset(interval)
	}
}
