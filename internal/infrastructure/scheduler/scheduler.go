// Package scheduler runs named periodic tasks from one cooperative loop
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"copytrader/internal/core"
)

// DefaultTick is the loop granularity
const DefaultTick = 100 * time.Millisecond

// TaskFunc is one scheduled unit of work
type TaskFunc func(ctx context.Context) error

type task struct {
	name     string
	interval time.Duration
	fn       TaskFunc
	next     time.Time
	runs     int64
}

// Scheduler fires each task once its interval has elapsed. Tasks run one
// after another on the loop goroutine, so a slow task delays the others.
// A task is rescheduled relative to the time it finished.
type Scheduler struct {
	tick   time.Duration
	logger core.ILogger
	now    func() time.Time

	mu    sync.Mutex
	tasks []*task

	running atomic.Bool
}

// New creates a scheduler. A non-positive tick uses DefaultTick.
func New(tick time.Duration, logger core.ILogger) *Scheduler {
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Scheduler{
		tick:   tick,
		logger: logger.WithField("component", "scheduler"),
		now:    time.Now,
	}
}

// AddTask registers fn under name. Its first run is one interval from now.
// Registering an existing name replaces the task.
func (s *Scheduler) AddTask(name string, interval time.Duration, fn TaskFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &task{name: name, interval: interval, fn: fn, next: s.now().Add(interval)}
	for i, existing := range s.tasks {
		if existing.name == name {
			s.tasks[i] = t
			return
		}
	}
	s.tasks = append(s.tasks, t)
}

// RemoveTask unregisters name
func (s *Scheduler) RemoveTask(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, t := range s.tasks {
		if t.name == name {
			s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
			return
		}
	}
}

// Tasks returns the registered task names in registration order
func (s *Scheduler) Tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, len(s.tasks))
	for i, t := range s.tasks {
		names[i] = t.name
	}
	return names
}

// Runs returns how many times name has fired
func (s *Scheduler) Runs(name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tasks {
		if t.name == name {
			return t.runs
		}
	}
	return 0
}

// Running reports whether Run is active
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Run drives the loop until ctx is cancelled. The task in flight when ctx is
// cancelled finishes first.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("scheduler already running")
	}
	defer s.running.Store(false)

	s.logger.Info("Scheduler started", "tick", s.tick, "tasks", len(s.Tasks()))

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return nil
		case <-ticker.C:
			s.runDue(ctx)
		}
	}
}

// runDue fires every task whose deadline has passed
func (s *Scheduler) runDue(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	var due []*task
	for _, t := range s.tasks {
		if !now.Before(t.next) {
			due = append(due, t)
		}
	}
	s.mu.Unlock()

	for _, t := range due {
		if ctx.Err() != nil {
			return
		}
		s.execute(ctx, t)

		s.mu.Lock()
		t.runs++
		t.next = s.now().Add(t.interval)
		s.mu.Unlock()
	}
}

func (s *Scheduler) execute(ctx context.Context, t *task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Scheduler task panic", "task", t.name, "panic", r)
		}
	}()

	if err := t.fn(ctx); err != nil {
		s.logger.Error("Scheduler task error", "task", t.name, "error", err)
	}
}
