package concurrency

import (
	"fmt"
	"sync"
	"time"

	"copytrader/internal/core"
	apperrors "copytrader/pkg/errors"

	"github.com/alitto/pond"
)

// PoolConfig holds configuration for a worker pool
type PoolConfig struct {
	Name        string
	MaxWorkers  int
	MaxCapacity int
	IdleTimeout time.Duration
	NonBlocking bool // If true, Submit() returns error instead of blocking when full
}

// WorkerPool wraps alitto/pond with monitoring and standardized config
type WorkerPool struct {
	pool    *pond.WorkerPool
	config  PoolConfig
	logger  core.ILogger
	mu      sync.RWMutex
	stopped bool
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(cfg PoolConfig, logger core.ILogger) *WorkerPool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 10
	}
	if cfg.MaxCapacity <= 0 {
		cfg.MaxCapacity = 100
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}

	log := logger.WithField("component", "worker_pool").WithField("pool", cfg.Name)

	pool := pond.New(
		cfg.MaxWorkers,
		cfg.MaxCapacity,
		pond.MinWorkers(1),
		pond.IdleTimeout(cfg.IdleTimeout),
		pond.Strategy(pond.Balanced()),
		pond.PanicHandler(func(p interface{}) {
			log.Error("Worker pool panic recovered", "panic", p)
		}),
	)

	return &WorkerPool{
		pool:   pool,
		config: cfg,
		logger: log,
	}
}

// Submit adds a task to the pool
func (wp *WorkerPool) Submit(task func()) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.stopped {
		return fmt.Errorf("worker pool '%s' is stopped", wp.config.Name)
	}

	if wp.config.NonBlocking {
		if !wp.pool.TrySubmit(task) {
			return fmt.Errorf("worker pool '%s' is full (capacity: %d)", wp.config.Name, wp.config.MaxCapacity)
		}
		return nil
	}

	wp.pool.Submit(task)
	return nil
}

// SubmitAndWait submits a task and waits for it to complete
func (wp *WorkerPool) SubmitAndWait(task func()) error {
	done := make(chan struct{})
	err := wp.Submit(func() {
		defer close(done)
		task()
	})
	if err != nil {
		return err
	}
	<-done
	return nil
}

// Stop drains queued tasks and stops the pool. Later submits fail.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return
	}
	wp.stopped = true
	wp.mu.Unlock()

	wp.pool.StopAndWait()
}

// Stats returns pool statistics
func (wp *WorkerPool) Stats() map[string]interface{} {
	return map[string]interface{}{
		"running_workers":  wp.pool.RunningWorkers(),
		"idle_workers":     wp.pool.IdleWorkers(),
		"submitted_tasks":  wp.pool.SubmittedTasks(),
		"waiting_tasks":    wp.pool.WaitingTasks(),
		"successful_tasks": wp.pool.SuccessfulTasks(),
		"failed_tasks":     wp.pool.FailedTasks(),
	}
}

// Future is the pending result of a task submitted with Go
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Go runs fn on the pool. A task that cannot be submitted resolves
// immediately with the submit error.
func Go[T any](wp *WorkerPool, fn func() (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	err := wp.Submit(func() {
		defer close(f.done)
		defer func() {
			if r := recover(); r != nil {
				f.err = fmt.Errorf("task panic: %v", r)
			}
		}()
		f.val, f.err = fn()
	})
	if err != nil {
		f.err = err
		close(f.done)
	}
	return f
}

// Wait blocks up to timeout for the result. On timeout the task keeps
// running and its result is discarded.
func (f *Future[T]) Wait(timeout time.Duration) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	default:
	}

	if timeout <= 0 {
		<-f.done
		return f.val, f.err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-f.done:
		return f.val, f.err
	case <-timer.C:
		var zero T
		return zero, fmt.Errorf("wait %s: %w", timeout, apperrors.ErrTimeout)
	}
}

// FanOut runs fn for every key on the pool and returns an entry for every
// key. Keys whose call fails or outlives timeout get def.
func FanOut[K comparable, V any](wp *WorkerPool, keys []K, timeout time.Duration, def V, fn func(key K) (V, error)) map[K]V {
	futures := make(map[K]*Future[V], len(keys))
	for _, k := range keys {
		key := k
		if _, dup := futures[key]; dup {
			continue
		}
		futures[key] = Go(wp, func() (V, error) { return fn(key) })
	}

	deadline := time.Now().Add(timeout)
	out := make(map[K]V, len(futures))
	for key, f := range futures {
		remaining := time.Until(deadline)
		if timeout > 0 && remaining <= 0 {
			remaining = time.Nanosecond
		}
		if timeout <= 0 {
			remaining = 0
		}

		v, err := f.Wait(remaining)
		if err != nil {
			wp.logger.Debug("Fan-out leg failed, using default", "key", key, "error", err)
			out[key] = def
			continue
		}
		out[key] = v
	}
	return out
}
