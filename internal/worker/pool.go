// Package worker runs fire-and-forget background tasks on a bounded goroutine pool.
//
// Tasks have no result channel. Errors and panics are logged and counted, never
// returned to the submitter, and a full pool drops the task instead of blocking.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"embedguard/internal/observability"
)

const (
	defaultPoolSize    = 8
	defaultTaskTimeout = 10 * time.Second
)

// Config holds pool settings.
type Config struct {
	// Size is the maximum number of concurrently running tasks.
	Size int
	// TaskTimeout bounds each task's context.
	TaskTimeout time.Duration
}

// Task is a unit of background work.
type Task func(ctx context.Context) error

// Pool is a bounded, non-blocking task runner.
type Pool struct {
	pool        *ants.Pool
	taskTimeout time.Duration
	logger      *slog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc

	// mu orders submissions against Close so that no Add races the final Wait.
	mu       sync.RWMutex
	closed   bool
	inFlight sync.WaitGroup
}

// New creates a pool. A nil logger uses slog.Default.
func New(cfg Config, logger *slog.Logger) (*Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "worker")

	size := cfg.Size
	if size < 1 {
		size = defaultPoolSize
	}
	timeout := cfg.TaskTimeout
	if timeout <= 0 {
		timeout = defaultTaskTimeout
	}

	pool, err := ants.NewPool(size,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(r any) {
			logger.Error("worker panic escaped task wrapper", "panic", r)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		pool:        pool,
		taskTimeout: timeout,
		logger:      logger,
		baseCtx:     ctx,
		cancel:      cancel,
	}, nil
}

// Go submits task without waiting for it. It reports whether the task was accepted;
// a full or closed pool drops it with a warning.
func (p *Pool) Go(name string, task Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.logger.Warn("worker pool closed, dropping task", "task", name)
		observability.BackgroundTask(name, "dropped")
		return false
	}

	id := uuid.NewString()
	p.inFlight.Add(1)
	err := p.pool.Submit(func() {
		defer p.inFlight.Done()
		p.run(name, id, task)
	})
	if err != nil {
		p.inFlight.Done()
		if errors.Is(err, ants.ErrPoolOverload) {
			p.logger.Warn("worker pool full, dropping task", "task", name, "task_id", id)
		} else {
			p.logger.Warn("worker pool rejected task", "task", name, "task_id", id, "error", err)
		}
		observability.BackgroundTask(name, "dropped")
		return false
	}
	return true
}

func (p *Pool) run(name, id string, task Task) {
	ctx, cancel := context.WithTimeout(p.baseCtx, p.taskTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("background task panicked", "task", name, "task_id", id, "panic", r)
			observability.BackgroundTask(name, "panic")
		}
	}()

	if err := task(ctx); err != nil {
		p.logger.Warn("background task failed", "task", name, "task_id", id, "error", err, "duration", time.Since(start))
		observability.BackgroundTask(name, "error")
		return
	}
	p.logger.Debug("background task done", "task", name, "task_id", id, "duration", time.Since(start))
	observability.BackgroundTask(name, "ok")
}

// Running returns the number of tasks currently executing.
func (p *Pool) Running() int {
	return p.pool.Running()
}

// Wait blocks until every accepted task has finished.
func (p *Pool) Wait() {
	p.inFlight.Wait()
}

// Close stops accepting tasks and waits up to timeout for running ones.
// Tasks still running after the timeout have their context cancelled.
func (p *Pool) Close(timeout time.Duration) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.inFlight.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = fmt.Errorf("worker pool: tasks still running after %s", timeout)
	}
	p.cancel()
	p.pool.Release()
	return err
}
