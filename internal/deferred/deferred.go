// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package deferred runs work after the HTTP response has been written.
//
// Handlers enqueue tasks on a request-scoped batch; the server middleware
// flushes the batch to the Runner once the handler returns. Tasks run at
// least once and must tolerate running again or running late.
package deferred

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultMaxAttempts = 3
	DefaultBufferSize  = 256
	DefaultWorkers     = 2
)

// Task is a unit of deferred work. Name is used for logging only.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

type Config struct {
	BufferSize  int
	Workers     int
	MaxAttempts int
	RetryDelay  time.Duration
	TaskTimeout time.Duration
}

// Runner executes tasks on a fixed pool of workers.
type Runner struct {
	cfg       Config
	logger    *slog.Logger
	ch        chan Task
	done      chan struct{}
	wg        sync.WaitGroup
	closed    atomic.Bool
	closeOnce sync.Once
	failed    atomic.Uint64
}

func NewRunner(cfg Config, logger *slog.Logger) *Runner {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Runner{
		cfg:    cfg,
		logger: logger,
		ch:     make(chan Task, cfg.BufferSize),
		done:   make(chan struct{}),
	}

	for range cfg.Workers {
		r.wg.Add(1)
		go r.work()
	}

	return r
}

func (r *Runner) work() {
	defer r.wg.Done()

	for {
		select {
		case task := <-r.ch:
			r.execute(task)
		case <-r.done:
			for {
				select {
				case task := <-r.ch:
					r.execute(task)
				default:
					return
				}
			}
		}
	}
}

func (r *Runner) execute(task Task) {
	var err error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		err = r.runOnce(task)
		if err == nil {
			return
		}
		r.logger.Warn("deferred_task_attempt_failed",
			"task", task.Name,
			"attempt", attempt,
			"error", err,
		)
		if r.cfg.RetryDelay > 0 && attempt < r.cfg.MaxAttempts {
			time.Sleep(r.cfg.RetryDelay)
		}
	}
	r.failed.Add(1)
	r.logger.Error("deferred_task_failed", "task", task.Name, "attempts", r.cfg.MaxAttempts, "error", err)
}

func (r *Runner) runOnce(task Task) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &panicError{value: rec}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.TaskTimeout)
	defer cancel()
	return task.Run(ctx)
}

// Submit queues task for execution. It blocks while the buffer is full
// unless ctx is cancelled. Tasks submitted after Close are dropped.
func (r *Runner) Submit(ctx context.Context, task Task) bool {
	if r == nil || r.closed.Load() {
		return false
	}

	select {
	case r.ch <- task:
		return true
	case <-ctx.Done():
	case <-r.done:
	}
	r.logger.Warn("deferred_task_dropped", "task", task.Name)
	return false
}

// Failed returns the number of tasks that exhausted their attempts.
func (r *Runner) Failed() uint64 {
	return r.failed.Load()
}

// Close stops accepting tasks and waits until queued tasks have run.
func (r *Runner) Close() {
	if r == nil {
		return
	}
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		close(r.done)
		r.wg.Wait()
	})
}

type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.value)
}
