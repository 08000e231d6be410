// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package deferred

import (
	"context"
	"sync"
)

type batchKey struct{}

// Batch collects tasks queued while a request is being handled.
type Batch struct {
	mu     sync.Mutex
	tasks  []Task
	runner *Runner
}

// WithBatch returns a context carrying a new batch for runner.
func WithBatch(ctx context.Context, runner *Runner) (context.Context, *Batch) {
	b := &Batch{runner: runner}
	return context.WithValue(ctx, batchKey{}, b), b
}

// Enqueue adds task to the request's batch. Without a batch in ctx the task
// goes to fallback directly; with neither it runs inline.
func Enqueue(ctx context.Context, fallback *Runner, task Task) {
	if b, ok := ctx.Value(batchKey{}).(*Batch); ok {
		b.mu.Lock()
		b.tasks = append(b.tasks, task)
		b.mu.Unlock()
		return
	}
	if fallback != nil {
		fallback.Submit(context.WithoutCancel(ctx), task)
		return
	}
	_ = task.Run(ctx)
}

// Len returns the number of pending tasks.
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.tasks)
}

// Flush hands every pending task to the runner and empties the batch.
func (b *Batch) Flush(ctx context.Context) {
	b.mu.Lock()
	tasks := b.tasks
	b.tasks = nil
	b.mu.Unlock()

	for _, task := range tasks {
		b.runner.Submit(ctx, task)
	}
}
