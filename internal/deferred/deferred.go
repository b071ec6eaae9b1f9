// Package deferred runs work after a webhook has been acknowledged.
package deferred

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"callrelay.app/relay/common/logger"
)

// DefaultConcurrency bounds how many deferred tasks run at once.
const DefaultConcurrency = 64

var ErrClosed = errors.New("deferred runner is shut down")

type Task func(ctx context.Context) error

// Runner schedules a task that must not delay the caller.
type Runner interface {
	Run(ctx context.Context, name string, task Task)
}

// Pool runs tasks on background goroutines, at most concurrency at a time.
// Tasks inherit the values of the scheduling context but not its
// cancellation, so they survive the end of the HTTP request.
type Pool struct {
	sem chan struct{}
	wg  sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewPool(concurrency int) *Pool {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Pool{sem: make(chan struct{}, concurrency)}
}

func (p *Pool) Run(ctx context.Context, name string, task Task) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		slog.WarnContext(ctx, "dropping deferred task after shutdown", "task", name)
		return
	}
	p.wg.Add(1)
	p.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	go func() {
		defer p.wg.Done()
		p.sem <- struct{}{}
		defer func() { <-p.sem }()
		execute(ctx, name, task)
	}()
}

// Shutdown stops accepting tasks and waits for queued and running ones.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for deferred tasks: %w", ctx.Err())
	}
}

// Sync runs each task inline before Run returns.
type Sync struct{}

func (Sync) Run(ctx context.Context, name string, task Task) {
	execute(context.WithoutCancel(ctx), name, task)
}

func execute(ctx context.Context, name string, task Task) {
	sc := logger.StartDetachedSpan(ctx, "deferred."+name)
	defer sc.End()
	ctx = sc.Context()

	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "deferred task panicked",
				"task", name,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()

	if err := task(ctx); err != nil {
		sc.RecordError(err)
		slog.WarnContext(ctx, "deferred task failed", "task", name, "error", err)
	}
}
