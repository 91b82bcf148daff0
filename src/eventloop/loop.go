// Package eventloop is the single-threaded scheduler the feed engine runs on.
// All registry and handle state is touched only from loop tasks, so none of it
// needs locks. A "tick" drains the tasks queued so far, then runs the deferred
// calls registered during those tasks.
package eventloop

import (
	"context"
	"errors"
	"sync"

	"market-feed/src/helpers"
	"market-feed/src/logger"
)

// ErrStopped is returned by Invoke once the loop has been stopped.
var ErrStopped = errors.New("event loop stopped")

// Loop is a task queue drained by one goroutine at a time.
type Loop struct {
	mu       sync.Mutex
	tasks    []func()
	deferred []func()
	wake     chan struct{}
	stopped  bool
	log      *logger.Logger
}

// -----------------------------------------------------------------------------

// New creates an idle loop. Call Run from a goroutine, or RunUntilIdle in tests.
func New(log *logger.Logger) *Loop {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Loop{
		wake: make(chan struct{}, 1),
		log:  log,
	}
}

// -----------------------------------------------------------------------------

// Post queues fn for the next tick. Safe from any goroutine.
func (l *Loop) Post(fn func()) {
	l.enqueue(fn)
}

// enqueue reports false once the loop is stopped.
func (l *Loop) enqueue(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()
	l.signal()
	return true
}

// Defer queues fn to run at the end of the current tick, after every task of
// the tick. Called outside a tick it runs at the end of the next one.
func (l *Loop) Defer(fn func()) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.deferred = append(l.deferred, fn)
	l.mu.Unlock()
	l.signal()
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// -----------------------------------------------------------------------------

// RunOnce executes a single tick and reports whether anything ran.
func (l *Loop) RunOnce() bool {
	l.mu.Lock()
	tasks := l.tasks
	l.tasks = nil
	l.mu.Unlock()

	ran := len(tasks) > 0
	for _, fn := range tasks {
		l.safe("task", fn)
	}

	// deferred calls may defer more work; it still belongs to this tick
	for {
		l.mu.Lock()
		deferred := l.deferred
		l.deferred = nil
		l.mu.Unlock()
		if len(deferred) == 0 {
			break
		}
		ran = true
		for _, fn := range deferred {
			l.safe("deferred", fn)
		}
	}
	return ran
}

// RunUntilIdle runs ticks until no work is left. Used by tests and shutdown.
func (l *Loop) RunUntilIdle() {
	for l.RunOnce() {
	}
}

// -----------------------------------------------------------------------------

// Run drives the loop until ctx is done. Remaining work is dropped.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.RunOnce()
		select {
		case <-ctx.Done():
			l.Stop()
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Stop rejects further work.
func (l *Loop) Stop() {
	l.mu.Lock()
	l.stopped = true
	l.tasks = nil
	l.deferred = nil
	l.mu.Unlock()
}

// -----------------------------------------------------------------------------

// Invoke posts fn and waits until it has run. It must not be called from a
// loop task, and needs something else driving the loop.
func (l *Loop) Invoke(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !l.enqueue(func() {
		defer close(done)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) safe(what string, fn func()) {
	_ = helpers.SafeCall(l.log, "event loop "+what, fn)
}
