// Package loop provides the single-threaded event loop every engine callback
// runs on, a Scheduler abstraction over timers, and a virtual-clock scheduler
// for deterministic tests.
package loop

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// Timer is a scheduled callback that can be stopped before it fires.
type Timer interface {
	// Stop prevents the callback from running. It reports whether the call
	// stopped the timer, false if it already fired or was stopped.
	Stop() bool
}

// Scheduler runs callbacks later on the loop goroutine.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
	Now() time.Time
}

// Executor accepts work from other goroutines for execution on the loop.
type Executor interface {
	Post(fn func())
}

// Loop serializes callbacks onto the goroutine that calls Run. Post and
// AfterFunc are safe from any goroutine; callbacks never run concurrently.
type Loop struct {
	logger *slog.Logger

	mu      sync.Mutex
	pending []func()
	wake    chan struct{}
}

// New creates a Loop. Panics in callbacks are logged on logger and swallowed.
func New(logger *slog.Logger) *Loop {
	return &Loop{
		logger: logger,
		wake:   make(chan struct{}, 1),
	}
}

// Post queues fn to run on the loop.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.pending = append(l.pending, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Now returns wall-clock time.
func (l *Loop) Now() time.Time {
	return time.Now()
}

// AfterFunc runs fn on the loop after d.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	return &wallTimer{t: time.AfterFunc(d, func() { l.Post(fn) })}
}

// Run executes queued callbacks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}

		for {
			l.mu.Lock()
			batch := l.pending
			l.pending = nil
			l.mu.Unlock()

			if len(batch) == 0 {
				break
			}
			for _, fn := range batch {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				Guard(l.logger, fn)
			}
		}
	}
}

// Call posts fn and blocks until it has run on the loop or ctx ends.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	l.Post(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Guard runs fn and converts a panic into an error log record.
func Guard(logger *slog.Logger, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("recovered panic in loop callback",
				"error", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()
	fn()
}

type wallTimer struct {
	t *time.Timer
}

func (w *wallTimer) Stop() bool {
	return w.t.Stop()
}
