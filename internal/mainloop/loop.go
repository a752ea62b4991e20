// Package mainloop provides the host's single-threaded cooperative context.
// Everything posted to a Loop runs on the goroutine that called Run, one
// function at a time, in the order it was posted.
package mainloop

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Loop is an unbounded FIFO of functions drained by a single goroutine.
type Loop struct {
	logger *zap.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	stopped bool
}

// New creates a loop. Nothing runs until Run is called.
func New(logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Loop{logger: logger}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Post enqueues fn. It never blocks, so it is safe to call from reader
// goroutines and from functions already running on the loop.
func (l *Loop) Post(fn func()) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.queue = append(l.queue, fn)
	l.cond.Signal()
}

// Run drains the queue until ctx is done. Functions still queued when ctx is
// cancelled are discarded.
func (l *Loop) Run(ctx context.Context) {
	stop := context.AfterFunc(ctx, func() {
		l.mu.Lock()
		l.stopped = true
		l.cond.Broadcast()
		l.mu.Unlock()
	})
	defer stop()

	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.stopped {
			l.cond.Wait()
		}
		if l.stopped {
			l.queue = nil
			l.mu.Unlock()
			return
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.invoke(fn)
	}
}

func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("panic in loop callback", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	fn()
}

// After posts fn to the loop once d has elapsed. The returned function
// cancels it if it has not fired yet.
func (l *Loop) After(d time.Duration, fn func()) (cancel func()) {
	t := time.AfterFunc(d, func() { l.Post(fn) })
	return func() { t.Stop() }
}

// Pending reports how many functions are queued.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}
