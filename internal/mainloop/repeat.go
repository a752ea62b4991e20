package mainloop

import (
	"sync"
	"time"
)

// Scheduler is the subset of Loop that Repeat needs.
type Scheduler interface {
	After(d time.Duration, fn func()) (cancel func())
}

// Repeat runs fn on s every interval with fixed delay: the next wait starts
// only after fn has returned, so slow ticks never overlap or pile up.
// The returned stop function is idempotent and safe to call from fn itself.
func Repeat(s Scheduler, interval time.Duration, fn func()) (stop func()) {
	r := &repeater{s: s, interval: interval, fn: fn}
	r.schedule()
	return r.stop
}

type repeater struct {
	s        Scheduler
	interval time.Duration
	fn       func()

	mu      sync.Mutex
	cancel  func()
	stopped bool
}

func (r *repeater) schedule() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.cancel = r.s.After(r.interval, r.tick)
}

func (r *repeater) tick() {
	r.mu.Lock()
	stopped := r.stopped
	r.mu.Unlock()
	if stopped {
		return
	}
	// Rescheduled even when fn panics; the loop recovers the panic.
	defer r.schedule()
	r.fn()
}

func (r *repeater) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.stopped = true
	if r.cancel != nil {
		r.cancel()
	}
}
