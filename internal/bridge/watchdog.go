package bridge

import (
	"sync"
	"time"

	"github.com/atinylittleshell/codex-bridge/internal/mainloop"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const DefaultWatchdogInterval = 5 * time.Second

// LiveScopes enumerates the scope keys the host still has open.
type LiveScopes func() []string

// Sweep closes every bridge in r whose key is not in live, except the
// fallback scope, and returns the swept keys.
func Sweep(r *Registry, live []string) []string {
	stale, _ := lo.Difference(r.Keys(), live)
	stale = lo.Without(stale, FallbackKey)
	for _, key := range stale {
		r.Close(key)
	}
	return stale
}

// Watchdog periodically reclaims bridges whose scope has gone away without a
// close notification.
type Watchdog struct {
	registry *Registry
	live     LiveScopes
	interval time.Duration
	logger   *zap.Logger

	mu   sync.Mutex
	stop func()
}

func NewWatchdog(registry *Registry, live LiveScopes, interval time.Duration, logger *zap.Logger) *Watchdog {
	if interval <= 0 {
		interval = DefaultWatchdogInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watchdog{
		registry: registry,
		live:     live,
		interval: interval,
		logger:   logger,
	}
}

// Start schedules the sweep on s with a fixed delay between ticks. Starting
// a running watchdog is a no-op.
func (w *Watchdog) Start(s mainloop.Scheduler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stop != nil {
		return
	}
	w.stop = mainloop.Repeat(s, w.interval, func() { w.SweepNow() })
	w.logger.Debug("watchdog started", zap.Duration("interval", w.interval))
}

// Stop cancels future ticks.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	stop := w.stop
	w.stop = nil
	w.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// SweepNow runs one sweep immediately on the calling goroutine.
func (w *Watchdog) SweepNow() []string {
	swept := Sweep(w.registry, w.live())
	if len(swept) > 0 {
		w.logger.Info("watchdog reclaimed orphaned bridges", zap.Strings("scopes", swept))
	}
	return swept
}
