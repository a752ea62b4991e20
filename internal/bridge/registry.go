package bridge

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/atinylittleshell/codex-bridge/internal/session"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

var (
	// ErrShutdown is returned by GetOrCreate once Shutdown has been called.
	ErrShutdown = errors.New("registry is shut down")
	// ErrScopeClosed is returned when a scope is closed while its bridge is
	// still being built.
	ErrScopeClosed = errors.New("scope was closed while its bridge was starting")
)

// Factory builds the bridge for a scope.
type Factory func(ctx context.Context, key string) (*Bridge, error)

// Hooks observe bridge lifecycle. Either field may be nil.
type Hooks struct {
	OnCreate func(b *Bridge)
	OnRemove func(b *Bridge)
}

type pendingBuild struct {
	done      chan struct{}
	bridge    *Bridge
	err       error
	cancelled bool
}

// Registry maps scope keys to bridges, holding at most one per key.
type Registry struct {
	factory Factory
	hooks   []Hooks
	logger  *zap.Logger

	mu       sync.Mutex
	bridges  map[string]*Bridge
	pending  map[string]*pendingBuild
	shutdown bool
}

func NewRegistry(factory Factory, logger *zap.Logger, hooks ...Hooks) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		factory: factory,
		hooks:   hooks,
		logger:  logger,
		bridges: make(map[string]*Bridge),
		pending: make(map[string]*pendingBuild),
	}
}

// GetOrCreate returns the bridge for key, building it on first use.
// Concurrent callers for the same key share one build. A failed build
// registers nothing.
func (r *Registry) GetOrCreate(ctx context.Context, key string) (*Bridge, error) {
	r.mu.Lock()
	if r.shutdown {
		r.mu.Unlock()
		return nil, ErrShutdown
	}
	if b, ok := r.bridges[key]; ok {
		r.mu.Unlock()
		return b, nil
	}
	if p, ok := r.pending[key]; ok {
		r.mu.Unlock()
		select {
		case <-p.done:
			return p.bridge, p.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	p := &pendingBuild{done: make(chan struct{})}
	r.pending[key] = p
	r.mu.Unlock()

	b, err := r.build(ctx, key)

	r.mu.Lock()
	delete(r.pending, key)
	switch {
	case err != nil:
	case r.shutdown:
		err = ErrShutdown
	case p.cancelled:
		err = ErrScopeClosed
	default:
		r.bridges[key] = b
	}
	r.mu.Unlock()

	if err != nil {
		if b != nil {
			b.Terminate()
		}
		r.logger.Warn("failed to create bridge", zap.String("scope", key), zap.Error(err))
		p.err = err
		close(p.done)
		return nil, err
	}

	p.bridge = b
	close(p.done)
	r.logger.Info("bridge created",
		zap.String("scope", key),
		zap.Int("pid", b.Pid()),
		zap.String("session", b.SessionID))
	for _, h := range r.hooks {
		if h.OnCreate != nil {
			h.OnCreate(b)
		}
	}
	return b, nil
}

// build runs the factory, turning a panic into an error so the pending
// build is always released.
func (r *Registry) build(ctx context.Context, key string) (b *Bridge, err error) {
	defer func() {
		if v := recover(); v != nil {
			r.logger.Error("bridge factory panicked", zap.String("scope", key), zap.Any("panic", v), zap.Stack("stack"))
			b, err = nil, fmt.Errorf("building bridge for %s: panic: %v", key, v)
		}
	}()
	b, err = r.factory(ctx, key)
	if err == nil && b == nil {
		err = fmt.Errorf("building bridge for %s: factory returned no bridge", key)
	}
	return b, err
}

// Get returns the bridge for key without building one.
func (r *Registry) Get(key string) (*Bridge, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bridges[key]
	return b, ok
}

// Remove unregisters and returns the bridge for key, or nil. The caller is
// responsible for terminating it. A build in progress for key is abandoned.
func (r *Registry) Remove(key string) *Bridge {
	r.mu.Lock()
	b, ok := r.bridges[key]
	delete(r.bridges, key)
	if p, building := r.pending[key]; building {
		p.cancelled = true
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}
	r.logger.Info("bridge removed", zap.String("scope", key))
	r.notifyRemove(b)
	return b
}

// Close removes and terminates the bridge for key. It reports whether one
// existed.
func (r *Registry) Close(key string) bool {
	b := r.Remove(key)
	if b == nil {
		return false
	}
	b.Terminate()
	return true
}

// Reset closes the bridge for key and forgets its session id, so the next
// bridge for the scope starts a fresh conversation.
func (r *Registry) Reset(key string, store session.Store) error {
	r.Close(key)
	if store == nil {
		return nil
	}
	return store.Clear(key)
}

// Shutdown terminates every bridge. The registry builds no new bridges
// afterwards.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	r.shutdown = true
	bridges := lo.Values(r.bridges)
	r.bridges = make(map[string]*Bridge)
	for _, p := range r.pending {
		p.cancelled = true
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, b := range bridges {
		r.notifyRemove(b)
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Terminate()
		}()
	}
	wg.Wait()
	r.logger.Info("registry shut down", zap.Int("bridges", len(bridges)))
}

// Keys lists the registered scope keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	keys := lo.Keys(r.bridges)
	r.mu.Unlock()
	slices.Sort(keys)
	return keys
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bridges)
}

func (r *Registry) notifyRemove(b *Bridge) {
	for _, h := range r.hooks {
		if h.OnRemove != nil {
			h.OnRemove(b)
		}
	}
}
