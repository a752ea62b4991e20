package bridge

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atinylittleshell/codex-bridge/internal/process"
	"github.com/atinylittleshell/codex-bridge/internal/protocol"
)

type fakeChannel struct {
	mu     sync.Mutex
	sent   []protocol.Envelope
	closed bool
	done   chan struct{}
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{done: make(chan struct{})}
}

func (c *fakeChannel) Send(env protocol.Envelope, _ protocol.Callback) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return protocol.ErrClosed
	}
	c.sent = append(c.sent, env)
	return nil
}

func (c *fakeChannel) Respond(sessionID string, ev protocol.Event, d protocol.Decision) error {
	return c.Send(protocol.NewExecApproval(sessionID, ev.ID, d), nil)
}

func (c *fakeChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
}

func (c *fakeChannel) Done() <-chan struct{} { return c.done }

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeProcess struct {
	pid    int
	exited atomic.Bool
	closed atomic.Bool
}

func (p *fakeProcess) Pid() int                       { return p.pid }
func (p *fakeProcess) Exited() bool                   { return p.exited.Load() }
func (p *fakeProcess) Interrupt() error               { p.exited.Store(true); return nil }
func (p *fakeProcess) Kill() error                    { p.exited.Store(true); return nil }
func (p *fakeProcess) WaitTimeout(time.Duration) bool { return p.exited.Load() }
func (p *fakeProcess) Close()                         { p.closed.Store(true) }

// fakeTerminator records which pids were reclaimed.
type fakeTerminator struct {
	mu   sync.Mutex
	pids []int
}

func (f *fakeTerminator) Terminate(t process.Target) {
	f.mu.Lock()
	f.pids = append(f.pids, t.Pid())
	f.mu.Unlock()
	if !t.Exited() {
		_ = t.Kill()
	}
}

func (f *fakeTerminator) terminated() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.pids...)
}

// fakeFactory builds bridges over fake processes with increasing pids.
type fakeFactory struct {
	term    *fakeTerminator
	builds  atomic.Int32
	nextPid atomic.Int32
	err     error
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{term: &fakeTerminator{}}
}

func (f *fakeFactory) build(_ context.Context, key string) (*Bridge, error) {
	f.builds.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	pid := 1000 + int(f.nextPid.Add(1))
	b := New(key, newFakeChannel(), &fakeProcess{pid: pid}, f.term, nil)
	b.SessionID = "session-" + key
	return b, nil
}
