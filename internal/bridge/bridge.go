// Package bridge owns the per-scope agent bridges: each pairs one agent
// process with the protocol channel spoken over its stdio.
package bridge

import (
	"sync"
	"time"

	"github.com/atinylittleshell/codex-bridge/internal/process"
	"github.com/atinylittleshell/codex-bridge/internal/protocol"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FallbackKey is the scope used when the caller cannot identify one. It is
// never swept by the watchdog.
const FallbackKey = "__global__"

// Channel is the protocol surface a Bridge needs.
type Channel interface {
	protocol.Sender
	Respond(sessionID string, ev protocol.Event, d protocol.Decision) error
	Close()
	Done() <-chan struct{}
}

// Process is the agent process owned by a Bridge.
type Process interface {
	process.Target
	Close()
}

// Terminator reclaims a process tree.
type Terminator interface {
	Terminate(t process.Target)
}

// Bridge is one agent process and its channel, bound to a scope.
type Bridge struct {
	Key       string
	SessionID string
	// Resumed is set when SessionID was reused from an earlier bridge.
	Resumed   bool
	Cwd       string
	Roots     []string
	StartedAt time.Time

	channel    Channel
	proc       Process
	terminator Terminator
	logger     *zap.Logger

	terminateOnce sync.Once
}

func New(key string, channel Channel, proc Process, terminator Terminator, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		Key:        key,
		StartedAt:  time.Now(),
		channel:    channel,
		proc:       proc,
		terminator: terminator,
		logger:     logger,
	}
}

// Send writes env to the agent, registering cb for replies to env.ID.
func (b *Bridge) Send(env protocol.Envelope, cb protocol.Callback) error {
	return b.channel.Send(env, cb)
}

// Ask sends text as user input under a fresh request id and returns the id.
func (b *Bridge) Ask(text string, cb protocol.Callback) (string, error) {
	id := uuid.NewString()
	if err := b.channel.Send(protocol.NewUserInput(id, text), cb); err != nil {
		return "", err
	}
	return id, nil
}

// Respond answers an approval request received on this bridge.
func (b *Bridge) Respond(ev protocol.Event, d protocol.Decision) error {
	return b.channel.Respond(b.SessionID, ev, d)
}

// Pid is the agent's process id.
func (b *Bridge) Pid() int {
	return b.proc.Pid()
}

// Alive reports whether the agent process is still running.
func (b *Bridge) Alive() bool {
	return !b.proc.Exited()
}

// Done is closed when the agent's output stream ends.
func (b *Bridge) Done() <-chan struct{} {
	return b.channel.Done()
}

// Terminate closes the channel, so no further replies are delivered, then
// reclaims the agent's process tree. It is idempotent and never fails.
func (b *Bridge) Terminate() {
	b.terminateOnce.Do(func() {
		b.logger.Info("terminating bridge", zap.String("scope", b.Key), zap.Int("pid", b.proc.Pid()))
		b.channel.Close()
		b.terminator.Terminate(b.proc)
		b.proc.Close()
	})
}
