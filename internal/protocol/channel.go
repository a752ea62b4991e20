package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("channel is closed")
	// ErrEmptyID is returned when a callback is registered without an id.
	ErrEmptyID = errors.New("envelope id is required to register a callback")
)

// Callback receives events routed to the id it was registered under.
type Callback func(Event)

// Dispatcher runs callbacks on the host's cooperative context. Post must not
// block; callbacks may call Send or Respond.
type Dispatcher interface {
	Post(fn func())
}

// Sender is the write side of a Channel.
type Sender interface {
	Send(env Envelope, cb Callback) error
}

type registration struct {
	cb Callback
}

// Channel frames envelopes onto an agent's stdin and routes events read from
// its stdout to registered callbacks.
type Channel struct {
	logger     *zap.Logger
	dispatcher Dispatcher

	writeMu sync.Mutex
	w       *bufio.Writer

	mu        sync.Mutex
	callbacks map[string]*registration
	closed    bool

	done chan struct{}
}

// NewChannel starts reading events from r. Envelopes are written to w.
func NewChannel(r io.Reader, w io.Writer, d Dispatcher, logger *zap.Logger) *Channel {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Channel{
		logger:     logger,
		dispatcher: d,
		w:          bufio.NewWriter(w),
		callbacks:  make(map[string]*registration),
		done:       make(chan struct{}),
	}
	go c.readLoop(bufio.NewReader(r))
	return c
}

// Send writes env as one line. A non-nil cb is registered under env.ID before
// the line is written, so no reply can arrive ahead of its callback.
func (c *Channel) Send(env Envelope, cb Callback) error {
	if cb != nil && env.ID == "" {
		return ErrEmptyID
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	data = append(data, '\n')

	var reg *registration
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if cb != nil {
		reg = &registration{cb: cb}
		c.callbacks[env.ID] = reg
	}
	c.mu.Unlock()

	if err := c.writeLine(data); err != nil {
		c.logger.Warn("failed to write to agent, dropping request",
			zap.String("id", env.ID),
			zap.Error(err))
		if reg != nil {
			c.withdraw(env.ID, reg)
		}
		return fmt.Errorf("failed to write request %s: %w", env.ID, err)
	}

	c.logger.Debug("sent request", zap.String("id", env.ID), zap.Bool("callback", cb != nil))
	return nil
}

func (c *Channel) writeLine(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.w.Write(data); err != nil {
		return err
	}
	return c.w.Flush()
}

func (c *Channel) withdraw(id string, reg *registration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.callbacks[id] == reg {
		delete(c.callbacks, id)
	}
}

// Respond answers an approval request event with decision d.
func (c *Channel) Respond(sessionID string, ev Event, d Decision) error {
	req, ok := ev.Msg.(ApprovalRequest)
	if !ok {
		return fmt.Errorf("event %s of type %q is not an approval request", ev.ID, ev.Type())
	}
	if !d.Valid() {
		return fmt.Errorf("invalid decision %q", d)
	}
	return c.Send(Envelope{
		ID: sessionID,
		Op: ApprovalOp{Type: req.approvalOp(), ID: ev.ID, Decision: d},
	}, nil)
}

func (c *Channel) readLoop(r *bufio.Reader) {
	defer close(c.done)

	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			c.handleLine(line)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.logger.Debug("agent stdout closed")
			} else {
				c.logger.Debug("agent read error", zap.Error(err))
			}
			return
		}
	}
}

func (c *Channel) handleLine(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}

	// The agent may print banners or log prefixes ahead of the payload.
	idx := bytes.IndexByte(line, '{')
	if idx < 0 {
		c.logger.Debug("ignoring non-JSON output", zap.ByteString("line", line))
		return
	}

	var ev Event
	if err := json.Unmarshal(line[idx:], &ev); err != nil {
		c.logger.Warn("failed to parse agent event, skipping",
			zap.Error(err),
			zap.ByteString("line", line))
		return
	}
	if u, ok := ev.Msg.(Unknown); ok && u.Malformed {
		c.logger.Debug("unexpected payload shape, delivering raw",
			zap.String("id", ev.ID),
			zap.String("type", u.Kind),
			zap.ByteString("msg", u.Raw))
	}

	c.dispatch(ev)
}

func (c *Channel) dispatch(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	key := ev.ID
	reg, ok := c.callbacks[key]
	if !ok && ev.ParentID != "" {
		key = ev.ParentID
		reg, ok = c.callbacks[key]
	}
	if !ok {
		c.logger.Debug("no callback for event",
			zap.String("id", ev.ID),
			zap.String("type", ev.Type()))
		return
	}

	c.dispatcher.Post(func() {
		if c.IsClosed() {
			return
		}
		reg.cb(ev)
	})

	if IsTerminal(ev.Type()) {
		delete(c.callbacks, key)
	}
}

// Close drops every registered callback. Events already scheduled but not yet
// delivered are discarded. The underlying streams are owned by the caller.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.callbacks = make(map[string]*registration)
}

// IsClosed reports whether Close has been called.
func (c *Channel) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Done is closed when the read side reaches end of stream.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Pending returns the number of ids with a registered callback.
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.callbacks)
}

// Registered reports whether a callback is registered under id.
func (c *Channel) Registered(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.callbacks[id]
	return ok
}
