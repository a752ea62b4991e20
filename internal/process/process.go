// Package process launches the agent subprocess and reclaims it together
// with every process it spawned.
package process

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNoCommand is returned by Launch when Config.Command is empty.
var ErrNoCommand = errors.New("command is required")

// Config describes how to start the agent.
type Config struct {
	Command string
	Args    []string
	// Env is added on top of the host environment.
	Env map[string]string
	Dir string
}

// Handle is a running (or exited) agent process.
type Handle struct {
	cmd    *exec.Cmd
	stdin  *os.File
	stdout *os.File
	logger *zap.Logger

	done    chan struct{}
	waitErr error

	closeOnce sync.Once
}

// Launch starts the agent as the leader of a new session so that signals
// aimed at the host's process group never reach it and vice versa.
func Launch(config Config, logger *zap.Logger) (*Handle, error) {
	if config.Command == "" {
		return nil, ErrNoCommand
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cmd := exec.Command(config.Command, config.Args...)
	cmd.Dir = config.Dir
	cmd.Env = buildEnv(os.Environ(), config.Env)
	cmd.SysProcAttr = newSysProcAttr()

	// Plain os.Pipe pairs rather than cmd.StdoutPipe: Wait must not close the
	// read side before the reader has drained it.
	var opened []*os.File
	closeAll := func() {
		for _, f := range opened {
			f.Close()
		}
	}
	pipe := func() (*os.File, *os.File, error) {
		r, w, err := os.Pipe()
		if err != nil {
			return nil, nil, err
		}
		opened = append(opened, r, w)
		return r, w, nil
	}

	stdinR, stdinW, err := pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdoutR, stdoutW, err := pipe()
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderrR, stderrW, err := pipe()
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		closeAll()
		return nil, fmt.Errorf("failed to start %s: %w", config.Command, err)
	}

	// The child holds its own copies now.
	stdinR.Close()
	stdoutW.Close()
	stderrW.Close()

	h := &Handle{
		cmd:    cmd,
		stdin:  stdinW,
		stdout: stdoutR,
		logger: logger.With(zap.Int("pid", cmd.Process.Pid)),
		done:   make(chan struct{}),
	}

	h.logger.Debug("agent process spawned",
		zap.String("command", config.Command),
		zap.Strings("args", config.Args),
		zap.String("dir", config.Dir))

	go h.drainStderr(stderrR)
	go h.wait()

	return h, nil
}

func buildEnv(base []string, extra map[string]string) []string {
	env := slices.Clone(base)
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}

func (h *Handle) wait() {
	err := h.cmd.Wait()
	h.waitErr = err
	close(h.done)
	h.logger.Debug("agent process exited", zap.NamedError("exitError", err))
}

func (h *Handle) drainStderr(r io.ReadCloser) {
	defer r.Close()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		h.logger.Debug("agent stderr", zap.String("line", scanner.Text()))
	}
}

// Pid returns the process id of the agent.
func (h *Handle) Pid() int {
	return h.cmd.Process.Pid
}

// Exited reports whether the agent has exited and been reaped.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Done is closed once the agent has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// ExitErr returns the error from waiting on the process. Only meaningful
// after Done is closed.
func (h *Handle) ExitErr() error {
	select {
	case <-h.done:
		return h.waitErr
	default:
		return nil
	}
}

// Stdin is the write side of the agent's standard input.
func (h *Handle) Stdin() io.Writer {
	return h.stdin
}

// Stdout is the read side of the agent's standard output.
func (h *Handle) Stdout() io.Reader {
	return h.stdout
}

// Interrupt asks the agent to exit.
func (h *Handle) Interrupt() error {
	return h.cmd.Process.Signal(gracefulSignal)
}

// Kill forcefully stops the agent.
func (h *Handle) Kill() error {
	return h.cmd.Process.Kill()
}

// WaitTimeout waits up to d for the agent to exit.
func (h *Handle) WaitTimeout(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-h.done:
		return true
	case <-timer.C:
		return false
	}
}

// Close releases the host ends of the stdio pipes. It unblocks any reader
// still waiting on Stdout even if an escaped descendant keeps the pipe open.
func (h *Handle) Close() {
	h.closeOnce.Do(func() {
		h.stdin.Close()
		h.stdout.Close()
	})
}
