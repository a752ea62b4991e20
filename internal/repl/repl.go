// Package repl is the terminal host for codex-bridge: it keeps a set of open
// scopes, forwards typed messages to the agent bridge of the current scope,
// renders the events that come back and answers approval requests.
package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/atinylittleshell/codex-bridge/internal/bridge"
	"github.com/atinylittleshell/codex-bridge/internal/config"
	"github.com/atinylittleshell/codex-bridge/internal/mainloop"
	"github.com/atinylittleshell/codex-bridge/internal/process"
	"github.com/atinylittleshell/codex-bridge/internal/protocol"
	"github.com/atinylittleshell/codex-bridge/internal/repl/render"
	"github.com/atinylittleshell/codex-bridge/internal/session"
	"go.uber.org/zap"
)

// ErrExit is returned when the user requests to exit the REPL.
var ErrExit = errors.New("exit requested")

// Options configures a REPL. Factory, when set, replaces the production
// launcher and receives the REPL's scope resolver. Folder, when set, is
// opened as the initial scope. Interactive enables the prompt.
type Options struct {
	Settings     *config.Settings
	Store        session.Store
	Loop         *mainloop.Loop
	Supervisor   *process.Supervisor
	Renderer     *render.Renderer
	Logger       *zap.Logger
	Factory      func(scopes bridge.ScopeResolver) bridge.Factory
	Cwd          string
	Folder       string
	BuildVersion string
	Interactive  bool
	Output       io.Writer
}

// REPL state is owned by the dispatch loop: every method except Run and
// Close must be called from a function running on it.
type REPL struct {
	settings    *config.Settings
	store       session.Store
	loop        *mainloop.Loop
	renderer    *render.Renderer
	logger      *zap.Logger
	registry    *bridge.Registry
	watchdog    *bridge.Watchdog
	output      io.Writer
	interactive bool
	version     string

	scopes    map[string]*scope
	current   string
	approvals []pendingApproval
}

func NewREPL(opts Options) (*REPL, error) {
	if opts.Settings == nil || opts.Loop == nil || opts.Renderer == nil {
		return nil, fmt.Errorf("settings, loop and renderer are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	output := opts.Output
	if output == nil {
		output = os.Stdout
	}
	cwd := opts.Cwd
	if cwd == "" {
		var err error
		if cwd, err = os.Getwd(); err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
	}

	r := &REPL{
		settings:    opts.Settings,
		store:       opts.Store,
		loop:        opts.Loop,
		renderer:    opts.Renderer,
		logger:      logger,
		output:      output,
		interactive: opts.Interactive,
		version:     opts.BuildVersion,
		scopes: map[string]*scope{
			bridge.FallbackKey: {key: bridge.FallbackKey, folder: cwd},
		},
		current: bridge.FallbackKey,
	}

	if opts.Folder != "" {
		if _, err := r.openScope(opts.Folder); err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", opts.Folder, err)
		}
	}

	var factory bridge.Factory
	if opts.Factory != nil {
		factory = opts.Factory(r.ResolveScope)
	} else {
		supervisor := opts.Supervisor
		if supervisor == nil {
			supervisor = process.NewSupervisor(nil, logger)
		}
		launcher := &bridge.Launcher{
			Settings:   opts.Settings,
			Supervisor: supervisor,
			Dispatcher: opts.Loop,
			Store:      opts.Store,
			Scopes:     r.ResolveScope,
			Logger:     logger,
		}
		factory = launcher.Build
	}

	r.registry = bridge.NewRegistry(factory, logger, bridge.Hooks{OnCreate: r.watchExit})
	r.watchdog = bridge.NewWatchdog(r.registry, r.LiveScopes, opts.Settings.WatchdogInterval, logger)
	return r, nil
}

// Registry exposes the bridges owned by this REPL.
func (r *REPL) Registry() *bridge.Registry {
	return r.registry
}

// Run reads lines from in until EOF, /quit or ctx is done. Each line is
// handled on the dispatch loop, which must be running.
func (r *REPL) Run(ctx context.Context, in io.Reader) error {
	if err := r.onLoop(ctx, func() error {
		r.renderer.RenderWelcome(render.WelcomeInfo{
			Version: r.version,
			Model:   r.settings.Model,
			Sandbox: string(r.settings.SandboxMode),
			Scope:   r.scopes[r.current].folder,
		})
		r.watchdog.Start(r.loop)
		return nil
	}); err != nil {
		return err
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		r.printPrompt(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := r.onLoop(ctx, func() error { return r.HandleLine(ctx, line) })
			if errors.Is(err, ErrExit) {
				return nil
			}
			if err != nil {
				return err
			}
		}
	}
}

// Close stops the watchdog and terminates every bridge.
func (r *REPL) Close() {
	r.watchdog.Stop()
	r.registry.Shutdown()
}

// HandleLine processes one line of input.
func (r *REPL) HandleLine(ctx context.Context, line string) error {
	trimmed := strings.TrimSpace(line)

	if strings.HasPrefix(trimmed, "/") {
		return r.handleCommand(ctx, trimmed[1:])
	}
	if len(r.approvals) > 0 {
		r.answerApproval(trimmed)
		return nil
	}
	if trimmed == "" {
		return nil
	}
	r.sendMessage(ctx, line)
	return nil
}

func (r *REPL) sendMessage(ctx context.Context, text string) {
	key := r.current
	b, err := r.registry.GetOrCreate(ctx, key)
	if err != nil {
		if errors.Is(err, config.ErrMissingCredential) {
			r.renderer.RenderError(fmt.Sprintf("%v", err))
			return
		}
		r.renderer.RenderError(fmt.Sprintf("failed to start agent: %v", err))
		return
	}

	if _, err := b.Ask(text, func(ev protocol.Event) { r.handleEvent(b, ev) }); err != nil {
		r.renderer.RenderError(fmt.Sprintf("failed to send message: %v (use /reset to restart the agent)", err))
	}
}

// handleEvent runs on the loop for every event routed to a request.
func (r *REPL) handleEvent(b *bridge.Bridge, ev protocol.Event) {
	r.renderer.RenderEvent(r.scopeLabel(b.Key), ev)
	if _, ok := ev.Msg.(protocol.ApprovalRequest); ok {
		r.approvals = append(r.approvals, pendingApproval{bridge: b, event: ev})
	}
}

// watchExit reports agents that exit while still registered.
func (r *REPL) watchExit(b *bridge.Bridge) {
	go func() {
		<-b.Done()
		r.loop.Post(func() {
			if current, ok := r.registry.Get(b.Key); ok && current == b {
				r.logger.Warn("agent exited unexpectedly", zap.String("scope", b.Key), zap.Int("pid", b.Pid()))
				r.renderer.RenderError(fmt.Sprintf("agent for %s exited; use /reset to start a new one", b.Key))
			}
		})
	}()
}

// onLoop runs fn on the dispatch loop and waits for it.
func (r *REPL) onLoop(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	r.loop.Post(func() { done <- fn() })
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *REPL) printPrompt(ctx context.Context) {
	if !r.interactive {
		return
	}
	var prompt string
	if err := r.onLoop(ctx, func() error {
		prompt = r.prompt()
		return nil
	}); err != nil {
		return
	}
	fmt.Fprint(r.output, prompt)
}

func (r *REPL) prompt() string {
	if len(r.approvals) > 0 {
		return r.renderer.Styles().Question.Render("approve? [y/a/n/x] ")
	}
	return r.renderer.Styles().Header.Render(r.scopes[r.current].label() + "> ")
}
