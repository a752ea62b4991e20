package repl

import (
	"context"
	"fmt"
	"strings"

	"github.com/atinylittleshell/codex-bridge/internal/bridge"
	"github.com/atinylittleshell/codex-bridge/internal/repl/render"
)

const helpText = `Type a message to send it to the agent of the current scope.
Commands:
  /open <folder>  open a scope rooted at folder and switch to it
  /use <name>     switch to an open scope (folder, base name or "global")
  /close [name]   close a scope and stop its agent
  /reset          stop the current agent and forget its session
  /scopes         list open scopes
  /status         list running agents
  /quit           stop every agent and exit`

// handleCommand handles slash commands. It returns ErrExit for /quit.
func (r *REPL) handleCommand(ctx context.Context, commandLine string) error {
	parts := strings.Fields(commandLine)
	if len(parts) == 0 {
		r.renderer.RenderError("empty command")
		return nil
	}

	cmd := parts[0]
	arg := strings.TrimSpace(strings.TrimPrefix(commandLine, cmd))

	switch cmd {
	case "open":
		r.handleOpenCommand(arg)
	case "use":
		r.handleUseCommand(arg)
	case "close":
		r.handleCloseCommand(arg)
	case "reset":
		r.handleResetCommand()
	case "scopes":
		r.handleScopesCommand()
	case "status":
		r.handleStatusCommand()
	case "help":
		fmt.Fprintln(r.output, helpText)
	case "quit", "exit":
		return ErrExit
	default:
		r.renderer.RenderError(fmt.Sprintf("unknown command: /%s. Try /help", cmd))
	}
	return nil
}

func (r *REPL) handleOpenCommand(arg string) {
	if arg == "" {
		r.renderer.RenderError("/open requires a folder")
		return
	}
	s, err := r.openScope(arg)
	if err != nil {
		r.renderer.RenderError(fmt.Sprintf("cannot open %s: %v", arg, err))
		return
	}
	r.renderer.RenderSystemMessage(fmt.Sprintf("Switched to %s", s.folder))
}

func (r *REPL) handleUseCommand(arg string) {
	if arg == "" {
		r.renderer.RenderError("/use requires a scope name")
		return
	}
	s, ok := r.findScope(arg)
	if !ok {
		r.renderer.RenderError(fmt.Sprintf("scope '%s' not found. Use /scopes to see open scopes", arg))
		return
	}
	r.current = s.key
	r.renderer.RenderSystemMessage(fmt.Sprintf("Switched to %s", s.label()))
}

// handleCloseCommand is the explicit scope-closed notification.
func (r *REPL) handleCloseCommand(arg string) {
	s := r.scopes[r.current]
	if arg != "" {
		var ok bool
		if s, ok = r.findScope(arg); !ok {
			r.renderer.RenderError(fmt.Sprintf("scope '%s' not found", arg))
			return
		}
	}

	r.dropApprovals(s.key)
	stopped := r.registry.Close(s.key)
	if s.key == bridge.FallbackKey {
		if stopped {
			r.renderer.RenderSystemMessage("Stopped the global agent")
		}
		return
	}
	r.dropScope(s.key)
	if stopped {
		r.renderer.RenderSystemMessage(fmt.Sprintf("Closed %s and stopped its agent", s.label()))
	} else {
		r.renderer.RenderSystemMessage(fmt.Sprintf("Closed %s", s.label()))
	}
}

func (r *REPL) handleResetCommand() {
	key := r.current
	r.dropApprovals(key)
	if err := r.registry.Reset(key, r.store); err != nil {
		r.renderer.RenderError(fmt.Sprintf("failed to forget session: %v", err))
		return
	}
	r.renderer.RenderSystemMessage("Conversation reset")
}

func (r *REPL) handleScopesCommand() {
	rows := make([]render.ScopeStatus, 0, len(r.scopes))
	for _, key := range r.sortedScopeKeys() {
		s := r.scopes[key]
		_, running := r.registry.Get(key)
		rows = append(rows, render.ScopeStatus{
			Key:     s.label(),
			Folder:  s.folder,
			Running: running,
			Current: key == r.current,
		})
	}
	r.renderer.RenderScopes(rows)
}

func (r *REPL) handleStatusCommand() {
	var rows []render.BridgeStatus
	for _, key := range r.registry.Keys() {
		b, ok := r.registry.Get(key)
		if !ok {
			continue
		}
		rows = append(rows, render.BridgeStatus{
			Scope:     r.scopeLabel(key),
			Pid:       b.Pid(),
			SessionID: b.SessionID,
			Resumed:   b.Resumed,
			Alive:     b.Alive(),
			StartedAt: b.StartedAt,
			Current:   key == r.current,
		})
	}
	r.renderer.RenderStatus(rows)
}
