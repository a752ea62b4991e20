package render

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/atinylittleshell/codex-bridge/internal/protocol"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/muesli/termenv"
)

// maxOutputLines caps how much command output is echoed per event.
const maxOutputLines = 5

// Renderer handles all agent-related output in the REPL. It is not safe for
// concurrent use; the REPL calls it from the dispatch loop only.
type Renderer struct {
	writer    io.Writer
	styles    Styles
	termWidth func() int
	now       func() time.Time

	// Scope of the last rendered event; a header is drawn when it changes.
	lastScope string
	// Start of the running turn per scope, for the footer.
	turns map[string]time.Time
}

// New creates a Renderer writing to w. Without color, no escape sequences
// are emitted.
func New(w io.Writer, color bool, termWidth func() int) *Renderer {
	lr := lipgloss.NewRenderer(w)
	if !color {
		lr.SetColorProfile(termenv.Ascii)
	}
	return &Renderer{
		writer:    w,
		styles:    NewStyles(lr),
		termWidth: termWidth,
		now:       time.Now,
		turns:     make(map[string]time.Time),
	}
}

// Styles exposes the renderer's styles to prompt code.
func (r *Renderer) Styles() Styles {
	return r.styles
}

// RenderScopeHeader draws the scope header line.
func (r *Renderer) RenderScopeHeader(scope string) {
	r.lastScope = scope
	fmt.Fprintln(r.writer, r.styles.Header.Render(r.rule(fmt.Sprintf("── %s ", scope))))
}

// RenderEvent draws one inbound event for scope.
func (r *Renderer) RenderEvent(scope string, ev protocol.Event) {
	if scope != r.lastScope {
		r.RenderScopeHeader(scope)
	}

	switch m := ev.Msg.(type) {
	case protocol.TaskStarted:
		r.turns[scope] = r.now()
	case protocol.AgentReasoning:
		fmt.Fprintln(r.writer, r.styles.Dim.Render(m.Text()))
	case protocol.AgentMessage, protocol.AssistantMessage:
		fmt.Fprintln(r.writer, m.Text())
	case protocol.ExecCommandBegin:
		fmt.Fprintf(r.writer, "%s %s\n", r.styles.Symbol(SymbolExec, true), m.Text())
	case protocol.ExecCommandEnd:
		if m.ExitCode == 0 {
			fmt.Fprintf(r.writer, "%s done\n", r.styles.Symbol(SymbolSuccess, true))
		} else {
			fmt.Fprintf(r.writer, "%s exit code %d\n", r.styles.Symbol(SymbolError, false), m.ExitCode)
		}
		r.renderOutput(m.Text())
	case protocol.PatchApplyBegin:
		fmt.Fprintf(r.writer, "%s patch %s\n", r.styles.Symbol(SymbolToolPending, true), strings.ReplaceAll(m.Text(), "\n", ", "))
	case protocol.PatchApplyEnd:
		fmt.Fprintf(r.writer, "%s patch\n", r.styles.Symbol(SymbolToolComplete, m.Success))
		if !m.Success {
			r.renderOutput(m.Text())
		}
	case protocol.McpToolCallBegin:
		fmt.Fprintf(r.writer, "%s %s\n", r.styles.Symbol(SymbolToolPending, true), m.Text())
	case protocol.McpToolCallEnd:
		fmt.Fprintf(r.writer, "%s tool\n", r.styles.Symbol(SymbolToolComplete, !m.Failed()))
		r.renderOutput(m.Text())
	case protocol.ExecApprovalRequest, protocol.ApplyPatchApprovalRequest:
		r.RenderApprovalRequest(ev)
	case protocol.ErrorMessage:
		r.RenderError(m.Text())
	case protocol.TaskComplete:
		r.renderFooter(scope)
	case protocol.Unknown:
		if text := m.Text(); text != "" {
			fmt.Fprintln(r.writer, r.styles.Dim.Render(fmt.Sprintf("[%s] %s", m.Kind, text)))
		}
	}
}

// RenderApprovalRequest draws the question for an approval request and the
// accepted answers.
func (r *Renderer) RenderApprovalRequest(ev protocol.Event) {
	q := r.styles.Question
	switch m := ev.Msg.(type) {
	case protocol.ExecApprovalRequest:
		fmt.Fprintf(r.writer, "%s %s\n", r.styles.Symbol(SymbolQuestion, true), q.Render("run: "+m.Text()))
		if m.Cwd != "" {
			fmt.Fprintln(r.writer, r.styles.Dim.Render("   in "+m.Cwd))
		}
		if m.Reason != "" {
			fmt.Fprintln(r.writer, r.styles.Dim.Render("   "+m.Reason))
		}
	case protocol.ApplyPatchApprovalRequest:
		fmt.Fprintf(r.writer, "%s %s\n", r.styles.Symbol(SymbolQuestion, true), q.Render("apply patch:"))
		for _, path := range strings.Split(m.Text(), "\n") {
			if path != "" {
				fmt.Fprintln(r.writer, r.styles.Dim.Render("   "+path))
			}
		}
		if m.Reason != "" {
			fmt.Fprintln(r.writer, r.styles.Dim.Render("   "+m.Reason))
		}
	default:
		return
	}
	fmt.Fprintln(r.writer, r.styles.Dim.Render("   [y] approve  [a] approve for session  [n] deny  [x] abort"))
}

// RenderSystemMessage renders a system/status message with → prefix
func (r *Renderer) RenderSystemMessage(message string) {
	fmt.Fprintln(r.writer, r.styles.SystemMessage.Render(fmt.Sprintf("%s %s", SymbolSystemMessage, message)))
}

// RenderError renders an error line with ✗ prefix.
func (r *Renderer) RenderError(message string) {
	fmt.Fprintf(r.writer, "%s %s\n", r.styles.Symbol(SymbolError, false), r.styles.Error.Render(message))
}

// BridgeStatus is one row of the /status table.
type BridgeStatus struct {
	Scope     string
	Pid       int
	SessionID string
	Resumed   bool
	Alive     bool
	StartedAt time.Time
	Current   bool
}

// RenderStatus draws a table of running bridges.
func (r *Renderer) RenderStatus(rows []BridgeStatus) {
	if len(rows) == 0 {
		r.RenderSystemMessage("no running agents")
		return
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(r.styles.Dim).
		Headers("", "SCOPE", "PID", "SESSION", "STATE", "STARTED")
	for _, row := range rows {
		marker := ""
		if row.Current {
			marker = "•"
		}
		state := "running"
		if !row.Alive {
			state = "exited"
		}
		session := row.SessionID
		if row.Resumed {
			session += " (resumed)"
		}
		t.Row(marker, row.Scope, fmt.Sprint(row.Pid), session, state, humanize.RelTime(row.StartedAt, r.now(), "ago", "from now"))
	}
	fmt.Fprintln(r.writer, t.Render())
}

// ScopeStatus is one row of the /scopes listing.
type ScopeStatus struct {
	Key     string
	Folder  string
	Running bool
	Current bool
}

// RenderScopes lists the open scopes.
func (r *Renderer) RenderScopes(rows []ScopeStatus) {
	fmt.Fprintln(r.writer, "Open scopes:")
	for _, row := range rows {
		marker := " "
		if row.Current {
			marker = "•"
		}
		status := "(idle)"
		if row.Running {
			status = "(running)"
		}
		fmt.Fprintf(r.writer, "  %s %-24s %s %s\n", marker, row.Key, r.styles.Dim.Render(row.Folder), status)
	}
}

func (r *Renderer) renderFooter(scope string) {
	footer := "── done "
	if started, ok := r.turns[scope]; ok {
		footer = fmt.Sprintf("── done · %.1fs ", r.now().Sub(started).Seconds())
		delete(r.turns, scope)
	}
	fmt.Fprintln(r.writer, r.styles.Header.Render(r.rule(footer)))
}

// renderOutput echoes the first lines of command output, dimmed.
func (r *Renderer) renderOutput(output string) {
	output = strings.TrimRight(output, "\n")
	if output == "" {
		return
	}
	lines := strings.Split(output, "\n")
	for i, line := range lines {
		if i == maxOutputLines {
			fmt.Fprintln(r.writer, r.styles.Dim.Render(fmt.Sprintf("   … %d more lines", len(lines)-maxOutputLines)))
			break
		}
		fmt.Fprintln(r.writer, r.styles.Dim.Render("   "+line))
	}
}

// rule pads prefix with ─ to the terminal width, capped at 60 columns.
func (r *Renderer) rule(prefix string) string {
	width := min(r.getTerminalWidth(), 60)
	pad := width - lipgloss.Width(prefix)
	if pad < 3 {
		pad = 3
	}
	return prefix + strings.Repeat("─", pad)
}

// getTerminalWidth returns the current terminal width, with a sensible default
func (r *Renderer) getTerminalWidth() int {
	if r.termWidth != nil {
		width := r.termWidth()
		if width > 0 {
			return width
		}
	}
	return 80 // Default fallback
}
