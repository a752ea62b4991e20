package render

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/atinylittleshell/codex-bridge/internal/protocol"
	"github.com/stretchr/testify/assert"
)

func newTestRenderer() (*Renderer, *bytes.Buffer) {
	var buf bytes.Buffer
	r := New(&buf, false, func() int { return 40 })
	return r, &buf
}

func event(id string, msg protocol.Message) protocol.Event {
	return protocol.Event{ID: id, Msg: msg}
}

func TestRenderEvent_HeaderOncePerScope(t *testing.T) {
	r, buf := newTestRenderer()

	r.RenderEvent("alpha", event("1", protocol.AgentMessage{Message: "hello"}))
	r.RenderEvent("alpha", event("1", protocol.AgentMessage{Message: "again"}))
	r.RenderEvent("beta", event("2", protocol.AgentMessage{Message: "other"}))

	output := buf.String()
	assert.Equal(t, 1, strings.Count(output, "── alpha "))
	assert.Equal(t, 1, strings.Count(output, "── beta "))
	assert.Contains(t, output, "hello\nagain\n")
	assert.NotContains(t, output, "\x1b[", "no escape sequences without color")
}

func TestRenderEvent_Variants(t *testing.T) {
	tests := []struct {
		name string
		msg  protocol.Message
		want []string
	}{
		{"reasoning", protocol.AgentReasoning{Reasoning: "thinking hard"}, []string{"thinking hard"}},
		{"assistant", protocol.AssistantMessage{Items: []protocol.InputItem{{Type: "text", Text: "hi there"}}}, []string{"hi there"}},
		{"exec begin", protocol.ExecCommandBegin{Command: []string{"ls", "-la"}}, []string{SymbolExec + " ls -la"}},
		{"exec ok", protocol.ExecCommandEnd{Stdout: "a\nb\n"}, []string{SymbolSuccess + " done", "   a", "   b"}},
		{"exec failed", protocol.ExecCommandEnd{ExitCode: 2, Stderr: "boom"}, []string{SymbolError + " exit code 2", "   boom"}},
		{"patch begin", protocol.PatchApplyBegin{Changes: map[string]json.RawMessage{"b.go": nil, "a.go": nil}}, []string{SymbolToolPending + " patch a.go, b.go"}},
		{"patch failed", protocol.PatchApplyEnd{Stderr: "conflict"}, []string{SymbolToolComplete + " patch", "   conflict"}},
		{"tool begin", protocol.McpToolCallBegin{Server: "fs", Tool: "read"}, []string{SymbolToolPending + " fs.read"}},
		{"tool end", protocol.McpToolCallEnd{Result: json.RawMessage(`{"Err":"timeout"}`)}, []string{SymbolToolComplete + " tool", "Error: timeout"}},
		{"error", protocol.ErrorMessage{Message: "rate limited"}, []string{SymbolError + " rate limited"}},
		{"unknown", protocol.Unknown{Kind: "token_count", Raw: json.RawMessage(`{"type":"token_count","text":"42"}`)}, []string{"[token_count] 42"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, buf := newTestRenderer()
			r.RenderEvent("s", event("1", tt.msg))
			for _, want := range tt.want {
				assert.Contains(t, buf.String(), want)
			}
		})
	}
}

func TestRenderEvent_UnknownWithoutTextIsSilent(t *testing.T) {
	r, buf := newTestRenderer()
	r.RenderScopeHeader("s")
	buf.Reset()

	r.RenderEvent("s", event("1", protocol.Unknown{Kind: "token_count", Raw: json.RawMessage(`{"type":"token_count"}`)}))
	r.RenderEvent("s", event("1", protocol.TaskStarted{}))
	assert.Empty(t, buf.String())
}

func TestRenderEvent_CommandOutputIsTruncated(t *testing.T) {
	r, buf := newTestRenderer()
	r.RenderEvent("s", event("1", protocol.ExecCommandEnd{Stdout: "1\n2\n3\n4\n5\n6\n7\n"}))

	output := buf.String()
	assert.Contains(t, output, "   5\n")
	assert.NotContains(t, output, "   6\n")
	assert.Contains(t, output, "… 2 more lines")
}

func TestRenderEvent_FooterTiming(t *testing.T) {
	r, buf := newTestRenderer()
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r.now = func() time.Time { return start }
	r.RenderEvent("s", event("1", protocol.TaskStarted{}))

	r.now = func() time.Time { return start.Add(2500 * time.Millisecond) }
	r.RenderEvent("s", event("1", protocol.TaskComplete{}))
	assert.Contains(t, buf.String(), "── done · 2.5s ")

	// A second completion without a start has no timing.
	buf.Reset()
	r.RenderEvent("s", event("1", protocol.TaskComplete{}))
	assert.Contains(t, buf.String(), "── done ─")
}

func TestRenderApprovalRequest(t *testing.T) {
	r, buf := newTestRenderer()
	r.RenderEvent("s", event("7", protocol.ExecApprovalRequest{
		Command: []string{"rm", "-rf", "build"},
		Cwd:     "/work",
		Reason:  "clean build output",
	}))

	output := buf.String()
	assert.Contains(t, output, SymbolQuestion+" run: rm -rf build")
	assert.Contains(t, output, "in /work")
	assert.Contains(t, output, "clean build output")
	assert.Contains(t, output, "[y] approve")

	buf.Reset()
	r.RenderApprovalRequest(event("8", protocol.ApplyPatchApprovalRequest{
		Changes: map[string]json.RawMessage{"main.go": nil},
	}))
	assert.Contains(t, buf.String(), "apply patch:")
	assert.Contains(t, buf.String(), "   main.go")

	buf.Reset()
	r.RenderApprovalRequest(event("9", protocol.AgentMessage{Message: "not a question"}))
	assert.Empty(t, buf.String())
}

func TestRenderStatus(t *testing.T) {
	r, buf := newTestRenderer()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r.now = func() time.Time { return now }

	r.RenderStatus(nil)
	assert.Contains(t, buf.String(), "no running agents")

	buf.Reset()
	r.RenderStatus([]BridgeStatus{
		{Scope: "/work/app", Pid: 4242, SessionID: "abc", Resumed: true, Alive: true, StartedAt: now.Add(-3 * time.Minute), Current: true},
		{Scope: "__global__", Pid: 99, SessionID: "def", StartedAt: now.Add(-time.Hour)},
	})
	output := buf.String()
	assert.Contains(t, output, "SCOPE")
	assert.Contains(t, output, "/work/app")
	assert.Contains(t, output, "4242")
	assert.Contains(t, output, "abc (resumed)")
	assert.Contains(t, output, "3 minutes ago")
	assert.Contains(t, output, "exited")
	assert.Contains(t, output, "•")
}

func TestRenderScopes(t *testing.T) {
	r, buf := newTestRenderer()
	r.RenderScopes([]ScopeStatus{
		{Key: "/work/app", Folder: "/work/app", Running: true, Current: true},
		{Key: "__global__", Folder: "/home/me"},
	})
	output := buf.String()
	assert.Contains(t, output, "• /work/app")
	assert.Contains(t, output, "(running)")
	assert.Contains(t, output, "(idle)")
}

func TestRenderSystemMessageAndError(t *testing.T) {
	r, buf := newTestRenderer()
	r.RenderSystemMessage("scope closed")
	r.RenderError("no credential")
	assert.Equal(t, SymbolSystemMessage+" scope closed\n"+SymbolError+" no credential\n", buf.String())
}

func TestStyledSymbol(t *testing.T) {
	r, _ := newTestRenderer()
	s := r.Styles()
	for _, symbol := range []string{SymbolExec, SymbolToolPending, SymbolToolComplete, SymbolSuccess, SymbolError, SymbolSystemMessage, SymbolQuestion, "?!"} {
		assert.Equal(t, symbol, s.Symbol(symbol, true))
	}
}
