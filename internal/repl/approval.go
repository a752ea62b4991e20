package repl

import (
	"fmt"
	"strings"

	"github.com/atinylittleshell/codex-bridge/internal/bridge"
	"github.com/atinylittleshell/codex-bridge/internal/protocol"
	"github.com/samber/lo"
)

type pendingApproval struct {
	bridge *bridge.Bridge
	event  protocol.Event
}

// ParseDecision maps an answer to an approval decision. An empty answer
// denies.
func ParseDecision(answer string) (protocol.Decision, bool) {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "", "n", "no", "deny":
		return protocol.DecisionDenied, true
	case "y", "yes":
		return protocol.DecisionApproved, true
	case "a", "always":
		return protocol.DecisionApprovedForSession, true
	case "x", "abort":
		return protocol.DecisionAbort, true
	}
	return "", false
}

// answerApproval answers the oldest pending approval request.
func (r *REPL) answerApproval(answer string) {
	decision, ok := ParseDecision(answer)
	if !ok {
		r.renderer.RenderError(fmt.Sprintf("unknown answer %q: use y, a, n or x", answer))
		return
	}

	pending := r.approvals[0]
	r.approvals = r.approvals[1:]
	if err := pending.bridge.Respond(pending.event, decision); err != nil {
		r.renderer.RenderError(fmt.Sprintf("failed to send decision: %v", err))
		return
	}
	r.logger.Sugar().Debugw("approval answered", "scope", pending.bridge.Key, "event", pending.event.ID, "decision", decision)
	r.renderer.RenderSystemMessage(string(decision))
}

// dropApprovals discards pending approvals for a scope whose bridge is going
// away.
func (r *REPL) dropApprovals(key string) {
	r.approvals = lo.Reject(r.approvals, func(p pendingApproval, _ int) bool {
		return p.bridge.Key == key
	})
}
