// Package protocol implements the line-delimited JSON protocol spoken by the
// codex agent in `proto` mode.
//
// Outbound envelopes carry an id and an op; inbound events echo the id of the
// request they belong to and carry a typed msg. A Channel frames both
// directions over the agent's stdio and routes events to per-id callbacks.
package protocol

// Op type names.
const (
	OpConfigureSession = "configure_session"
	OpUserInput        = "user_input"
	OpExecApproval     = "exec_approval"
	OpPatchApproval    = "patch_approval"
)

// Envelope is a single outbound request.
type Envelope struct {
	ID string `json:"id"`
	Op any    `json:"op"`
}

// InputItem is one item of user input.
type InputItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// UserInputOp submits user input to the agent.
type UserInputOp struct {
	Type  string      `json:"type"`
	Items []InputItem `json:"items"`
}

// Provider describes the model provider in a configure_session op.
type Provider struct {
	Name    string `json:"name"`
	BaseURL string `json:"base_url"`
	WireAPI string `json:"wire_api"`
	EnvKey  string `json:"env_key"`
}

// SandboxPolicy lists what the agent may touch and how.
type SandboxPolicy struct {
	Mode        string   `json:"mode"`
	Permissions []string `json:"permissions"`
}

// ConfigureSessionOp establishes model, policy and sandbox for a session.
type ConfigureSessionOp struct {
	Type           string        `json:"type"`
	Model          string        `json:"model"`
	ApprovalPolicy string        `json:"approval_policy"`
	Provider       Provider      `json:"provider"`
	SandboxPolicy  SandboxPolicy `json:"sandbox_policy"`
	Cwd            string        `json:"cwd"`
}

// Decision answers an approval request.
type Decision string

const (
	DecisionApproved           Decision = "approved"
	DecisionApprovedForSession Decision = "approved_for_session"
	DecisionDenied             Decision = "denied"
	DecisionAbort              Decision = "abort"
)

// Valid reports whether d is one of the known decisions.
func (d Decision) Valid() bool {
	switch d {
	case DecisionApproved, DecisionApprovedForSession, DecisionDenied, DecisionAbort:
		return true
	}
	return false
}

// ApprovalOp answers an exec or patch approval request. ID is the id of the
// event that asked.
type ApprovalOp struct {
	Type     string   `json:"type"`
	ID       string   `json:"id"`
	Decision Decision `json:"decision"`
}

// NewUserInput builds a user_input envelope with a single text item.
func NewUserInput(id, text string) Envelope {
	return Envelope{
		ID: id,
		Op: UserInputOp{
			Type:  OpUserInput,
			Items: []InputItem{{Type: "text", Text: text}},
		},
	}
}

// NewConfigureSession builds the configure_session envelope for sessionID.
func NewConfigureSession(sessionID string, op ConfigureSessionOp) Envelope {
	op.Type = OpConfigureSession
	if op.SandboxPolicy.Permissions == nil {
		op.SandboxPolicy.Permissions = []string{}
	}
	return Envelope{ID: sessionID, Op: op}
}

// NewExecApproval answers an exec_approval_request event.
func NewExecApproval(sessionID, eventID string, d Decision) Envelope {
	return Envelope{
		ID: sessionID,
		Op: ApprovalOp{Type: OpExecApproval, ID: eventID, Decision: d},
	}
}

// NewPatchApproval answers an apply_patch_approval_request event.
func NewPatchApproval(sessionID, eventID string, d Decision) Envelope {
	return Envelope{
		ID: sessionID,
		Op: ApprovalOp{Type: OpPatchApproval, ID: eventID, Decision: d},
	}
}
