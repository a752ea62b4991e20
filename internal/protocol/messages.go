package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/samber/lo"
)

// Inbound message type names.
const (
	MsgAssistantMessage          = "assistant_message"
	MsgAgentMessage              = "agent_message"
	MsgAgentReasoning            = "agent_reasoning"
	MsgTaskStarted               = "task_started"
	MsgTaskComplete              = "task_complete"
	MsgExecCommandBegin          = "exec_command_begin"
	MsgExecCommandEnd            = "exec_command_end"
	MsgExecApprovalRequest       = "exec_approval_request"
	MsgApplyPatchApprovalRequest = "apply_patch_approval_request"
	MsgPatchApplyBegin           = "patch_apply_begin"
	MsgPatchApplyEnd             = "patch_apply_end"
	MsgMcpToolCallBegin          = "mcp_tool_call_begin"
	MsgMcpToolCallEnd            = "mcp_tool_call_end"
	MsgError                     = "error"
)

// IsTerminal reports whether no further replies are expected for an id once
// a message of this type has been received.
func IsTerminal(msgType string) bool {
	return msgType == MsgAssistantMessage || msgType == MsgAgentMessage
}

// Message is the payload of an inbound event. The set of implementations is
// closed; types this package does not know decode to Unknown.
type Message interface {
	Type() string
	// Text is a short human-readable rendering of the message, or "".
	Text() string
	isMessage()
}

// ApprovalRequest is a message that blocks the agent until answered with
// Channel.Respond.
type ApprovalRequest interface {
	Message
	approvalOp() string
}

// Event is one inbound line.
type Event struct {
	ID       string
	ParentID string
	Msg      Message
}

// Type is shorthand for e.Msg.Type().
func (e Event) Type() string {
	if e.Msg == nil {
		return ""
	}
	return e.Msg.Type()
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var wire struct {
		ID       string          `json:"id"`
		ParentID string          `json:"parent_id"`
		Msg      json.RawMessage `json:"msg"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	msg, err := DecodeMessage(wire.Msg)
	if err != nil {
		return err
	}
	e.ID = wire.ID
	e.ParentID = wire.ParentID
	e.Msg = msg
	return nil
}

// DecodeMessage decodes a msg object into its concrete type.
func DecodeMessage(raw json.RawMessage) (Message, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return Unknown{}, nil
	}

	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("failed to decode msg: %w", err)
	}

	var msg Message
	var err error
	switch head.Type {
	case MsgAssistantMessage:
		msg, err = decodeInto[AssistantMessage](raw)
	case MsgAgentMessage:
		msg, err = decodeInto[AgentMessage](raw)
	case MsgAgentReasoning:
		msg, err = decodeInto[AgentReasoning](raw)
	case MsgTaskStarted:
		msg, err = decodeInto[TaskStarted](raw)
	case MsgTaskComplete:
		msg, err = decodeInto[TaskComplete](raw)
	case MsgExecCommandBegin:
		msg, err = decodeInto[ExecCommandBegin](raw)
	case MsgExecCommandEnd:
		msg, err = decodeInto[ExecCommandEnd](raw)
	case MsgExecApprovalRequest:
		msg, err = decodeInto[ExecApprovalRequest](raw)
	case MsgApplyPatchApprovalRequest:
		msg, err = decodeInto[ApplyPatchApprovalRequest](raw)
	case MsgPatchApplyBegin:
		msg, err = decodeInto[PatchApplyBegin](raw)
	case MsgPatchApplyEnd:
		msg, err = decodeInto[PatchApplyEnd](raw)
	case MsgMcpToolCallBegin:
		msg, err = decodeInto[McpToolCallBegin](raw)
	case MsgMcpToolCallEnd:
		msg, err = decodeInto[McpToolCallEnd](raw)
	case MsgError:
		msg, err = decodeInto[ErrorMessage](raw)
	default:
		return Unknown{Kind: head.Type, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
	if err != nil {
		// Keep the type so routing and terminal handling still apply.
		return Unknown{Kind: head.Type, Raw: append(json.RawMessage(nil), raw...), Malformed: true}, nil
	}
	return msg, nil
}

// CommandLine is a command given either as an argv list or as a single
// string.
type CommandLine []string

func (c *CommandLine) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if single == "" {
			*c = nil
		} else {
			*c = CommandLine{single}
		}
		return nil
	}
	var argv []string
	if err := json.Unmarshal(data, &argv); err != nil {
		return fmt.Errorf("command must be a string or a list of strings: %w", err)
	}
	*c = argv
	return nil
}

func (c CommandLine) String() string {
	return strings.Join(c, " ")
}

func decodeInto[T Message](raw json.RawMessage) (Message, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// AssistantMessage is a complete assistant reply.
type AssistantMessage struct {
	Items []InputItem `json:"items"`
}

func (AssistantMessage) Type() string { return MsgAssistantMessage }
func (m AssistantMessage) Text() string {
	var sb strings.Builder
	for _, item := range m.Items {
		if item.Type == "text" {
			sb.WriteString(item.Text)
		}
	}
	return sb.String()
}
func (AssistantMessage) isMessage() {}

// AgentMessage is the agent's final message for a turn.
type AgentMessage struct {
	Message string `json:"message"`
}

func (AgentMessage) Type() string   { return MsgAgentMessage }
func (m AgentMessage) Text() string { return m.Message }
func (AgentMessage) isMessage()     {}

// AgentReasoning is an intermediate reasoning summary.
type AgentReasoning struct {
	Reasoning string `json:"text"`
}

func (AgentReasoning) Type() string   { return MsgAgentReasoning }
func (m AgentReasoning) Text() string { return m.Reasoning }
func (AgentReasoning) isMessage()     {}

type TaskStarted struct{}

func (TaskStarted) Type() string { return MsgTaskStarted }
func (TaskStarted) Text() string { return "" }
func (TaskStarted) isMessage()   {}

type TaskComplete struct {
	LastAgentMessage string `json:"last_agent_message"`
}

func (TaskComplete) Type() string   { return MsgTaskComplete }
func (m TaskComplete) Text() string { return m.LastAgentMessage }
func (TaskComplete) isMessage()     {}

// ExecCommandBegin announces a command the agent is about to run.
type ExecCommandBegin struct {
	CallID  string      `json:"call_id"`
	Command CommandLine `json:"command"`
	Cwd     string      `json:"cwd,omitempty"`
}

func (ExecCommandBegin) Type() string   { return MsgExecCommandBegin }
func (m ExecCommandBegin) Text() string { return m.Command.String() }
func (ExecCommandBegin) isMessage()     {}

// ExecCommandEnd reports the result of a command.
type ExecCommandEnd struct {
	CallID   string `json:"call_id"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

func (ExecCommandEnd) Type() string { return MsgExecCommandEnd }

// Text is stderr for failed commands when present, stdout otherwise.
func (m ExecCommandEnd) Text() string {
	if m.ExitCode != 0 && m.Stderr != "" {
		return m.Stderr
	}
	return m.Stdout
}
func (ExecCommandEnd) isMessage() {}

// ExecApprovalRequest asks whether a command may run.
type ExecApprovalRequest struct {
	Command CommandLine `json:"command"`
	Cwd     string      `json:"cwd,omitempty"`
	Reason  string      `json:"reason,omitempty"`
}

func (ExecApprovalRequest) Type() string       { return MsgExecApprovalRequest }
func (m ExecApprovalRequest) Text() string     { return m.Command.String() }
func (ExecApprovalRequest) isMessage()         {}
func (ExecApprovalRequest) approvalOp() string { return OpExecApproval }

// ApplyPatchApprovalRequest asks whether a patch may be applied.
type ApplyPatchApprovalRequest struct {
	Changes map[string]json.RawMessage `json:"changes"`
	Reason  string                     `json:"reason,omitempty"`
}

func (ApplyPatchApprovalRequest) Type() string       { return MsgApplyPatchApprovalRequest }
func (m ApplyPatchApprovalRequest) Text() string     { return strings.Join(sortedKeys(m.Changes), "\n") }
func (ApplyPatchApprovalRequest) isMessage()         {}
func (ApplyPatchApprovalRequest) approvalOp() string { return OpPatchApproval }

// PatchApplyBegin announces a patch; Changes maps file paths to the change.
type PatchApplyBegin struct {
	CallID       string                     `json:"call_id"`
	AutoApproved bool                       `json:"auto_approved"`
	Changes      map[string]json.RawMessage `json:"changes"`
}

func (PatchApplyBegin) Type() string   { return MsgPatchApplyBegin }
func (m PatchApplyBegin) Text() string { return strings.Join(sortedKeys(m.Changes), "\n") }
func (PatchApplyBegin) isMessage()     {}

type PatchApplyEnd struct {
	CallID  string `json:"call_id"`
	Stdout  string `json:"stdout"`
	Stderr  string `json:"stderr"`
	Success bool   `json:"success"`
}

func (PatchApplyEnd) Type() string { return MsgPatchApplyEnd }
func (m PatchApplyEnd) Text() string {
	if !m.Success && m.Stderr != "" {
		return m.Stderr
	}
	return m.Stdout
}
func (PatchApplyEnd) isMessage() {}

type McpToolCallBegin struct {
	CallID    string          `json:"call_id"`
	Server    string          `json:"server"`
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

func (McpToolCallBegin) Type() string   { return MsgMcpToolCallBegin }
func (m McpToolCallBegin) Text() string { return m.Server + "." + m.Tool }
func (McpToolCallBegin) isMessage()     {}

// McpToolCallEnd carries the tool result as {"Ok": ...} or {"Err": ...}.
type McpToolCallEnd struct {
	CallID string          `json:"call_id"`
	Result json.RawMessage `json:"result"`
}

func (McpToolCallEnd) Type() string { return MsgMcpToolCallEnd }
func (m McpToolCallEnd) Text() string {
	var result struct {
		Ok *struct {
			Content []InputItem `json:"content"`
		} `json:"Ok"`
		Err json.RawMessage `json:"Err"`
	}
	if err := json.Unmarshal(m.Result, &result); err != nil {
		return string(m.Result)
	}
	if result.Ok != nil {
		texts := make([]string, 0, len(result.Ok.Content))
		for _, c := range result.Ok.Content {
			texts = append(texts, c.Text)
		}
		return strings.TrimSpace(strings.Join(texts, "\n"))
	}
	if len(result.Err) > 0 {
		return "Error: " + strings.Trim(string(result.Err), `"`)
	}
	return string(m.Result)
}
func (McpToolCallEnd) isMessage() {}

// Failed reports whether the tool returned an Err result.
func (m McpToolCallEnd) Failed() bool {
	var result struct {
		Err json.RawMessage `json:"Err"`
	}
	return json.Unmarshal(m.Result, &result) == nil && len(result.Err) > 0 && string(result.Err) != "null"
}

type ErrorMessage struct {
	Message string `json:"message"`
}

func (ErrorMessage) Type() string   { return MsgError }
func (m ErrorMessage) Text() string { return m.Message }
func (ErrorMessage) isMessage()     {}

// Unknown holds any message type this package does not model. It is never
// terminal.
type Unknown struct {
	Kind string
	Raw  json.RawMessage
	// Malformed is set when Kind is a known type whose payload did not
	// decode.
	Malformed bool
}

func (m Unknown) Type() string { return m.Kind }

// Text looks for the first well-known text-bearing field.
func (m Unknown) Text() string {
	if len(m.Raw) == 0 {
		return ""
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(m.Raw, &fields); err != nil {
		return ""
	}
	for _, key := range []string{"text", "message", "last_agent_message", "command", "stdout", "stderr"} {
		v, ok := fields[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			return s
		}
		return string(v)
	}
	return ""
}
func (Unknown) isMessage() {}

func sortedKeys[V any](m map[string]V) []string {
	keys := lo.Keys(m)
	slices.Sort(keys)
	return keys
}
