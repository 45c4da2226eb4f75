package agent

import "strings"

// Role identifies who produced a conversation turn. The wire format
// follows the Gemini convention of "user" and "model"; providers that
// speak another dialect fold these into their own roles.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is one entry in the task conversation. A turn can carry several
// text parts; providers that only accept a single string join them
// with newlines.
type Turn struct {
	Role  Role
	Parts []string
}

// Text returns the turn's parts joined into one block.
func (t Turn) Text() string {
	return strings.Join(t.Parts, "\n")
}

// ToolCall is the model asking for a tool invocation.
type ToolCall struct {
	Name       string                 `json:"tool_name"`
	Parameters map[string]interface{} `json:"parameters"`
}

// ReplyKind discriminates the two shapes a provider reply can take.
type ReplyKind int

const (
	// ReplyText is plain prose from the model.
	ReplyText ReplyKind = iota
	// ReplyToolCall is a structured tool invocation.
	ReplyToolCall
)

// Reply is a single provider response. Call is set only when Kind is
// ReplyToolCall.
type Reply struct {
	Kind ReplyKind
	Text string
	Call *ToolCall
}

// Status is the terminal state of a task.
type Status string

const (
	// StatusFinished means the model produced a final answer.
	StatusFinished Status = "finished"
	// StatusStepLimit means the step budget ran out before an answer.
	StatusStepLimit Status = "step_limit_reached"
	// StatusAborted means the task was cancelled or failed.
	StatusAborted Status = "aborted"
)

// Outcome summarizes a completed task.
type Outcome struct {
	TaskID    string
	Status    Status
	FinalText string
	Steps     int
}

// Names of the control tools the loop intercepts itself. They are
// advertised to the model like any other tool, but never dispatched to
// the registry.
const (
	ToolFinishTask       = "finish_task"
	ToolRequestMoreSteps = "request_more_steps"
)
