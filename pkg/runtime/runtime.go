package runtime

import (
	"context"

	"github.com/pkg/errors"
)

// RunStatus is the closed set of states a conversation run moves through.
type RunStatus string

const (
	RunStatusQueued         RunStatus = "queued"
	RunStatusInProgress     RunStatus = "in_progress"
	RunStatusRequiresAction RunStatus = "requires_action"
	RunStatusCompleted      RunStatus = "completed"
	RunStatusFailed         RunStatus = "failed"
	RunStatusCancelled      RunStatus = "cancelled"
	RunStatusExpired        RunStatus = "expired"
)

// InFlight reports whether the run still needs to be polled.
func (s RunStatus) InFlight() bool {
	switch s {
	case RunStatusQueued, RunStatusInProgress, RunStatusRequiresAction:
		return true
	default:
		return false
	}
}

// Run is one attempt by the agent runtime to produce a response for a
// thread. PendingToolCalls is populated only in the requires_action status,
// in the order the runtime reported them.
type Run struct {
	ID               string
	ThreadID         string
	Status           RunStatus
	PendingToolCalls []ToolCallRequest
	LastError        string
}

// ToolCallRequest is one invocation the agent runtime wants performed.
// Arguments is the raw JSON argument payload, tool-specific.
type ToolCallRequest struct {
	ID        string
	Name      string
	Arguments string
}

// ToolCallResult carries a tool's output back to the run, keyed by the
// originating call identifier.
type ToolCallResult struct {
	CallID string
	Output string
}

// Message is one entry of a thread's history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolDefinition describes a callable tool the way the agent runtime wants
// it advertised: a name, a human description and a JSON schema for its
// arguments.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// ErrThreadNotFound is returned when a referenced thread does not exist on
// the agent runtime. Callers surface it as a client error, never as a
// service failure.
var ErrThreadNotFound = errors.New("thread not found")

// AgentRuntime is the language-model-backed collaborator the orchestration
// core drives: it owns threads, messages and runs, and decides when a tool
// should be called. Implementations wrap a concrete provider.
type AgentRuntime interface {
	CreateThread(ctx context.Context) (string, error)
	GetThread(ctx context.Context, threadID string) error
	AppendMessage(ctx context.Context, threadID string, role string, content string) error
	ListMessages(ctx context.Context, threadID string) ([]Message, error)

	CreateRun(ctx context.Context, threadID string) (Run, error)
	GetRun(ctx context.Context, threadID string, runID string) (Run, error)
	CancelRun(ctx context.Context, threadID string, runID string) error
	SubmitToolOutputs(ctx context.Context, threadID string, runID string, results []ToolCallResult) error
}
