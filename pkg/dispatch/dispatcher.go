package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/fata/pkg/processes"
	"github.com/go-go-golems/fata/pkg/runtime"
)

// Tool names the dispatcher recognizes. ToolStartLongRunningProcess is the
// distinguished long-running tool: it registers a process and schedules the
// delegated work detached instead of executing inline.
const (
	ToolStartLongRunningProcess = "start_long_running_process"
	ToolCheckProcessInbox       = "check_process_inbox"
)

// Launcher runs the delegated work for a long-running process. It is
// invoked on a detached goroutine; its only channel back into the system is
// the queue feeding the status reconciler, never a return value.
type Launcher interface {
	Launch(ctx context.Context, processID string, featureSpec string) error
}

// Handler executes one synchronous tool call and returns its output.
type Handler func(ctx context.Context, args json.RawMessage) (string, error)

// UnknownToolError marks a tool name the dispatcher has no handler for. The
// run driver treats it as a per-call failure, not a turn failure.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool: %s", e.Name)
}

// Dispatcher routes tool-call requests to handlers. The handler table is
// built once at construction; handlers hold their dependencies explicitly.
type Dispatcher struct {
	registry *processes.Registry
	launcher Launcher
	handlers map[string]Handler
}

func NewDispatcher(registry *processes.Registry, launcher Launcher) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		launcher: launcher,
	}
	d.handlers = map[string]Handler{
		ToolStartLongRunningProcess: d.startLongRunningProcess,
		ToolCheckProcessInbox:       d.checkProcessInbox,
	}
	return d
}

// Dispatch executes one tool-call request and returns the result keyed by
// the originating call id.
func (d *Dispatcher) Dispatch(ctx context.Context, call runtime.ToolCallRequest) (runtime.ToolCallResult, error) {
	handler, ok := d.handlers[call.Name]
	if !ok {
		return runtime.ToolCallResult{}, &UnknownToolError{Name: call.Name}
	}

	log.Debug().
		Str("tool", call.Name).
		Str("call_id", call.ID).
		Msg("executing tool call")

	output, err := handler(ctx, json.RawMessage(call.Arguments))
	if err != nil {
		return runtime.ToolCallResult{}, errors.Wrapf(err, "tool %s failed", call.Name)
	}

	return runtime.ToolCallResult{
		CallID: call.ID,
		Output: output,
	}, nil
}

// StartLongRunningProcessArgs is the argument payload of the
// start_long_running_process tool.
type StartLongRunningProcessArgs struct {
	FeatureSpec string `json:"feature_spec" jsonschema:"description=The feature specification to be processed"`
}

// startLongRunningProcess registers a new process and schedules the
// delegated work without blocking: the tool output is a receipt carrying
// the fresh process id, returned before the work has done anything.
func (d *Dispatcher) startLongRunningProcess(ctx context.Context, args json.RawMessage) (string, error) {
	var parsed StartLongRunningProcessArgs
	if err := json.Unmarshal(args, &parsed); err != nil {
		return "", errors.Wrap(err, "failed to parse start_long_running_process arguments")
	}

	processID := processes.NewProcessID()
	if err := d.registry.Create(processID); err != nil {
		return "", err
	}

	log.Info().Str("process_id", processID).Msg("starting long running process")

	// The delegated work outlives the chat turn: detach it from the turn's
	// cancellation. Its outcome reaches the registry only through the queue
	// and the reconciler.
	launchCtx := context.WithoutCancel(ctx)
	go func() {
		if err := d.launcher.Launch(launchCtx, processID, parsed.FeatureSpec); err != nil {
			log.Error().Err(err).Str("process_id", processID).Msg("delegated work failed to launch")
		}
	}()

	return fmt.Sprintf("Started long running process %s (Status: %s)", processID, processes.StatusRunning), nil
}

// CheckProcessInboxArgs is the argument payload of the check_process_inbox
// tool. ProcessID is optional; without it the whole inbox is returned.
type CheckProcessInboxArgs struct {
	ProcessID string `json:"process_id,omitempty" jsonschema:"description=The ID of the process to check. Omit to list every process."`
}

// checkProcessInbox returns the current registry contents verbatim as the
// tool output, so the agent can learn about completions mid-conversation.
func (d *Dispatcher) checkProcessInbox(_ context.Context, args json.RawMessage) (string, error) {
	var parsed CheckProcessInboxArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &parsed); err != nil {
			return "", errors.Wrap(err, "failed to parse check_process_inbox arguments")
		}
	}

	if parsed.ProcessID != "" {
		p, ok := d.registry.Get(parsed.ProcessID)
		if !ok {
			// mirror a missed dictionary lookup instead of erroring, so the
			// agent sees that the process is unknown
			return "null", nil
		}
		return marshalOutput(p)
	}

	return marshalOutput(d.registry.List())
}

func marshalOutput(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal tool output")
	}
	return string(b), nil
}
