package openairuntime

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"

	"github.com/go-go-golems/fata/pkg/runtime"
)

// Runtime adapts the OpenAI assistants API (threads, messages, runs,
// tool-output submission) to the runtime.AgentRuntime boundary the
// orchestration core consumes.
type Runtime struct {
	client      *go_openai.Client
	assistantID string
}

var _ runtime.AgentRuntime = (*Runtime)(nil)

// NewRuntime wraps an existing client and a resolved assistant id. Use
// EnsureAssistant to resolve or create the assistant first.
func NewRuntime(client *go_openai.Client, assistantID string) *Runtime {
	return &Runtime{
		client:      client,
		assistantID: assistantID,
	}
}

func (r *Runtime) CreateThread(ctx context.Context) (string, error) {
	thread, err := r.client.CreateThread(ctx, go_openai.ThreadRequest{})
	if err != nil {
		return "", errors.Wrap(err, "failed to create thread")
	}
	log.Debug().Str("thread_id", thread.ID).Msg("created thread")
	return thread.ID, nil
}

func (r *Runtime) GetThread(ctx context.Context, threadID string) error {
	_, err := r.client.RetrieveThread(ctx, threadID)
	if err != nil {
		return mapNotFound(err, "failed to retrieve thread")
	}
	return nil
}

func (r *Runtime) AppendMessage(ctx context.Context, threadID string, role string, content string) error {
	_, err := r.client.CreateMessage(ctx, threadID, go_openai.MessageRequest{
		Role:    role,
		Content: content,
	})
	if err != nil {
		return mapNotFound(err, "failed to append message")
	}
	return nil
}

// ListMessages returns the thread history, most recent first (the API's
// default ordering).
func (r *Runtime) ListMessages(ctx context.Context, threadID string) ([]runtime.Message, error) {
	list, err := r.client.ListMessage(ctx, threadID, nil, nil, nil, nil, nil)
	if err != nil {
		return nil, mapNotFound(err, "failed to list messages")
	}

	ret := make([]runtime.Message, 0, len(list.Messages))
	for _, msg := range list.Messages {
		ret = append(ret, runtime.Message{
			Role:    msg.Role,
			Content: firstTextContent(msg),
		})
	}
	return ret, nil
}

func (r *Runtime) CreateRun(ctx context.Context, threadID string) (runtime.Run, error) {
	run, err := r.client.CreateRun(ctx, threadID, go_openai.RunRequest{
		AssistantID: r.assistantID,
	})
	if err != nil {
		return runtime.Run{}, mapNotFound(err, "failed to create run")
	}
	return convertRun(threadID, run), nil
}

func (r *Runtime) GetRun(ctx context.Context, threadID string, runID string) (runtime.Run, error) {
	run, err := r.client.RetrieveRun(ctx, threadID, runID)
	if err != nil {
		return runtime.Run{}, mapNotFound(err, "failed to retrieve run")
	}
	return convertRun(threadID, run), nil
}

func (r *Runtime) CancelRun(ctx context.Context, threadID string, runID string) error {
	_, err := r.client.CancelRun(ctx, threadID, runID)
	if err != nil {
		return mapNotFound(err, "failed to cancel run")
	}
	return nil
}

func (r *Runtime) SubmitToolOutputs(ctx context.Context, threadID string, runID string, results []runtime.ToolCallResult) error {
	outputs := make([]go_openai.ToolOutput, 0, len(results))
	for _, result := range results {
		outputs = append(outputs, go_openai.ToolOutput{
			ToolCallID: result.CallID,
			Output:     result.Output,
		})
	}

	_, err := r.client.SubmitToolOutputs(ctx, threadID, runID, go_openai.SubmitToolOutputsRequest{
		ToolOutputs: outputs,
	})
	if err != nil {
		return mapNotFound(err, "failed to submit tool outputs")
	}
	return nil
}

func convertRun(threadID string, run go_openai.Run) runtime.Run {
	ret := runtime.Run{
		ID:       run.ID,
		ThreadID: threadID,
		Status:   convertStatus(run.Status),
	}

	if run.LastError != nil {
		ret.LastError = run.LastError.Message
	}

	if run.Status == go_openai.RunStatusRequiresAction &&
		run.RequiredAction != nil &&
		run.RequiredAction.SubmitToolOutputs != nil {
		for _, call := range run.RequiredAction.SubmitToolOutputs.ToolCalls {
			ret.PendingToolCalls = append(ret.PendingToolCalls, runtime.ToolCallRequest{
				ID:        call.ID,
				Name:      call.Function.Name,
				Arguments: call.Function.Arguments,
			})
		}
	}

	return ret
}

func convertStatus(status go_openai.RunStatus) runtime.RunStatus {
	switch status {
	case go_openai.RunStatusQueued:
		return runtime.RunStatusQueued
	case go_openai.RunStatusInProgress, go_openai.RunStatusCancelling:
		return runtime.RunStatusInProgress
	case go_openai.RunStatusRequiresAction:
		return runtime.RunStatusRequiresAction
	case go_openai.RunStatusCompleted:
		return runtime.RunStatusCompleted
	case go_openai.RunStatusCancelled:
		return runtime.RunStatusCancelled
	case go_openai.RunStatusExpired:
		return runtime.RunStatusExpired
	default:
		return runtime.RunStatusFailed
	}
}

func firstTextContent(msg go_openai.Message) string {
	for _, content := range msg.Content {
		if content.Text != nil {
			return content.Text.Value
		}
	}
	return ""
}

func mapNotFound(err error, msg string) error {
	var apiErr *go_openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusNotFound {
		return runtime.ErrThreadNotFound
	}
	return errors.Wrap(err, msg)
}
