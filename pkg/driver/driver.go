package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/fata/pkg/runtime"
)

// ErrStalledRun is returned when the agent runtime reports requires_action
// with an empty tool-call list. The run is cancelled before returning.
var ErrStalledRun = errors.New("run stalled: requires action with no tool calls")

// ErrPollTimeout is returned when a run does not reach a terminal status
// within the configured poll timeout. The run is cancelled before
// returning.
var ErrPollTimeout = errors.New("run polling timed out")

// RunFailedError reports a run that ended in a failure status.
type RunFailedError struct {
	Status runtime.RunStatus
	Reason string
}

func (e *RunFailedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("run ended with status %s", e.Status)
	}
	return fmt.Sprintf("run ended with status %s: %s", e.Status, e.Reason)
}

// ToolDispatcher resolves one tool-call request into a result.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, call runtime.ToolCallRequest) (runtime.ToolCallResult, error)
}

const (
	DefaultPollInterval = 1 * time.Second
	DefaultPollTimeout  = 5 * time.Minute
)

// Driver drives one conversation turn from user message to assistant
// response, resolving tool-call round-trips through the dispatcher as the
// run requires them. Runs on distinct threads are independent; RunTurn may
// be called concurrently.
type Driver struct {
	rt           runtime.AgentRuntime
	dispatcher   ToolDispatcher
	pollInterval time.Duration
	pollTimeout  time.Duration
}

type Option func(*Driver)

// WithPollInterval overrides the fixed poll interval.
func WithPollInterval(interval time.Duration) Option {
	return func(d *Driver) {
		d.pollInterval = interval
	}
}

// WithPollTimeout bounds the total time spent polling one run.
func WithPollTimeout(timeout time.Duration) Option {
	return func(d *Driver) {
		d.pollTimeout = timeout
	}
}

func NewDriver(rt runtime.AgentRuntime, dispatcher ToolDispatcher, options ...Option) *Driver {
	ret := &Driver{
		rt:           rt,
		dispatcher:   dispatcher,
		pollInterval: DefaultPollInterval,
		pollTimeout:  DefaultPollTimeout,
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

// RunTurn appends the user message to the thread, starts a run and polls it
// to completion, returning the assistant's response text.
func (d *Driver) RunTurn(ctx context.Context, threadID string, text string) (string, error) {
	if err := d.rt.AppendMessage(ctx, threadID, "user", text); err != nil {
		return "", err
	}

	run, err := d.rt.CreateRun(ctx, threadID)
	if err != nil {
		return "", err
	}
	log.Debug().
		Str("thread_id", threadID).
		Str("run_id", run.ID).
		Msg("created run")

	deadline := time.Now().Add(d.pollTimeout)
	for run.Status.InFlight() {
		if time.Now().After(deadline) {
			log.Warn().
				Str("run_id", run.ID).
				Dur("timeout", d.pollTimeout).
				Msg("run polling timed out, cancelling run")
			d.cancelRun(ctx, threadID, run.ID)
			return "", ErrPollTimeout
		}

		select {
		case <-ctx.Done():
			d.cancelRun(context.WithoutCancel(ctx), threadID, run.ID)
			return "", ctx.Err()
		case <-time.After(d.pollInterval):
		}

		run, err = d.rt.GetRun(ctx, threadID, run.ID)
		if err != nil {
			return "", err
		}
		log.Debug().
			Str("run_id", run.ID).
			Str("status", string(run.Status)).
			Msg("polled run")

		if run.Status == runtime.RunStatusRequiresAction {
			if err := d.resolveToolCalls(ctx, threadID, run); err != nil {
				return "", err
			}
		}
	}

	switch run.Status {
	case runtime.RunStatusCompleted:
		return d.latestAssistantMessage(ctx, threadID)
	default:
		return "", &RunFailedError{Status: run.Status, Reason: run.LastError}
	}
}

// resolveToolCalls dispatches every pending call of one requires_action
// cycle, in list order, and submits the collected outputs as a single
// batch. A call that fails is logged and its result omitted; the turn
// continues with the remaining outputs.
func (d *Driver) resolveToolCalls(ctx context.Context, threadID string, run runtime.Run) error {
	if len(run.PendingToolCalls) == 0 {
		log.Warn().Str("run_id", run.ID).Msg("no tool calls provided, cancelling run")
		d.cancelRun(ctx, threadID, run.ID)
		return ErrStalledRun
	}

	results := make([]runtime.ToolCallResult, 0, len(run.PendingToolCalls))
	for _, call := range run.PendingToolCalls {
		result, err := d.dispatcher.Dispatch(ctx, call)
		if err != nil {
			log.Error().
				Err(err).
				Str("call_id", call.ID).
				Str("tool", call.Name).
				Msg("tool call failed, omitting result from batch")
			continue
		}
		results = append(results, result)
	}

	if len(results) == 0 {
		return nil
	}
	return d.rt.SubmitToolOutputs(ctx, threadID, run.ID, results)
}

// latestAssistantMessage returns the text of the most recent
// assistant-authored message on the thread.
func (d *Driver) latestAssistantMessage(ctx context.Context, threadID string) (string, error) {
	messages, err := d.rt.ListMessages(ctx, threadID)
	if err != nil {
		return "", err
	}

	// messages are ordered most recent first
	for _, msg := range messages {
		if msg.Role == "assistant" {
			return msg.Content, nil
		}
	}
	return "", errors.New("run completed but thread has no assistant message")
}

func (d *Driver) cancelRun(ctx context.Context, threadID string, runID string) {
	if err := d.rt.CancelRun(ctx, threadID, runID); err != nil {
		log.Error().Err(err).Str("run_id", runID).Msg("failed to cancel run")
	}
}
