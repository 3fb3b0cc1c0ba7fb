package workflow

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/fata/pkg/processes"
	"github.com/go-go-golems/fata/pkg/queue"
)

const DefaultStatusPollInterval = 5 * time.Second

// ApprovalLauncher runs an approval workflow for a long-running process:
// it invokes the workflow, polls it to a terminal outcome, and publishes the
// resulting status update to the queue. It never reports back to the caller
// that started the process; the reconciler is the only path into the
// registry.
type ApprovalLauncher struct {
	invoker      Invoker
	publisher    message.Publisher
	topic        string
	workflow     string
	pollInterval time.Duration
}

type LauncherOption func(*ApprovalLauncher)

func WithTopic(topic string) LauncherOption {
	return func(l *ApprovalLauncher) {
		l.topic = topic
	}
}

func WithStatusPollInterval(interval time.Duration) LauncherOption {
	return func(l *ApprovalLauncher) {
		l.pollInterval = interval
	}
}

func NewApprovalLauncher(invoker Invoker, publisher message.Publisher, workflowName string, options ...LauncherOption) *ApprovalLauncher {
	ret := &ApprovalLauncher{
		invoker:      invoker,
		publisher:    publisher,
		topic:        queue.DefaultTopic,
		workflow:     workflowName,
		pollInterval: DefaultStatusPollInterval,
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

// Launch invokes the workflow and follows it to completion, publishing the
// outcome as a status update. It blocks until the workflow terminates and
// is meant to run on a detached goroutine.
func (l *ApprovalLauncher) Launch(ctx context.Context, processID string, featureSpec string) error {
	runID, err := l.invoker.Invoke(ctx, l.workflow, map[string]interface{}{
		"process_id":   processID,
		"feature_spec": featureSpec,
	})
	if err != nil {
		l.publishFailure(processID, err)
		return errors.Wrapf(err, "failed to invoke workflow for process %s", processID)
	}

	outcome, err := l.waitForOutcome(ctx, runID)
	if err != nil {
		l.publishFailure(processID, err)
		return err
	}

	update := queue.StatusUpdate{ProcessID: processID}
	if outcome.Succeeded() {
		update.Status = processes.StatusCompleted
		update.Message = outcome.Decision
	} else {
		update.Status = processes.StatusFailed
		update.Message = map[string]interface{}{
			"workflow_status": outcome.Status,
		}
	}

	return l.publish(update)
}

func (l *ApprovalLauncher) waitForOutcome(ctx context.Context, runID string) (Outcome, error) {
	for {
		outcome, err := l.invoker.Status(ctx, l.workflow, runID)
		if err != nil {
			return Outcome{}, errors.Wrapf(err, "failed to poll workflow run %s", runID)
		}
		if outcome.Terminal() {
			log.Debug().
				Str("run_id", runID).
				Str("status", outcome.Status).
				Msg("workflow run finished")
			return outcome, nil
		}

		log.Debug().Str("run_id", runID).Msg("workflow run still in progress")
		select {
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		case <-time.After(l.pollInterval):
		}
	}
}

// publishFailure reports launch failures through the same queue path as
// regular outcomes, so the conversation can learn that the delegated work
// never got off the ground.
func (l *ApprovalLauncher) publishFailure(processID string, cause error) {
	err := l.publish(queue.StatusUpdate{
		ProcessID: processID,
		Status:    processes.StatusFailed,
		Message: map[string]interface{}{
			"error": cause.Error(),
		},
	})
	if err != nil {
		log.Error().Err(err).Str("process_id", processID).Msg("failed to publish launch failure")
	}
}

func (l *ApprovalLauncher) publish(update queue.StatusUpdate) error {
	msg, err := update.ToMessage()
	if err != nil {
		return err
	}
	return errors.Wrap(l.publisher.Publish(l.topic, msg), "failed to publish status update")
}
