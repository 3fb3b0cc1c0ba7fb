package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/fata/pkg/processes"
	"github.com/go-go-golems/fata/pkg/queue"
)

// capturePublisher records published status updates per topic.
type capturePublisher struct {
	mu       sync.Mutex
	messages map[string][]queue.StatusUpdate
}

func newCapturePublisher() *capturePublisher {
	return &capturePublisher{messages: make(map[string][]queue.StatusUpdate)}
}

func (p *capturePublisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, msg := range messages {
		update, err := queue.ParseStatusUpdate(msg.Payload)
		if err != nil {
			return err
		}
		p.messages[topic] = append(p.messages[topic], update)
	}
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func (p *capturePublisher) updates(topic string) []queue.StatusUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]queue.StatusUpdate(nil), p.messages[topic]...)
}

// scriptedInvoker returns canned outcomes in order.
type scriptedInvoker struct {
	invokeErr error
	outcomes  []Outcome
	idx       int
	invoked   []map[string]interface{}
}

func (i *scriptedInvoker) Invoke(_ context.Context, _ string, payload map[string]interface{}) (string, error) {
	if i.invokeErr != nil {
		return "", i.invokeErr
	}
	i.invoked = append(i.invoked, payload)
	return "wf-run-1", nil
}

func (i *scriptedInvoker) Status(context.Context, string, string) (Outcome, error) {
	outcome := i.outcomes[i.idx]
	if i.idx < len(i.outcomes)-1 {
		i.idx++
	}
	return outcome, nil
}

func TestLauncherPublishesCompletion(t *testing.T) {
	invoker := &scriptedInvoker{
		outcomes: []Outcome{
			{Status: WorkflowStatusRunning},
			{Status: WorkflowStatusSucceeded, Decision: map[string]interface{}{"SelectedOption": "Approve"}},
		},
	}
	publisher := newCapturePublisher()
	launcher := NewApprovalLauncher(invoker, publisher, "send-approval-email",
		WithStatusPollInterval(time.Millisecond),
	)

	err := launcher.Launch(context.Background(), "p1", "dark mode")
	require.NoError(t, err)

	require.Len(t, invoker.invoked, 1)
	assert.Equal(t, "p1", invoker.invoked[0]["process_id"])
	assert.Equal(t, "dark mode", invoker.invoked[0]["feature_spec"])

	updates := publisher.updates(queue.DefaultTopic)
	require.Len(t, updates, 1)
	assert.Equal(t, "p1", updates[0].ProcessID)
	assert.Equal(t, processes.StatusCompleted, updates[0].Status)
	assert.Equal(t, "Approve", updates[0].Message["SelectedOption"])
}

func TestLauncherPublishesWorkflowFailure(t *testing.T) {
	invoker := &scriptedInvoker{
		outcomes: []Outcome{{Status: "Failed"}},
	}
	publisher := newCapturePublisher()
	launcher := NewApprovalLauncher(invoker, publisher, "send-approval-email",
		WithStatusPollInterval(time.Millisecond),
	)

	err := launcher.Launch(context.Background(), "p1", "X")
	require.NoError(t, err)

	updates := publisher.updates(queue.DefaultTopic)
	require.Len(t, updates, 1)
	assert.Equal(t, processes.StatusFailed, updates[0].Status)
	assert.Equal(t, "Failed", updates[0].Message["workflow_status"])
}

func TestLauncherPublishesInvokeFailure(t *testing.T) {
	invoker := &scriptedInvoker{invokeErr: errors.New("workflow unreachable")}
	publisher := newCapturePublisher()
	launcher := NewApprovalLauncher(invoker, publisher, "send-approval-email")

	err := launcher.Launch(context.Background(), "p1", "X")
	require.Error(t, err)

	// the failure still reaches the registry through the queue path
	updates := publisher.updates(queue.DefaultTopic)
	require.Len(t, updates, 1)
	assert.Equal(t, processes.StatusFailed, updates[0].Status)
	assert.Contains(t, updates[0].Message["error"], "workflow unreachable")
}

func TestLauncherCustomTopic(t *testing.T) {
	invoker := &scriptedInvoker{
		outcomes: []Outcome{{Status: WorkflowStatusSucceeded}},
	}
	publisher := newCapturePublisher()
	launcher := NewApprovalLauncher(invoker, publisher, "wf",
		WithTopic("custom-topic"),
		WithStatusPollInterval(time.Millisecond),
	)

	require.NoError(t, launcher.Launch(context.Background(), "p1", "X"))
	assert.Len(t, publisher.updates("custom-topic"), 1)
	assert.Empty(t, publisher.updates(queue.DefaultTopic))
}

func TestSimulatorPublishesRequiresAction(t *testing.T) {
	publisher := newCapturePublisher()
	simulator := NewSimulator(publisher, queue.DefaultTopic, time.Millisecond)

	err := simulator.Launch(context.Background(), "p1", "X")
	require.NoError(t, err)

	updates := publisher.updates(queue.DefaultTopic)
	require.Len(t, updates, 1)
	assert.Equal(t, "p1", updates[0].ProcessID)
	assert.Equal(t, processes.StatusRequiresAction, updates[0].Status)
	assert.Equal(t, "Legal department approval", updates[0].Message["step_name"])
}

func TestSimulatorHonorsCancellation(t *testing.T) {
	publisher := newCapturePublisher()
	simulator := NewSimulator(publisher, queue.DefaultTopic, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := simulator.Launch(ctx, "p1", "X")
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, publisher.updates(queue.DefaultTopic))
}
