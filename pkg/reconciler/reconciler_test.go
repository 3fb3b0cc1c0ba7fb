package reconciler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/fata/pkg/processes"
	"github.com/go-go-golems/fata/pkg/queue"
)

func startReconciler(t *testing.T, registry *processes.Registry, options ...Option) (*gochannel.GoChannel, func()) {
	t.Helper()

	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})

	r, err := NewReconciler(registry, pubSub, watermill.NopLogger{}, options...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(ctx)
	}()

	select {
	case <-r.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("reconciler did not start")
	}

	return pubSub, func() {
		cancel()
		<-done
		_ = pubSub.Close()
	}
}

func publishUpdate(t *testing.T, pubSub *gochannel.GoChannel, topic string, update queue.StatusUpdate) {
	t.Helper()
	msg, err := update.ToMessage()
	require.NoError(t, err)
	require.NoError(t, pubSub.Publish(topic, msg))
}

func waitForStatus(t *testing.T, registry *processes.Registry, id string, status processes.Status) processes.Process {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if p, ok := registry.Get(id); ok && p.Status == status {
			return p
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("process %s never reached status %s", id, status)
	return processes.Process{}
}

func TestReconcilerAppliesUpdate(t *testing.T) {
	registry := processes.NewRegistry()
	require.NoError(t, registry.Create("p1"))

	pubSub, stop := startReconciler(t, registry)
	defer stop()

	publishUpdate(t, pubSub, queue.DefaultTopic, queue.StatusUpdate{
		ProcessID: "p1",
		Status:    processes.StatusCompleted,
		Message:   map[string]interface{}{"decision": "Approve"},
	})

	p := waitForStatus(t, registry, "p1", processes.StatusCompleted)
	assert.Equal(t, "Approve", p.Message["decision"])
}

func TestReconcilerCreatesUnknownProcess(t *testing.T) {
	registry := processes.NewRegistry()

	pubSub, stop := startReconciler(t, registry)
	defer stop()

	// the update arrives before this instance ever saw the process
	publishUpdate(t, pubSub, queue.DefaultTopic, queue.StatusUpdate{
		ProcessID: "p1",
		Status:    processes.StatusRequiresAction,
		Message:   map[string]interface{}{"action": "pick a country"},
	})

	p := waitForStatus(t, registry, "p1", processes.StatusRequiresAction)
	assert.Equal(t, "pick a country", p.Message["action"])
}

func TestReconcilerRedeliveryIsIdempotent(t *testing.T) {
	registry := processes.NewRegistry()

	pubSub, stop := startReconciler(t, registry)
	defer stop()

	update := queue.StatusUpdate{
		ProcessID: "p1",
		Status:    processes.StatusCompleted,
		Message:   map[string]interface{}{"decision": "Approve"},
	}
	publishUpdate(t, pubSub, queue.DefaultTopic, update)
	waitForStatus(t, registry, "p1", processes.StatusCompleted)

	// redeliver the same event plus a stale non-terminal one
	publishUpdate(t, pubSub, queue.DefaultTopic, update)
	publishUpdate(t, pubSub, queue.DefaultTopic, queue.StatusUpdate{
		ProcessID: "p1",
		Status:    processes.StatusRunning,
	})

	// use a second process as a barrier to know the events were consumed
	publishUpdate(t, pubSub, queue.DefaultTopic, queue.StatusUpdate{
		ProcessID: "barrier",
		Status:    processes.StatusRunning,
	})
	waitForStatus(t, registry, "barrier", processes.StatusRunning)

	p, ok := registry.Get("p1")
	require.True(t, ok)
	assert.Equal(t, processes.StatusCompleted, p.Status)
	assert.Equal(t, "Approve", p.Message["decision"])
}

func TestReconcilerDropsMalformedEvent(t *testing.T) {
	registry := processes.NewRegistry()

	pubSub, stop := startReconciler(t, registry)
	defer stop()

	// missing process_id and status
	malformed := message.NewMessage(watermill.NewUUID(), []byte(`{"banana": true}`))
	require.NoError(t, pubSub.Publish(queue.DefaultTopic, malformed))

	// the loop must survive and keep consuming
	publishUpdate(t, pubSub, queue.DefaultTopic, queue.StatusUpdate{
		ProcessID: "p1",
		Status:    processes.StatusRunning,
	})
	waitForStatus(t, registry, "p1", processes.StatusRunning)

	assert.Equal(t, 1, registry.Count())
}

func TestReconcilerDeadLettersMalformedEvent(t *testing.T) {
	registry := processes.NewRegistry()
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})

	r, err := NewReconciler(registry, pubSub, watermill.NopLogger{},
		WithMalformedPolicy(MalformedDeadLetter),
		WithDeadLetterPublisher(pubSub),
	)
	require.NoError(t, err)

	deadLetters, err := pubSub.Subscribe(context.Background(), queue.DeadLetterTopic(queue.DefaultTopic))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
		_ = pubSub.Close()
	}()

	select {
	case <-r.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("reconciler did not start")
	}

	payload := []byte(`not even json`)
	require.NoError(t, pubSub.Publish(queue.DefaultTopic, message.NewMessage(watermill.NewUUID(), payload)))

	select {
	case msg := <-deadLetters:
		assert.Equal(t, payload, []byte(msg.Payload))
		msg.Ack()
	case <-time.After(5 * time.Second):
		t.Fatal("no dead-letter message received")
	}

	assert.Equal(t, 0, registry.Count())
}

func TestDeadLetterPolicyRequiresPublisher(t *testing.T) {
	_, err := NewReconciler(processes.NewRegistry(), gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{}), watermill.NopLogger{},
		WithMalformedPolicy(MalformedDeadLetter),
	)
	assert.Error(t, err)
}

func TestParseStatusUpdateRejectsMissingFields(t *testing.T) {
	cases := []string{
		`{}`,
		`{"process_id": "p1"}`,
		`{"status": "running"}`,
		`{"process_id": "", "status": "running"}`,
		`not json`,
	}
	for _, payload := range cases {
		_, err := queue.ParseStatusUpdate([]byte(payload))
		assert.Error(t, err, "payload %s should be rejected", payload)
	}

	update, err := queue.ParseStatusUpdate([]byte(`{"process_id": "p1", "status": "requires action", "message": {"k": "v"}}`))
	require.NoError(t, err)
	assert.Equal(t, "p1", update.ProcessID)
	assert.Equal(t, processes.StatusRequiresAction, update.Status)
	assert.Equal(t, "v", update.Message["k"])

	payload, err := json.Marshal(update)
	require.NoError(t, err)
	roundTrip, err := queue.ParseStatusUpdate(payload)
	require.NoError(t, err)
	assert.Equal(t, update, roundTrip)
}
