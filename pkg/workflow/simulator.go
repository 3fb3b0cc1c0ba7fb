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

// Simulator stands in for the real approval workflow: after a delay it
// publishes a canned requires-action status update, as if a human approver
// had asked a follow-up question. Useful for demos and local development
// without any workflow backend.
type Simulator struct {
	publisher message.Publisher
	topic     string
	delay     time.Duration
}

func NewSimulator(publisher message.Publisher, topic string, delay time.Duration) *Simulator {
	return &Simulator{
		publisher: publisher,
		topic:     topic,
		delay:     delay,
	}
}

func (s *Simulator) Launch(ctx context.Context, processID string, _ string) error {
	log.Info().
		Str("process_id", processID).
		Dur("delay", s.delay).
		Msg("simulating long running process")

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.delay):
	}

	update := queue.StatusUpdate{
		ProcessID: processID,
		Status:    processes.StatusRequiresAction,
		Message: map[string]interface{}{
			"step_name": "Legal department approval",
			"send_to":   "User proxy",
			"action":    "Legal department wants to know what country this feature should be deployed in, USA or UK? Get the response from the user",
		},
	}

	msg, err := update.ToMessage()
	if err != nil {
		return err
	}
	return errors.Wrap(s.publisher.Publish(s.topic, msg), "failed to publish simulated update")
}
