package reconciler

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/fata/pkg/processes"
	"github.com/go-go-golems/fata/pkg/queue"
)

// MalformedPolicy decides what happens to a queue message that fails
// status-update validation.
type MalformedPolicy string

const (
	// MalformedDrop acknowledges and discards the message.
	MalformedDrop MalformedPolicy = "drop"
	// MalformedDeadLetter republishes the message to the dead-letter topic
	// before acknowledging it.
	MalformedDeadLetter MalformedPolicy = "dead-letter"
)

// Reconciler drains status-update events from the queue and applies them to
// the process registry, independently of any in-flight conversation turn.
// The message is only acknowledged once the registry update has been
// applied; redelivery after a missed ack is absorbed by the registry's
// terminal-status freeze.
type Reconciler struct {
	registry   *processes.Registry
	subscriber message.Subscriber
	publisher  message.Publisher
	router     *message.Router
	topic      string
	policy     MalformedPolicy
}

type Option func(*Reconciler)

// WithTopic overrides the status-update topic.
func WithTopic(topic string) Option {
	return func(r *Reconciler) {
		r.topic = topic
	}
}

// WithMalformedPolicy selects the malformed-event policy. Dead-lettering
// requires a publisher.
func WithMalformedPolicy(policy MalformedPolicy) Option {
	return func(r *Reconciler) {
		r.policy = policy
	}
}

// WithDeadLetterPublisher supplies the publisher used for dead-lettering.
func WithDeadLetterPublisher(publisher message.Publisher) Option {
	return func(r *Reconciler) {
		r.publisher = publisher
	}
}

func NewReconciler(
	registry *processes.Registry,
	subscriber message.Subscriber,
	logger watermill.LoggerAdapter,
	options ...Option,
) (*Reconciler, error) {
	ret := &Reconciler{
		registry:   registry,
		subscriber: subscriber,
		topic:      queue.DefaultTopic,
		policy:     MalformedDrop,
	}
	for _, o := range options {
		o(ret)
	}

	if ret.policy == MalformedDeadLetter && ret.publisher == nil {
		return nil, errors.New("dead-letter policy requires a publisher")
	}

	router, err := message.NewRouter(message.RouterConfig{}, logger)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create router")
	}
	router.AddNoPublisherHandler("status-reconciler", ret.topic, ret.subscriber, ret.handle)
	ret.router = router

	return ret, nil
}

// handle applies one status-update event. Returning nil acknowledges the
// message; we only do that after the registry mutation, so a crash in
// between leads to redelivery rather than a lost update.
func (r *Reconciler) handle(msg *message.Message) error {
	update, err := queue.ParseStatusUpdate(msg.Payload)
	if err != nil {
		log.Error().
			Err(err).
			Str("message_id", msg.UUID).
			Str("payload", string(msg.Payload)).
			Msg("malformed status update")
		return r.handleMalformed(msg)
	}

	r.registry.Update(update.ProcessID, update.Status, update.Message)
	log.Debug().
		Str("process_id", update.ProcessID).
		Str("status", string(update.Status)).
		Msg("applied status update")
	return nil
}

func (r *Reconciler) handleMalformed(msg *message.Message) error {
	if r.policy != MalformedDeadLetter {
		return nil
	}

	deadLetter := message.NewMessage(msg.UUID, msg.Payload)
	for k, v := range msg.Metadata {
		deadLetter.Metadata.Set(k, v)
	}
	if err := r.publisher.Publish(queue.DeadLetterTopic(r.topic), deadLetter); err != nil {
		// keep the original message unacked so the transport redelivers it
		return errors.Wrap(err, "failed to dead-letter message")
	}
	return nil
}

// Run consumes until the context is cancelled. It blocks; callers run it in
// its own goroutine (or errgroup) alongside the serving process.
func (r *Reconciler) Run(ctx context.Context) error {
	log.Info().Str("topic", r.topic).Msg("starting status reconciler")
	return r.router.Run(ctx)
}

// Running is closed once the router's handlers are consuming.
func (r *Reconciler) Running() chan struct{} {
	return r.router.Running()
}

// Close drains the router. Run returns after Close completes.
func (r *Reconciler) Close() error {
	return r.router.Close()
}
