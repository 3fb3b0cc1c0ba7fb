package queue

import (
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"

	"github.com/go-go-golems/fata/pkg/processes"
)

// DefaultTopic is the queue topic status updates for long-running processes
// arrive on.
const DefaultTopic = "process-status-updates"

// DeadLetterTopic derives the dead-letter topic for a status-update topic.
func DeadLetterTopic(topic string) string {
	return topic + ".dead-letter"
}

// StatusUpdate is the wire event an external system publishes when a
// long-running process changes state.
type StatusUpdate struct {
	ProcessID string                 `json:"process_id"`
	Status    processes.Status       `json:"status"`
	Message   map[string]interface{} `json:"message,omitempty"`
}

const statusUpdateSchema = `{
	"type": "object",
	"required": ["process_id", "status"],
	"properties": {
		"process_id": {"type": "string", "minLength": 1},
		"status": {"type": "string", "minLength": 1},
		"message": {"type": "object"}
	}
}`

var statusUpdateSchemaLoader = gojsonschema.NewStringLoader(statusUpdateSchema)

// ParseStatusUpdate validates and decodes a status-update payload. Schema
// violations are returned as a single wrapped error so the reconciler can
// apply its malformed-event policy.
func ParseStatusUpdate(payload []byte) (StatusUpdate, error) {
	result, err := gojsonschema.Validate(statusUpdateSchemaLoader, gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return StatusUpdate{}, errors.Wrap(err, "failed to validate status update")
	}
	if !result.Valid() {
		msg := "invalid status update"
		for _, desc := range result.Errors() {
			msg += ": " + desc.String()
		}
		return StatusUpdate{}, errors.New(msg)
	}

	var update StatusUpdate
	if err := json.Unmarshal(payload, &update); err != nil {
		return StatusUpdate{}, errors.Wrap(err, "failed to unmarshal status update")
	}
	return update, nil
}

// ToMessage serializes the update into a watermill message ready to
// publish.
func (u StatusUpdate) ToMessage() (*message.Message, error) {
	payload, err := json.Marshal(u)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal status update")
	}
	return message.NewMessage(watermill.NewUUID(), payload), nil
}
