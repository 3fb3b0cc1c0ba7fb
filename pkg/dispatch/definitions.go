package dispatch

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"

	"github.com/go-go-golems/fata/pkg/runtime"
)

// Definitions returns the tool definitions to advertise to the agent
// runtime, with parameter schemas generated from the argument structs.
func (d *Dispatcher) Definitions() ([]runtime.ToolDefinition, error) {
	startSchema, err := reflectParameters(&StartLongRunningProcessArgs{})
	if err != nil {
		return nil, err
	}
	inboxSchema, err := reflectParameters(&CheckProcessInboxArgs{})
	if err != nil {
		return nil, err
	}

	return []runtime.ToolDefinition{
		{
			Name:        ToolStartLongRunningProcess,
			Description: "Kick off a long running external process (e.g. an email approval) for the given feature specification. Returns a process ID immediately; the outcome arrives later in the inbox.",
			Parameters:  startSchema,
		},
		{
			Name:        ToolCheckProcessInbox,
			Description: "Check the inbox for status updates on long running processes. Returns the current status and message for one process, or for all of them.",
			Parameters:  inboxSchema,
		},
	}, nil
}

func reflectParameters(v interface{}) (map[string]interface{}, error) {
	reflector := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(v)

	b, err := json.Marshal(schema)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal parameter schema")
	}
	var ret map[string]interface{}
	if err := json.Unmarshal(b, &ret); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal parameter schema")
	}

	// the assistants API wants a bare object schema
	delete(ret, "$schema")
	delete(ret, "$id")
	return ret, nil
}
