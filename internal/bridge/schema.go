package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// goalEventSchema is the wire contract for inbound goal-state events.
// Structural validation happens here; semantic checks (terminal states,
// schema version) stay with statebus.Event.Validate.
const goalEventSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["version", "event_id", "goal", "repo", "revision", "state", "timestamp"],
  "properties": {
    "version": {"type": "integer", "minimum": 1},
    "event_id": {"type": "string", "minLength": 1},
    "goal_set": {"type": "string"},
    "goal": {"type": "string", "minLength": 1},
    "repo": {
      "type": "object",
      "required": ["owner", "name"],
      "properties": {
        "owner": {"type": "string", "minLength": 1},
        "name": {"type": "string", "minLength": 1}
      }
    },
    "revision": {"type": "string", "minLength": 1},
    "state": {"type": "string", "enum": ["success", "failed", "stopped", "canceled"]},
    "timestamp": {"type": "string"},
    "description": {"type": "string"},
    "approval": {
      "type": "object",
      "required": ["kind"],
      "properties": {
        "kind": {"type": "string", "enum": ["pre", "post"]},
        "actor": {"type": "string"},
        "at": {"type": "string"}
      }
    }
  }
}`

var compiledEventSchema = jsonschema.MustCompileString("goal-event.schema.json", goalEventSchema)

// validateEventPayload checks the raw JSON body against the event schema.
func validateEventPayload(body []byte) error {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := compiledEventSchema.Validate(doc); err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	return nil
}
