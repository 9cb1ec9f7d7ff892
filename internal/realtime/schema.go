package realtime

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

type schemaRegistry struct {
	once    sync.Once
	initErr error
	frame   *jsonschema.Schema
	events  map[string]*jsonschema.Schema
}

var schemas schemaRegistry

const frameSchema = `{
  "type": "object",
  "required": ["type", "event"],
  "properties": {
    "type": {"const": "event"},
    "id": {"type": "string"},
    "event": {"type": "string", "minLength": 1},
    "data": {}
  }
}`

const roomSchema = `{
  "type": "object",
  "required": ["room"],
  "properties": {
    "room": {"type": "string", "minLength": 1}
  }
}`

const userPresenceSchema = `{
  "type": "object",
  "required": ["status"],
  "properties": {
    "user": {"type": "object"},
    "status": {"enum": ["online", "offline", "away"]},
    "timestamp": {"type": "string"},
    "currentResource": {
      "type": ["object", "null"],
      "required": ["type", "id"],
      "properties": {
        "type": {"type": "string", "minLength": 1},
        "id": {"type": "string", "minLength": 1}
      }
    }
  }
}`

const editingStatusSchema = `{
  "type": "object",
  "required": ["resource", "resourceId", "isEditing"],
  "properties": {
    "user": {"type": "object"},
    "resource": {"type": "string", "minLength": 1},
    "resourceId": {"type": "string", "minLength": 1},
    "isEditing": {"type": "boolean"},
    "timestamp": {"type": "string"}
  }
}`

const dataChangeSchema = `{
  "type": "object",
  "required": ["resource", "resourceId"],
  "properties": {
    "resource": {"type": "string", "minLength": 1},
    "resourceId": {"type": "string", "minLength": 1},
    "data": {},
    "version": {"type": ["string", "null"]}
  }
}`

const pingSchema = `{"type": ["object", "null"]}`

func initSchemas() error {
	schemas.once.Do(func() {
		frame, err := jsonschema.CompileString("frame", frameSchema)
		if err != nil {
			schemas.initErr = err
			return
		}
		schemas.frame = frame

		events := map[string]string{
			EventJoinRoom:      roomSchema,
			EventLeaveRoom:     roomSchema,
			EventUserPresence:  userPresenceSchema,
			EventEditingStatus: editingStatusSchema,
			EventDataChange:    dataChangeSchema,
			EventPing:          pingSchema,
		}
		schemas.events = make(map[string]*jsonschema.Schema, len(events))
		for name, src := range events {
			compiled, err := jsonschema.CompileString("event_"+name, src)
			if err != nil {
				schemas.initErr = err
				return
			}
			schemas.events[name] = compiled
		}
	})
	return schemas.initErr
}

func validateFrame(raw []byte) error {
	if err := initSchemas(); err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	return schemas.frame.Validate(doc)
}

// validateEventData checks data against the schema of an inbound event.
// Events without a schema are not accepted from clients.
func validateEventData(event string, data json.RawMessage) error {
	if err := initSchemas(); err != nil {
		return err
	}
	schema, ok := schemas.events[event]
	if !ok {
		return fmt.Errorf("unknown event %q", event)
	}
	var doc any
	if len(data) > 0 {
		if err := json.Unmarshal(data, &doc); err != nil {
			return err
		}
	}
	if doc == nil && event != EventPing {
		return fmt.Errorf("%s requires data", event)
	}
	return schema.Validate(doc)
}
