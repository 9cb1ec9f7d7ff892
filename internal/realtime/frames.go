package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/tandem/pkg/models"
)

// FrameTypeEvent is the only frame type on the wire.
const FrameTypeEvent = "event"

// Event names.
const (
	EventConnected           = "connected"
	EventError               = "error"
	EventJoinRoom            = "join-room"
	EventLeaveRoom           = "leave-room"
	EventJoinedRoom          = "joined-room"
	EventLeftRoom            = "left-room"
	EventUserPresence        = "user-presence"
	EventUserPresenceUpdate  = "user-presence-update"
	EventEditingStatus       = "editing-status"
	EventEditingStatusUpdate = "editing-status-update"
	EventDataChange          = "data-change"
	EventConflictDetected    = "conflict-detected"
	EventPing                = "ping"
	EventPong                = "pong"
)

// CloseUnauthorized is the WebSocket close code sent when the handshake
// cannot be authenticated.
const CloseUnauthorized = 4401

// Frame is the envelope of every message in both directions.
type Frame struct {
	Type  string          `json:"type"`
	ID    string          `json:"id,omitempty"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ErrorPayload is the data of an error event.
type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

// ConnectedPayload is the data of the connected event.
type ConnectedPayload struct {
	ConnectionID string      `json:"connectionId"`
	User         models.User `json:"user"`
}

// PongPayload answers an application-level ping.
type PongPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// EncodeFrame marshals an event frame with data as payload.
func EncodeFrame(event, id string, data any) ([]byte, error) {
	frame := Frame{Type: FrameTypeEvent, ID: id, Event: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", event, err)
		}
		frame.Data = raw
	}
	return json.Marshal(frame)
}

// DecodeFrame parses and validates an inbound frame.
func DecodeFrame(raw []byte) (*Frame, error) {
	if err := validateFrame(raw); err != nil {
		return nil, err
	}
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, err
	}
	return &frame, nil
}
