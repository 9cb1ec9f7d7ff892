package models

import (
	"encoding/json"
	"time"
)

// DataChange is a tentative mutation announced by a client.
type DataChange struct {
	Resource   string          `json:"resource"`
	ResourceID string          `json:"resourceId"`
	Data       json.RawMessage `json:"data,omitempty"`
	Version    *string         `json:"version,omitempty"`
}

// Key returns the resource key of the change.
func (c DataChange) Key() string {
	return ResourceKey(c.Resource, c.ResourceID)
}

// DataChangeBroadcast is the accepted change relayed to other clients.
type DataChangeBroadcast struct {
	Resource   string          `json:"resource"`
	ResourceID string          `json:"resourceId"`
	Data       json.RawMessage `json:"data,omitempty"`
	Version    string          `json:"version"`
	User       User            `json:"user"`
	Timestamp  time.Time       `json:"timestamp"`
}

// ConflictNotice tells an editor that a concurrent edit collided with theirs.
type ConflictNotice struct {
	ResourceType    string          `json:"resourceType"`
	ResourceID      string          `json:"resourceId"`
	ConflictingUser User            `json:"conflictingUser"`
	ConflictData    json.RawMessage `json:"conflictData,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
}

// RoomRequest is the payload of join-room, leave-room and their acks.
type RoomRequest struct {
	Room string `json:"room"`
}
