package models

import "time"

// PresenceStatus represents a user's announced liveness.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceOffline PresenceStatus = "offline"
	PresenceAway    PresenceStatus = "away"
)

// Valid reports whether the status is one of the known values.
func (s PresenceStatus) Valid() bool {
	switch s {
	case PresenceOnline, PresenceOffline, PresenceAway:
		return true
	default:
		return false
	}
}

// ResourceRef identifies one editable resource.
type ResourceRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Key returns the registry key for the resource.
func (r ResourceRef) Key() string {
	return ResourceKey(r.Type, r.ID)
}

// ResourceKey derives the key shared by presence-by-resource, editing status
// and version tracking.
func ResourceKey(resourceType, resourceID string) string {
	return resourceType + ":" + resourceID
}

// UserPresence is a user's last announced presence.
type UserPresence struct {
	User            User           `json:"user"`
	Status          PresenceStatus `json:"status"`
	Timestamp       time.Time      `json:"timestamp"`
	CurrentResource *ResourceRef   `json:"currentResource,omitempty"`
}
