package models

import "time"

// EditingStatus is one user's claim to be editing one resource.
type EditingStatus struct {
	User       User      `json:"user"`
	Resource   string    `json:"resource"`
	ResourceID string    `json:"resourceId"`
	IsEditing  bool      `json:"isEditing"`
	Timestamp  time.Time `json:"timestamp"`
}

// Key returns the resource key of the claim.
func (s EditingStatus) Key() string {
	return ResourceKey(s.Resource, s.ResourceID)
}
