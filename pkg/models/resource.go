package models

import "time"

// Resource is the authoritative snapshot of one editable business record.
// Data is an open record since shapes vary per resource type.
type Resource struct {
	Type      string         `json:"type"`
	ID        string         `json:"id"`
	Name      string         `json:"name,omitempty"`
	Data      map[string]any `json:"data"`
	Revision  int64          `json:"revision"`
	UpdatedBy string         `json:"updated_by,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Ref returns the resource reference.
func (r *Resource) Ref() ResourceRef {
	return ResourceRef{Type: r.Type, ID: r.ID}
}
