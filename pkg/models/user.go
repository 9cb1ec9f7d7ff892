// Package models holds the wire and domain types shared by the tandem
// gateway, its client session and the conflict workflow.
package models

import (
	"strings"
	"time"
)

// User represents an authenticated user.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email,omitempty"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at,omitzero"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// DisplayName returns the best human-readable label for the user.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if name := strings.TrimSpace(u.Name); name != "" {
		return name
	}
	if email := strings.TrimSpace(u.Email); email != "" {
		return email
	}
	return u.ID
}

// Ref returns a copy of the user without bookkeeping timestamps, suitable for
// embedding in broadcast payloads.
func (u *User) Ref() User {
	if u == nil {
		return User{}
	}
	return User{ID: u.ID, Email: u.Email, Name: u.Name}
}
