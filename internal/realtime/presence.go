// Package realtime implements the collaborative editing gateway: presence,
// rooms, editing claims, resource versions and the WebSocket fan-out that
// ties them together.
package realtime

import (
	"sort"
	"sync"

	"github.com/haasonsaas/tandem/pkg/models"
)

// PresenceRegistry holds the last announced presence of every user. There is
// at most one entry per user; the latest announcement wins.
type PresenceRegistry struct {
	mu      sync.RWMutex
	entries map[string]models.UserPresence
}

func NewPresenceRegistry() *PresenceRegistry {
	return &PresenceRegistry{entries: make(map[string]models.UserPresence)}
}

// Set stores p and returns the entry it replaced, if any.
func (r *PresenceRegistry) Set(p models.UserPresence) (models.UserPresence, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.entries[p.User.ID]
	r.entries[p.User.ID] = p
	return prev, ok
}

func (r *PresenceRegistry) Get(userID string) (models.UserPresence, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.entries[userID]
	return p, ok
}

// Remove drops the user's entry and returns it.
func (r *PresenceRegistry) Remove(userID string) (models.UserPresence, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.entries[userID]
	delete(r.entries, userID)
	return p, ok
}

// List returns every entry ordered by user id.
func (r *PresenceRegistry) List() []models.UserPresence {
	r.mu.RLock()
	out := make([]models.UserPresence, 0, len(r.entries))
	for _, p := range r.entries {
		out = append(out, p)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].User.ID < out[j].User.ID })
	return out
}

func (r *PresenceRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// ByResource returns the users whose current resource derives to key.
func (r *PresenceRegistry) ByResource(key string) []models.UserPresence {
	r.mu.RLock()
	var out []models.UserPresence
	for _, p := range r.entries {
		if p.CurrentResource != nil && p.CurrentResource.Key() == key {
			out = append(out, p)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].User.ID < out[j].User.ID })
	return out
}
