package realtime

import (
	"sync"
	"time"

	"github.com/haasonsaas/tandem/pkg/models"
)

type claim struct {
	status models.EditingStatus
	seen   time.Time
}

// EditingTracker records which users claim to be editing which resource.
// There is at most one claim per (user, resource key). Claims for a key are
// kept in announcement order.
type EditingTracker struct {
	mu    sync.Mutex
	byKey map[string][]claim
	now   func() time.Time
}

func NewEditingTracker() *EditingTracker {
	return &EditingTracker{byKey: make(map[string][]claim), now: time.Now}
}

// Announce replaces the user's claim on the status key. A status with
// IsEditing false only removes the existing claim.
func (t *EditingTracker) Announce(status models.EditingStatus) {
	key := status.Key()
	t.mu.Lock()
	defer t.mu.Unlock()
	claims := t.byKey[key]
	kept := claims[:0]
	for _, c := range claims {
		if c.status.User.ID != status.User.ID {
			kept = append(kept, c)
		}
	}
	if status.IsEditing {
		kept = append(kept, claim{status: status, seen: t.now()})
	}
	if len(kept) == 0 {
		delete(t.byKey, key)
		return
	}
	t.byKey[key] = kept
}

// ActiveEditors returns the claims on key other than excludeUserID's, in the
// order they were announced.
func (t *EditingTracker) ActiveEditors(key, excludeUserID string) []models.EditingStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []models.EditingStatus
	for _, c := range t.byKey[key] {
		if c.status.User.ID != excludeUserID {
			out = append(out, c.status)
		}
	}
	return out
}

// IsEditing reports whether the user holds a claim on key.
func (t *EditingTracker) IsEditing(key, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.byKey[key] {
		if c.status.User.ID == userID {
			return true
		}
	}
	return false
}

// RemoveUser drops every claim held by the user and returns them.
func (t *EditingTracker) RemoveUser(userID string) []models.EditingStatus {
	return t.removeWhere(func(c claim) bool { return c.status.User.ID == userID })
}

// Expire drops claims whose last announcement was before cutoff, except
// those of users for which keep reports true. keep runs under the tracker
// lock and must not call back into the tracker.
func (t *EditingTracker) Expire(cutoff time.Time, keep func(userID string) bool) []models.EditingStatus {
	return t.removeWhere(func(c claim) bool {
		if !c.seen.Before(cutoff) {
			return false
		}
		return keep == nil || !keep(c.status.User.ID)
	})
}

func (t *EditingTracker) removeWhere(match func(claim) bool) []models.EditingStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	var removed []models.EditingStatus
	for key, claims := range t.byKey {
		kept := claims[:0]
		for _, c := range claims {
			if match(c) {
				removed = append(removed, c.status)
				continue
			}
			kept = append(kept, c)
		}
		if len(kept) == 0 {
			delete(t.byKey, key)
		} else {
			t.byKey[key] = kept
		}
	}
	return removed
}

// Len returns the number of live claims.
func (t *EditingTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, claims := range t.byKey {
		n += len(claims)
	}
	return n
}
