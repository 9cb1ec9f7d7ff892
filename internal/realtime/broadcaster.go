package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/haasonsaas/tandem/pkg/models"
)

// ChangeOutcome is the decision taken for one data-change event.
type ChangeOutcome struct {
	Change models.DataChange
	Sender models.User

	// Accepted is set when the version advanced. Version holds the new value.
	Accepted bool
	Version  string

	// Stale is set when the client's version did not match the recorded one.
	Stale bool

	// Conflict is set when the change was stale and other users were editing
	// the resource. Conflicting lists them in announcement order and the
	// version did not advance.
	Conflict    bool
	Conflicting []models.User

	Timestamp time.Time
}

// FirstConflicting returns the user named to the sender of a conflicting
// change.
func (o ChangeOutcome) FirstConflicting() (models.User, bool) {
	if len(o.Conflicting) == 0 {
		return models.User{}, false
	}
	return o.Conflicting[0], true
}

// Broadcaster assigns versions to data changes and decides whether they are
// relayed or reported as conflicts. Changes on one key are processed one at a
// time in the order they arrive.
type Broadcaster struct {
	versions VersionStore
	editing  *EditingTracker
	locks    keyedMutex
	now      func() time.Time
}

func NewBroadcaster(versions VersionStore, editing *EditingTracker) *Broadcaster {
	return &Broadcaster{versions: versions, editing: editing, now: time.Now}
}

// HandleDataChange evaluates change from sender.
func (b *Broadcaster) HandleDataChange(ctx context.Context, sender models.User, change models.DataChange) (ChangeOutcome, error) {
	return b.HandleDataChangeFunc(ctx, sender, change, nil)
}

// HandleDataChangeFunc is HandleDataChange with emit called while the key is
// still held, so fan-out for one key follows version order.
func (b *Broadcaster) HandleDataChangeFunc(ctx context.Context, sender models.User, change models.DataChange, emit func(ChangeOutcome)) (ChangeOutcome, error) {
	key := change.Key()
	unlock := b.locks.Lock(key)
	defer unlock()

	outcome := ChangeOutcome{Change: change, Sender: sender, Timestamp: b.now()}

	if change.Version != nil {
		current, ok, err := b.versions.Current(ctx, key)
		if err != nil {
			return ChangeOutcome{}, err
		}
		if !ok || current != *change.Version {
			outcome.Stale = true
			for _, editor := range b.editing.ActiveEditors(key, sender.ID) {
				outcome.Conflicting = append(outcome.Conflicting, editor.User)
			}
			if len(outcome.Conflicting) > 0 {
				outcome.Conflict = true
				if emit != nil {
					emit(outcome)
				}
				return outcome, nil
			}
		}
	}

	version, err := b.versions.Advance(ctx, key)
	if err != nil {
		return ChangeOutcome{}, fmt.Errorf("accept change on %s: %w", key, err)
	}
	outcome.Accepted = true
	outcome.Version = version
	if emit != nil {
		emit(outcome)
	}
	return outcome, nil
}

// keyedMutex serializes work per string key. Entries are dropped once no
// goroutine holds or waits on them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedEntry)
	}
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
