package realtime

import (
	"reflect"
	"testing"
	"time"

	"github.com/haasonsaas/tandem/pkg/models"
)

var (
	alice = models.User{ID: "u-alice", Name: "Alice"}
	bob   = models.User{ID: "u-bob", Name: "Bob"}
	carol = models.User{ID: "u-carol", Name: "Carol"}
)

func TestPresenceRegistrySetIsIdempotent(t *testing.T) {
	r := NewPresenceRegistry()
	p := models.UserPresence{User: alice, Status: models.PresenceOnline, Timestamp: time.Unix(1, 0)}

	if _, existed := r.Set(p); existed {
		t.Fatal("first Set should not report an existing entry")
	}
	if _, existed := r.Set(p); !existed {
		t.Fatal("second Set should report the replaced entry")
	}
	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len())
	}
}

func TestPresenceRegistryLastWriterWins(t *testing.T) {
	r := NewPresenceRegistry()
	r.Set(models.UserPresence{User: alice, Status: models.PresenceOnline})
	r.Set(models.UserPresence{User: alice, Status: models.PresenceAway})

	got, ok := r.Get(alice.ID)
	if !ok || got.Status != models.PresenceAway {
		t.Fatalf("Get() = %+v, %v; want away", got, ok)
	}
	if _, ok := r.Remove(alice.ID); !ok {
		t.Fatal("Remove() should report the entry")
	}
	if _, ok := r.Get(alice.ID); ok {
		t.Fatal("entry should be gone after Remove")
	}
}

func TestPresenceRegistryByResource(t *testing.T) {
	r := NewPresenceRegistry()
	doc := &models.ResourceRef{Type: "document", ID: "1"}
	r.Set(models.UserPresence{User: bob, Status: models.PresenceOnline, CurrentResource: doc})
	r.Set(models.UserPresence{User: alice, Status: models.PresenceOnline, CurrentResource: doc})
	r.Set(models.UserPresence{User: carol, Status: models.PresenceOnline})

	got := r.ByResource(models.ResourceKey("document", "1"))
	if len(got) != 2 || got[0].User.ID != alice.ID || got[1].User.ID != bob.ID {
		t.Fatalf("ByResource() = %+v", got)
	}
	if list := r.List(); len(list) != 3 {
		t.Fatalf("List() len = %d, want 3", len(list))
	}
}

func TestRoomRegistry(t *testing.T) {
	r := NewRoomRegistry()
	if !r.Join("c1", "document:1") {
		t.Fatal("first join should add")
	}
	if r.Join("c1", "document:1") {
		t.Fatal("duplicate join should not add")
	}
	if r.Join("c1", "") {
		t.Fatal("empty room should be ignored")
	}
	r.Join("c2", "document:1")
	r.Join("c1", "user:u-alice")

	if got := r.Members("document:1"); !reflect.DeepEqual(got, []string{"c1", "c2"}) {
		t.Fatalf("Members() = %v", got)
	}
	if got := r.RoomsOf("c1"); !reflect.DeepEqual(got, []string{"document:1", "user:u-alice"}) {
		t.Fatalf("RoomsOf() = %v", got)
	}
	if !r.Leave("c2", "document:1") || r.Leave("c2", "document:1") {
		t.Fatal("Leave should succeed once")
	}
	if got := r.RemoveConnection("c1"); len(got) != 2 {
		t.Fatalf("RemoveConnection() = %v", got)
	}
	if got := r.Members("document:1"); got != nil {
		t.Fatalf("room should be empty, got %v", got)
	}
}

func claimFor(user models.User, id string, on bool) models.EditingStatus {
	return models.EditingStatus{User: user, Resource: "document", ResourceID: id, IsEditing: on}
}

func TestEditingTrackerExclusivity(t *testing.T) {
	tr := NewEditingTracker()
	key := models.ResourceKey("document", "1")

	tr.Announce(claimFor(alice, "1", true))
	tr.Announce(claimFor(alice, "1", true))
	if got := tr.ActiveEditors(key, ""); len(got) != 1 {
		t.Fatalf("expected one claim after repeated announce, got %d", len(got))
	}

	tr.Announce(claimFor(alice, "1", false))
	if got := tr.ActiveEditors(key, ""); len(got) != 0 {
		t.Fatalf("expected no claims after stop, got %d", len(got))
	}

	tr.Announce(claimFor(alice, "1", true))
	if got := tr.ActiveEditors(key, ""); len(got) != 1 {
		t.Fatalf("expected exactly one claim after restart, got %d", len(got))
	}
	if tr.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", tr.Len())
	}
}

func TestEditingTrackerExpireKeepsSelectedUsers(t *testing.T) {
	now := time.Unix(1000, 0)
	tr := NewEditingTracker()
	tr.now = func() time.Time { return now }
	tr.Announce(claimFor(alice, "1", true))
	tr.Announce(claimFor(bob, "1", true))

	now = now.Add(time.Hour)
	expired := tr.Expire(now, func(userID string) bool { return userID == alice.ID })
	if len(expired) != 1 || expired[0].User.ID != bob.ID {
		t.Fatalf("Expire() = %+v, want only bob", expired)
	}
	if !tr.IsEditing(models.ResourceKey("document", "1"), alice.ID) {
		t.Fatal("kept user's claim was removed")
	}
}

func TestEditingTrackerOrderAndExclude(t *testing.T) {
	tr := NewEditingTracker()
	key := models.ResourceKey("document", "1")
	tr.Announce(claimFor(carol, "1", true))
	tr.Announce(claimFor(alice, "1", true))
	tr.Announce(claimFor(bob, "1", true))
	tr.Announce(claimFor(bob, "2", true))

	got := tr.ActiveEditors(key, alice.ID)
	if len(got) != 2 || got[0].User.ID != carol.ID || got[1].User.ID != bob.ID {
		t.Fatalf("ActiveEditors() = %+v", got)
	}
	if !tr.IsEditing(key, alice.ID) || tr.IsEditing(key, "nobody") {
		t.Fatal("IsEditing mismatch")
	}

	removed := tr.RemoveUser(bob.ID)
	if len(removed) != 2 {
		t.Fatalf("RemoveUser() removed %d, want 2", len(removed))
	}
	if tr.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", tr.Len())
	}
}

func TestEditingTrackerExpire(t *testing.T) {
	now := time.Unix(1000, 0)
	tr := NewEditingTracker()
	tr.now = func() time.Time { return now }

	tr.Announce(claimFor(alice, "1", true))
	now = now.Add(time.Minute)
	tr.Announce(claimFor(bob, "1", true))

	expired := tr.Expire(now.Add(-30*time.Second), nil)
	if len(expired) != 1 || expired[0].User.ID != alice.ID {
		t.Fatalf("Expire() = %+v", expired)
	}
	if tr.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", tr.Len())
	}
}
