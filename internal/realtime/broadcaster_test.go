package realtime

import (
	"context"
	"errors"
	"os"
	"strconv"
	"sync"
	"testing"

	"github.com/go-redis/redis/v8"

	"github.com/haasonsaas/tandem/pkg/models"
)

func strPtr(s string) *string { return &s }

func change(id string, version *string) models.DataChange {
	return models.DataChange{Resource: "document", ResourceID: id, Data: []byte(`{"title":"x"}`), Version: version}
}

func TestBroadcasterAcceptsWithoutVersion(t *testing.T) {
	b := NewBroadcaster(NewMemoryVersionStore(), NewEditingTracker())
	ctx := context.Background()

	for i, want := range []string{"1", "2", "3"} {
		out, err := b.HandleDataChange(ctx, alice, change("1", nil))
		if err != nil {
			t.Fatalf("change %d: %v", i, err)
		}
		if !out.Accepted || out.Conflict || out.Version != want {
			t.Fatalf("change %d outcome = %+v, want version %s", i, out, want)
		}
	}
}

func TestBroadcasterMatchingVersion(t *testing.T) {
	b := NewBroadcaster(NewMemoryVersionStore(), NewEditingTracker())
	b.editing.Announce(claimFor(bob, "1", true))
	ctx := context.Background()

	first, _ := b.HandleDataChange(ctx, alice, change("1", nil))
	out, err := b.HandleDataChange(ctx, alice, change("1", strPtr(first.Version)))
	if err != nil {
		t.Fatal(err)
	}
	if !out.Accepted || out.Stale || out.Version != "2" {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestBroadcasterStaleWithoutContenderIsAccepted(t *testing.T) {
	b := NewBroadcaster(NewMemoryVersionStore(), NewEditingTracker())
	b.editing.Announce(claimFor(alice, "1", true))

	out, err := b.HandleDataChange(context.Background(), alice, change("1", strPtr("41")))
	if err != nil {
		t.Fatal(err)
	}
	if !out.Accepted || !out.Stale || out.Conflict || out.Version != "1" {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestBroadcasterConflictDoesNotAdvance(t *testing.T) {
	versions := NewMemoryVersionStore()
	b := NewBroadcaster(versions, NewEditingTracker())
	ctx := context.Background()
	b.editing.Announce(claimFor(carol, "1", true))
	b.editing.Announce(claimFor(bob, "1", true))
	b.editing.Announce(claimFor(alice, "1", true))
	if _, err := b.HandleDataChange(ctx, alice, change("1", nil)); err != nil {
		t.Fatal(err)
	}

	out, err := b.HandleDataChange(ctx, alice, change("1", strPtr("0")))
	if err != nil {
		t.Fatal(err)
	}
	if !out.Conflict || out.Accepted {
		t.Fatalf("outcome = %+v, want conflict", out)
	}
	first, ok := out.FirstConflicting()
	if !ok || first.ID != carol.ID || len(out.Conflicting) != 2 {
		t.Fatalf("conflicting = %+v", out.Conflicting)
	}
	if v, _, _ := versions.Current(ctx, models.ResourceKey("document", "1")); v != "1" {
		t.Fatalf("version advanced to %s on conflict", v)
	}
}

func TestBroadcasterEmitRunsUnderKeyLock(t *testing.T) {
	b := NewBroadcaster(NewMemoryVersionStore(), NewEditingTracker())
	ctx := context.Background()

	var mu sync.Mutex
	var order []string
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = b.HandleDataChangeFunc(ctx, alice, change("1", nil), func(out ChangeOutcome) {
				mu.Lock()
				order = append(order, out.Version)
				mu.Unlock()
			})
		}()
	}
	wg.Wait()
	if len(order) != 50 {
		t.Fatalf("emitted %d outcomes, want 50", len(order))
	}
	seen := map[string]bool{}
	for i, v := range order {
		if seen[v] {
			t.Fatalf("version %s emitted twice", v)
		}
		seen[v] = true
		if want := strconv.Itoa(i + 1); v != want {
			t.Fatalf("emit %d carried version %s, want %s", i, v, want)
		}
	}
}

type failingVersions struct{}

func (failingVersions) Current(context.Context, string) (string, bool, error) {
	return "", false, errors.New("store down")
}

func (failingVersions) Advance(context.Context, string) (string, error) {
	return "", errors.New("store down")
}

func TestBroadcasterPropagatesStoreErrors(t *testing.T) {
	b := NewBroadcaster(failingVersions{}, NewEditingTracker())
	if _, err := b.HandleDataChange(context.Background(), alice, change("1", nil)); err == nil {
		t.Fatal("expected advance error")
	}
	if _, err := b.HandleDataChange(context.Background(), alice, change("1", strPtr("1"))); err == nil {
		t.Fatal("expected current error")
	}
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	var k keyedMutex
	unlock := k.Lock("a")
	unlock()
	if len(k.locks) != 0 {
		t.Fatalf("expected lock table to be empty, got %d", len(k.locks))
	}
}

func TestMemoryVersionStore(t *testing.T) {
	s := NewMemoryVersionStore()
	ctx := context.Background()
	if _, ok, _ := s.Current(ctx, "k"); ok {
		t.Fatal("expected no version")
	}
	v1, _ := s.Advance(ctx, "k")
	v2, _ := s.Advance(ctx, "k")
	if v1 == v2 {
		t.Fatal("versions must differ")
	}
	if cur, ok, _ := s.Current(ctx, "k"); !ok || cur != v2 {
		t.Fatalf("Current() = %s, %v", cur, ok)
	}
}

func TestRedisVersionKey(t *testing.T) {
	if got := redisVersionKey("document:1"); got != "tandem:version:document:1" {
		t.Fatalf("redisVersionKey() = %q", got)
	}
}

func TestRedisVersionStore(t *testing.T) {
	addr := os.Getenv("TANDEM_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TANDEM_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	ctx := context.Background()
	key := "test:" + t.Name()
	client.Del(ctx, redisVersionKey(key))

	s := NewRedisVersionStore(client)
	if _, ok, err := s.Current(ctx, key); err != nil || ok {
		t.Fatalf("Current() = %v, %v", ok, err)
	}
	v, err := s.Advance(ctx, key)
	if err != nil || v != "1" {
		t.Fatalf("Advance() = %q, %v", v, err)
	}
	if cur, ok, err := s.Current(ctx, key); err != nil || !ok || cur != "1" {
		t.Fatalf("Current() = %q, %v, %v", cur, ok, err)
	}
}
