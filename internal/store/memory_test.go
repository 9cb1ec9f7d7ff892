package store

import (
	"context"
	"errors"
	"testing"

	"github.com/haasonsaas/tandem/pkg/models"
)

func TestMemoryStore_SaveAndGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.Get(ctx, "task", "1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}

	first, err := s.Save(ctx, &models.Resource{Type: "task", ID: "1", Data: map[string]any{"price": 100}, UpdatedBy: "u1"})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if first.Revision != 1 {
		t.Errorf("Revision = %d, want 1", first.Revision)
	}

	second, err := s.Save(ctx, &models.Resource{Type: "task", ID: "1", Data: map[string]any{"price": 150}, UpdatedBy: "u2"})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if second.Revision != 2 {
		t.Errorf("Revision = %d, want 2", second.Revision)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("CreatedAt changed on update")
	}

	got, err := s.Get(ctx, "task", "1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Data["price"] != float64(150) {
		t.Errorf("price = %v, want 150", got.Data["price"])
	}

	got.Data["price"] = 1
	again, _ := s.Get(ctx, "task", "1")
	if again.Data["price"] != float64(150) {
		t.Error("Get() must return a copy")
	}
}

func TestMemoryStore_SaveRejectsInvalid(t *testing.T) {
	s := NewMemoryStore()
	for _, res := range []*models.Resource{nil, {ID: "1"}, {Type: "task"}} {
		if _, err := s.Save(context.Background(), res); !errors.Is(err, ErrInvalidResource) {
			t.Errorf("Save(%v) error = %v, want ErrInvalidResource", res, err)
		}
	}
}

func TestMemoryStore_LastModifiedBy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.UpsertUser(ctx, &models.User{ID: "u1", Name: "Ada"}); err != nil {
		t.Fatalf("UpsertUser() error = %v", err)
	}

	if _, err := s.LastModifiedBy(ctx, "task", "1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LastModifiedBy() error = %v, want ErrNotFound", err)
	}

	_, _ = s.Save(ctx, &models.Resource{Type: "task", ID: "1", UpdatedBy: "u1"})
	user, err := s.LastModifiedBy(ctx, "task", "1")
	if err != nil {
		t.Fatalf("LastModifiedBy() error = %v", err)
	}
	if user.Name != "Ada" {
		t.Errorf("Name = %q, want Ada", user.Name)
	}

	_, _ = s.Save(ctx, &models.Resource{Type: "task", ID: "1", UpdatedBy: "u-unknown"})
	user, err = s.LastModifiedBy(ctx, "task", "1")
	if err != nil {
		t.Fatalf("LastModifiedBy() error = %v", err)
	}
	if user.ID != "u-unknown" {
		t.Errorf("ID = %q, want u-unknown", user.ID)
	}

	_, _ = s.Save(ctx, &models.Resource{Type: "task", ID: "2"})
	if _, err := s.LastModifiedBy(ctx, "task", "2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("anonymous save: error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_Users(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.UpsertUser(ctx, &models.User{}); err == nil {
		t.Error("expected error for empty id")
	}
	if _, err := s.GetUser(ctx, "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetUser() error = %v, want ErrNotFound", err)
	}
	_ = s.UpsertUser(ctx, &models.User{ID: "u1", Name: "Ada"})
	_ = s.UpsertUser(ctx, &models.User{ID: "u1", Name: "Ada L."})
	user, err := s.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if user.Name != "Ada L." {
		t.Errorf("Name = %q, want Ada L.", user.Name)
	}
}
