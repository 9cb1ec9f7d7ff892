package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/haasonsaas/tandem/pkg/models"
)

// MemoryStore keeps resources and users in process memory. It backs tests and
// zero-config runs.
type MemoryStore struct {
	mu        sync.RWMutex
	resources map[string]*models.Resource
	users     map[string]*models.User
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		resources: make(map[string]*models.Resource),
		users:     make(map[string]*models.User),
		now:       time.Now,
	}
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }
func (s *MemoryStore) Close() error                  { return nil }

func (s *MemoryStore) Get(_ context.Context, resourceType, id string) (*models.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.resources[models.ResourceKey(resourceType, id)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneResource(res)
}

func (s *MemoryStore) Save(_ context.Context, resource *models.Resource) (*models.Resource, error) {
	if err := validateResource(resource); err != nil {
		return nil, err
	}
	stored, err := cloneResource(resource)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	key := models.ResourceKey(resource.Type, resource.ID)
	if prev, ok := s.resources[key]; ok {
		stored.Revision = prev.Revision + 1
		stored.CreatedAt = prev.CreatedAt
	} else {
		stored.Revision = 1
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.resources[key] = stored
	return cloneResource(stored)
}

func (s *MemoryStore) LastModifiedBy(ctx context.Context, resourceType, id string) (*models.User, error) {
	res, err := s.Get(ctx, resourceType, id)
	if err != nil {
		return nil, err
	}
	return lastModifier(ctx, s, res.UpdatedBy)
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *user
	return &copied, nil
}

func (s *MemoryStore) UpsertUser(_ context.Context, user *models.User) error {
	if user == nil || user.ID == "" {
		return fmt.Errorf("upsert user: id required")
	}
	now := s.now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *user
	if prev, ok := s.users[user.ID]; ok {
		stored.CreatedAt = prev.CreatedAt
	} else {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.users[user.ID] = &stored
	return nil
}

// cloneResource deep-copies through JSON so callers never share the data map.
func cloneResource(res *models.Resource) (*models.Resource, error) {
	raw, err := json.Marshal(res.Data)
	if err != nil {
		return nil, fmt.Errorf("encode resource data: %w", err)
	}
	out := *res
	out.Data = nil
	if err := json.Unmarshal(raw, &out.Data); err != nil {
		return nil, fmt.Errorf("decode resource data: %w", err)
	}
	if out.Data == nil {
		out.Data = map[string]any{}
	}
	return &out, nil
}
