// Package store is the persistence layer behind conflict checks: the
// authoritative snapshot of each resource, who last modified it, and the
// directory of known users.
package store

import (
	"context"
	"errors"

	"github.com/haasonsaas/tandem/pkg/models"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidResource = errors.New("invalid resource")
)

// ResourceStore persists resource snapshots.
type ResourceStore interface {
	// Get returns the latest snapshot of a resource.
	Get(ctx context.Context, resourceType, id string) (*models.Resource, error)
	// Save stores the snapshot, bumps its revision and stamps UpdatedBy.
	Save(ctx context.Context, resource *models.Resource) (*models.Resource, error)
	// LastModifiedBy returns the user who saved the latest snapshot.
	LastModifiedBy(ctx context.Context, resourceType, id string) (*models.User, error)
}

// UserDirectory resolves and records user identities.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	UpsertUser(ctx context.Context, user *models.User) error
}

// Store is the full persistence surface used by the server.
type Store interface {
	ResourceStore
	UserDirectory
	Migrate(ctx context.Context) error
	Close() error
}

func validateResource(resource *models.Resource) error {
	if resource == nil || resource.Type == "" || resource.ID == "" {
		return ErrInvalidResource
	}
	return nil
}

// lastModifier resolves updatedBy through users. An unknown user still yields
// an identity carrying the id so callers can name the modifier.
func lastModifier(ctx context.Context, users UserDirectory, updatedBy string) (*models.User, error) {
	if updatedBy == "" {
		return nil, ErrNotFound
	}
	user, err := users.GetUser(ctx, updatedBy)
	if errors.Is(err, ErrNotFound) {
		return &models.User{ID: updatedBy}, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}
