package conflict

import (
	"context"
	"errors"
	"log/slog"

	"github.com/haasonsaas/tandem/internal/observability"
	"github.com/haasonsaas/tandem/pkg/models"
)

// ErrMissingResource is returned when a check names no resource.
var ErrMissingResource = errors.New("conflict: resource type and id are required")

// Fetcher reads the authoritative copy of a resource from the persistence
// layer.
type Fetcher interface {
	Latest(ctx context.Context, resourceType, resourceID string) (*models.Resource, error)
	LastModifiedBy(ctx context.Context, resourceType, resourceID string) (*models.User, error)
}

// CheckerOptions configures a Checker.
type CheckerOptions struct {
	Fetcher Fetcher

	// Open receives every session the checker creates, typically to present
	// it to the user.
	Open func(*Session)

	OnResolve ResolveFunc
	OnIgnored IgnoreFunc
	Releaser  EditingReleaser

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// Checker runs the pre-save conflict check.
type Checker struct {
	opts   CheckerOptions
	logger *slog.Logger
}

func NewChecker(opts CheckerOptions) (*Checker, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("conflict: fetcher is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Checker{opts: opts, logger: opts.Logger.With("component", "conflict")}, nil
}

// Check fetches the latest copy of the resource and compares it with the
// caller's original snapshot and local edits. When fields conflict it opens
// a Session and reports true so the caller holds back its own save.
//
// A failed fetch is logged and reported as no conflict: the save goes ahead
// rather than blocking on an unreachable store.
func (c *Checker) Check(ctx context.Context, resourceType, resourceID string, original, current map[string]any, labels map[string]string) (bool, error) {
	session, err := c.CheckSession(ctx, resourceType, resourceID, original, current, labels)
	return session != nil, err
}

// CheckSession is Check returning the opened session, or nil when there is
// nothing to resolve.
func (c *Checker) CheckSession(ctx context.Context, resourceType, resourceID string, original, current map[string]any, labels map[string]string) (*Session, error) {
	if resourceType == "" || resourceID == "" {
		return nil, ErrMissingResource
	}

	ctx, span := c.opts.Tracer.TraceConflictCheck(ctx, resourceType, resourceID)
	defer span.End()
	logger := c.logger.With("resource", models.ResourceKey(resourceType, resourceID))

	latest, err := c.opts.Fetcher.Latest(ctx, resourceType, resourceID)
	if err == nil && latest == nil {
		err = errors.New("empty snapshot")
	}
	if err != nil {
		c.opts.Tracer.RecordError(span, err)
		c.opts.Metrics.ConflictCheck("error")
		logger.Warn("conflict check failed, continuing without it", "error", err)
		return nil, nil
	}

	fields := Detect(original, current, latest.Data, labels)
	if len(fields) == 0 {
		c.opts.Metrics.ConflictCheck("clear")
		return nil, nil
	}
	c.opts.Metrics.ConflictCheck("conflict")

	var modifier models.User
	if user, err := c.opts.Fetcher.LastModifiedBy(ctx, resourceType, resourceID); err != nil {
		logger.Warn("could not resolve last modifier", "error", err)
	} else if user != nil {
		modifier = user.Ref()
	}

	session := NewSession(SessionConfig{
		ResourceType:    resourceType,
		ResourceID:      resourceID,
		ResourceName:    latest.Name,
		ConflictingUser: modifier,
		Fields:          fields,
		Base:            current,
		OnResolve:       c.opts.OnResolve,
		OnIgnored:       c.opts.OnIgnored,
		Releaser:        c.opts.Releaser,
	})
	logger.Info("conflicts detected", "fields", len(fields), "modified_by", modifier.ID)
	if c.opts.Open != nil {
		c.opts.Open(session)
	}
	return session, nil
}
