package conflict

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/haasonsaas/tandem/pkg/models"
)

var (
	// ErrUnresolved is returned by Apply while some field has no resolution.
	ErrUnresolved = errors.New("conflict: unresolved fields remain")
	// ErrSessionClosed is returned once a session was applied or cancelled.
	ErrSessionClosed = errors.New("conflict: session closed")
	// ErrUnknownField is returned when resolving a field outside the conflict set.
	ErrUnknownField = errors.New("conflict: unknown field")
	// ErrInvalidStrategy is returned for a strategy outside the known set.
	ErrInvalidStrategy = errors.New("conflict: invalid strategy")
)

// Strategy is the bulk resolution mode picked by the user.
type Strategy string

const (
	StrategyManual Strategy = "manual"
	StrategyMine   Strategy = "mine"
	StrategyTheirs Strategy = "theirs"
	StrategyMerge  Strategy = "merge"
)

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(s); st {
	case StrategyManual, StrategyMine, StrategyTheirs, StrategyMerge:
		return st, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStrategy, s)
	}
}

// ResolveFunc persists the resolved data of a session.
type ResolveFunc func(ctx context.Context, s *Session, resolved map[string]any) error

// IgnoreFunc abandons the in-progress edit of a cancelled session.
type IgnoreFunc func(ctx context.Context, s *Session) error

// EditingReleaser withdraws the local user's editing claim on a resource.
type EditingReleaser interface {
	BroadcastEditingStatus(resource, resourceID string, isEditing bool) error
}

// SessionConfig describes a conflict session.
type SessionConfig struct {
	ResourceType    string
	ResourceID      string
	ResourceName    string
	ConflictingUser models.User
	Fields          []Field

	// Base is the data the resolutions are merged onto, normally the local
	// edit.
	Base map[string]any

	OnResolve ResolveFunc
	OnIgnored IgnoreFunc
	Releaser  EditingReleaser
}

// Session is the state of one conflict resolution. It waits on the user
// indefinitely; Apply and Cancel are the only ways out, and both withdraw
// the editing claim on the resource.
//
// Callbacks run with the session locked and must not call back into it.
type Session struct {
	mu sync.Mutex

	cfg         SessionConfig
	strategy    Strategy
	resolutions map[string]any
	fieldIndex  map[string]int
	closed      bool
}

func NewSession(cfg SessionConfig) *Session {
	index := make(map[string]int, len(cfg.Fields))
	for i, f := range cfg.Fields {
		index[f.Name] = i
	}
	return &Session{
		cfg:         cfg,
		strategy:    StrategyManual,
		resolutions: make(map[string]any),
		fieldIndex:  index,
	}
}

func (s *Session) ResourceType() string         { return s.cfg.ResourceType }
func (s *Session) ResourceID() string           { return s.cfg.ResourceID }
func (s *Session) ResourceName() string         { return s.cfg.ResourceName }
func (s *Session) ConflictingUser() models.User { return s.cfg.ConflictingUser }

// Fields returns the conflicting fields in detection order.
func (s *Session) Fields() []Field {
	out := make([]Field, len(s.cfg.Fields))
	copy(out, s.cfg.Fields)
	return out
}

func (s *Session) Strategy() Strategy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.strategy
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SelectStrategy switches the bulk mode. mine, theirs and merge overwrite
// every resolution; manual keeps whatever has been resolved so far.
func (s *Session) SelectStrategy(strategy Strategy) error {
	if _, err := ParseStrategy(string(strategy)); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.strategy = strategy
	for _, f := range s.cfg.Fields {
		switch strategy {
		case StrategyMine:
			s.resolutions[f.Name] = f.CurrentValue
		case StrategyTheirs:
			s.resolutions[f.Name] = f.IncomingValue
		case StrategyMerge:
			s.resolutions[f.Name] = MergeValues(f.CurrentValue, f.IncomingValue)
		}
	}
	return nil
}

// MergeValues is the best-effort merge heuristic. It knows nothing about what
// a field means: strings are joined with a space, numbers are averaged and
// rounded to the nearest integer, and anything else takes the incoming value.
func MergeValues(current, incoming any) any {
	if c, ok := current.(string); ok {
		if i, ok := incoming.(string); ok {
			return c + " " + i
		}
	}
	if c, ok := number(current); ok {
		if i, ok := number(incoming); ok {
			return math.Floor((c+i)/2 + 0.5)
		}
	}
	return incoming
}

// Resolve sets a free-form value for field. Any value, including an empty
// string, counts as resolved.
func (s *Session) Resolve(field string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if _, ok := s.fieldIndex[field]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
	s.resolutions[field] = value
	return nil
}

// PickCurrent resolves field to the local value.
func (s *Session) PickCurrent(field string) error {
	f, ok := s.field(field)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
	return s.Resolve(field, f.CurrentValue)
}

// PickIncoming resolves field to the stored value.
func (s *Session) PickIncoming(field string) error {
	f, ok := s.field(field)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
	return s.Resolve(field, f.IncomingValue)
}

func (s *Session) field(name string) (Field, bool) {
	i, ok := s.fieldIndex[name]
	if !ok {
		return Field{}, false
	}
	return s.cfg.Fields[i], true
}

// IsResolved reports whether field has a resolution entry.
func (s *Session) IsResolved(field string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.resolutions[field]
	return ok
}

// Resolution returns the value chosen for field.
func (s *Session) Resolution(field string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.resolutions[field]
	return v, ok
}

// Unresolved lists fields still waiting for a decision.
func (s *Session) Unresolved() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unresolvedLocked()
}

func (s *Session) unresolvedLocked() []string {
	var out []string
	for _, f := range s.cfg.Fields {
		if _, ok := s.resolutions[f.Name]; !ok {
			out = append(out, f.Name)
		}
	}
	return out
}

// CanApply reports whether every field is resolved.
func (s *Session) CanApply() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && len(s.unresolvedLocked()) == 0
}

// Apply merges the resolutions onto the base data and hands the result to
// OnResolve. On success the editing claim is withdrawn and the session
// closes. A failing OnResolve leaves the session open for another attempt.
func (s *Session) Apply(ctx context.Context) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	if missing := s.unresolvedLocked(); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrUnresolved, missing)
	}

	resolved := make(map[string]any, len(s.cfg.Base)+len(s.resolutions))
	for k, v := range s.cfg.Base {
		resolved[k] = v
	}
	for k, v := range s.resolutions {
		resolved[k] = v
	}

	if s.cfg.OnResolve != nil {
		if err := s.cfg.OnResolve(ctx, s, resolved); err != nil {
			return nil, fmt.Errorf("apply resolution: %w", err)
		}
	}
	s.closed = true
	return resolved, s.releaseLocked()
}

// Cancel abandons the session without saving. OnIgnored is invoked and the
// editing claim is withdrawn.
func (s *Session) Cancel(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.closed = true
	var errs []error
	if s.cfg.OnIgnored != nil {
		if err := s.cfg.OnIgnored(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.releaseLocked(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Session) releaseLocked() error {
	if s.cfg.Releaser == nil {
		return nil
	}
	if err := s.cfg.Releaser.BroadcastEditingStatus(s.cfg.ResourceType, s.cfg.ResourceID, false); err != nil {
		return fmt.Errorf("release editing claim: %w", err)
	}
	return nil
}
