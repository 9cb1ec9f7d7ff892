package conflict

import (
	"context"
	"errors"
	"testing"

	"github.com/haasonsaas/tandem/pkg/models"
)

type releaseCall struct {
	resource, id string
	isEditing    bool
}

type fakeReleaser struct {
	calls []releaseCall
	err   error
}

func (r *fakeReleaser) BroadcastEditingStatus(resource, resourceID string, isEditing bool) error {
	r.calls = append(r.calls, releaseCall{resource, resourceID, isEditing})
	return r.err
}

func newTestSession(fields []Field, onResolve ResolveFunc, releaser EditingReleaser) *Session {
	return NewSession(SessionConfig{
		ResourceType:    "product",
		ResourceID:      "9",
		ResourceName:    "Widget",
		ConflictingUser: models.User{ID: "u-bob", Name: "Bob"},
		Fields:          fields,
		Base:            map[string]any{"price": 100, "name": "foo", "sku": "W-1"},
		OnResolve:       onResolve,
		Releaser:        releaser,
	})
}

var testFields = []Field{
	{Name: "name", Label: "Name", CurrentValue: "foo", IncomingValue: "bar"},
	{Name: "price", Label: "Price", CurrentValue: 100, IncomingValue: 200},
}

func TestSessionStrategies(t *testing.T) {
	tests := []struct {
		strategy  Strategy
		wantName  any
		wantPrice any
	}{
		{StrategyMine, "foo", 100},
		{StrategyTheirs, "bar", 200},
		{StrategyMerge, "foo bar", 150},
	}
	for _, tt := range tests {
		t.Run(string(tt.strategy), func(t *testing.T) {
			s := newTestSession(testFields, nil, nil)
			if err := s.SelectStrategy(tt.strategy); err != nil {
				t.Fatalf("SelectStrategy() error = %v", err)
			}
			if s.Strategy() != tt.strategy {
				t.Errorf("Strategy() = %q", s.Strategy())
			}
			name, _ := s.Resolution("name")
			price, _ := s.Resolution("price")
			if !Equal(name, tt.wantName) || !Equal(price, tt.wantPrice) {
				t.Errorf("resolutions = %v, %v; want %v, %v", name, price, tt.wantName, tt.wantPrice)
			}
			if !s.CanApply() {
				t.Error("bulk strategy should resolve every field")
			}
		})
	}
}

func TestSessionManualKeepsResolutions(t *testing.T) {
	s := newTestSession(testFields, nil, nil)
	_ = s.SelectStrategy(StrategyTheirs)
	if err := s.SelectStrategy(StrategyManual); err != nil {
		t.Fatalf("SelectStrategy() error = %v", err)
	}
	if v, _ := s.Resolution("name"); v != "bar" {
		t.Errorf("manual should keep earlier resolutions, got %v", v)
	}

	fresh := newTestSession(testFields, nil, nil)
	_ = fresh.SelectStrategy(StrategyManual)
	if fresh.CanApply() {
		t.Error("manual alone must not resolve anything")
	}
	if err := fresh.SelectStrategy("blend"); !errors.Is(err, ErrInvalidStrategy) {
		t.Errorf("SelectStrategy(blend) error = %v", err)
	}
}

func TestMergeValues(t *testing.T) {
	tests := []struct {
		name              string
		current, incoming any
		want              any
	}{
		{"numbers", 100, 200, 150},
		{"rounds half up", 1, 2, 2},
		{"floats", 1.2, 1.4, 1},
		{"strings", "foo", "bar", "foo bar"},
		{"mixed", "foo", 2, 2},
		{"bools", true, false, false},
		{"nil current", nil, "bar", "bar"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MergeValues(tt.current, tt.incoming); !Equal(got, tt.want) {
				t.Errorf("MergeValues(%v, %v) = %v, want %v", tt.current, tt.incoming, got, tt.want)
			}
		})
	}
}

func TestSessionApplyRequiresEveryField(t *testing.T) {
	var saved map[string]any
	releaser := &fakeReleaser{}
	s := newTestSession(testFields, func(_ context.Context, _ *Session, resolved map[string]any) error {
		saved = resolved
		return nil
	}, releaser)

	if err := s.PickCurrent("name"); err != nil {
		t.Fatalf("PickCurrent() error = %v", err)
	}
	if s.CanApply() {
		t.Fatal("partially resolved session must not be applicable")
	}
	if _, err := s.Apply(context.Background()); !errors.Is(err, ErrUnresolved) {
		t.Fatalf("Apply() error = %v, want ErrUnresolved", err)
	}
	if saved != nil || len(releaser.calls) != 0 {
		t.Fatal("partial apply must not save or release")
	}
	if got := s.Unresolved(); len(got) != 1 || got[0] != "price" {
		t.Errorf("Unresolved() = %v", got)
	}

	if err := s.Resolve("price", ""); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !s.IsResolved("price") {
		t.Fatal("empty string must count as resolved")
	}

	result, err := s.Apply(context.Background())
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if result["name"] != "foo" || result["price"] != "" || result["sku"] != "W-1" {
		t.Errorf("result = %v", result)
	}
	if saved == nil {
		t.Fatal("OnResolve not called")
	}
	if len(releaser.calls) != 1 || releaser.calls[0] != (releaseCall{"product", "9", false}) {
		t.Errorf("release calls = %+v", releaser.calls)
	}
	if !s.Closed() {
		t.Error("session should be closed")
	}
	if err := s.PickIncoming("name"); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("PickIncoming() after apply error = %v", err)
	}
}

func TestSessionApplyFailureKeepsSessionOpen(t *testing.T) {
	releaser := &fakeReleaser{}
	s := newTestSession(testFields, func(context.Context, *Session, map[string]any) error {
		return errors.New("store down")
	}, releaser)
	_ = s.SelectStrategy(StrategyMine)

	if _, err := s.Apply(context.Background()); err == nil {
		t.Fatal("expected Apply() error")
	}
	if s.Closed() || len(releaser.calls) != 0 {
		t.Error("failed save must leave the session open and the claim held")
	}
}

func TestSessionCancel(t *testing.T) {
	releaser := &fakeReleaser{}
	ignored := 0
	saved := false
	s := NewSession(SessionConfig{
		ResourceType: "task",
		ResourceID:   "1",
		Fields:       testFields,
		OnResolve: func(context.Context, *Session, map[string]any) error {
			saved = true
			return nil
		},
		OnIgnored: func(context.Context, *Session) error {
			ignored++
			return nil
		},
		Releaser: releaser,
	})
	_ = s.PickIncoming("name")

	if err := s.Cancel(context.Background()); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if ignored != 1 || saved {
		t.Errorf("ignored = %d, saved = %v", ignored, saved)
	}
	if len(releaser.calls) != 1 || releaser.calls[0].isEditing {
		t.Errorf("release calls = %+v", releaser.calls)
	}
	if err := s.Cancel(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("second Cancel() error = %v", err)
	}
}

func TestSessionRejectsUnknownField(t *testing.T) {
	s := newTestSession(testFields, nil, nil)
	for _, err := range []error{s.Resolve("sku", 1), s.PickCurrent("sku"), s.PickIncoming("sku")} {
		if !errors.Is(err, ErrUnknownField) {
			t.Errorf("error = %v, want ErrUnknownField", err)
		}
	}
}

func TestParseStrategy(t *testing.T) {
	for _, name := range []string{"manual", "mine", "theirs", "merge"} {
		if _, err := ParseStrategy(name); err != nil {
			t.Errorf("ParseStrategy(%q) error = %v", name, err)
		}
	}
	if _, err := ParseStrategy("auto"); !errors.Is(err, ErrInvalidStrategy) {
		t.Errorf("ParseStrategy(auto) error = %v", err)
	}
}
