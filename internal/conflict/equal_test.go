package conflict

import (
	"encoding/json"
	"testing"
)

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"same string", "a", "a", true},
		{"different string", "a", "b", false},
		{"nil nil", nil, nil, true},
		{"nil vs value", nil, "", false},
		{"value vs nil", 0, nil, false},
		{"int vs float", 100, float64(100), true},
		{"json number", json.Number("1.5"), 1.5, true},
		{"number vs string", 1, "1", false},
		{"bool", true, true, true},
		{"slices equal", []any{1, "x"}, []any{float64(1), "x"}, true},
		{"slices length", []any{1}, []any{1, 2}, false},
		{"typed slices", []string{"a"}, []any{"a"}, true},
		{"nested maps", map[string]any{"a": map[string]any{"b": 1}}, map[string]any{"a": map[string]any{"b": 1.0}}, true},
		{"map key sets", map[string]any{"a": 1}, map[string]any{"b": 1}, false},
		{"map vs slice", map[string]any{}, []any{}, false},
		{"map sizes", map[string]any{"a": 1}, map[string]any{"a": 1, "b": nil}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Equal(tt.a, tt.b); got != tt.want {
				t.Errorf("Equal(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
			if got := Equal(tt.b, tt.a); got != tt.want {
				t.Errorf("Equal(%v, %v) = %v, want %v (reversed)", tt.b, tt.a, got, tt.want)
			}
		})
	}
}
