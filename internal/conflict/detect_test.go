package conflict

import (
	"reflect"
	"testing"
)

func TestDetectThreeWay(t *testing.T) {
	original := map[string]any{"price": 100, "name": "A"}
	current := map[string]any{"price": 150, "name": "A"}
	incoming := map[string]any{"price": 120, "name": "A"}

	got := Detect(original, current, incoming, nil)
	if len(got) != 1 {
		t.Fatalf("Detect() returned %d fields, want 1: %+v", len(got), got)
	}
	f := got[0]
	if f.Name != "price" || f.Label != "Price" {
		t.Errorf("field = %q (%q), want price (Price)", f.Name, f.Label)
	}
	if !Equal(f.CurrentValue, 150) || !Equal(f.IncomingValue, 120) {
		t.Errorf("values = %v / %v, want 150 / 120", f.CurrentValue, f.IncomingValue)
	}
}

func TestDetectConvergedEditsAreNotConflicts(t *testing.T) {
	originals := []map[string]any{
		nil,
		{"title": "draft"},
		{"title": "other", "tags": []any{"a"}},
	}
	same := map[string]any{"title": "final", "tags": []any{"a", "b"}}
	for _, o := range originals {
		if got := Detect(o, same, same, nil); len(got) != 0 {
			t.Errorf("Detect(%v, X, X) = %+v, want none", o, got)
		}
	}
}

func TestDetectIsDeterministic(t *testing.T) {
	original := map[string]any{"a": 1, "b": "x", "c": []any{1}}
	current := map[string]any{"a": 2, "b": "y", "c": []any{2}}
	incoming := map[string]any{"a": 3, "b": "z", "c": []any{3}}

	first := Detect(original, current, incoming, nil)
	second := Detect(original, current, incoming, nil)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("Detect() not idempotent: %+v vs %+v", first, second)
	}
	var names []string
	for _, f := range first {
		names = append(names, f.Name)
	}
	if !reflect.DeepEqual(names, []string{"a", "b", "c"}) {
		t.Errorf("field order = %v", names)
	}
}

func TestDetectOneSidedAndMissingFields(t *testing.T) {
	original := map[string]any{"qty": 1}
	current := map[string]any{"qty": 1, "note": "mine"}
	incoming := map[string]any{"qty": 2}

	got := Detect(original, current, incoming, map[string]string{"qty": "Quantity"})
	if len(got) != 2 {
		t.Fatalf("Detect() = %+v, want note and qty", got)
	}
	if got[0].Name != "note" || got[0].IncomingValue != nil {
		t.Errorf("note field = %+v", got[0])
	}
	if got[1].Name != "qty" || got[1].Label != "Quantity" {
		t.Errorf("qty field = %+v", got[1])
	}
}

func TestHumanizeField(t *testing.T) {
	tests := map[string]string{
		"price":        "Price",
		"unitPrice":    "Unit Price",
		"dueDate2":     "Due Date2",
		"customerID":   "Customer ID",
		"HTTPEndpoint": "HTTP Endpoint",
		"vat_rate":     "Vat Rate",
		"":             "",
	}
	for in, want := range tests {
		if got := HumanizeField(in); got != want {
			t.Errorf("HumanizeField(%q) = %q, want %q", in, got, want)
		}
	}
}
