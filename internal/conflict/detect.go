package conflict

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Field is one field on which the local edit and the latest stored copy
// disagree.
type Field struct {
	Name          string `json:"field"`
	Label         string `json:"label"`
	CurrentValue  any    `json:"currentValue"`
	IncomingValue any    `json:"incomingValue"`
}

// Detect compares every field present in current or incoming against the
// original snapshot. A field conflicts when current and incoming differ and
// at least one of them moved away from original. Fields are returned sorted
// by name. labels overrides the humanized field name.
func Detect(original, current, incoming map[string]any, labels map[string]string) []Field {
	keys := make(map[string]struct{}, len(current)+len(incoming))
	for k := range current {
		keys[k] = struct{}{}
	}
	for k := range incoming {
		keys[k] = struct{}{}
	}
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)

	var out []Field
	for _, name := range names {
		o, c, i := original[name], current[name], incoming[name]
		if Equal(c, o) && Equal(i, o) {
			continue
		}
		if Equal(c, i) {
			continue
		}
		label := labels[name]
		if label == "" {
			label = HumanizeField(name)
		}
		out = append(out, Field{Name: name, Label: label, CurrentValue: c, IncomingValue: i})
	}
	return out
}

// HumanizeField turns a camelCase or snake_case field name into a title-cased
// label: "unitPrice" becomes "Unit Price".
func HumanizeField(name string) string {
	var words []string
	var word []rune
	flush := func() {
		if len(word) > 0 {
			words = append(words, string(word))
			word = word[:0]
		}
	}
	runes := []rune(name)
	for idx, r := range runes {
		switch {
		case r == '_' || r == '-' || unicode.IsSpace(r):
			flush()
			continue
		case unicode.IsUpper(r) && idx > 0:
			prev := runes[idx-1]
			nextLower := idx+1 < len(runes) && unicode.IsLower(runes[idx+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				flush()
			}
		}
		word = append(word, r)
	}
	flush()
	// Casers are stateful; one per call keeps this safe for concurrent use.
	return cases.Title(language.English, cases.NoLower).String(strings.Join(words, " "))
}
