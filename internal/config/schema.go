package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
)

// SchemaID identifies the configuration schema for editor tooling.
const SchemaID = "https://tandem.dev/schema/config.json"

var (
	schemaOnce sync.Once
	schemaJSON []byte
	schemaErr  error
)

// sections maps top-level keys to their types so a single block can be
// exported on its own.
var sections = map[string]any{
	"server":        &ServerConfig{},
	"database":      &DatabaseConfig{},
	"redis":         &RedisConfig{},
	"auth":          &AuthConfig{},
	"realtime":      &RealtimeConfig{},
	"logging":       &LoggingConfig{},
	"observability": &ObservabilityConfig{},
}

func newReflector() *jsonschema.Reflector {
	// Unknown keys fail strict decoding, so the schema rejects them too.
	return &jsonschema.Reflector{
		FieldNameTag:              "yaml",
		AllowAdditionalProperties: false,
		ExpandedStruct:            true,
	}
}

// JSONSchema returns the JSON Schema of the whole configuration file.
func JSONSchema() ([]byte, error) {
	schemaOnce.Do(func() {
		s := newReflector().Reflect(&Config{})
		s.ID = SchemaID
		s.Title = "tandem configuration"
		schemaJSON, schemaErr = json.MarshalIndent(s, "", "  ")
	})
	return schemaJSON, schemaErr
}

// SectionSchema returns the schema of one top-level block such as
// "realtime".
func SectionSchema(name string) ([]byte, error) {
	v, ok := sections[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown config section %q (want one of %s)", name, strings.Join(SectionNames(), ", "))
	}
	s := newReflector().Reflect(v)
	s.Title = "tandem " + strings.ToLower(name) + " configuration"
	return json.MarshalIndent(s, "", "  ")
}

// SectionNames lists the exportable sections in order.
func SectionNames() []string {
	names := make([]string, 0, len(sections))
	for name := range sections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
