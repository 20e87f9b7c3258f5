// Package validation checks inbound request bodies against the embedded
// JSON Schemas before any parsing or transport-security work runs. The
// schemas are part of the binary; nothing is fetched at runtime.
package validation

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"strings"

	"github.com/kaptinlin/jsonschema"

	"github.com/GouniManikumar12/aip-server/protocol"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Schema names accepted by Validate.
const (
	SchemaContextRequest        = "context_request"
	SchemaBidResponse           = "bid_response"
	SchemaEventCallback         = "event_callback"
	SchemaRecommendationRequest = "recommendation_request"
)

// Registry holds the compiled schemas.
type Registry struct {
	schemas map[string]*jsonschema.Schema
}

// NewRegistry compiles every embedded schema. A schema that fails to
// compile is a build defect, so the error aborts startup.
func NewRegistry() (*Registry, error) {
	entries, err := fs.ReadDir(schemaFS, "schemas")
	if err != nil {
		return nil, fmt.Errorf("reading embedded schemas: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	reg := &Registry{schemas: make(map[string]*jsonschema.Schema, len(entries))}
	for _, entry := range entries {
		data, err := fs.ReadFile(schemaFS, "schemas/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("reading schema %s: %w", entry.Name(), err)
		}
		schema, err := compiler.Compile(data)
		if err != nil {
			return nil, fmt.Errorf("compiling schema %s: %w", entry.Name(), err)
		}
		name := strings.TrimSuffix(entry.Name(), ".json")
		reg.schemas[name] = schema
	}
	return reg, nil
}

// Validate checks raw JSON against the named schema. Violations return a
// schema_invalid protocol error; unknown schema names are programming
// errors and return internal.
func (r *Registry) Validate(name string, raw []byte) error {
	schema, ok := r.schemas[name]
	if !ok {
		return protocol.Errorf(protocol.KindInternal, "unknown schema %s", name)
	}
	if !json.Valid(raw) {
		return protocol.Errorf(protocol.KindSchemaInvalid, "malformed JSON body")
	}
	result := schema.ValidateJSON(raw)
	if result.IsValid() {
		return nil
	}
	return protocol.Errorf(protocol.KindSchemaInvalid, "%s: %v", name, result.Errors)
}
