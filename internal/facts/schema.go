package facts

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaRegistry holds an optional compiled JSON Schema per fact type,
// validating a fact's fields before it is canonicalized and saved. A fact
// type with no registered schema is left unvalidated.
type SchemaRegistry struct {
	schemas map[string]*jsonschema.Schema
}

// NewSchemaRegistry returns an empty registry.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{schemas: make(map[string]*jsonschema.Schema)}
}

// Register compiles schemaJSON (a JSON Schema document, draft 2020-12) and
// binds it to factType. A later call for the same factType replaces the
// prior schema.
func (r *SchemaRegistry) Register(factType, schemaJSON string) error {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	schemaURL := fmt.Sprintf("https://facts.local/schema/%s.schema.json", factType)
	if err := c.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
		return fmt.Errorf("facts: schema load for %q failed: %w", factType, err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return fmt.Errorf("facts: schema compile for %q failed: %w", factType, err)
	}
	r.schemas[factType] = compiled
	return nil
}

// Validate checks fields against factType's registered schema, if any. A
// fact type with no schema registered always passes.
func (r *SchemaRegistry) Validate(factType string, fields map[string]FieldValue) error {
	schema, ok := r.schemas[factType]
	if !ok || schema == nil {
		return nil
	}
	// jsonschema validates against decoded JSON values (map[string]any with
	// json.Number for numbers); round-trip through json to get there from a
	// caller-built fields map that may hold plain float64/int/string values.
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("facts: marshal fields for validation: %w", err)
	}
	var decoded any
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil {
		return fmt.Errorf("facts: decode fields for validation: %w", err)
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("facts: fact type %q failed schema validation: %w", factType, err)
	}
	return nil
}

// NewValidated validates fields against factType's registered schema (if
// any), then constructs the Fact via New. This is the schema-enforcing
// counterpart to New for callers that maintain a SchemaRegistry.
func (r *SchemaRegistry) NewValidated(factType string, fields map[string]FieldValue, preds map[string]Predecessor) (*Fact, error) {
	if err := r.Validate(factType, fields); err != nil {
		return nil, err
	}
	return New(factType, fields, preds)
}
