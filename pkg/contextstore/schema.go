package contextstore

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// SchemaValidator validates values against a compiled JSON-Schema document.
// One SchemaValidator is built per (workflow, schema field) and handed to
// New's inputV/stateV/outputV parameters. Schemas are compiled per run (the
// coordinator compiles a workflow's schemas when it starts the run); the
// Resource Gateway caches definitions, not compiled schemas.
type SchemaValidator struct {
	schema *jsonschema.Schema
}

// CompileSchema compiles a JSON-Schema-subset document (as decoded into a
// map[string]any by the definition gateway) into a reusable SchemaValidator.
func CompileSchema(doc map[string]any) (*SchemaValidator, error) {
	if doc == nil {
		return nil, nil
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("schema: marshal document: %w", err)
	}

	decoded, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("schema: decode document: %w", err)
	}

	c := jsonschema.NewCompiler()
	const resourceURL = "mem://context-schema.json"
	if err := c.AddResource(resourceURL, decoded); err != nil {
		return nil, fmt.Errorf("schema: add resource: %w", err)
	}

	compiled, err := c.Compile(resourceURL)
	if err != nil {
		return nil, fmt.Errorf("schema: compile: %w", err)
	}

	return &SchemaValidator{schema: compiled}, nil
}

// ValidateSubtree validates value against the whole compiled schema.
//
// The spec calls for validating only "the affected subtree" on a write, but
// a JSON-Schema-subset document describes the *whole* namespace's shape
// (e.g. context_schema describes all of state), so in practice "the
// affected subtree" means: re-validate the namespace root after the write
// has been applied to it. Callers therefore pass the whole post-write
// namespace value, not just the leaf being written; path is carried through
// only for error messages and trace payloads.
func (v *SchemaValidator) ValidateSubtree(path string, value any) error {
	if v == nil || v.schema == nil {
		return nil
	}
	inst, err := toInstance(value)
	if err != nil {
		return fmt.Errorf("schema: convert instance at %s: %w", path, err)
	}
	if err := v.schema.Validate(inst); err != nil {
		return err
	}
	return nil
}

// toInstance round-trips v through JSON so map[string]any values built by
// Go code satisfy jsonschema's expectations around numeric types (it wants
// json.Number/float64, not arbitrary Go ints in nested positions).
func toInstance(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
