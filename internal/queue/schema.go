package queue

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// submissionBatchSchema describes the only payload accepted from
// outside callers verbatim; the other job types are built from already
// parsed identifiers. Structural rules live here, identifier sanity
// checks stay in Go.
func submissionBatchSchema() map[string]any {
	uuidString := map[string]any{
		"type":      "string",
		"minLength": 36,
		"maxLength": 36,
	}
	return map[string]any{
		"type":     "object",
		"required": []any{"exam_id", "submissions"},
		"properties": map[string]any{
			"exam_id": uuidString,
			"submissions": map[string]any{
				"type":     "array",
				"minItems": 1,
				"items": map[string]any{
					"type":     "object",
					"required": []any{"participant_id", "score"},
					"properties": map[string]any{
						"participant_id": uuidString,
						"score":          map[string]any{"type": "number", "minimum": 0},
						"start_time":     map[string]any{"type": "string"},
						"end_time":       map[string]any{"type": "string"},
						"is_completed":   map[string]any{"type": "boolean"},
					},
				},
			},
		},
	}
}

// compileSchema turns a schema map into a compiled validator.
func compileSchema(schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// validateAgainst validates raw JSON against a compiled schema.
func validateAgainst(schema *jsonschema.Schema, data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
