package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// BuildResponseSchema describes the canonical extraction response for fields.
// Fields may be omitted by the model; confidences must lie in [0,1].
func BuildResponseSchema(fields []string) map[string]any {
	props := make(map[string]any, len(fields))
	for _, f := range fields {
		props[f] = map[string]any{
			"type":     "object",
			"required": []string{"value", "confidence"},
			"properties": map[string]any{
				"value":      map[string]any{"type": []string{"string", "null"}},
				"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
			},
		}
	}
	return map[string]any{
		"$schema":  "http://json-schema.org/draft-07/schema#",
		"type":     "object",
		"required": []string{"fields"},
		"properties": map[string]any{
			"category": map[string]any{"type": []string{"string", "null"}},
			"fields": map[string]any{
				"type":                 "object",
				"properties":           props,
				"additionalProperties": false,
			},
		},
	}
}

// ValidateJSONAgainstSchema validates "data" against "schemaMap".
func ValidateJSONAgainstSchema(schemaMap map[string]any, data []byte) error {
	schema, err := compileSchema(schemaMap)
	if err != nil {
		return err
	}
	return validateWith(schema, data)
}

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

func validateWith(schema *jsonschema.Schema, data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}

// responseSchemas caches compiled schemas by field list.
var responseSchemas sync.Map

func responseSchema(fields []string) (*jsonschema.Schema, error) {
	key := strings.Join(fields, "\x00")
	if s, ok := responseSchemas.Load(key); ok {
		return s.(*jsonschema.Schema), nil
	}
	s, err := compileSchema(BuildResponseSchema(fields))
	if err != nil {
		return nil, err
	}
	actual, _ := responseSchemas.LoadOrStore(key, s)
	return actual.(*jsonschema.Schema), nil
}
