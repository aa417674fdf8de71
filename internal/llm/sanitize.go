package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/docextract/internal/common"
)

// FieldValue is one decoded field of a model response.
type FieldValue struct {
	Value      *string `json:"value"`
	Confidence float64 `json:"confidence"`
}

// Response is the canonical, schema-checked model output.
type Response struct {
	Category *string               `json:"category"`
	Fields   map[string]FieldValue `json:"fields"`
}

// wrapper keys models use instead of "fields"
var fieldMapKeys = []string{"fields", "extractedData", "extracted_data", "data"}

// DecodeResponse turns raw model text into a Response for the requested fields.
// Shape drift is tolerated; out-of-range confidences are not.
func DecodeResponse(content string, fields []string) (Response, error) {
	canonical, err := NormalizeResponse(content, fields)
	if err != nil {
		return Response{}, common.ParseError(err, "normalize model response")
	}
	schema, err := responseSchema(fields)
	if err != nil {
		return Response{}, common.ParseError(err, "compile response schema")
	}
	if err := validateWith(schema, canonical); err != nil {
		return Response{}, common.ParseError(err, "validate model response")
	}
	var out Response
	if err := json.Unmarshal(canonical, &out); err != nil {
		return Response{}, common.ParseError(err, "decode model response")
	}
	return out, nil
}

// NormalizeResponse rewrites a model response into
// {"category": ..., "fields": {"F": {"value": ..., "confidence": ...}}}.
// Unknown field names are dropped; known names match case-insensitively.
func NormalizeResponse(content string, fields []string) ([]byte, error) {
	obj, err := decodeObject(content)
	if err != nil {
		return nil, err
	}

	canon := make(map[string]string, len(fields))
	for _, f := range fields {
		canon[strings.ToLower(f)] = f
	}

	var category any
	if c, ok := obj["category"]; ok {
		category, err = coerceValue(c)
		if err != nil {
			return nil, fmt.Errorf("category: %w", err)
		}
	}

	raw, err := fieldMap(obj, canon)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		name, ok := canon[strings.ToLower(strings.TrimSpace(k))]
		if !ok {
			continue
		}
		fv, err := coerceField(v)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		out[name] = fv
	}
	return json.Marshal(map[string]any{"category": category, "fields": out})
}

func decodeObject(content string) (map[string]any, error) {
	s := stripFences(content)
	start, end := strings.IndexByte(s, '{'), strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON object in response")
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(s[start : end+1])))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return obj, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:] // language tag
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

// fieldMap finds the field object. A wrapper key must hold an object; without
// one, at least one requested field must appear at the top level.
func fieldMap(obj map[string]any, canon map[string]string) (map[string]any, error) {
	for _, k := range fieldMapKeys {
		v, ok := obj[k]
		if !ok {
			continue
		}
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%q is %T, want an object", k, v)
		}
		return m, nil
	}
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		if _, known := canon[strings.ToLower(strings.TrimSpace(k))]; known {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("response has no field object and no requested fields")
	}
	return out, nil
}

func coerceField(v any) (map[string]any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		// bare value without a confidence
		val, err := coerceValue(v)
		if err != nil {
			return nil, err
		}
		return map[string]any{"value": val, "confidence": 0.0}, nil
	}
	val, err := coerceValue(m["value"])
	if err != nil {
		return nil, err
	}
	conf, err := coerceConfidence(m["confidence"])
	if err != nil {
		return nil, err
	}
	return map[string]any{"value": val, "confidence": conf}, nil
}

// coerceValue returns nil or a non-empty string.
func coerceValue(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		if s := strings.TrimSpace(t); s != "" {
			return s, nil
		}
		return nil, nil
	case json.Number:
		return t.String(), nil
	case bool:
		return strconv.FormatBool(t), nil
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
}

func coerceConfidence(v any) (float64, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case json.Number:
		return t.Float64()
	case float64:
		return t, nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, nil
		}
		pct := strings.HasSuffix(s, "%")
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(s, "%")), 64)
		if err != nil {
			return 0, fmt.Errorf("confidence %q: %w", t, err)
		}
		if pct {
			f /= 100
		}
		return f, nil
	default:
		return 0, fmt.Errorf("confidence has type %T", v)
	}
}
