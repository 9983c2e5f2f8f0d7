package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ExtractJSONObject locates the first balanced JSON object inside a model
// response. Models wrap JSON in code fences or surround it with prose; the
// scanner strips a leading/trailing fence, finds the first '{' and walks the
// string tracking string-literal state (with backslash escapes) and brace
// depth until the depth returns to zero. When no '{' exists the trimmed input
// is returned unchanged and will fail validation downstream.
func ExtractJSONObject(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimSpace(strings.Trim(s, "`"))
	}
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return s
	}
	depth := 0
	inStr := false
	esc := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case ch == '\\':
				esc = true
			case ch == '"':
				inStr = false
			}
			continue
		}
		switch ch {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return strings.TrimSpace(strings.Trim(strings.TrimSpace(s[start:i+1]), "`"))
			}
		}
	}
	return s
}

// ResultSchema returns the JSON Schema for Result as a generic map. The same
// map is embedded in the prompt and enforced locally, so the model sees
// exactly the contract we validate against.
func ResultSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"metadata": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"company": map[string]any{"type": []string{"string", "null"}},
					"quarter": map[string]any{"type": []string{"string", "null"}},
					"year":    map[string]any{"type": []string{"integer", "null"}},
					"source":  map[string]any{"type": []string{"string", "null"}},
					"pages":   map[string]any{"type": []string{"integer", "null"}},
				},
				"required": []string{"company", "quarter", "year", "source", "pages"},
			},
			"recommendation": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"action":     map[string]any{"enum": []string{"buy", "hold", "sell"}},
					"rationale":  map[string]any{"type": "string"},
					"confidence": map[string]any{"type": "integer", "minimum": 0, "maximum": 100},
				},
				"required": []string{"action", "rationale", "confidence"},
			},
			"risks": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name":       map[string]any{"type": "string"},
						"severity":   map[string]any{"enum": []string{"low", "medium", "high", "critical"}},
						"impact":     map[string]any{"type": "string"},
						"likelihood": map[string]any{"enum": []string{"low", "medium", "high"}},
						"mitigation": map[string]any{"type": "string"},
					},
					"required": []string{"name", "severity", "impact", "likelihood", "mitigation"},
				},
			},
			"insights": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"topic":    map[string]any{"type": "string"},
						"insight":  map[string]any{"type": "string"},
						"evidence": map[string]any{"type": "string"},
					},
					"required": []string{"topic", "insight", "evidence"},
				},
			},
			"key_metrics": map[string]any{
				"type": []string{"object", "null"},
				"properties": map[string]any{
					"revenue_yoy":     map[string]any{"type": []string{"number", "null"}},
					"gross_margin":    map[string]any{"type": []string{"number", "null"}},
					"ebitda_margin":   map[string]any{"type": []string{"number", "null"}},
					"guidance_change": map[string]any{"type": []string{"string", "null"}},
				},
			},
			"quotes":      map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"limitations": map[string]any{"type": "string"},
		},
		"required":             []string{"metadata", "recommendation", "risks", "insights", "quotes", "limitations"},
		"additionalProperties": false,
	}
}

// ValidateAgainstSchema validates data against schemaMap.
func ValidateAgainstSchema(schemaMap map[string]any, data []byte) error {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("result.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("result.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}

// ParseResult enforces the output contract on a raw model response: extract
// the balanced JSON object, validate it against ResultSchema, then decode.
// Any failure surfaces as ErrInvalidModelOutput with the underlying cause;
// the caller keeps the raw text for diagnostics.
func ParseResult(raw string) (*Result, error) {
	extracted := ExtractJSONObject(raw)
	if err := ValidateAgainstSchema(ResultSchema(), []byte(extracted)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModelOutput, err)
	}
	var res Result
	if err := json.Unmarshal([]byte(extracted), &res); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidModelOutput, err)
	}
	return &res, nil
}
