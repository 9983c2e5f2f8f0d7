package analysis

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func validResultJSON(t *testing.T, mutate func(m map[string]any)) string {
	t.Helper()
	m := map[string]any{
		"metadata": map[string]any{
			"company": "SampleCo",
			"quarter": "Q2",
			"year":    2025,
			"source":  "sample.pdf",
			"pages":   3,
		},
		"recommendation": map[string]any{
			"action":     "hold",
			"rationale":  "Growth but margin compression.",
			"confidence": 72,
		},
		"risks":       []any{},
		"insights":    []any{},
		"key_metrics": nil,
		"quotes":      []any{},
		"limitations": "Excerpt only.",
	}
	if mutate != nil {
		mutate(m)
	}
	b, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	return string(b)
}

func TestExtractJSONObject_BalancedObjectInsideProse(t *testing.T) {
	in := "Here is the result: ```json\n{\"a\":1, \"b\":{\"c\":2}}\n```"
	got := ExtractJSONObject(in)
	want := `{"a":1, "b":{"c":2}}`
	if got != want {
		t.Fatalf("extract = %q, want %q", got, want)
	}
}

func TestExtractJSONObject_BracesInsideStrings(t *testing.T) {
	in := `prefix {"msg":"closing } inside \" string","n":{"x":1}} trailing {junk`
	got := ExtractJSONObject(in)
	want := `{"msg":"closing } inside \" string","n":{"x":1}}`
	if got != want {
		t.Fatalf("extract = %q, want %q", got, want)
	}
}

func TestExtractJSONObject_NoObjectReturnsTrimmedInput(t *testing.T) {
	if got := ExtractJSONObject("  no json here  "); got != "no json here" {
		t.Fatalf("extract = %q", got)
	}
}

func TestParseResult_ValidDocument(t *testing.T) {
	raw := "Analysis follows:\n```json\n" + validResultJSON(t, nil) + "\n```"
	res, err := ParseResult(raw)
	if err != nil {
		t.Fatalf("ParseResult: %v", err)
	}
	if res.Recommendation.Action != ActionHold {
		t.Errorf("action = %q, want hold", res.Recommendation.Action)
	}
	if res.Recommendation.Confidence != 72 {
		t.Errorf("confidence = %d, want 72", res.Recommendation.Confidence)
	}
	if res.Metadata.Company == nil || *res.Metadata.Company != "SampleCo" {
		t.Errorf("company = %v", res.Metadata.Company)
	}
	if res.Risks == nil || len(res.Risks) != 0 {
		t.Errorf("risks = %v, want empty slice", res.Risks)
	}
	if res.KeyMetrics != nil {
		t.Errorf("key_metrics = %v, want nil", res.KeyMetrics)
	}
}

func TestParseResult_ConfidenceOutOfRange(t *testing.T) {
	raw := validResultJSON(t, func(m map[string]any) {
		m["recommendation"].(map[string]any)["confidence"] = 101
	})
	_, err := ParseResult(raw)
	if !errors.Is(err, ErrInvalidModelOutput) {
		t.Fatalf("err = %v, want ErrInvalidModelOutput", err)
	}
}

func TestParseResult_UnknownAction(t *testing.T) {
	raw := validResultJSON(t, func(m map[string]any) {
		m["recommendation"].(map[string]any)["action"] = "strong_buy"
	})
	_, err := ParseResult(raw)
	if !errors.Is(err, ErrInvalidModelOutput) {
		t.Fatalf("err = %v, want ErrInvalidModelOutput", err)
	}
}

func TestParseResult_CaseSensitiveEnums(t *testing.T) {
	raw := validResultJSON(t, func(m map[string]any) {
		m["recommendation"].(map[string]any)["action"] = "Buy"
	})
	if _, err := ParseResult(raw); !errors.Is(err, ErrInvalidModelOutput) {
		t.Fatalf("err = %v, want ErrInvalidModelOutput", err)
	}
}

func TestParseResult_MissingLimitations(t *testing.T) {
	raw := validResultJSON(t, func(m map[string]any) {
		delete(m, "limitations")
	})
	if _, err := ParseResult(raw); !errors.Is(err, ErrInvalidModelOutput) {
		t.Fatalf("err = %v, want ErrInvalidModelOutput", err)
	}
}

func TestParseResult_NotJSON(t *testing.T) {
	_, err := ParseResult("the model refused to answer")
	if !errors.Is(err, ErrInvalidModelOutput) {
		t.Fatalf("err = %v, want ErrInvalidModelOutput", err)
	}
}

func TestParseResult_RiskItems(t *testing.T) {
	raw := validResultJSON(t, func(m map[string]any) {
		m["risks"] = []any{map[string]any{
			"name":       "Margin pressure",
			"severity":   "medium",
			"impact":     "Profitability",
			"likelihood": "medium",
			"mitigation": "Pricing & mix",
		}}
	})
	res, err := ParseResult(raw)
	if err != nil {
		t.Fatalf("ParseResult: %v", err)
	}
	if len(res.Risks) != 1 || res.Risks[0].Severity != SeverityMedium {
		t.Fatalf("risks = %+v", res.Risks)
	}
}

func TestParseResult_BadSeverityRejected(t *testing.T) {
	raw := validResultJSON(t, func(m map[string]any) {
		m["risks"] = []any{map[string]any{
			"name":       "x",
			"severity":   "catastrophic",
			"impact":     "y",
			"likelihood": "low",
			"mitigation": "z",
		}}
	})
	if _, err := ParseResult(raw); !errors.Is(err, ErrInvalidModelOutput) {
		t.Fatalf("err = %v, want ErrInvalidModelOutput", err)
	}
}

func TestParseResult_RoundTripSerializes(t *testing.T) {
	res, err := ParseResult(validResultJSON(t, nil))
	if err != nil {
		t.Fatalf("ParseResult: %v", err)
	}
	b, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), `"action":"hold"`) {
		t.Fatalf("serialized = %s", b)
	}
}
