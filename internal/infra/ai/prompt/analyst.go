// Package prompt assembles the chat messages for the financial analyst call.
package prompt

import (
	"encoding/json"
	"fmt"

	"finanalyzer/internal/domain/analysis"
)

// GetSystemPrompt provides strict directions for JSON-only output.
func GetSystemPrompt() string {
	return "You analyze official company financial PDFs. " +
		"Rules: 1) NEVER hallucinate; if unsure, say you cannot confirm. " +
		"2) Use ONLY the provided PDF text. 3) Output STRICT JSON ONLY—no extra text."
}

// Static few-shot exchange anchoring the output shape. The assistant turn is a
// complete, schema-conforming example so the model copies structure, not
// content.
const fewShotUser = "TEXT (excerpt): Revenue grew 12% YoY to $10.1B; gross margin down 120bps; " +
	"guidance: Q3 revenue flat to +2%.\n" +
	`META: {"company":"SampleCo","quarter":"Q2","year":2025,"source":"mock.pdf","pages":2}`

const fewShotAssistant = `{"metadata":{"company":"SampleCo","quarter":"Q2","year":2025,"source":"mock.pdf","pages":2},` +
	`"recommendation":{"action":"hold","rationale":"Growth but margin compression; flat guide.","confidence":72},` +
	`"risks":[{"name":"Margin pressure","severity":"medium","impact":"Profitability","likelihood":"medium","mitigation":"Pricing & mix"}],` +
	`"insights":[{"topic":"Growth","insight":"Double-digit YoY","evidence":"12% YoY to $10.1B"},` +
	`{"topic":"Guide","insight":"Flat to +2%","evidence":"Q3 guidance"}],` +
	`"key_metrics":{"revenue_yoy":12.0,"gross_margin":null,"ebitda_margin":null,"guidance_change":"Flat to +2%"},` +
	`"quotes":["\"Revenue grew 12% YoY to $10.1B\""],` +
	`"limitations":"Excerpt only."}`

// BuildMessages composes the single-shot analyst prompt: system rules, the
// machine-readable schema, one worked example, then the actual document. The
// text passed in must already be truncated by the caller.
func BuildMessages(query string, hints analysis.MetadataHints, text string) ([]analysis.Message, error) {
	schema, err := json.Marshal(analysis.ResultSchema())
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	meta, err := json.Marshal(hints)
	if err != nil {
		return nil, fmt.Errorf("marshal meta: %w", err)
	}
	return []analysis.Message{
		{Role: analysis.RoleSystem, Content: GetSystemPrompt()},
		{Role: analysis.RoleUser, Content: "JSON Schema:\n" + string(schema)},
		{Role: analysis.RoleUser, Content: fewShotUser},
		{Role: analysis.RoleAssistant, Content: fewShotAssistant},
		{Role: analysis.RoleUser, Content: fmt.Sprintf(
			"Analyze the document and output STRICT JSON only.\nQUERY: %s\nMETA: %s\nTEXT:\n%s",
			query, meta, text)},
	}, nil
}
