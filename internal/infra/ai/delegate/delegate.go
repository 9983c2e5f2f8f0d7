// Package delegate implements the optional pre-analysis delegation step as a
// trace-only observer. The step exists purely for its side effects; its
// result type is unit by contract so nothing it produces can leak into the
// validated analysis.
package delegate

import (
	"context"
	"log/slog"
)

const analystBrief = "Analyze the supplied financial text and produce STRICT JSON matching the schema. " +
	"Avoid hallucinations; use only the provided text."

// Tracer logs a delegation trace before the analyst call.
type Tracer struct {
	log *slog.Logger
}

func NewTracer(log *slog.Logger) *Tracer {
	if log == nil {
		log = slog.Default()
	}
	return &Tracer{log: log}
}

func (t *Tracer) Observe(ctx context.Context, query, text string) {
	t.log.Info("delegation.kickoff",
		"agent", "financial_analyst",
		"brief", analystBrief,
		"query", query,
		"text_len", len(text),
	)
}
