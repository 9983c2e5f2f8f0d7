package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	domain "finanalyzer/internal/domain/analysis"
	"finanalyzer/internal/infra/ai/prompt"
)

// DefaultMaxInputChars bounds the document text sent to the model. Truncation
// is lossy; when it happens the engine appends a note to the result's
// limitations field.
const DefaultMaxInputChars = 180_000

const mockConfidence = 65

// Config is passed in at construction time; the engine never reads process
// environment mid-call.
type Config struct {
	MockMode          bool   // deterministic keyword heuristic, no network
	MockFallback      bool   // degrade to mock when the model call fails
	DelegationEnabled bool   // fire-and-forget observer before the model call
	Model             string // provider model name, informational here
	MaxInputChars     int    // 0 means DefaultMaxInputChars
}

// Service is the analysis engine: prompt construction, one model invocation,
// contract enforcement. It never returns a malformed result.
type Service struct {
	cfg      Config
	model    domain.Model
	observer domain.Observer
	log      *slog.Logger
}

func NewService(cfg Config, model domain.Model, observer domain.Observer, log *slog.Logger) *Service {
	if cfg.MaxInputChars <= 0 {
		cfg.MaxInputChars = DefaultMaxInputChars
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{cfg: cfg, model: model, observer: observer, log: log}
}

// Analyze produces a validated result for the extracted document text. The
// second return value is the raw model response, retained by the caller for
// diagnostics when contract validation fails.
func (s *Service) Analyze(ctx context.Context, query, text string, hints domain.MetadataHints) (*domain.Result, string, error) {
	if s.cfg.MockMode {
		return s.mockResult(text, hints), "", nil
	}

	snippet, truncated := truncate(text, s.cfg.MaxInputChars)

	if s.cfg.DelegationEnabled && s.observer != nil {
		// Side effects only; the observer returns nothing and cannot fail the job.
		s.observer.Observe(ctx, query, snippet)
	}

	msgs, err := prompt.BuildMessages(query, hints, snippet)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", domain.ErrModelCallFailed, err)
	}

	raw, err := s.model.Complete(ctx, msgs)
	if err != nil {
		if s.cfg.MockFallback {
			s.log.Warn("model call failed, degrading to mock analysis", "error", err)
			return s.mockResult(text, hints), "", nil
		}
		return nil, "", fmt.Errorf("%w: %v", domain.ErrModelCallFailed, err)
	}

	res, err := domain.ParseResult(raw)
	if err != nil {
		// No silent fallback on contract violations: do not guess.
		return nil, raw, err
	}
	if truncated {
		res.Limitations = strings.TrimSpace(res.Limitations +
			fmt.Sprintf(" Input text was truncated to the first %d characters.", s.cfg.MaxInputChars))
	}
	return res, raw, nil
}

var growthKeywords = []string{"increase", "grew", "up ", "growth", "higher"}

// mockResult derives a recommendation purely from keyword heuristics over the
// lower-cased text. Deterministic, network-free; used for testing, offline
// operation, and as the documented degradation path.
func (s *Service) mockResult(text string, hints domain.MetadataHints) *domain.Result {
	t := strings.ToLower(text)
	growth := false
	for _, k := range growthKeywords {
		if strings.Contains(t, k) {
			growth = true
			break
		}
	}
	margin := strings.Contains(t, "margin") || strings.Contains(t, "bps")

	action := domain.ActionSell
	switch {
	case growth && margin:
		action = domain.ActionBuy
	case growth:
		action = domain.ActionHold
	}

	insight := "No clear growth signals detected."
	evidence := "none"
	if growth {
		insight = "Growth keywords detected."
		evidence = "increase/grew/up/higher"
	}

	company := strOr(hints.Company, "UnknownCo")
	quarter := strOr(hints.Quarter, "Q?")
	source := hints.Source
	if source == "" {
		source = "uploaded.pdf"
	}

	return &domain.Result{
		Metadata: domain.DocumentMetadata{
			Company: &company,
			Quarter: &quarter,
			Year:    hints.Year,
			Source:  &source,
			Pages:   hints.Pages,
		},
		Recommendation: domain.Recommendation{
			Action:     action,
			Rationale:  "Mock analysis using keywords (growth/margin).",
			Confidence: mockConfidence,
		},
		Risks: []domain.RiskItem{{
			Name:       "Data completeness",
			Severity:   domain.SeverityMedium,
			Impact:     "Heuristic mock may miss context.",
			Likelihood: domain.LikelihoodMedium,
			Mitigation: "Use real model when quota is available.",
		}},
		Insights: []domain.MarketInsight{{
			Topic:    "Growth",
			Insight:  insight,
			Evidence: evidence,
		}},
		KeyMetrics:  &domain.KeyMetrics{},
		Quotes:      []string{},
		Limitations: "This is a mock result generated without calling the model.",
	}
}

// truncate bounds s to at most limit bytes, backing up to the nearest rune
// boundary so a multi-byte character is never split mid-sequence.
func truncate(s string, limit int) (string, bool) {
	if len(s) <= limit {
		return s, false
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit], true
}

func strOr(p *string, def string) string {
	if p != nil && *p != "" {
		return *p
	}
	return def
}
