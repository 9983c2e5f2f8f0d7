package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	domain "finanalyzer/internal/domain/analysis"
)

type stubModel struct {
	reply string
	err   error
	got   []domain.Message
	calls int
}

func (m *stubModel) Complete(_ context.Context, msgs []domain.Message) (string, error) {
	m.calls++
	m.got = msgs
	return m.reply, m.err
}

type stubObserver struct {
	calls int
	query string
}

func (o *stubObserver) Observe(_ context.Context, query, _ string) {
	o.calls++
	o.query = query
}

const validReply = "```json\n" +
	`{"metadata":{"company":"ACME","quarter":"Q1","year":2026,"source":"acme.pdf","pages":4},` +
	`"recommendation":{"action":"buy","rationale":"Strong quarter.","confidence":80},` +
	`"risks":[],"insights":[],"key_metrics":null,"quotes":[],"limitations":"n/a"}` +
	"\n```"

func TestMockMode_GrowthAndMarginIsBuy(t *testing.T) {
	svc := NewService(Config{MockMode: true}, nil, nil, nil)
	res, _, err := svc.Analyze(context.Background(), "q", "revenue grew 15% with margin improvement", domain.MetadataHints{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Recommendation.Action != domain.ActionBuy {
		t.Errorf("action = %q, want buy", res.Recommendation.Action)
	}
	if res.Recommendation.Confidence != 65 {
		t.Errorf("confidence = %d, want 65", res.Recommendation.Confidence)
	}
}

func TestMockMode_GrowthWithoutMarginIsHold(t *testing.T) {
	svc := NewService(Config{MockMode: true}, nil, nil, nil)
	res, _, err := svc.Analyze(context.Background(), "q", "sales grew substantially this year", domain.MetadataHints{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Recommendation.Action != domain.ActionHold {
		t.Errorf("action = %q, want hold", res.Recommendation.Action)
	}
}

func TestMockMode_NoGrowthIsSell(t *testing.T) {
	svc := NewService(Config{MockMode: true}, nil, nil, nil)
	res, _, err := svc.Analyze(context.Background(), "q", "revenue declined sharply", domain.MetadataHints{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Recommendation.Action != domain.ActionSell {
		t.Errorf("action = %q, want sell", res.Recommendation.Action)
	}
	if len(res.Risks) != 1 || len(res.Insights) != 1 {
		t.Errorf("risks=%d insights=%d, want one each", len(res.Risks), len(res.Insights))
	}
}

func TestMockMode_ResultPassesContract(t *testing.T) {
	svc := NewService(Config{MockMode: true}, nil, nil, nil)
	res, _, err := svc.Analyze(context.Background(), "q", "flat quarter", domain.MetadataHints{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if _, err := domain.ParseResult(mustJSON(t, res)); err != nil {
		t.Fatalf("mock result violates contract: %v", err)
	}
}

func TestLiveMode_ValidatesModelReply(t *testing.T) {
	model := &stubModel{reply: validReply}
	svc := NewService(Config{}, model, nil, nil)
	res, raw, err := svc.Analyze(context.Background(), "q", "some text", domain.MetadataHints{Source: "acme.pdf"})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if model.calls != 1 {
		t.Errorf("model calls = %d, want exactly one", model.calls)
	}
	if res.Recommendation.Action != domain.ActionBuy {
		t.Errorf("action = %q", res.Recommendation.Action)
	}
	if raw != validReply {
		t.Errorf("raw response not preserved")
	}
}

func TestLiveMode_InvalidOutputNeverFallsBack(t *testing.T) {
	model := &stubModel{reply: `{"recommendation":{"action":"strong_buy"}}`}
	svc := NewService(Config{MockFallback: true}, model, nil, nil)
	_, raw, err := svc.Analyze(context.Background(), "q", "text", domain.MetadataHints{})
	if !errors.Is(err, domain.ErrInvalidModelOutput) {
		t.Fatalf("err = %v, want ErrInvalidModelOutput", err)
	}
	if raw == "" {
		t.Error("raw output must be retained for diagnostics")
	}
}

func TestLiveMode_CallFailureWithFallbackDegradesToMock(t *testing.T) {
	model := &stubModel{err: errors.New("quota exceeded")}
	svc := NewService(Config{MockFallback: true}, model, nil, nil)
	res, _, err := svc.Analyze(context.Background(), "q", "revenue grew with margin gains", domain.MetadataHints{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Recommendation.Action != domain.ActionBuy {
		t.Errorf("action = %q, want buy from mock heuristic", res.Recommendation.Action)
	}
	if !strings.Contains(res.Limitations, "mock") {
		t.Errorf("limitations = %q, want mock note", res.Limitations)
	}
}

func TestLiveMode_CallFailureWithoutFallback(t *testing.T) {
	model := &stubModel{err: errors.New("connection refused")}
	svc := NewService(Config{}, model, nil, nil)
	_, _, err := svc.Analyze(context.Background(), "q", "text", domain.MetadataHints{})
	if !errors.Is(err, domain.ErrModelCallFailed) {
		t.Fatalf("err = %v, want ErrModelCallFailed", err)
	}
}

func TestLiveMode_TruncatesInputAndNotesIt(t *testing.T) {
	model := &stubModel{reply: validReply}
	svc := NewService(Config{MaxInputChars: 100}, model, nil, nil)
	long := strings.Repeat("x", 500)
	res, _, err := svc.Analyze(context.Background(), "q", long, domain.MetadataHints{})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	final := model.got[len(model.got)-1].Content
	if strings.Contains(final, strings.Repeat("x", 101)) {
		t.Error("prompt contains more than the truncation bound")
	}
	if !strings.Contains(res.Limitations, "truncated") {
		t.Errorf("limitations = %q, want truncation note", res.Limitations)
	}
}

func TestLiveMode_TruncationKeepsRuneBoundaries(t *testing.T) {
	model := &stubModel{reply: validReply}
	// 100 is not a multiple of the 3-byte "€", so a byte slice would split
	// the last rune.
	svc := NewService(Config{MaxInputChars: 100}, model, nil, nil)
	long := strings.Repeat("€", 50)
	if _, _, err := svc.Analyze(context.Background(), "q", long, domain.MetadataHints{}); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	final := model.got[len(model.got)-1].Content
	if !utf8.ValidString(final) {
		t.Error("prompt contains a split multi-byte rune")
	}
	if strings.ContainsRune(final, '�') {
		t.Error("prompt contains a replacement character")
	}
}

func TestLiveMode_DelegationObserverCalledWhenEnabled(t *testing.T) {
	model := &stubModel{reply: validReply}
	obs := &stubObserver{}
	svc := NewService(Config{DelegationEnabled: true}, model, obs, nil)
	if _, _, err := svc.Analyze(context.Background(), "my query", "text", domain.MetadataHints{}); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if obs.calls != 1 || obs.query != "my query" {
		t.Errorf("observer calls=%d query=%q", obs.calls, obs.query)
	}
}

func TestLiveMode_DelegationSkippedWhenDisabled(t *testing.T) {
	model := &stubModel{reply: validReply}
	obs := &stubObserver{}
	svc := NewService(Config{}, model, obs, nil)
	if _, _, err := svc.Analyze(context.Background(), "q", "text", domain.MetadataHints{}); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if obs.calls != 0 {
		t.Errorf("observer calls = %d, want 0", obs.calls)
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}
