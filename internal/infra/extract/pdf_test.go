package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"finanalyzer/internal/domain/analysis"
)

// buildPDF assembles a minimal valid PDF with one Helvetica-set text line per
// page, computing the cross-reference offsets as it writes.
func buildPDF(t *testing.T, pageTexts ...string) []byte {
	t.Helper()

	n := len(pageTexts)
	fontID := 3 + 2*n
	kids := make([]string, n)
	for i := range pageTexts {
		kids[i] = fmt.Sprintf("%d 0 R", 3+2*i)
	}

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), n),
	}
	for i, text := range pageTexts {
		content := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
		objects = append(objects,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 %d 0 R >> >> /Contents %d 0 R >>", fontID, 4+2*i),
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		)
	}
	objects = append(objects, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n",
		len(objects)+1, xref)
	return buf.Bytes()
}

func TestExtract_SinglePageTextAndCount(t *testing.T) {
	e := NewExtractor(nil)
	doc := buildPDF(t, "Revenue grew 12% with margin gains")

	out, err := e.Extract(context.Background(), doc)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if out.Pages != 1 {
		t.Errorf("pages = %d, want 1", out.Pages)
	}
	if !strings.Contains(out.Text, "Revenue grew 12% with margin gains") {
		t.Errorf("text = %q, want page content", out.Text)
	}
	if !IsPDF(doc) {
		t.Error("fixture must carry the pdf magic")
	}
}

func TestExtract_MultiPageJoinsInOrder(t *testing.T) {
	e := NewExtractor(nil)
	doc := buildPDF(t, "Q1 revenue up 8%", "Guidance raised for FY")

	out, err := e.Extract(context.Background(), doc)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if out.Pages != 2 {
		t.Errorf("pages = %d, want 2", out.Pages)
	}
	first := strings.Index(out.Text, "Q1 revenue up 8%")
	second := strings.Index(out.Text, "Guidance raised for FY")
	if first < 0 || second < 0 || second < first {
		t.Errorf("text = %q, want both pages in document order", out.Text)
	}
}

func TestExtract_GarbageBytesFailBothPaths(t *testing.T) {
	e := NewExtractor(nil)
	_, err := e.Extract(context.Background(), []byte("definitely not a pdf"))
	if !errors.Is(err, analysis.ErrExtractionUnavailable) {
		t.Fatalf("err = %v, want ErrExtractionUnavailable", err)
	}
}

func TestExtract_EmptyInputFailsBothPaths(t *testing.T) {
	e := NewExtractor(nil)
	_, err := e.Extract(context.Background(), nil)
	if !errors.Is(err, analysis.ErrExtractionUnavailable) {
		t.Fatalf("err = %v, want ErrExtractionUnavailable", err)
	}
}

func TestIsPDF(t *testing.T) {
	if !IsPDF([]byte("%PDF-1.7\n...")) {
		t.Error("expected %PDF- prefix to be recognized")
	}
	if IsPDF([]byte("PK\x03\x04")) {
		t.Error("zip magic must not pass as pdf")
	}
	if IsPDF([]byte("%PD")) {
		t.Error("short input must not pass")
	}
}

func TestNormalize_InvalidUTF8Replaced(t *testing.T) {
	in := analysis.Extraction{Text: "revenue \xff\xfe grew", Pages: 1}
	out := normalize(in)
	if out.Text != "revenue � grew" && out.Text != "revenue �� grew" {
		t.Fatalf("normalized = %q", out.Text)
	}
	if out.Pages != 1 {
		t.Fatalf("pages = %d", out.Pages)
	}
}
