// Package extract adapts byte-level PDF decoding into the uniform
// (text, page count) shape the analysis pipeline consumes.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	rawpdf "github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"finanalyzer/internal/domain/analysis"
)

// Extractor implements analysis.TextExtractor. The primary path is the pure-Go
// ledongthuc reader; when it fails for the whole document we retry with
// pdfcpu's content extraction. A single failed page contributes empty text
// instead of aborting the document on either path.
type Extractor struct {
	log *slog.Logger
}

func NewExtractor(log *slog.Logger) *Extractor {
	if log == nil {
		log = slog.Default()
	}
	return &Extractor{log: log}
}

// IsPDF checks the magic bytes of an upload.
func IsPDF(data []byte) bool {
	return len(data) >= 5 && string(data[:5]) == "%PDF-"
}

func (e *Extractor) Extract(ctx context.Context, data []byte) (analysis.Extraction, error) {
	out, primaryErr := e.extractPrimary(data)
	if primaryErr == nil {
		return normalize(out), nil
	}
	e.log.Warn("primary pdf extraction failed, trying fallback", "error", primaryErr)

	out, fallbackErr := e.extractFallback(data)
	if fallbackErr == nil {
		return normalize(out), nil
	}
	e.log.Error("pdf extraction failed on both paths",
		"primary_error", primaryErr, "fallback_error", fallbackErr)
	return analysis.Extraction{}, fmt.Errorf("%w: primary: %v; fallback: %v",
		analysis.ErrExtractionUnavailable, primaryErr, fallbackErr)
}

// extractPrimary reads via ledongthuc/pdf. The parser panics on some
// malformed files, so the whole pass is recovered into an error.
func (e *Extractor) extractPrimary(data []byte) (res analysis.Extraction, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf reader panic: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return analysis.Extraction{}, fmt.Errorf("open pdf: %w", err)
	}

	pages := reader.NumPage()
	chunks := make([]string, 0, pages)
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			chunks = append(chunks, "")
			continue
		}
		text, perr := pageText(page)
		if perr != nil {
			e.log.Warn("page extraction failed, recording empty page", "page", i, "error", perr)
			text = ""
		}
		chunks = append(chunks, text)
	}
	return analysis.Extraction{Text: strings.Join(chunks, "\n"), Pages: pages}, nil
}

func pageText(page pdf.Page) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("page panic: %v", r)
		}
	}()
	return page.GetPlainText(nil)
}

// extractFallback reads via pdfcpu with relaxed validation. Page content
// streams are rougher than plain text but keep the pipeline alive for
// encodings the primary reader rejects.
func (e *Extractor) extractFallback(data []byte) (analysis.Extraction, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	pctx, err := api.ReadContext(bytes.NewReader(data), conf)
	if err != nil {
		return analysis.Extraction{}, fmt.Errorf("read context: %w", err)
	}
	if err := api.ValidateContext(pctx); err != nil {
		return analysis.Extraction{}, fmt.Errorf("validate: %w", err)
	}

	pages := pctx.PageCount
	chunks := make([]string, 0, pages)
	for i := 1; i <= pages; i++ {
		r, perr := rawpdf.ExtractPageContent(pctx, i)
		if perr != nil || r == nil {
			e.log.Warn("fallback page extraction failed, recording empty page", "page", i, "error", perr)
			chunks = append(chunks, "")
			continue
		}
		b, rerr := io.ReadAll(r)
		if rerr != nil {
			chunks = append(chunks, "")
			continue
		}
		chunks = append(chunks, string(b))
	}
	return analysis.Extraction{Text: strings.Join(chunks, "\n"), Pages: pages}, nil
}

// normalize substitutes unrepresentable byte sequences with U+FFFD instead of
// aborting; extraction output must always be valid UTF-8.
func normalize(res analysis.Extraction) analysis.Extraction {
	res.Text = strings.ToValidUTF8(res.Text, "�")
	return res
}
