package middleware

import (
	"bytes"
	"fmt"
	"net/mail"
	"strings"
)

// Input validation and sanitization utilities

// MaxUploadBytes caps the accepted document size.
const MaxUploadBytes = 25 << 20 // 25 MiB

// MaxQueryLength caps the free-text query.
const MaxQueryLength = 2000

var pdfMagic = []byte("%PDF-")

// ValidateUpload checks the uploaded bytes look like a PDF and fit the size
// cap. Extraction does the real structural validation later; this only
// rejects obvious junk at the boundary.
func ValidateUpload(filename string, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("file is empty")
	}
	if len(data) > MaxUploadBytes {
		return fmt.Errorf("file exceeds %d byte limit", MaxUploadBytes)
	}
	if !bytes.HasPrefix(data, pdfMagic) {
		return fmt.Errorf("file does not look like a PDF")
	}
	if filename != "" && !strings.EqualFold(ext(filename), ".pdf") {
		return fmt.Errorf("unsupported file extension (want .pdf)")
	}
	return nil
}

func ext(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i:]
	}
	return ""
}

// ValidateEmail checks the optional email field when present.
func ValidateEmail(email string) error {
	if email == "" {
		return nil
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return fmt.Errorf("invalid email address")
	}
	return nil
}

// ValidateQuery bounds and sanitizes the analysis query.
func ValidateQuery(query string) (string, error) {
	query = SanitizeString(query)
	if len(query) > MaxQueryLength {
		return "", fmt.Errorf("query exceeds %d characters", MaxQueryLength)
	}
	return query, nil
}

// SanitizeString removes dangerous characters from strings
func SanitizeString(input string) string {
	// Remove null bytes
	input = strings.ReplaceAll(input, "\x00", "")

	// Remove control characters
	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' {
			result.WriteRune(r)
		}
	}

	return strings.TrimSpace(result.String())
}

// ValidateLimit validates pagination limit
func ValidateLimit(limit int) int {
	if limit <= 0 {
		return 20 // default
	}
	if limit > 100 {
		return 100 // max limit
	}
	return limit
}
