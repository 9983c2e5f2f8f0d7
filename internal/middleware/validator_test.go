package middleware

import (
	"strings"
	"testing"
)

func TestValidateUpload(t *testing.T) {
	cases := []struct {
		name     string
		filename string
		data     []byte
		wantErr  bool
	}{
		{"valid pdf", "report.pdf", []byte("%PDF-1.7 body"), false},
		{"uppercase extension", "REPORT.PDF", []byte("%PDF-1.4"), false},
		{"no filename", "", []byte("%PDF-1.4"), false},
		{"empty file", "report.pdf", nil, true},
		{"not a pdf", "report.pdf", []byte("PK\x03\x04zip"), true},
		{"wrong extension", "report.docx", []byte("%PDF-1.4"), true},
		{"oversized", "report.pdf", append([]byte("%PDF-"), make([]byte, MaxUploadBytes)...), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateUpload(tc.filename, tc.data)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr = %v", err, tc.wantErr)
			}
		})
	}
}

func TestValidateEmail(t *testing.T) {
	if err := ValidateEmail(""); err != nil {
		t.Fatalf("empty email should be allowed: %v", err)
	}
	if err := ValidateEmail("user@example.com"); err != nil {
		t.Fatalf("valid email rejected: %v", err)
	}
	if err := ValidateEmail("not-an-email"); err == nil {
		t.Fatal("invalid email accepted")
	}
}

func TestValidateQuery(t *testing.T) {
	got, err := ValidateQuery("  focus on margins\x00 ")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got != "focus on margins" {
		t.Fatalf("got %q", got)
	}

	if _, err := ValidateQuery(strings.Repeat("q", MaxQueryLength+1)); err == nil {
		t.Fatal("overlong query accepted")
	}
}

func TestValidateLimit(t *testing.T) {
	if got := ValidateLimit(0); got != 20 {
		t.Fatalf("default = %d", got)
	}
	if got := ValidateLimit(500); got != 100 {
		t.Fatalf("cap = %d", got)
	}
	if got := ValidateLimit(7); got != 7 {
		t.Fatalf("passthrough = %d", got)
	}
}
