package cmd

import (
	"errors"
	"testing"
)

func TestParseArgs(t *testing.T) {
	if _, _, err := parseArgs(nil); err == nil {
		t.Fatal("expected error for missing INPUT_URI")
	}
	input, outfile, err := parseArgs([]string{"https://example.com/x"})
	if err != nil || input != "https://example.com/x" || outfile != "" {
		t.Fatalf("unexpected result: %q %q %v", input, outfile, err)
	}
	input, outfile, err = parseArgs([]string{"https://example.com/x", "out.png"})
	if err != nil || input != "https://example.com/x" || outfile != "out.png" {
		t.Fatalf("unexpected result: %q %q %v", input, outfile, err)
	}
}

func TestParseHeaders(t *testing.T) {
	h, err := parseHeaders([]string{"Authorization: Bearer xyz", "X-Custom: a, b"})
	if err != nil {
		t.Fatalf("parseHeaders: %v", err)
	}
	if h.Get("Authorization") != "Bearer xyz" {
		t.Fatalf("unexpected Authorization header: %q", h.Get("Authorization"))
	}
	if h.Get("X-Custom") != "a, b" {
		t.Fatalf("unexpected X-Custom header: %q", h.Get("X-Custom"))
	}
}

func TestParseHeaders_RejectsMalformed(t *testing.T) {
	if _, err := parseHeaders([]string{"no-colon-here"}); err == nil {
		t.Fatal("expected error for malformed header")
	}
}

func TestDefaultOutfile_SanitizesTitle(t *testing.T) {
	if got := defaultOutfile("a/b:c"); got != "a_b_c.png" {
		t.Fatalf("got %q", got)
	}
	if got := defaultOutfile(""); got != "image.png" {
		t.Fatalf("got %q", got)
	}
}

func TestExitCodeFor(t *testing.T) {
	if code := exitCodeFor(&exitError{code: 2, err: errors.New("x")}); code != 2 {
		t.Fatalf("expected 2, got %d", code)
	}
	if code := exitCodeFor(errors.New("plain")); code != 1 {
		t.Fatalf("expected default 1, got %d", code)
	}
}
