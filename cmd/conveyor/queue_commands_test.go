package main

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncateCutsOnRunes(t *testing.T) {
	short := "übersicht"
	if got := truncate(short, 60); got != short {
		t.Fatalf("short values must pass through, got %q", got)
	}

	long := strings.Repeat("ü", 80)
	got := truncate(long, 60)
	if !utf8.ValidString(got) {
		t.Fatalf("truncation split a multibyte rune: %q", got)
	}
	if want := strings.Repeat("ü", 57) + "..."; got != want {
		t.Fatalf("unexpected truncation: got %q want %q", got, want)
	}
	if utf8.RuneCountInString(got) != 60 {
		t.Fatalf("expected 60 runes, got %d", utf8.RuneCountInString(got))
	}
}
