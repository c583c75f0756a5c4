package util

import (
	"errors"
	"strings"
	"testing"
)

func TestTruncate_ShortString(t *testing.T) {
	if got := Truncate("short log", 100); got != "short log" {
		t.Errorf("Truncate() should not truncate short strings, got %q", got)
	}
}

func TestTruncate_ExactLimit(t *testing.T) {
	input := "12345678901234567890"
	if got := Truncate(input, 20); got != input {
		t.Errorf("Truncate() should not truncate at exact limit, got %q", got)
	}
}

func TestTruncate_LongString(t *testing.T) {
	got := Truncate("1234567890abcdefghij", 10)
	if got != "1234567890... [truncated, 20 bytes total]" {
		t.Errorf("Truncate() = %q", got)
	}
}

func TestTruncate_DoesNotSplitRunes(t *testing.T) {
	got := Truncate("ab€cd", 3)
	if !strings.HasPrefix(got, "ab...") {
		t.Errorf("Truncate() = %q, want cut before the multi-byte rune", got)
	}
}

func TestErrorText(t *testing.T) {
	if ErrorText(nil) != "" {
		t.Error("ErrorText(nil) should be empty")
	}
	long := errors.New(strings.Repeat("x", 2000))
	if got := ErrorText(long); !strings.HasPrefix(got, strings.Repeat("x", MaxErrorLen)+"...") {
		t.Errorf("ErrorText() not bounded: len=%d", len(got))
	}
}

func TestMaskToken(t *testing.T) {
	tests := map[string]string{
		"":                     "",
		"short":                "****",
		"aoaAAAAbbbbccccDDDD1": "aoaA****DDD1",
	}
	for in, want := range tests {
		if got := MaskToken(in); got != want {
			t.Errorf("MaskToken(%q) = %q, want %q", in, got, want)
		}
	}
}
