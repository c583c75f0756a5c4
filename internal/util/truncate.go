package util

import (
	"fmt"
	"unicode/utf8"
)

// MaxErrorLen bounds error messages stored on accounts and snapshots.
const MaxErrorLen = 512

// Truncate shortens s to at most maxLen bytes without splitting a rune and
// notes the original size.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + fmt.Sprintf("... [truncated, %d bytes total]", len(s))
}

// ErrorText is err's message bounded by MaxErrorLen; nil yields "".
func ErrorText(err error) string {
	if err == nil {
		return ""
	}
	return Truncate(err.Error(), MaxErrorLen)
}

// MaskToken keeps the first and last four characters of a secret.
func MaskToken(tok string) string {
	if len(tok) <= 12 {
		if tok == "" {
			return ""
		}
		return "****"
	}
	return tok[:4] + "****" + tok[len(tok)-4:]
}
