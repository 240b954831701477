package utils

import (
	"strconv"
	"unicode/utf8"
)

// DefaultMaxStringLength applies when TruncateString gets a non-positive limit.
const DefaultMaxStringLength = 500

// TruncateString cuts s to at most maxLen bytes, backing off to a rune
// boundary, and appends the original length. Vendor error bodies and
// prompts logged at verbose level go through it.
func TruncateString(s string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultMaxStringLength
	}
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "... (" + strconv.Itoa(len(s)) + " bytes)"
}
