package httputil

import (
	"fmt"
	"html"
	"strings"
	"unicode"
)

// SanitizeText trims free text, drops control characters and escapes HTML.
// Use it for text shown to moderators, such as decision notes.
func SanitizeText(input string) string {
	return html.EscapeString(StripControl(strings.TrimSpace(input)))
}

// StripControl removes control characters except newline and tab.
func StripControl(s string) string {
	return strings.Map(func(r rune) rune {
		// Keep newline, carriage return, and tab
		if r == '\n' || r == '\r' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

// ValidateStringLength validates that a string is within the specified length constraints.
func ValidateStringLength(field, value string, min, max int) error {
	length := len(value)

	if min > 0 && length < min {
		return fmt.Errorf("%s must be at least %d characters long", field, min)
	}

	if max > 0 && length > max {
		return fmt.Errorf("%s must be at most %d characters long", field, max)
	}

	return nil
}
