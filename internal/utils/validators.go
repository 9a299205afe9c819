package utils

import (
	"strings"
	"unicode"
)

const maxParticipantIDLen = 32

// IsValidParticipantID reports whether id can be embedded in a data file name.
// Letters, digits, '-' and '_' are allowed.
func IsValidParticipantID(id string) bool {
	if id == "" || len(id) > maxParticipantIDLen {
		return false
	}
	for _, char := range id {
		switch {
		case unicode.IsLetter(char), unicode.IsDigit(char):
		case char == '-' || char == '_':
		default:
			return false
		}
	}
	return true
}

// NormalizeParticipantID trims surrounding whitespace.
func NormalizeParticipantID(id string) string {
	return strings.TrimSpace(id)
}
