package util

import "strings"

// NormalizeName lowercases a person name and collapses runs of whitespace,
// so lookups are insensitive to case and spacing.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
