// Package sqlnorm canonicalizes SQL text for semantic-equality comparison.
package sqlnorm

import (
	"regexp"
	"strings"
)

var (
	lineComment   = regexp.MustCompile(`--[^\n]*`)
	whitespaceRun = regexp.MustCompile(`\s+`)
	parenSpacing  = regexp.MustCompile(`\s*([(),])\s*`)
	wordIdent     = regexp.MustCompile(`"([A-Za-z_][A-Za-z0-9_]*)"`)
)

// Normalize canonicalizes sql so that two textually different but
// semantically identical statements compare equal.
func Normalize(sql string) string {
	s := lineComment.ReplaceAllString(sql, "")
	s = whitespaceRun.ReplaceAllString(s, " ")
	s = parenSpacing.ReplaceAllString(s, "$1")
	s = wordIdent.ReplaceAllString(s, "$1")
	return strings.TrimSpace(s)
}

// Equal reports whether a and b are semantically equal CREATE statements.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}
