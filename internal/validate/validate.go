// Package validate rejects target schema scripts that contain statements
// the engine refuses to execute.
package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nbbaier/migrator/internal/ident"
)

var (
	attachRe = regexp.MustCompile(`(?i)\bATTACH\s+DATABASE\b`)
	detachRe = regexp.MustCompile(`(?i)\bDETACH\s+DATABASE\b`)
	pragmaRe = regexp.MustCompile(`(?i)\bPRAGMA\s+([A-Za-z_][A-Za-z0-9_]*)`)
)

// Validate scans schema for banned statements. An empty or all-whitespace
// schema always validates.
func Validate(schema string) error {
	if strings.TrimSpace(schema) == "" {
		return nil
	}
	if attachRe.MatchString(schema) {
		return fmt.Errorf("ATTACH DATABASE not allowed")
	}
	if detachRe.MatchString(schema) {
		return fmt.Errorf("DETACH DATABASE not allowed")
	}
	for _, m := range pragmaRe.FindAllStringSubmatch(schema, -1) {
		if !ident.PragmaAllowed(m[1]) {
			return fmt.Errorf("unsafe PRAGMA: %s", m[1])
		}
	}
	return nil
}
