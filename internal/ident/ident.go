// Package ident quotes SQLite identifiers and guards pragma execution.
package ident

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrUnsafePragma is returned when a pragma name outside the whitelist is requested.
var ErrUnsafePragma = errors.New("ident: unsafe pragma name")

// AllowedPragmas is the exact set of pragma names the engine may execute.
var AllowedPragmas = map[string]bool{
	"foreign_keys":        true,
	"user_version":        true,
	"defer_foreign_keys":  true,
	"foreign_key_check":   true,
	"table_info":          true,
}

// PragmaAllowed reports whether name is in the whitelist.
func PragmaAllowed(name string) bool {
	return AllowedPragmas[strings.ToLower(name)]
}

// Quote double-quotes a SQLite identifier, doubling any internal double quotes.
func Quote(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// execer is the minimal surface SetPragma and ReadPragmaInt need, satisfied
// by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// SetPragma executes "PRAGMA name = value" after checking the whitelist.
// value is substituted verbatim (it is always produced internally from a
// validated int64 or bool, never from caller-controlled text).
func SetPragma(ctx context.Context, e execer, name, value string) error {
	if !PragmaAllowed(name) {
		return fmt.Errorf("%w: %s", ErrUnsafePragma, name)
	}
	_, err := e.ExecContext(ctx, fmt.Sprintf("PRAGMA %s = %s", name, value))
	if err != nil {
		return fmt.Errorf("ident: set pragma %s: %w", name, err)
	}
	return nil
}

// ReadPragmaInt executes "PRAGMA name" and scans its single integer result column.
func ReadPragmaInt(ctx context.Context, e execer, name string) (int64, error) {
	if !PragmaAllowed(name) {
		return 0, fmt.Errorf("%w: %s", ErrUnsafePragma, name)
	}
	rows, err := e.QueryContext(ctx, fmt.Sprintf("PRAGMA %s", name))
	if err != nil {
		return 0, fmt.Errorf("ident: read pragma %s: %w", name, err)
	}
	defer rows.Close()

	var v int64
	if rows.Next() {
		if err := rows.Scan(&v); err != nil {
			return 0, fmt.Errorf("ident: scan pragma %s: %w", name, err)
		}
	}
	return v, rows.Err()
}
