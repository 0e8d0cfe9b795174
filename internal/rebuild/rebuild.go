// Package rebuild performs the classical SQLite table-rebuild procedure:
// create a shadow table under the pristine definition, copy surviving
// columns across, drop the original, rename the shadow into place, and
// recreate its indices and triggers.
package rebuild

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/nbbaier/migrator/internal/ident"
	"github.com/nbbaier/migrator/internal/inspect"
)

const newSuffix = "_migration_new"

// Table rebuilds the named table inside tx so its definition matches
// pristineSQL, preserving the columns listed in commonCols (in the order
// given — typically live column order) and recreating the dependencies
// listed in pristineDeps (the pristine database's indices and triggers for
// this table).
func Table(ctx context.Context, tx *sql.Tx, table, pristineSQL string, commonCols []string, pristineDeps []inspect.Object) error {
	liveDeps, err := inspect.DependenciesOf(ctx, tx, table)
	if err != nil {
		return fmt.Errorf("rebuild: %s: %w", table, err)
	}
	for _, dep := range liveDeps {
		if dep.Kind != "trigger" {
			continue
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TRIGGER %s", ident.Quote(dep.Name))); err != nil {
			return fmt.Errorf("rebuild: %s: drop trigger %s: %w", table, dep.Name, err)
		}
	}

	newName := table + newSuffix
	newSQL, err := renameTableIn(pristineSQL, table, newName)
	if err != nil {
		return fmt.Errorf("rebuild: %s: %w", table, err)
	}
	if _, err := tx.ExecContext(ctx, newSQL); err != nil {
		return fmt.Errorf("rebuild: %s: create shadow: %w", table, err)
	}

	if len(commonCols) > 0 {
		quoted := make([]string, len(commonCols))
		for i, c := range commonCols {
			quoted[i] = ident.Quote(c)
		}
		cols := strings.Join(quoted, ", ")
		copySQL := fmt.Sprintf(
			"INSERT INTO %s (%s) SELECT %s FROM %s",
			ident.Quote(newName), cols, cols, ident.Quote(table),
		)
		if _, err := tx.ExecContext(ctx, copySQL); err != nil {
			return fmt.Errorf("rebuild: %s: copy data: %w", table, err)
		}
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE %s", ident.Quote(table))); err != nil {
		return fmt.Errorf("rebuild: %s: drop original: %w", table, err)
	}

	renameSQL := fmt.Sprintf("ALTER TABLE %s RENAME TO %s", ident.Quote(newName), ident.Quote(table))
	if _, err := tx.ExecContext(ctx, renameSQL); err != nil {
		return fmt.Errorf("rebuild: %s: rename shadow: %w", table, err)
	}

	for _, dep := range pristineDeps {
		if dep.Kind != "index" && dep.Kind != "trigger" {
			continue
		}
		if _, err := tx.ExecContext(ctx, dep.SQL); err != nil {
			return fmt.Errorf("rebuild: %s: recreate %s %s: %w", table, dep.Kind, dep.Name, err)
		}
	}

	return nil
}

// renameTableIn rewrites every occurrence of the exact table name inside
// createSQL to newName. Two literal, escaped forms are matched: the
// double-quoted identifier (e.g. "my-table", or "a""b" for a name holding a
// quote), replaced by the quoted new name, and the bare name bounded by \b
// assertions, replaced by the bare new name. The quoted form is what lets
// names that begin or end with punctuation (e.g. "#tag") match, since \b
// does not hold between a double quote and a punctuation character.
func renameTableIn(createSQL, table, newName string) (string, error) {
	pattern := `(?i)` + regexp.QuoteMeta(ident.Quote(table)) + `|\b` + regexp.QuoteMeta(table) + `\b`
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", fmt.Errorf("compile rename pattern for %s: %w", table, err)
	}
	if !re.MatchString(createSQL) {
		return "", fmt.Errorf("table name %s not found in its own CREATE statement", table)
	}
	return re.ReplaceAllStringFunc(createSQL, func(m string) string {
		if strings.HasPrefix(m, `"`) {
			return ident.Quote(newName)
		}
		return newName
	}), nil
}
