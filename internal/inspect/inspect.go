// Package inspect reads the sqlite_master catalog and per-table column lists
// from either a live transaction or a pristine database handle.
package inspect

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nbbaier/migrator/internal/ident"
)

// Queryer is the minimal surface inspect needs, satisfied by *sql.DB and *sql.Tx.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Object is one row of sqlite_master.
type Object struct {
	Kind    string // "table", "index", "trigger", "view"
	Name    string
	SQL     string // empty for auto-created indices (e.g. from UNIQUE constraints)
	TblName string
}

// ListObjects returns every sqlite_master row of the given kind, in catalog
// order. For kind "table", the internal sqlite_sequence bookkeeping table is
// excluded.
func ListObjects(ctx context.Context, q Queryer, kind string) ([]Object, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT name, COALESCE(sql, ''), tbl_name FROM sqlite_master
		 WHERE type = ? AND name NOT LIKE 'sqlite_%'
		 ORDER BY rowid`, kind)
	if err != nil {
		return nil, fmt.Errorf("inspect: list %s objects: %w", kind, err)
	}
	defer rows.Close()

	var out []Object
	for rows.Next() {
		var o Object
		o.Kind = kind
		if err := rows.Scan(&o.Name, &o.SQL, &o.TblName); err != nil {
			return nil, fmt.Errorf("inspect: scan %s object: %w", kind, err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ColumnsOf returns the ordered column names of table, via PRAGMA table_info.
func ColumnsOf(ctx context.Context, q Queryer, table string) ([]string, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", ident.Quote(table)))
	if err != nil {
		return nil, fmt.Errorf("inspect: columns of %s: %w", table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("inspect: scan column of %s: %w", table, err)
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

// DependenciesOf returns the indices, triggers, and views whose tbl_name is
// table, each carrying its own stored CREATE statement. Auto-created indices
// (null sql, e.g. from inline UNIQUE/PRIMARY KEY constraints) are skipped:
// they reappear automatically when the owning table is recreated.
func DependenciesOf(ctx context.Context, q Queryer, table string) ([]Object, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT type, name, sql, tbl_name FROM sqlite_master
		 WHERE tbl_name = ? AND type IN ('index', 'trigger', 'view') AND sql IS NOT NULL
		 ORDER BY rowid`, table)
	if err != nil {
		return nil, fmt.Errorf("inspect: dependencies of %s: %w", table, err)
	}
	defer rows.Close()

	var out []Object
	for rows.Next() {
		var o Object
		if err := rows.Scan(&o.Kind, &o.Name, &o.SQL, &o.TblName); err != nil {
			return nil, fmt.Errorf("inspect: scan dependency of %s: %w", table, err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
