package rebuild

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nbbaier/migrator/internal/inspect"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestTablePreservesCommonColumns(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	if _, err := db.ExecContext(ctx, `CREATE TABLE foo (id INTEGER PRIMARY KEY, name TEXT)`); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO foo (name) VALUES ('alice')`); err != nil {
		t.Fatalf("seed: %v", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	pristineSQL := `CREATE TABLE foo (id INTEGER PRIMARY KEY, name TEXT, age INTEGER)`
	if err := Table(ctx, tx, "foo", pristineSQL, []string{"id", "name"}, nil); err != nil {
		t.Fatalf("Table: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	var name string
	var age sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT name, age FROM foo WHERE id = 1`).Scan(&name, &age); err != nil {
		t.Fatalf("query: %v", err)
	}
	if name != "alice" {
		t.Errorf("name = %q, want alice", name)
	}
	if age.Valid {
		t.Errorf("age = %v, want NULL", age)
	}
}

func TestTableRecreatesDependencies(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	if _, err := db.ExecContext(ctx, `CREATE TABLE foo (id INTEGER PRIMARY KEY, name TEXT)`); err != nil {
		t.Fatalf("setup: %v", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}

	pristineSQL := `CREATE TABLE foo (id INTEGER PRIMARY KEY, name TEXT, email TEXT)`
	deps := []inspect.Object{
		{Kind: "index", Name: "idx_foo_email", SQL: `CREATE INDEX idx_foo_email ON foo(email)`, TblName: "foo"},
	}
	if err := Table(ctx, tx, "foo", pristineSQL, []string{"id", "name"}, deps); err != nil {
		t.Fatalf("Table: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	var name string
	if err := db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'index' AND name = 'idx_foo_email'`).Scan(&name); err != nil {
		t.Fatalf("expected recreated index, got error: %v", err)
	}
}

func TestRenameTableInHandlesPunctuatedNames(t *testing.T) {
	sql, err := renameTableIn(`CREATE TABLE "my-table" (id INTEGER)`, "my-table", "my-table_migration_new")
	if err != nil {
		t.Fatalf("renameTableIn: %v", err)
	}
	want := `CREATE TABLE "my-table_migration_new" (id INTEGER)`
	if sql != want {
		t.Errorf("renameTableIn = %q, want %q", sql, want)
	}
}
