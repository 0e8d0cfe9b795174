package migrator

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/nbbaier/migrator/internal/ident"
)

var punctChars = []string{"-", "@", "#", " "}

func openMemDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

// TestMigrateIdempotentProperty checks that, for a variety of randomly
// generated single-table target schemas, applying a schema a second time
// never reports a change.
func TestMigrateIdempotentProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20 // each trial drives a real sqlite transaction
	properties := gopter.NewProperties(parameters)

	properties.Property("second migrate call is always a no-op", prop.ForAll(
		func(colName string, colCount int) bool {
			db := openMemDB(t)
			target := buildSchema("c"+colName, colCount)

			first, err := Migrate(context.Background(), db, target, true)
			if err != nil {
				t.Fatalf("first Migrate: %v", err)
			}
			if !first {
				return false
			}

			second, err := Migrate(context.Background(), db, target, true)
			if err != nil {
				t.Fatalf("second Migrate: %v", err)
			}
			return second == false
		},
		gen.AlphaString(),
		gen.IntRange(0, 5),
	))

	properties.TestingRun(t)
}

// buildSchema generates a single-table CREATE statement with colCount
// extra TEXT columns named <colName>N.
func buildSchema(colName string, colCount int) string {
	cols := "id INTEGER PRIMARY KEY"
	for i := 0; i < colCount; i++ {
		cols += fmt.Sprintf(", %s%d TEXT", colName, i)
	}
	return fmt.Sprintf("CREATE TABLE t (%s)", cols)
}

// TestMigrateNoInjectionProperty checks that column names built from
// random ASCII letters plus a punctuation character survive a rebuild
// (which must quote them) without corrupting the schema or the row
// seeded under that column.
func TestMigrateNoInjectionProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 15
	properties := gopter.NewProperties(parameters)

	properties.Property("punctuated column names round-trip data safely", prop.ForAll(
		func(base string, punctIdx int) bool {
			name := "col" + punctChars[punctIdx%len(punctChars)] + base

			db := openMemDB(t)
			initial := fmt.Sprintf("CREATE TABLE t (%s TEXT)", ident.Quote(name))
			if _, err := db.Exec(initial); err != nil {
				t.Fatalf("setup: %v", err)
			}
			insertSQL := fmt.Sprintf("INSERT INTO t (%s) VALUES ('safe')", ident.Quote(name))
			if _, err := db.Exec(insertSQL); err != nil {
				t.Fatalf("seed: %v", err)
			}

			target := fmt.Sprintf("CREATE TABLE t (%s TEXT, extra INTEGER)", ident.Quote(name))
			changed, err := Migrate(context.Background(), db, target, false)
			if err != nil {
				t.Fatalf("Migrate: %v", err)
			}
			if !changed {
				return false
			}

			var got string
			q := fmt.Sprintf("SELECT %s FROM t", ident.Quote(name))
			if err := db.QueryRow(q).Scan(&got); err != nil {
				t.Fatalf("query: %v", err)
			}
			return got == "safe"
		},
		gen.AlphaString(),
		gen.IntRange(0, len(punctChars)-1),
	))

	properties.TestingRun(t)
}

// TestMigrateDataPreservationProperty checks that a row's original value
// survives any number of added columns across a table rebuild.
func TestMigrateDataPreservationProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("seeded row value survives a column-adding rebuild", prop.ForAll(
		func(value string, extraCols int) bool {
			db := openMemDB(t)
			if _, err := db.Exec(`CREATE TABLE t (id INTEGER PRIMARY KEY, val TEXT)`); err != nil {
				t.Fatalf("setup: %v", err)
			}
			if _, err := db.Exec(`INSERT INTO t (val) VALUES (?)`, value); err != nil {
				t.Fatalf("seed: %v", err)
			}

			cols := "id INTEGER PRIMARY KEY, val TEXT"
			for i := 0; i < extraCols; i++ {
				cols += fmt.Sprintf(", extra%d INTEGER", i)
			}
			target := fmt.Sprintf("CREATE TABLE t (%s)", cols)

			changed, err := Migrate(context.Background(), db, target, false)
			if err != nil {
				t.Fatalf("Migrate: %v", err)
			}
			if extraCols > 0 && !changed {
				return false
			}

			var got string
			if err := db.QueryRow(`SELECT val FROM t WHERE id = 1`).Scan(&got); err != nil {
				t.Fatalf("query: %v", err)
			}
			return got == value
		},
		gen.AlphaString(),
		gen.IntRange(0, 4),
	))

	properties.TestingRun(t)
}

// TestMigrateAtomicityProperty checks that a migration refused by the
// deletion guard leaves the database's catalog with the same number of
// sqlite_master entries it had before.
func TestMigrateAtomicityProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 15
	properties := gopter.NewProperties(parameters)

	properties.Property("a refused migration never mutates the database", prop.ForAll(
		func(base string) bool {
			dropTable := "t" + base

			db := openMemDB(t)
			setup := fmt.Sprintf(
				"CREATE TABLE keep (id INTEGER PRIMARY KEY); CREATE TABLE %s (id INTEGER PRIMARY KEY)",
				ident.Quote(dropTable),
			)
			if _, err := db.Exec(setup); err != nil {
				t.Fatalf("setup: %v", err)
			}

			before, err := catalogCount(db)
			if err != nil {
				t.Fatalf("count before: %v", err)
			}

			_, err = Migrate(context.Background(), db, "CREATE TABLE keep (id INTEGER PRIMARY KEY)", false)
			if err == nil {
				return false
			}

			after, err := catalogCount(db)
			if err != nil {
				t.Fatalf("count after: %v", err)
			}
			return before == after
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func catalogCount(db *sql.DB) (int, error) {
	var n int
	err := db.QueryRow(`SELECT count(*) FROM sqlite_master`).Scan(&n)
	return n, err
}
