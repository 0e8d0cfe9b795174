// Package migrator declaratively migrates a live SQLite database to match a
// target schema expressed as a SQL script. It diffs the target against the
// database's own sqlite_master catalog and executes the minimal DDL needed
// to reach it, rebuilding tables via the classical create/copy/drop/rename
// procedure inside a single write transaction.
package migrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nbbaier/migrator/internal/ident"
	"github.com/nbbaier/migrator/internal/inspect"
	"github.com/nbbaier/migrator/internal/plan"
	"github.com/nbbaier/migrator/internal/rebuild"
	"github.com/nbbaier/migrator/internal/validate"
)

var objectKinds = []string{"table", "index", "trigger", "view"}

// job carries the state threaded through one Migrate call's phases.
type job struct {
	db              *sql.DB
	pristine        *sql.DB
	tx              *sql.Tx
	allowDeletions  bool
	origForeignKeys bool
	changes         int
}

// Migrate brings db's schema to match schema. It returns whether any change
// was applied. allowDeletions gates table and column drops; when false and
// the plan would drop either, Migrate fails without mutating db.
func Migrate(ctx context.Context, db *sql.DB, schema string, allowDeletions bool) (bool, error) {
	if err := validate.Validate(schema); err != nil {
		return false, invalidSchema(err.Error(), nil)
	}
	if strings.TrimSpace(schema) == "" {
		return false, nil
	}

	pristine, err := openPristine(ctx, schema)
	if err != nil {
		return false, err
	}
	defer pristine.Close()

	j := &job{db: db, pristine: pristine, allowDeletions: allowDeletions}
	return j.run(ctx)
}

func openPristine(ctx context.Context, schema string) (*sql.DB, error) {
	pristine, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, invalidSchema("failed to open pristine database", err)
	}
	pristine.SetMaxOpenConns(1)

	if err := pristine.PingContext(ctx); err != nil {
		pristine.Close()
		return nil, invalidSchema("failed to open pristine database", err)
	}

	if _, err := pristine.ExecContext(ctx, schema); err != nil {
		pristine.Close()
		return nil, invalidSchema("Invalid schema SQL", err)
	}
	return pristine, nil
}

func (j *job) run(ctx context.Context) (bool, error) {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return false, executionFailure("begin transaction", err)
	}
	j.tx = tx

	origFK, err := ident.ReadPragmaInt(ctx, tx, "foreign_keys")
	if err != nil {
		tx.Rollback()
		return false, executionFailure("read foreign_keys pragma", err)
	}
	j.origForeignKeys = origFK != 0

	if j.origForeignKeys {
		if err := ident.SetPragma(ctx, tx, "foreign_keys", "OFF"); err != nil {
			tx.Rollback()
			return false, translatePragmaErr("foreign_keys", err)
		}
	}
	if err := ident.SetPragma(ctx, tx, "defer_foreign_keys", "TRUE"); err != nil {
		tx.Rollback()
		return false, translatePragmaErr("defer_foreign_keys", err)
	}
	j.changes = 0

	if err := j.plan(ctx); err != nil {
		tx.Rollback()
		j.restoreForeignKeysAfterRollback(ctx)
		return false, err
	}
	if err := j.checkForeignKeys(ctx); err != nil {
		tx.Rollback()
		j.restoreForeignKeysAfterRollback(ctx)
		return false, err
	}

	if err := tx.Commit(); err != nil {
		j.restoreForeignKeysAfterRollback(ctx)
		return false, executionFailure("commit", err)
	}
	j.tx = nil

	if err := j.reconcileForeignKeysPragma(ctx); err != nil {
		return false, err
	}
	if j.changes > 0 {
		if _, err := j.db.ExecContext(ctx, "VACUUM"); err != nil {
			return false, executionFailure("vacuum", err)
		}
	}
	return j.changes > 0, nil
}

func (j *job) restoreForeignKeysAfterRollback(ctx context.Context) {
	if j.origForeignKeys {
		ident.SetPragma(ctx, j.db, "foreign_keys", "ON")
	}
}

func (j *job) exec(ctx context.Context, query string, step string) error {
	if _, err := j.tx.ExecContext(ctx, query); err != nil {
		return executionFailure(step, err)
	}
	j.changes++
	return nil
}

// plan reads both catalogs, classifies every object kind, enforces the
// deletion guard, and applies the resulting deltas in dependency order.
func (j *job) plan(ctx context.Context) error {
	liveByKind := map[string][]inspect.Object{}
	pristineByKind := map[string][]inspect.Object{}
	deltaByKind := map[string]plan.Delta{}

	for _, kind := range objectKinds {
		live, err := inspect.ListObjects(ctx, j.tx, kind)
		if err != nil {
			return executionFailure("list live "+kind+"s", err)
		}
		pr, err := inspect.ListObjects(ctx, j.pristine, kind)
		if err != nil {
			return executionFailure("list pristine "+kind+"s", err)
		}
		liveByKind[kind] = live
		pristineByKind[kind] = pr
		deltaByKind[kind] = plan.Diff(live, pr)
	}

	tableDelta := deltaByKind["table"]

	owned := map[string]bool{}
	for _, t := range tableDelta.Dropped {
		owned[t.Name] = true
	}
	for _, mp := range tableDelta.Modified {
		owned[mp.Pristine.Name] = true
	}

	type colChange struct {
		table      string
		liveCols   []string
		removed    []string
		common     []string
	}
	var colChanges []colChange
	for _, mp := range tableDelta.Modified {
		liveCols, err := inspect.ColumnsOf(ctx, j.tx, mp.Live.Name)
		if err != nil {
			return executionFailure("columns of "+mp.Live.Name, err)
		}
		pristineCols, err := inspect.ColumnsOf(ctx, j.pristine, mp.Pristine.Name)
		if err != nil {
			return executionFailure("columns of "+mp.Pristine.Name, err)
		}
		cd := plan.DiffColumns(liveCols, pristineCols)
		colChanges = append(colChanges, colChange{
			table:    mp.Live.Name,
			liveCols: liveCols,
			removed:  cd.Removed,
			common:   cd.Common,
		})
	}

	if !j.allowDeletions {
		if len(tableDelta.Dropped) > 0 {
			var names []string
			for _, t := range tableDelta.Dropped {
				names = append(names, t.Name)
			}
			return deletionRefusedTables(names)
		}
		for _, cc := range colChanges {
			if len(cc.removed) > 0 {
				return deletionRefusedColumns(cc.table, cc.removed)
			}
		}
	}

	// Step 1: drop all live views unconditionally.
	for _, v := range liveByKind["view"] {
		if err := j.exec(ctx, fmt.Sprintf("DROP VIEW %s", ident.Quote(v.Name)), "drop view "+v.Name); err != nil {
			return err
		}
	}

	// Step 2: create tables present in pristine but absent from live.
	for _, t := range tableDelta.Created {
		if err := j.exec(ctx, t.SQL, "create table "+t.Name); err != nil {
			return err
		}
	}

	// Step 3: drop removed tables (deletion guard already passed).
	for _, t := range tableDelta.Dropped {
		if err := j.exec(ctx, fmt.Sprintf("DROP TABLE %s", ident.Quote(t.Name)), "drop table "+t.Name); err != nil {
			return err
		}
	}

	// Step 4: rebuild modified tables.
	for _, cc := range colChanges {
		deps, err := inspect.DependenciesOf(ctx, j.pristine, cc.table)
		if err != nil {
			return executionFailure("pristine dependencies of "+cc.table, err)
		}
		var pristineSQL string
		for _, mp := range tableDelta.Modified {
			if mp.Live.Name == cc.table {
				pristineSQL = mp.Pristine.SQL
				break
			}
		}
		if err := rebuild.Table(ctx, j.tx, cc.table, pristineSQL, cc.common, deps); err != nil {
			return executionFailure("rebuild table "+cc.table, err)
		}
		j.changes++
	}

	// Steps 5-6: reconcile standalone indices and triggers, excluding
	// dependents of tables already rebuilt or dropped above.
	for _, kind := range []string{"index", "trigger"} {
		d := deltaByKind[kind]
		created := plan.ExcludeOwnedBy(d.Created, owned)
		dropped := plan.ExcludeOwnedBy(d.Dropped, owned)
		modified := plan.ExcludePairsOwnedBy(d.Modified, owned)

		for _, o := range dropped {
			if err := j.exec(ctx, dropStmt(kind, o.Name), "drop "+kind+" "+o.Name); err != nil {
				return err
			}
		}
		for _, mp := range modified {
			if err := j.exec(ctx, dropStmt(kind, mp.Live.Name), "drop "+kind+" "+mp.Live.Name); err != nil {
				return err
			}
			if err := j.exec(ctx, mp.Pristine.SQL, "recreate "+kind+" "+mp.Pristine.Name); err != nil {
				return err
			}
		}
		for _, o := range created {
			if err := j.exec(ctx, o.SQL, "create "+kind+" "+o.Name); err != nil {
				return err
			}
		}
	}

	// Step 7: reconcile views. All live views were dropped unconditionally
	// in step 1, so every pristine view is simply re-created here. A view
	// re-created with the same definition it had before step 1 nets out:
	// neither its drop nor its re-creation counts as a change.
	viewDelta := deltaByKind["view"]
	changedViews := map[string]bool{}
	for _, v := range viewDelta.Created {
		changedViews[v.Name] = true
	}
	for _, mp := range viewDelta.Modified {
		changedViews[mp.Pristine.Name] = true
	}
	for _, v := range pristineByKind["view"] {
		if err := j.exec(ctx, v.SQL, "create view "+v.Name); err != nil {
			return err
		}
		if !changedViews[v.Name] {
			j.changes -= 2
		}
	}

	// Step 8: migrate user_version.
	if err := j.migrateUserVersion(ctx); err != nil {
		return err
	}

	return nil
}

func dropStmt(kind, name string) string {
	switch kind {
	case "index":
		return fmt.Sprintf("DROP INDEX %s", ident.Quote(name))
	case "trigger":
		return fmt.Sprintf("DROP TRIGGER %s", ident.Quote(name))
	case "view":
		return fmt.Sprintf("DROP VIEW %s", ident.Quote(name))
	default:
		return fmt.Sprintf("DROP TABLE %s", ident.Quote(name))
	}
}

// translatePragmaErr turns a failure from ident.SetPragma/ReadPragmaInt into
// the classified error Migrate returns: an unwhitelisted name becomes
// UnsafePragma, anything else is an ExecutionFailure.
func translatePragmaErr(name string, err error) error {
	if errors.Is(err, ident.ErrUnsafePragma) {
		return unsafePragma(name)
	}
	return executionFailure("pragma "+name, err)
}

func (j *job) migrateUserVersion(ctx context.Context) error {
	liveVer, err := ident.ReadPragmaInt(ctx, j.tx, "user_version")
	if err != nil {
		return executionFailure("read user_version", err)
	}
	pristineVer, err := ident.ReadPragmaInt(ctx, j.pristine, "user_version")
	if err != nil {
		return executionFailure("read pristine user_version", err)
	}
	if liveVer == pristineVer {
		return nil
	}
	if err := ident.SetPragma(ctx, j.tx, "user_version", fmt.Sprintf("%d", pristineVer)); err != nil {
		return translatePragmaErr("user_version", err)
	}
	j.changes++
	return nil
}

// checkForeignKeys runs PRAGMA foreign_key_check when either the database's
// original foreign_keys setting or the pristine schema's declared setting
// was on (the stricter of the two readings).
func (j *job) checkForeignKeys(ctx context.Context) error {
	pristineFK, err := ident.ReadPragmaInt(ctx, j.pristine, "foreign_keys")
	if err != nil {
		return executionFailure("read pristine foreign_keys", err)
	}
	if !j.origForeignKeys && pristineFK == 0 {
		return nil
	}

	rows, err := j.tx.QueryContext(ctx, "PRAGMA foreign_key_check")
	if err != nil {
		return executionFailure("foreign_key_check", err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var discard [4]sql.NullString
		if err := rows.Scan(&discard[0], &discard[1], &discard[2], &discard[3]); err != nil {
			return executionFailure("scan foreign_key_check row", err)
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return executionFailure("foreign_key_check", err)
	}
	if n > 0 {
		return foreignKeyViolation(n)
	}
	return nil
}

// reconcileForeignKeysPragma runs after commit, outside any transaction,
// syncing the live foreign_keys pragma to the pristine schema's declared
// value.
func (j *job) reconcileForeignKeysPragma(ctx context.Context) error {
	pristineFK, err := ident.ReadPragmaInt(ctx, j.pristine, "foreign_keys")
	if err != nil {
		return executionFailure("read pristine foreign_keys", err)
	}
	want := pristineFK != 0

	preChange := j.changes
	if want != j.origForeignKeys {
		val := "OFF"
		if want {
			val = "ON"
		}
		if err := ident.SetPragma(ctx, j.db, "foreign_keys", val); err != nil {
			return translatePragmaErr("foreign_keys", err)
		}
		j.changes++
	}
	if want == j.origForeignKeys {
		j.changes = preChange
	}
	return nil
}
