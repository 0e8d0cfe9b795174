// Package plan classifies catalog objects between a live and a pristine
// database into created, dropped, and modified sets.
package plan

import (
	"github.com/nbbaier/migrator/internal/inspect"
	"github.com/nbbaier/migrator/internal/sqlnorm"
)

// Delta is the created/dropped/modified classification for one
// sqlite_master object kind.
type Delta struct {
	Created  []inspect.Object
	Dropped  []inspect.Object
	Modified []ModifiedPair
}

// ModifiedPair is a live/pristine object pair whose normalized SQL differs.
type ModifiedPair struct {
	Live     inspect.Object
	Pristine inspect.Object
}

// Diff classifies live against pristine by name. An object present on both
// sides whose live SQL is empty (e.g. an auto-created index entry that was
// never independently inspected) is treated as not-modified.
func Diff(live, pristine []inspect.Object) Delta {
	liveByName := indexByName(live)
	pristineByName := indexByName(pristine)

	var d Delta
	for name, p := range pristineByName {
		l, ok := liveByName[name]
		if !ok {
			d.Created = append(d.Created, p)
			continue
		}
		if l.SQL == "" {
			continue
		}
		if !sqlnorm.Equal(l.SQL, p.SQL) {
			d.Modified = append(d.Modified, ModifiedPair{Live: l, Pristine: p})
		}
	}
	for name, l := range liveByName {
		if _, ok := pristineByName[name]; !ok {
			d.Dropped = append(d.Dropped, l)
		}
	}
	return d
}

func indexByName(objs []inspect.Object) map[string]inspect.Object {
	m := make(map[string]inspect.Object, len(objs))
	for _, o := range objs {
		m[o.Name] = o
	}
	return m
}

// ColumnDiff is the column-level classification for one modified table.
type ColumnDiff struct {
	Removed []string // present in live, absent from pristine, in live order
	Common  []string // present in both, in live order
}

// DiffColumns computes the column delta for a table whose definition changed.
func DiffColumns(liveCols, pristineCols []string) ColumnDiff {
	inPristine := make(map[string]bool, len(pristineCols))
	for _, c := range pristineCols {
		inPristine[c] = true
	}

	var cd ColumnDiff
	for _, c := range liveCols {
		if inPristine[c] {
			cd.Common = append(cd.Common, c)
		} else {
			cd.Removed = append(cd.Removed, c)
		}
	}
	return cd
}

// ExcludeOwnedBy removes, from objs, any entry whose TblName is in owned —
// used to keep the catalog-wide index/trigger reconciliation from touching
// dependents of a table that is itself being rebuilt or dropped this
// migration, since that table's own handling already owns their fate.
func ExcludeOwnedBy(objs []inspect.Object, owned map[string]bool) []inspect.Object {
	var out []inspect.Object
	for _, o := range objs {
		if !owned[o.TblName] {
			out = append(out, o)
		}
	}
	return out
}

// ExcludePairsOwnedBy is ExcludeOwnedBy for ModifiedPair slices, keyed on the
// pristine side's TblName.
func ExcludePairsOwnedBy(pairs []ModifiedPair, owned map[string]bool) []ModifiedPair {
	var out []ModifiedPair
	for _, p := range pairs {
		if !owned[p.Pristine.TblName] {
			out = append(out, p)
		}
	}
	return out
}
