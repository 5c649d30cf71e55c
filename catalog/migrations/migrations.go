// Package migrations contains the catalog database's schema migrations:
// embedded, numbered SQL files applied in ascending order inside one
// transaction per bump (spec.md §4.2).
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
)

// Migration is one schema version bump: a version number and the SQL to
// run to reach it. SQL is idempotent ("IF NOT EXISTS"-based) so re-running
// an already-applied migration is harmless.
type Migration struct {
	Version int
	SQL      string
}

//go:embed sql/*.sql
var sys embed.FS

// Migrations holds the catalog database migrations, in ascending version
// order.
var Migrations = loadMigrations()

func loadMigrations() []Migration {
	ents, err := fs.ReadDir(sys, "sql")
	if err != nil {
		panic(fmt.Errorf("programmer error: unable to read embed: %w", err))
	}

	ms := make([]Migration, 0, len(ents))
	for i, ent := range ents {
		if path.Ext(ent.Name()) != ".sql" || !ent.Type().IsRegular() {
			continue
		}
		b, err := fs.ReadFile(sys, path.Join("sql", ent.Name()))
		if err != nil {
			panic(fmt.Errorf("programmer error: unable to read migration %q: %w", ent.Name(), err))
		}
		ms = append(ms, Migration{Version: i + 1, SQL: string(b)})
	}
	sort.Slice(ms, func(i, j int) bool { return ms[i].Version < ms[j].Version })
	return ms
}
