package catalog

import (
	"context"
	"database/sql"
	"net/url"

	_ "modernc.org/sqlite" // register the sqlite driver

	"github.com/urpm-project/urpm"
)

// Store is a handle to the catalog database.
//
// Write access is expected to go through a single *Store per process (the
// catalog's single-writer discipline, spec.md §4.2); readers may open
// additional handles freely since SQLite WAL mode gives them snapshot
// isolation against the writer.
type Store struct {
	db *sql.DB
}

// Open opens the catalog database at path, running any pending migrations.
//
// Conservative pragmas are used by default: WAL journal mode (so readers
// don't block the writer), foreign keys enforced, and normal synchronous
// durability. [Store.Begin] swaps in the aggressive bulk-import pragma
// set for the duration of a first-ingestion transaction and restores these
// defaults afterward (spec.md §4.2's write-discipline paragraph).
func Open(ctx context.Context, path string) (*Store, error) {
	u := url.URL{
		Scheme: "file",
		Opaque: path,
		RawQuery: url.Values{
			"_pragma": {
				"foreign_keys(1)",
				"journal_mode(wal)",
				"synchronous(normal)",
			},
		}.Encode(),
	}
	db, err := sql.Open("sqlite", u.String())
	if err != nil {
		return nil, &urpm.Error{Inner: err, Kind: urpm.ErrEnvironment, Op: "catalog.Open", Message: "opening database"}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &urpm.Error{Inner: err, Kind: urpm.ErrEnvironment, Op: "catalog.Open", Message: "pinging database"}
	}
	// Keep the pool small: SQLite admits one writer at a time, so the extra
	// connections only serve concurrent readers.
	db.SetMaxOpenConns(4)

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, &urpm.Error{Inner: err, Kind: urpm.ErrInternal, Op: "catalog.Open", Message: "running migrations"}
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }
