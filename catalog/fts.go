package catalog

import (
	"context"
	"fmt"
)

// FileMatch is one result row from [Store.SearchFiles]: a full path plus
// the NEVRA of the package that owns it.
type FileMatch struct {
	NEVRA string `json:"nevra"`
	Path  string `json:"path"`
}

// SearchFiles runs a wildcard search over (directory, basename) using the
// files_fts external-content index, satisfying spec.md §4.2's "sub-second
// wildcard search on ~10^7 rows" requirement without a sequential scan.
//
// query is an FTS5 MATCH expression (e.g. "basename:lib*.so" or a bare
// term); callers building a path glob should translate it to FTS5 syntax
// before calling this.
func (s *Store) SearchFiles(ctx context.Context, query string, limit int) ([]FileMatch, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT pf.nevra, pf.directory, pf.basename
		FROM files_fts
		JOIN package_files pf ON pf.id = files_fts.rowid
		WHERE files_fts MATCH ?
		LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("catalog: searching files: %w", err)
	}
	defer rows.Close()

	var out []FileMatch
	for rows.Next() {
		var nevra, dir, base string
		if err := rows.Scan(&nevra, &dir, &base); err != nil {
			return nil, fmt.Errorf("catalog: scanning search result: %w", err)
		}
		path := base
		if dir != "" {
			path = dir + "/" + base
		}
		out = append(out, FileMatch{NEVRA: nevra, Path: path})
	}
	return out, rows.Err()
}

// FilesByBasename returns every package-owned path with the given exact
// basename (spec.md §4.2's "file search by basename" lookup, distinct from
// the wildcard FTS path).
func (s *Store) FilesByBasename(ctx context.Context, basename string) ([]FileMatch, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT nevra, directory, basename FROM package_files WHERE basename = ?`, basename)
	if err != nil {
		return nil, fmt.Errorf("catalog: querying files by basename: %w", err)
	}
	defer rows.Close()

	var out []FileMatch
	for rows.Next() {
		var nevra, dir, base string
		if err := rows.Scan(&nevra, &dir, &base); err != nil {
			return nil, err
		}
		path := base
		if dir != "" {
			path = dir + "/" + base
		}
		out = append(out, FileMatch{NEVRA: nevra, Path: path})
	}
	return out, rows.Err()
}
