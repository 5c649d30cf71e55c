package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/doug-martin/goqu/v8"

	"github.com/urpm-project/urpm"
	"github.com/urpm-project/urpm/resolver"
	"github.com/urpm-project/urpm/transaction"
)

// InstalledLister reports the packages presently installed on this
// machine, as read from the on-disk RPM database (internal/rpm) — a
// concern entirely separate from the catalog, which only knows what a
// configured media currently publishes.
type InstalledLister interface {
	Installed(ctx context.Context) ([]urpm.NEVRA, error)
}

// Index adapts the catalog (available packages, by media) and an
// [InstalledLister] (the live RPM database) into a [resolver.Index]: the
// resolver operates purely against this abstraction and never talks to SQL
// or the RPM database directly (spec.md §4.3).
type Index struct {
	store     *Store
	installed InstalledLister
}

// NewIndex builds a resolver.Index over store's cataloged packages and
// installed's live installed set.
func NewIndex(store *Store, installed InstalledLister) *Index {
	return &Index{store: store, installed: installed}
}

var _ resolver.Index = (*Index)(nil)
var _ transaction.ArtifactLookup = (*Index)(nil)

// Artifact implements transaction.ArtifactLookup: it finds the
// highest-priority enabled media currently publishing n and reports that
// media's name, so the download pool knows which servers to try. Packages
// checked out of the running synthesis carry no per-file digest in this
// catalog (the synthesis format itself has none); verification is skipped
// in that case, same as a media that never published one upstream.
func (x *Index) Artifact(ctx context.Context, n urpm.NEVRA) (transaction.Artifact, error) {
	var media string
	err := x.store.db.QueryRowContext(ctx,
		`SELECT m.name FROM packages p JOIN media m ON m.id = p.media_id
		 WHERE p.name = ? AND p.epoch = ? AND p.version = ? AND p.release = ? AND p.arch = ? AND m.enabled = 1
		 ORDER BY m.priority DESC LIMIT 1`,
		n.Name, n.Epoch, n.Version, n.Release, n.Arch).Scan(&media)
	switch {
	case err == sql.ErrNoRows:
		return transaction.Artifact{}, &urpm.Error{Kind: urpm.ErrResolver, Op: "catalog.Index.Artifact",
			Message: fmt.Sprintf("%s is no longer published by any enabled media", n.String())}
	case err != nil:
		return transaction.Artifact{}, fmt.Errorf("catalog: locating artifact: %w", err)
	}
	return transaction.Artifact{NEVRA: n, Media: media}, nil
}

// Installed implements resolver.Index.
func (x *Index) Installed(ctx context.Context) ([]resolver.Candidate, error) {
	nevras, err := x.installed.Installed(ctx)
	if err != nil {
		return nil, &urpm.Error{Inner: err, Kind: urpm.ErrEnvironment, Op: "catalog.Index.Installed", Message: "reading installed package set"}
	}
	holds, err := x.store.Holds(ctx)
	if err != nil {
		return nil, err
	}
	held := make(map[string]bool, len(holds))
	for _, h := range holds {
		held[h.Name] = true
	}

	out := make([]resolver.Candidate, 0, len(nevras))
	for _, n := range nevras {
		c, ok, err := x.candidateForNEVRA(ctx, n)
		if err != nil {
			return nil, err
		}
		if !ok {
			// Not (or no longer) cataloged from any configured media: a
			// bare candidate still satisfies its own implicit self-provide,
			// which is enough to detect conflicts/obsoletions by name.
			c = resolver.Candidate{NEVRA: n}
		}
		c.Installed = true
		c.Held = held[n.Name]
		out = append(out, c)
	}
	return out, nil
}

// ByName implements resolver.Index: every cataloged build of name, across
// every enabled media, highest media priority first.
func (x *Index) ByName(ctx context.Context, name string) ([]resolver.Candidate, error) {
	sqlStr, args, err := dialect.From(goqu.T("packages").As("p")).
		Join(goqu.T("media").As("m"), goqu.On(goqu.Ex{"p.media_id": goqu.I("m.id")})).
		Select("p.media_id", goqu.L("p.name || '-' || p.epoch || ':' || p.version || '-' || p.release || '.' || p.arch")).
		Where(goqu.Ex{"p.name": name, "m.enabled": true}).
		Order(goqu.I("m.priority").Desc()).
		ToSQL()
	if err != nil {
		return nil, err
	}
	return x.queryNEVRAs(ctx, sqlStr, args...)
}

// Providers implements resolver.Index: every cataloged package whose
// provides list (or own name) matches capabilityName.
func (x *Index) Providers(ctx context.Context, capabilityName string) ([]resolver.Candidate, error) {
	sqlStr, args, err := dialect.From(goqu.T("capabilities").As("c")).
		Join(goqu.T("media").As("m"), goqu.On(goqu.Ex{"c.media_id": goqu.I("m.id")})).
		Select("c.media_id", "c.nevra").
		Where(goqu.Ex{"c.kind": "provides", "c.name": capabilityName, "m.enabled": true}).
		ToSQL()
	if err != nil {
		return nil, err
	}
	byProvides, err := x.queryNEVRAs(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	byName, err := x.ByName(ctx, capabilityName)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(byProvides)+len(byName))
	out := make([]resolver.Candidate, 0, len(byProvides)+len(byName))
	for _, c := range append(byProvides, byName...) {
		key := fmt.Sprintf("%d:%s", c.MediaPriority, c.NEVRA.String())
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out, nil
}

// queryNEVRAs runs a (media_id, nevra) projecting query and resolves each
// row to a full Candidate.
func (x *Index) queryNEVRAs(ctx context.Context, sqlStr string, args ...any) ([]resolver.Candidate, error) {
	rows, err := x.store.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: querying index: %w", err)
	}
	defer rows.Close()

	var pairs []struct {
		mediaID int64
		nevra   string
	}
	for rows.Next() {
		var mediaID int64
		var nevraStr string
		if err := rows.Scan(&mediaID, &nevraStr); err != nil {
			return nil, err
		}
		pairs = append(pairs, struct {
			mediaID int64
			nevra   string
		}{mediaID, nevraStr})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]resolver.Candidate, 0, len(pairs))
	for _, p := range pairs {
		n, err := urpm.ParseNEVRA(p.nevra)
		if err != nil {
			continue
		}
		c, ok, err := x.candidateInMedia(ctx, p.mediaID, n)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// candidateForNEVRA finds n in any media it's cataloged under, preferring
// the highest media priority when it's cataloged under more than one.
func (x *Index) candidateForNEVRA(ctx context.Context, n urpm.NEVRA) (resolver.Candidate, bool, error) {
	var mediaID int64
	err := x.store.db.QueryRowContext(ctx,
		`SELECT p.media_id FROM packages p JOIN media m ON m.id = p.media_id
		 WHERE p.name = ? AND p.epoch = ? AND p.version = ? AND p.release = ? AND p.arch = ?
		 ORDER BY m.priority DESC LIMIT 1`,
		n.Name, n.Epoch, n.Version, n.Release, n.Arch).Scan(&mediaID)
	switch {
	case err == sql.ErrNoRows:
		return resolver.Candidate{}, false, nil
	case err != nil:
		return resolver.Candidate{}, false, fmt.Errorf("catalog: locating package: %w", err)
	}
	return x.candidateInMedia(ctx, mediaID, n)
}

// candidateInMedia loads one package row (and its capability rows) from a
// known media into a resolver.Candidate.
func (x *Index) candidateInMedia(ctx context.Context, mediaID int64, n urpm.NEVRA) (resolver.Candidate, bool, error) {
	var priority int
	err := x.store.db.QueryRowContext(ctx, `SELECT priority FROM media WHERE id = ?`, mediaID).Scan(&priority)
	switch {
	case err == sql.ErrNoRows:
		return resolver.Candidate{}, false, nil
	case err != nil:
		return resolver.Candidate{}, false, fmt.Errorf("catalog: loading media: %w", err)
	}

	c := resolver.Candidate{NEVRA: n, MediaPriority: priority}
	nevra := n.String()
	rows, err := x.store.db.QueryContext(ctx,
		`SELECT kind, name, op, evr FROM capabilities WHERE media_id = ? AND nevra = ?`, mediaID, nevra)
	if err != nil {
		return resolver.Candidate{}, false, fmt.Errorf("catalog: loading capabilities: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind, name, op, evr string
		if err := rows.Scan(&kind, &name, &op, &evr); err != nil {
			return resolver.Candidate{}, false, err
		}
		pc := urpm.Capability{Name: name, Op: urpm.CapOp(op), EVR: evr}
		switch kind {
		case "provides":
			c.Provides = append(c.Provides, pc)
		case "requires":
			c.Requires = append(c.Requires, pc)
		case "conflicts":
			c.Conflicts = append(c.Conflicts, pc)
		case "obsoletes":
			c.Obsoletes = append(c.Obsoletes, pc)
		case "recommends":
			c.Recommends = append(c.Recommends, pc)
		case "suggests":
			c.Suggests = append(c.Suggests, pc)
		}
	}
	return c, true, rows.Err()
}
