package ingest

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/urpm-project/urpm"
)

// SourceKind names which metadata source is authoritative for a media.
type SourceKind int

// Defined source kinds.
const (
	SourceSynthesis SourceKind = iota
	SourceHdlist
)

// SelectSource reports which metadata source is authoritative for a media:
// text synthesis whenever it is at least as fresh as the binary hdlist,
// since it is cheaper to parse and covers every field the resolver and
// catalog need, and hdlist otherwise. It picks one whole source; it does not
// merge hdlist-only fields (changelog entries, the full file list) into a
// synthesis import, and the refresh path in package daemon does not call it.
func SelectSource(synthesisSync, hdlistSync time.Time) SourceKind {
	if !synthesisSync.Before(hdlistSync) {
		return SourceSynthesis
	}
	return SourceHdlist
}

// NEVRASet is a set of package identities, keyed by [urpm.NEVRA.String].
type NEVRASet map[string]struct{}

// Store is the catalog-side contract [DiffSynthesis] and [DiffFiles] need:
// enough to read the media's current NEVRA set and to write the computed
// delete/insert rows inside one transaction.
//
// The catalog package implements this against its SQLite schema; this
// package never touches SQL directly (spec.md §4.1's dependency order puts
// metadata parsing strictly below the catalog store).
type Store interface {
	// ExistingNEVRAs reports the NEVRAs currently cataloged for media.
	ExistingNEVRAs(ctx context.Context, media string) (NEVRASet, error)
	// Begin opens a write transaction. bulk is true when this is the
	// media's first-ever ingestion (A = ∅); implementations may drop and
	// rebuild indexes inside a bulk transaction.
	Begin(ctx context.Context, media string, bulk bool) (Tx, error)
}

// Tx is one write transaction's worth of diff-import operations.
type Tx interface {
	// DeleteNEVRA removes every row for nevra from media's catalog rows.
	DeleteNEVRA(ctx context.Context, nevra string) error
	// InsertSynthesis inserts rec's package, capability, and package rows.
	InsertSynthesis(ctx context.Context, rec Record) error
	// InsertFiles inserts fl's per-path rows.
	InsertFiles(ctx context.Context, fl FileList) error
	// Commit finalizes the transaction, updating the media state row
	// (checksum, counts, timestamp) as its last statement.
	Commit(ctx context.Context, state MediaState) error
	// Rollback discards every statement since Begin. Safe to call after a
	// successful Commit; implementations treat it as a no-op then.
	Rollback() error
}

// MediaState is the per-media file-index snapshot state (spec.md §3's
// file-index snapshot state): used both to record sync results and to
// decide full-rebuild vs. differential import on the next pass.
type MediaState struct {
	MD5           string
	PackageCount  int
	FileCount     int
	CompressedSize int64
}

// DiffSynthesis performs the differential import algorithm (spec.md §4.1)
// for a media's synthesis blob. open must return a fresh reader over the
// same decompressed bytes each call: the algorithm streams the blob twice,
// once to compute the new NEVRA set and once, inside the write transaction,
// to insert only the rows that are actually new.
//
// On any mid-stream decode failure the transaction is rolled back, the
// catalog is left at its prior contents, and the returned error is an
// [urpm.Error] with [urpm.ErrMetadataCorrupt] so the caller can surface a
// metadata-corrupt(media, offset) event without updating the per-media
// state (so the next sync retries from scratch).
func DiffSynthesis(ctx context.Context, store Store, media string, state MediaState, open func() (io.Reader, error)) error {
	a, err := store.ExistingNEVRAs(ctx, media)
	if err != nil {
		return fmt.Errorf("ingest: reading existing catalog state for %s: %w", media, err)
	}

	first, err := open()
	if err != nil {
		return fmt.Errorf("ingest: opening synthesis blob for %s: %w", media, err)
	}
	b := make(NEVRASet, len(a))
	for rec, err := range ParseSynthesis(first) {
		if err != nil {
			return &urpm.Error{Inner: err, Kind: urpm.ErrMetadataCorrupt, Op: "ingest.DiffSynthesis", Message: fmt.Sprintf("media %s: scanning NEVRA set", media)}
		}
		b[rec.NEVRA.String()] = struct{}{}
	}

	tx, err := store.Begin(ctx, media, len(a) == 0)
	if err != nil {
		return fmt.Errorf("ingest: beginning transaction for %s: %w", media, err)
	}
	defer tx.Rollback()

	for nevra := range a {
		if _, ok := b[nevra]; ok {
			continue
		}
		if err := tx.DeleteNEVRA(ctx, nevra); err != nil {
			return fmt.Errorf("ingest: deleting %s from %s: %w", nevra, media, err)
		}
	}

	second, err := open()
	if err != nil {
		return fmt.Errorf("ingest: reopening synthesis blob for %s: %w", media, err)
	}
	for rec, err := range ParseSynthesis(second) {
		if err != nil {
			return &urpm.Error{Inner: err, Kind: urpm.ErrMetadataCorrupt, Op: "ingest.DiffSynthesis", Message: fmt.Sprintf("media %s: inserting rows", media)}
		}
		if _, existed := a[rec.NEVRA.String()]; existed {
			continue
		}
		if err := tx.InsertSynthesis(ctx, rec); err != nil {
			return fmt.Errorf("ingest: inserting %s into %s: %w", rec.NEVRA, media, err)
		}
	}

	state.PackageCount = len(b)
	if err := tx.Commit(ctx, state); err != nil {
		return fmt.Errorf("ingest: committing diff import for %s: %w", media, err)
	}
	return nil
}

// DiffFiles performs the same differential-import algorithm as
// [DiffSynthesis] but over a media's files.xml. The first pass, which computes
// the B set and the file count, runs the same full [ParseFilesXML] element
// parse as the insert pass; there is no separate fn= attribute-only scan.
func DiffFiles(ctx context.Context, store Store, media string, state MediaState, open func() (io.Reader, error)) error {
	a, err := store.ExistingNEVRAs(ctx, media)
	if err != nil {
		return fmt.Errorf("ingest: reading existing catalog state for %s: %w", media, err)
	}

	first, err := open()
	if err != nil {
		return fmt.Errorf("ingest: opening files.xml for %s: %w", media, err)
	}
	b := make(NEVRASet, len(a))
	fileCount := 0
	for fl, err := range ParseFilesXML(first) {
		if err != nil {
			return &urpm.Error{Inner: err, Kind: urpm.ErrMetadataCorrupt, Op: "ingest.DiffFiles", Message: fmt.Sprintf("media %s: scanning NEVRA set", media)}
		}
		b[fl.NEVRA.String()] = struct{}{}
		fileCount += len(fl.Paths)
	}

	tx, err := store.Begin(ctx, media, len(a) == 0)
	if err != nil {
		return fmt.Errorf("ingest: beginning transaction for %s: %w", media, err)
	}
	defer tx.Rollback()

	for nevra := range a {
		if _, ok := b[nevra]; ok {
			continue
		}
		if err := tx.DeleteNEVRA(ctx, nevra); err != nil {
			return fmt.Errorf("ingest: deleting %s from %s: %w", nevra, media, err)
		}
	}

	second, err := open()
	if err != nil {
		return fmt.Errorf("ingest: reopening files.xml for %s: %w", media, err)
	}
	for fl, err := range ParseFilesXML(second) {
		if err != nil {
			return &urpm.Error{Inner: err, Kind: urpm.ErrMetadataCorrupt, Op: "ingest.DiffFiles", Message: fmt.Sprintf("media %s: inserting rows", media)}
		}
		if _, existed := a[fl.NEVRA.String()]; existed {
			continue
		}
		if err := tx.InsertFiles(ctx, fl); err != nil {
			return fmt.Errorf("ingest: inserting files for %s into %s: %w", fl.NEVRA, media, err)
		}
	}

	state.FileCount = fileCount
	if err := tx.Commit(ctx, state); err != nil {
		return fmt.Errorf("ingest: committing diff import for %s: %w", media, err)
	}
	return nil
}
