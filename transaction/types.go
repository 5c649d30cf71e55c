// Package transaction acquires the artifacts a resolved transaction needs,
// hands the assembled install/upgrade/erase set to the RPM library, and
// records history (spec.md §4.4).
package transaction

import (
	"context"
	"time"

	"github.com/urpm-project/urpm"
	"github.com/urpm-project/urpm/resolver"
)

// Phase is one stage of the RPM handoff's progress callback.
type Phase string

// Defined phases (spec.md §4.4 "Handoff to RPM").
const (
	PhasePrepare Phase = "prepare"
	PhaseInstall Phase = "install"
	PhaseRemove  Phase = "remove"
	PhaseCleanup Phase = "cleanup"
)

// Progress is one update streamed from the RPM handoff.
type Progress struct {
	NEVRA   urpm.NEVRA
	Phase   Phase
	Percent int
	Message string
}

// ProgressFunc receives handoff progress updates. Called synchronously from
// the handoff goroutine; implementations must not block.
type ProgressFunc func(Progress)

// Executor is the opaque RPM-library collaborator (spec.md §1 keeps the RPM
// transaction library itself out of scope). Prepare stages the
// install/upgrade/erase element list in resolver-produced order; Execute
// performs the handoff and streams Progress until it returns.
type Executor interface {
	Prepare(ctx context.Context, install, upgrade, erase []urpm.NEVRA) error
	Execute(ctx context.Context, progress ProgressFunc) error
}

// Artifact is one package file the engine must have locally before handoff.
type Artifact struct {
	NEVRA  urpm.NEVRA
	Digest urpm.Digest
	Media  string // media name, for upstream server selection
}

// Filename renders the on-disk cache filename for a, "<NEVRA>.rpm"
// (spec.md §6's persisted-state layout).
func (a Artifact) Filename() string { return a.NEVRA.String() + ".rpm" }

// InstalledLister reports the packages presently installed on this
// machine, as read from the on-disk RPM database. Mirrors
// catalog.InstalledLister; kept as a separate, structurally identical
// interface here since this package cannot import catalog (catalog already
// depends on transaction for ArtifactLookup).
type InstalledLister interface {
	Installed(ctx context.Context) ([]urpm.NEVRA, error)
}

// ArtifactLookup resolves a bare NEVRA to the Artifact describing where it
// can be downloaded from. Implemented by catalog.Index, which knows which
// media currently publishes a given build.
type ArtifactLookup interface {
	Artifact(ctx context.Context, n urpm.NEVRA) (Artifact, error)
}

// CacheSource resolves an artifact to an already-verified local path.
type CacheSource interface {
	// Lookup returns the cached file's path and true if it is present and
	// its digest still matches. A digest mismatch is treated the same as
	// a miss: the caller re-downloads.
	Lookup(ctx context.Context, a Artifact) (path string, ok bool, err error)
	// Store moves a freshly verified download into the cache, returning
	// its final path.
	Store(ctx context.Context, a Artifact, tmpPath string) (path string, err error)
}

// PeerSource races the peer set for holders of needed artifacts
// (spec.md §4.4 "Cooperative download", §4.5 /api/have).
type PeerSource interface {
	// Have asks the healthy peer set which of filenames they hold,
	// returning a map of filename to the address of a peer with it.
	Have(ctx context.Context, filenames []string) (map[string]string, error)
	// Fetch downloads filename from peerAddr into dst, resuming from
	// resumeFrom if it is non-zero, and returns the total bytes written.
	Fetch(ctx context.Context, peerAddr, filename string, dst WriterAt, resumeFrom int64) (int64, error)
}

// UpstreamSource fetches an artifact from the media's configured servers,
// with failover and unhealthy-marking left to the implementation
// (spec.md §4.4 point 3).
type UpstreamSource interface {
	Fetch(ctx context.Context, media string, filename string, dst WriterAt, resumeFrom int64) (int64, error)
	MarkUnhealthy(ctx context.Context, media, server string)
}

// WriterAt is the subset of *os.File used for resumable, byte-range
// downloads — satisfied by [pkg/tmp.File].
type WriterAt interface {
	WriteAt(p []byte, off int64) (int, error)
}

// HistoryRecorder persists the before/start/after record of one transaction
// (spec.md §4.4 "a history entry is written in its own transaction, never
// batched with the package writes it describes"). Implemented by
// catalog.HistoryAdapter, which maps Finish's ok flag onto catalog's own
// HistoryState constants.
type HistoryRecorder interface {
	Begin(ctx context.Context) (id int64, err error)
	Finish(ctx context.Context, id int64, ok bool, installed, upgraded, erased []string, errMsg string) error
}

// Options tunes the download pool and cache directory.
type Options struct {
	// PoolSize bounds concurrent downloads (spec.md §4.4 "default 4").
	PoolSize int64
	// TempDir is where in-flight downloads are staged before being
	// handed to CacheSource.Store.
	TempDir string
	// PeerTimeout bounds a single /api/have race (spec.md §5, default 2s).
	PeerTimeout time.Duration
}

// DefaultOptions matches spec.md §4.4/§5's stated defaults.
func DefaultOptions() Options {
	return Options{PoolSize: 4, TempDir: "", PeerTimeout: 2 * time.Second}
}

// installArtifacts resolves every package a resolver.Transaction needs to
// fetch (installs and upgrades; erases need no artifact) through lookup,
// preserving the resolver's ordering.
func installArtifacts(ctx context.Context, lookup ArtifactLookup, tx *resolver.Transaction) ([]Artifact, error) {
	out := make([]Artifact, 0, len(tx.ToInstall)+len(tx.ToUpgrade))
	for _, c := range append(append([]resolver.Candidate{}, tx.ToInstall...), tx.ToUpgrade...) {
		a, err := lookup.Artifact(ctx, c.NEVRA)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func nevraList(cs []resolver.Candidate) []urpm.NEVRA {
	out := make([]urpm.NEVRA, len(cs))
	for i, c := range cs {
		out[i] = c.NEVRA
	}
	return out
}
