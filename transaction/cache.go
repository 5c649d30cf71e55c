package transaction

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/urpm-project/urpm"
)

// FileCache is the on-disk package cache at
// "<base>/cache/packages/<media-shortid>/<NEVRA>.rpm" (spec.md §6's
// persisted-state layout).
type FileCache struct {
	root    string
	catalog CatalogSource
}

// NewFileCache builds a FileCache rooted at root (the "packages" directory
// itself, not its parent).
func NewFileCache(root string, catalog CatalogSource) *FileCache {
	return &FileCache{root: root, catalog: catalog}
}

var _ CacheSource = (*FileCache)(nil)

func (fc *FileCache) path(ctx context.Context, a Artifact) (string, error) {
	medias, err := fc.catalog.Media(ctx)
	if err != nil {
		return "", err
	}
	for _, m := range medias {
		if m.Name == a.Media {
			return filepath.Join(fc.root, m.ShortID, a.Filename()), nil
		}
	}
	return "", fmt.Errorf("transaction: unknown media %q", a.Media)
}

// Lookup implements CacheSource.
func (fc *FileCache) Lookup(ctx context.Context, a Artifact) (string, bool, error) {
	path, err := fc.path(ctx, a)
	if err != nil {
		// An artifact whose media vanished since it was last cataloged is
		// a miss, not a hard failure: the caller falls through to peers
		// and upstream, neither of which will have it either, and the
		// transaction fails there with a clearer error.
		return "", false, nil
	}
	if _, err := os.Stat(path); err != nil {
		return "", false, nil
	}
	if a.Digest.Algorithm() != "" {
		ok, err := verifyDigest(path, a.Digest)
		if err != nil || !ok {
			os.Remove(path)
			return "", false, nil
		}
	}
	now := time.Now()
	os.Chtimes(path, now, now)
	return path, true, nil
}

// Store implements CacheSource.
func (fc *FileCache) Store(ctx context.Context, a Artifact, tmpPath string) (string, error) {
	path, err := fc.path(ctx, a)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return "", err
	}
	return path, nil
}

// MediaInfo is the subset of a configured media's catalog record the cache
// eviction task needs.
type MediaInfo struct {
	Name       string
	ShortID    string
	QuotaBytes int64
}

// CatalogSource is the catalog information the cache package reads.
// Implemented by catalog.CacheAdapter.
type CatalogSource interface {
	Media(ctx context.Context) ([]MediaInfo, error)
	// CurrentNEVRAs reports every NEVRA string presently cataloged for
	// media — a cache file outside this set is unambiguously stale.
	CurrentNEVRAs(ctx context.Context, media string) (map[string]bool, error)
	// HeldNames reports held package names; a held package's RPM is never
	// evicted (spec.md §4.5).
	HeldNames(ctx context.Context) (map[string]bool, error)
}

type cacheEntry struct {
	path  string
	size  int64
	mtime time.Time
	nevra string
}

// Evict enforces every media's on-disk cache quota, in the two phases
// spec.md §4.5's "Cache eviction" describes: stale NEVRAs first (no longer
// in the current synthesis), then oldest-first by last access among
// installed-already files, never touching a held package's RPM. There is
// no age-based eviction: a quota of zero means "never enforce".
func Evict(ctx context.Context, root string, catalog CatalogSource, installed InstalledLister) error {
	medias, err := catalog.Media(ctx)
	if err != nil {
		return err
	}
	held, err := catalog.HeldNames(ctx)
	if err != nil {
		return err
	}
	installedSet := map[string]bool{}
	if nevras, err := installed.Installed(ctx); err == nil {
		for _, n := range nevras {
			installedSet[n.String()] = true
		}
	}

	for _, m := range medias {
		if m.QuotaBytes <= 0 {
			continue
		}
		if err := evictMedia(ctx, root, m, catalog, held, installedSet); err != nil {
			return fmt.Errorf("transaction: evicting cache for media %q: %w", m.Name, err)
		}
	}
	return nil
}

func evictMedia(ctx context.Context, root string, m MediaInfo, catalog CatalogSource, held, installed map[string]bool) error {
	dir := filepath.Join(root, m.ShortID)
	ents, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	current, err := catalog.CurrentNEVRAs(ctx, m.Name)
	if err != nil {
		return err
	}

	var total int64
	var stale, keep []cacheEntry
	for _, de := range ents {
		if de.IsDir() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		nevra := strings.TrimSuffix(de.Name(), ".rpm")
		total += info.Size()
		entry := cacheEntry{path: filepath.Join(dir, de.Name()), size: info.Size(), mtime: info.ModTime(), nevra: nevra}

		n, err := urpm.ParseNEVRA(nevra)
		if err == nil && held[n.Name] {
			continue // never a candidate, in either phase
		}
		if current[nevra] {
			keep = append(keep, entry)
		} else {
			stale = append(stale, entry)
		}
	}
	if total <= m.QuotaBytes {
		return nil
	}

	for _, f := range stale {
		if total <= m.QuotaBytes {
			break
		}
		if err := os.Remove(f.path); err == nil {
			total -= f.size
		}
	}
	if total <= m.QuotaBytes {
		return nil
	}

	sort.Slice(keep, func(i, j int) bool { return keep[i].mtime.Before(keep[j].mtime) })
	for _, f := range keep {
		if total <= m.QuotaBytes {
			break
		}
		if !installed[f.nevra] {
			continue
		}
		if err := os.Remove(f.path); err == nil {
			total -= f.size
		}
	}
	return nil
}
