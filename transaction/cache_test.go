package transaction

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/urpm-project/urpm"
)

type fakeCatalog struct {
	medias  []MediaInfo
	current map[string]map[string]bool
	held    map[string]bool
}

func (f *fakeCatalog) Media(ctx context.Context) ([]MediaInfo, error) { return f.medias, nil }

func (f *fakeCatalog) CurrentNEVRAs(ctx context.Context, media string) (map[string]bool, error) {
	return f.current[media], nil
}

func (f *fakeCatalog) HeldNames(ctx context.Context) (map[string]bool, error) { return f.held, nil }

type fakeInstalledLister struct{ nevras []urpm.NEVRA }

func (f fakeInstalledLister) Installed(ctx context.Context) ([]urpm.NEVRA, error) {
	return f.nevras, nil
}

func writeCacheFile(t *testing.T, dir, name string, size int, age time.Duration) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
	stamp := time.Now().Add(-age)
	if err := os.Chtimes(path, stamp, stamp); err != nil {
		t.Fatal(err)
	}
}

func TestEvictRemovesStaleBeforeInstalled(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "core")

	stale := urpm.NEVRA{Name: "old", Version: "1", Release: "1", Arch: "x86_64"}
	keep := urpm.NEVRA{Name: "bash", Version: "5.2", Release: "1", Arch: "x86_64"}

	writeCacheFile(t, dir, stale.String()+".rpm", 100, time.Hour)
	writeCacheFile(t, dir, keep.String()+".rpm", 100, time.Minute)

	catalog := &fakeCatalog{
		medias:  []MediaInfo{{Name: "core", ShortID: "core", QuotaBytes: 150}},
		current: map[string]map[string]bool{"core": {keep.String(): true}},
		held:    map[string]bool{},
	}
	installed := fakeInstalledLister{nevras: []urpm.NEVRA{keep}}

	if err := Evict(context.Background(), root, catalog, installed); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dir, stale.String()+".rpm")); !os.IsNotExist(err) {
		t.Errorf("expected stale file to be removed, stat err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, keep.String()+".rpm")); err != nil {
		t.Errorf("expected kept file to survive phase 1, stat err = %v", err)
	}
}

func TestEvictNeverTouchesHeldPackage(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "core")

	held := urpm.NEVRA{Name: "kernel", Version: "6.1", Release: "1", Arch: "x86_64"}
	writeCacheFile(t, dir, held.String()+".rpm", 500, 24*time.Hour)

	catalog := &fakeCatalog{
		medias:  []MediaInfo{{Name: "core", ShortID: "core", QuotaBytes: 10}},
		current: map[string]map[string]bool{"core": {}},
		held:    map[string]bool{"kernel": true},
	}
	installed := fakeInstalledLister{nevras: []urpm.NEVRA{held}}

	if err := Evict(context.Background(), root, catalog, installed); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, held.String()+".rpm")); err != nil {
		t.Errorf("held package's RPM should never be evicted, stat err = %v", err)
	}
}

func TestEvictUnderQuotaIsNoop(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "core")
	n := urpm.NEVRA{Name: "bash", Version: "5.2", Release: "1", Arch: "x86_64"}
	writeCacheFile(t, dir, n.String()+".rpm", 10, time.Minute)

	catalog := &fakeCatalog{
		medias:  []MediaInfo{{Name: "core", ShortID: "core", QuotaBytes: 1000}},
		current: map[string]map[string]bool{"core": {n.String(): true}},
		held:    map[string]bool{},
	}
	if err := Evict(context.Background(), root, catalog, fakeInstalledLister{}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, n.String()+".rpm")); err != nil {
		t.Errorf("file under quota should survive, stat err = %v", err)
	}
}
