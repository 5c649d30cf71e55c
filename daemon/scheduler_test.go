package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestRefreshMediaNoopOnEmptyCatalog(t *testing.T) {
	d := newTestDaemon(t)
	if err := RefreshMedia(context.Background(), d); err != nil {
		t.Fatalf("RefreshMedia on an empty catalog: %v", err)
	}
}

func TestCacheHasFileFindsNestedCachedArtifact(t *testing.T) {
	d := newTestDaemon(t)
	mediaDir := filepath.Join(packagesDir(d.Config), "core")
	if err := os.MkdirAll(mediaDir, 0o755); err != nil {
		t.Fatal(err)
	}
	const filename = "bash-5.2-1.x86_64.rpm"
	if err := os.WriteFile(filepath.Join(mediaDir, filename), []byte("rpm"), 0o644); err != nil {
		t.Fatal(err)
	}

	if !d.cacheHasFile(filename) {
		t.Fatal("expected cacheHasFile to find the file written into the media cache directory")
	}
	if d.cacheHasFile("missing-1.0-1.x86_64.rpm") {
		t.Fatal("expected cacheHasFile to report false for an absent file")
	}
}

func TestPredownloadSkipsUnparseableFilenames(t *testing.T) {
	d := newTestDaemon(t)
	// Neither a malformed filename nor one with no publishing media should
	// panic; predownload logs and moves on.
	d.predownload([]string{"notanevra", "bash-5.2-1.x86_64.rpm"})
}
