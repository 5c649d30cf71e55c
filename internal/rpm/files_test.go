package rpm

import (
	"runtime"
	"testing"
	"testing/fstest"
	"unique"
	"weak"

	"github.com/urpm-project/urpm/test"
)

// TestFindDBsEmpty exercises the [NewPathSet] path over a filesystem that has
// no rpm databases at all: the returned set should be empty rather than an
// error.
func TestFindDBsEmpty(t *testing.T) {
	ctx := test.Logging(t)
	sys := fstest.MapFS{
		"etc/hostname": &fstest.MapFile{Data: []byte("localhost\n")},
	}

	set, err := NewPathSet(ctx, t.Name(), sys)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := set.len(), 0; got != want {
		t.Errorf("got: %d, want: %d", got, want)
	}
	if set.Contains("usr/bin/ls") {
		t.Error("unexpected owned path in empty database set")
	}
}

// TestPathSetCacheEviction checks that the process-wide [fileCache] drops an
// entry once every [PathSet] referencing it has been garbage collected.
func TestPathSetCacheEviction(t *testing.T) {
	ctx := test.Logging(t)
	sys := fstest.MapFS{}

	set, err := NewPathSet(ctx, t.Name(), sys)
	if err != nil {
		t.Fatal(err)
	}
	runtime.KeepAlive(set)
	set = nil

	t.Cleanup(func() {
		runtime.GC()
		ct := 0
		pkgCache.m.Range(func(k, v any) bool {
			key := k.(unique.Handle[string])
			if key.Value() != t.Name() {
				return true
			}
			f := v.(weak.Pointer[PathSet])
			if f.Value() != nil {
				t.Errorf("%s\table to upgrade weak pointer", key.Value())
			}
			ct++
			return true
		})
		t.Logf("%d cache entries remaining for %q", ct, t.Name())
	})
}

// TestPathSetContains checks basic membership behavior directly against a
// constructed [PathSet], independent of any particular rpm database backend.
func TestPathSetContains(t *testing.T) {
	set := &PathSet{
		paths: map[string]struct{}{
			"usr/bin/bash": {},
		},
	}
	if !set.Contains("usr/bin/bash") {
		t.Error("expected owned path to be reported as contained")
	}
	if set.Contains("usr/bin/zsh") {
		t.Error("expected unowned path to be reported as not contained")
	}
	if got, want := set.len(), 1; got != want {
		t.Errorf("got: %d, want: %d", got, want)
	}
}
