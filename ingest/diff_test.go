package ingest

import (
	"context"
	"io"
	"strings"
	"testing"
)

type fakeTx struct {
	store    *fakeStore
	deleted  []string
	inserted []string
}

func (tx *fakeTx) DeleteNEVRA(ctx context.Context, nevra string) error {
	tx.deleted = append(tx.deleted, nevra)
	return nil
}

func (tx *fakeTx) InsertSynthesis(ctx context.Context, rec Record) error {
	tx.inserted = append(tx.inserted, rec.NEVRA.String())
	return nil
}

func (tx *fakeTx) InsertFiles(ctx context.Context, fl FileList) error {
	tx.inserted = append(tx.inserted, fl.NEVRA.String())
	return nil
}

func (tx *fakeTx) Commit(ctx context.Context, state MediaState) error {
	have := make(NEVRASet, len(tx.store.have))
	for k := range tx.store.have {
		have[k] = struct{}{}
	}
	for _, d := range tx.deleted {
		delete(have, d)
	}
	for _, i := range tx.inserted {
		have[i] = struct{}{}
	}
	tx.store.have = have
	tx.store.state = state
	tx.store.committed = true
	return nil
}

func (tx *fakeTx) Rollback() error { return nil }

type fakeStore struct {
	have      NEVRASet
	bulk      bool
	committed bool
	state     MediaState
}

func (s *fakeStore) ExistingNEVRAs(ctx context.Context, media string) (NEVRASet, error) {
	out := make(NEVRASet, len(s.have))
	for k := range s.have {
		out[k] = struct{}{}
	}
	return out, nil
}

func (s *fakeStore) Begin(ctx context.Context, media string, bulk bool) (Tx, error) {
	s.bulk = bulk
	return &fakeTx{store: s}, nil
}

func TestDiffSynthesisBulk(t *testing.T) {
	const blob = `@info@a-1.0-1.x86_64@0@10@Apps
@info@b-1.0-1.x86_64@0@10@Apps
`
	store := &fakeStore{have: NEVRASet{}}
	open := func() (io.Reader, error) { return strings.NewReader(blob), nil }

	if err := DiffSynthesis(context.Background(), store, "core", MediaState{}, open); err != nil {
		t.Fatal(err)
	}
	if !store.bulk {
		t.Error("expected bulk mode on first ingestion")
	}
	if !store.committed {
		t.Error("expected commit")
	}
	if len(store.have) != 2 {
		t.Errorf("got %d packages, want 2", len(store.have))
	}
	if store.state.PackageCount != 2 {
		t.Errorf("got package count %d, want 2", store.state.PackageCount)
	}
}

func TestDiffSynthesisIncremental(t *testing.T) {
	store := &fakeStore{have: NEVRASet{"a-1.0-1.x86_64": {}, "b-1.0-1.x86_64": {}}}
	const blob = `@info@a-1.0-1.x86_64@0@10@Apps
@info@c-1.0-1.x86_64@0@10@Apps
`
	open := func() (io.Reader, error) { return strings.NewReader(blob), nil }

	if err := DiffSynthesis(context.Background(), store, "core", MediaState{}, open); err != nil {
		t.Fatal(err)
	}
	if store.bulk {
		t.Error("expected non-bulk mode on incremental sync")
	}
	if _, ok := store.have["b-1.0-1.x86_64"]; ok {
		t.Error("b should have been deleted")
	}
	if _, ok := store.have["c-1.0-1.x86_64"]; !ok {
		t.Error("c should have been inserted")
	}
	if _, ok := store.have["a-1.0-1.x86_64"]; !ok {
		t.Error("a should still be present")
	}
}

func TestDiffSynthesisMalformedAborts(t *testing.T) {
	store := &fakeStore{have: NEVRASet{}}
	open := func() (io.Reader, error) { return strings.NewReader("@info@badname\n"), nil }

	err := DiffSynthesis(context.Background(), store, "core", MediaState{}, open)
	if err == nil {
		t.Fatal("expected error")
	}
	if store.committed {
		t.Error("expected no commit on malformed blob")
	}
}
