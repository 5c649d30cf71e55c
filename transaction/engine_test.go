package transaction

import (
	"context"
	"testing"

	"github.com/urpm-project/urpm"
	"github.com/urpm-project/urpm/locksource"
	"github.com/urpm-project/urpm/resolver"
)

type fakeLookup struct{}

func (fakeLookup) Artifact(ctx context.Context, n urpm.NEVRA) (Artifact, error) {
	return Artifact{NEVRA: n, Media: "core"}, nil
}

type fakeExecutor struct {
	prepared   []urpm.NEVRA
	progressed []Progress
	prepareErr error
	executeErr error
}

func (e *fakeExecutor) Prepare(ctx context.Context, install, upgrade, erase []urpm.NEVRA) error {
	e.prepared = append(append(append([]urpm.NEVRA{}, install...), upgrade...), erase...)
	return e.prepareErr
}

func (e *fakeExecutor) Execute(ctx context.Context, progress ProgressFunc) error {
	p := Progress{Phase: PhaseInstall, Percent: 100}
	progress(p)
	e.progressed = append(e.progressed, p)
	return e.executeErr
}

type fakeHistory struct {
	nextID  int64
	begun   []int64
	results []bool
}

func (h *fakeHistory) Begin(ctx context.Context) (int64, error) {
	h.nextID++
	h.begun = append(h.begun, h.nextID)
	return h.nextID, nil
}

func (h *fakeHistory) Finish(ctx context.Context, id int64, ok bool, installed, upgraded, erased []string, errMsg string) error {
	h.results = append(h.results, ok)
	return nil
}

func newTestEngine(exec *fakeExecutor, hist *fakeHistory) *Engine {
	cache := newFakeCache()
	pool := NewPool(cache, nil, &fakeUpstream{content: map[string][]byte{}}, DefaultOptions())
	return NewEngine(pool, fakeLookup{}, exec, hist, &locksource.Local{})
}

func TestEngineRunSuccess(t *testing.T) {
	exec := &fakeExecutor{}
	hist := &fakeHistory{}
	e := newTestEngine(exec, hist)

	tx := &resolver.Transaction{
		ToInstall: []resolver.Candidate{{NEVRA: urpm.NEVRA{Name: "bash", Version: "5.2", Release: "1", Arch: "x86_64"}}},
	}
	var seen []Progress
	if err := e.Run(context.Background(), tx, func(p Progress) { seen = append(seen, p) }); err != nil {
		t.Fatal(err)
	}
	if len(exec.prepared) != 1 {
		t.Fatalf("prepared = %v", exec.prepared)
	}
	if len(seen) != 1 {
		t.Fatalf("progress callbacks = %d, want 1", len(seen))
	}
	if len(hist.results) != 1 || !hist.results[0] {
		t.Fatalf("history results = %v, want [true]", hist.results)
	}
}

func TestEngineRunRecordsFailure(t *testing.T) {
	exec := &fakeExecutor{executeErr: errBoom}
	hist := &fakeHistory{}
	e := newTestEngine(exec, hist)

	tx := &resolver.Transaction{
		ToInstall: []resolver.Candidate{{NEVRA: urpm.NEVRA{Name: "bash", Version: "5.2", Release: "1", Arch: "x86_64"}}},
	}
	if err := e.Run(context.Background(), tx, func(Progress) {}); err == nil {
		t.Fatal("expected an error")
	}
	if len(hist.results) != 1 || hist.results[0] {
		t.Fatalf("history results = %v, want [false]", hist.results)
	}
}
