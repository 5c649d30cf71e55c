package transaction

import (
	"context"
	"testing"

	"github.com/urpm-project/urpm"
	"github.com/urpm-project/urpm/resolver"
)

type fakeHistorySource struct {
	entries []HistoryEntryView
}

func (f *fakeHistorySource) Entries(ctx context.Context, limit int) ([]HistoryEntryView, error) {
	if limit <= 0 || limit >= len(f.entries) {
		return f.entries, nil
	}
	return f.entries[:limit], nil
}

func (f *fakeHistorySource) Entry(ctx context.Context, id int64) (HistoryEntryView, error) {
	for _, e := range f.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return HistoryEntryView{}, errBoom
}

func TestUndoReversesInstalledAndErased(t *testing.T) {
	source := &fakeHistorySource{entries: []HistoryEntryView{
		{ID: 1, Installed: []string{"bash-5.2-1.x86_64"}, Erased: []string{"dash-0.5-1.x86_64"}},
	}}
	exec := &fakeExecutor{}
	hist := &fakeHistory{}
	e := newTestEngine(exec, hist)
	h := NewHistory(source, e)

	if err := h.Undo(context.Background(), 1, func(Progress) {}); err != nil {
		t.Fatal(err)
	}
	if len(exec.prepared) != 2 {
		t.Fatalf("prepared = %v, want 2 NEVRAs (one erase, one install)", exec.prepared)
	}
}

func TestRollbackNStopsAtFirstFailure(t *testing.T) {
	source := &fakeHistorySource{entries: []HistoryEntryView{
		{ID: 2, Installed: []string{"bash-5.2-1.x86_64"}},
		{ID: 1, Installed: []string{"dash-0.5-1.x86_64"}},
	}}
	exec := &fakeExecutor{executeErr: errBoom}
	hist := &fakeHistory{}
	e := newTestEngine(exec, hist)
	h := NewHistory(source, e)

	if err := h.RollbackN(context.Background(), 2, func(Progress) {}); err == nil {
		t.Fatal("expected the first (and only) attempted undo to fail")
	}
	if len(hist.begun) != 1 {
		t.Fatalf("expected rollback to stop after the first entry, got %d attempts", len(hist.begun))
	}
}

func TestRollbackToReResolvesEachStep(t *testing.T) {
	source := &fakeHistorySource{entries: []HistoryEntryView{
		{ID: 3, Installed: []string{"bash-5.2-1.x86_64"}},
		{ID: 2, Installed: []string{"dash-0.5-1.x86_64"}},
		{ID: 1, Installed: []string{"zsh-5.9-1.x86_64"}},
	}}
	exec := &fakeExecutor{}
	hist := &fakeHistory{}
	e := newTestEngine(exec, hist)
	h := NewHistory(source, e)

	var resolveCalls int
	resolve := func(ctx context.Context, install, erase []urpm.NEVRA) (*resolver.Transaction, error) {
		resolveCalls++
		tx := &resolver.Transaction{}
		for _, n := range erase {
			tx.ToErase = append(tx.ToErase, resolver.Candidate{NEVRA: n})
		}
		return tx, nil
	}

	if err := h.RollbackTo(context.Background(), 1, resolve, func(Progress) {}); err != nil {
		t.Fatal(err)
	}
	if resolveCalls != 2 {
		t.Fatalf("resolveCalls = %d, want 2 (entries newer than target 1)", resolveCalls)
	}
}
