package rpmexec

import (
	"context"
	"testing"

	"github.com/urpm-project/urpm"
	"github.com/urpm-project/urpm/transaction"
)

func TestStubReportsEveryQueuedNEVRAComplete(t *testing.T) {
	ctx := context.Background()
	install := []urpm.NEVRA{{Name: "bash"}}
	upgrade := []urpm.NEVRA{{Name: "glibc"}}
	erase := []urpm.NEVRA{{Name: "old-pkg"}}

	s := new(Stub)
	if err := s.Prepare(ctx, install, upgrade, erase); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	var got []transaction.Progress
	if err := s.Execute(ctx, func(p transaction.Progress) { got = append(got, p) }); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d progress updates, want 3", len(got))
	}
	for _, p := range got {
		if p.Percent != 100 {
			t.Errorf("NEVRA %s reported %d%%, want 100%%", p.NEVRA, p.Percent)
		}
	}
}
