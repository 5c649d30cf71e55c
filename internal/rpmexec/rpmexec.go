// Package rpmexec is the seam where the real RPM transaction library plugs
// in. spec.md §1 explicitly keeps "the RPM library itself" out of scope and
// treats it as an opaque [transaction.Executor]; Stub satisfies that
// interface so cmd/urpm and cmd/urpmd can wire a complete engine without one
// present.
package rpmexec

import (
	"context"

	"github.com/urpm-project/urpm"
	"github.com/urpm-project/urpm/transaction"
)

// Stub is a no-op transaction.Executor: Prepare always succeeds, and
// Execute reports every queued NEVRA complete without touching the RPM
// database. It exists only so the engine can be exercised end to end
// (queueing, downloading, history recording) without a real RPM library.
type Stub struct {
	install, upgrade, erase []urpm.NEVRA
}

var _ transaction.Executor = (*Stub)(nil)

func (s *Stub) Prepare(ctx context.Context, install, upgrade, erase []urpm.NEVRA) error {
	s.install, s.upgrade, s.erase = install, upgrade, erase
	return nil
}

func (s *Stub) Execute(ctx context.Context, progress transaction.ProgressFunc) error {
	report := func(phase transaction.Phase, nevras []urpm.NEVRA) {
		for _, n := range nevras {
			progress(transaction.Progress{NEVRA: n, Phase: phase, Percent: 100})
		}
	}
	report(transaction.PhaseInstall, s.install)
	report(transaction.PhaseInstall, s.upgrade)
	report(transaction.PhaseRemove, s.erase)
	return nil
}
