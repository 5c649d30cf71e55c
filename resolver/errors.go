package resolver

import (
	"fmt"
	"strings"

	"github.com/urpm-project/urpm"
)

// ChoicePoint describes an unresolved multi-provider requirement: the
// capability name, its candidate list, and the chain of requiring package
// names that led to it (spec.md §4.3's "Alternatives" paragraph).
type ChoicePoint struct {
	Capability string
	Candidates []Candidate
	Reason     []string
}

// UnsatisfiableError reports that a job (or a dependency it pulled in)
// could not be satisfied by any candidate, with the requiring chain.
type UnsatisfiableError struct {
	Job   Job
	Chain []string
}

func (e *UnsatisfiableError) Error() string {
	return fmt.Sprintf("unsatisfiable: %s (via %s)", jobString(e.Job), strings.Join(e.Chain, " -> "))
}

// ConflictingError reports two selected candidates whose conflicts
// capability sets intersect.
type ConflictingError struct {
	A, B urpm.NEVRA
}

func (e *ConflictingError) Error() string {
	return fmt.Sprintf("conflicting: %s and %s", e.A, e.B)
}

// HeldObsoletedError reports that satisfying a job would obsolete a held
// package.
type HeldObsoletedError struct {
	Package urpm.NEVRA
	By      urpm.NEVRA
}

func (e *HeldObsoletedError) Error() string {
	return fmt.Sprintf("held package %s would be obsoleted by %s", e.Package, e.By)
}

// AmbiguousError reports a choice point the auto-resolver would not
// disambiguate on its own; the front-end re-enters the solver with the
// user's pick added as a preference (spec.md §4.3).
type AmbiguousError struct {
	Choice ChoicePoint
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous: capability %q has %d candidates", e.Choice.Capability, len(e.Choice.Candidates))
}

// wrap lifts a resolver-internal failure into the shared urpm.Error
// domain, tagged ErrResolver, keeping the structured error reachable via
// errors.As/errors.Unwrap for JSON-mode callers.
func wrap(op string, inner error) error {
	return &urpm.Error{Kind: urpm.ErrResolver, Op: op, Inner: inner}
}

func jobString(j Job) string {
	switch j.Kind {
	case JobInstall:
		return "install(" + j.Target + ")"
	case JobErase:
		return "erase(" + j.Target + ")"
	case JobUpgrade:
		if j.Target == "" {
			return "upgrade(all)"
		}
		return "upgrade(" + j.Target + ")"
	case JobDistUpgrade:
		return "distupgrade"
	default:
		return "job(?)"
	}
}
