// Package resolver implements the SAT-flavored dependency resolver of
// spec.md §4.3: it takes a job list against a catalog pool and produces a
// concrete install/upgrade/erase transaction, or a structured failure.
package resolver

import (
	"context"

	"github.com/urpm-project/urpm"
)

// Candidate is one package as seen by the solver: its identity, its
// capability lists, and the provenance the tie-break rules need.
type Candidate struct {
	NEVRA         urpm.NEVRA
	MediaPriority int
	Installed     bool
	Held          bool

	Provides   []urpm.Capability
	Requires   []urpm.Capability
	Conflicts  []urpm.Capability
	Obsoletes  []urpm.Capability
	Recommends []urpm.Capability
	Suggests   []urpm.Capability
}

// Name is the package name the candidate is selected under.
func (c Candidate) Name() string { return c.NEVRA.Name }

// satisfies reports whether c provides a capability satisfying want,
// including the implicit self-provide of its own NEVRA under its own name.
func (c Candidate) satisfies(want urpm.Capability) bool {
	self := urpm.Capability{Name: c.NEVRA.Name, Op: urpm.OpEQ, EVR: c.NEVRA.EVR()}
	if versionSatisfies(want, self) {
		return true
	}
	for _, p := range c.Provides {
		if versionSatisfies(want, p) {
			return true
		}
	}
	return false
}

// Index is the pool the solver draws candidates from: the installed set
// plus everything cataloged across enabled media. Implementations are
// expected to apply held-packages and blacklist filtering upstream of
// returning candidates, leaving only version/preference/priority ranking
// to the solver.
type Index interface {
	// Installed returns every currently-installed package.
	Installed(ctx context.Context) ([]Candidate, error)
	// ByName returns every candidate (installed or cataloged) with the
	// given package name, across all enabled media.
	ByName(ctx context.Context, name string) ([]Candidate, error)
	// Providers returns every candidate providing a capability with the
	// given name (including candidates whose own package name matches,
	// per the implicit self-provide rule).
	Providers(ctx context.Context, capabilityName string) ([]Candidate, error)
}

// versionSatisfies reports whether the provided capability "have" meets
// the version constraint on "want". An unversioned want is satisfied by
// any capability of the same name; an unversioned have can only satisfy
// an unversioned want.
func versionSatisfies(want, have urpm.Capability) bool {
	if want.Name != have.Name {
		return false
	}
	if !want.Versioned() {
		return true
	}
	if !have.Versioned() {
		return false
	}
	c := CompareEVR(have.EVR, want.EVR)
	switch want.Op {
	case urpm.OpEQ:
		return c == 0
	case urpm.OpLT:
		return c < 0
	case urpm.OpLE:
		return c <= 0
	case urpm.OpGT:
		return c > 0
	case urpm.OpGE:
		return c >= 0
	default:
		return true
	}
}
