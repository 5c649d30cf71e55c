package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/urpm-project/urpm"
)

// fakeIndex is an in-memory [Index] keyed by package name; every candidate
// provides its own name as an implicit self-provide, matching [Candidate.satisfies].
type fakeIndex struct {
	installed []Candidate
	byName    map[string][]Candidate
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{byName: make(map[string][]Candidate)}
}

func (f *fakeIndex) add(c Candidate) {
	f.byName[c.NEVRA.Name] = append(f.byName[c.NEVRA.Name], c)
	if c.Installed {
		f.installed = append(f.installed, c)
	}
}

func (f *fakeIndex) Installed(ctx context.Context) ([]Candidate, error) { return f.installed, nil }

func (f *fakeIndex) ByName(ctx context.Context, name string) ([]Candidate, error) {
	return f.byName[name], nil
}

func (f *fakeIndex) Providers(ctx context.Context, capabilityName string) ([]Candidate, error) {
	var out []Candidate
	for _, list := range f.byName {
		for _, c := range list {
			if c.satisfies(urpm.Capability{Name: capabilityName}) {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

func nevra(name, version, release, arch string) urpm.NEVRA {
	return urpm.NEVRA{Name: name, Version: version, Release: release, Arch: arch}
}

func TestSolveInstallWithRequires(t *testing.T) {
	idx := newFakeIndex()
	idx.add(Candidate{NEVRA: nevra("bash", "5.2", "1", "x86_64"),
		Requires: []urpm.Capability{{Name: "libc"}}})
	idx.add(Candidate{NEVRA: nevra("libc", "2.38", "1", "x86_64")})

	tx, err := Solve(context.Background(), idx, []Job{{Kind: JobInstall, Target: "bash"}}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(tx.ToInstall) != 2 {
		t.Fatalf("got %d installs, want 2: %+v", len(tx.ToInstall), tx.ToInstall)
	}
	// libc must precede bash (dependency-first).
	if tx.ToInstall[0].Name() != "libc" || tx.ToInstall[1].Name() != "bash" {
		t.Errorf("got order %s, %s; want libc, bash", tx.ToInstall[0].Name(), tx.ToInstall[1].Name())
	}
}

func TestSolveConflictBacktracks(t *testing.T) {
	idx := newFakeIndex()
	idx.add(Candidate{NEVRA: nevra("postfix", "3.8", "1", "x86_64"),
		Conflicts: []urpm.Capability{{Name: "sendmail"}}})
	idx.add(Candidate{NEVRA: nevra("sendmail", "8.17", "1", "x86_64"), Installed: true})
	idx.add(Candidate{NEVRA: nevra("msmtp", "1.8", "1", "x86_64")})

	// Installing postfix conflicts with the installed sendmail, and there
	// is no alternative candidate for "postfix" itself, so this job alone
	// is unsatisfiable without erasing sendmail first; the solver should
	// report the conflict rather than silently dropping sendmail.
	_, err := Solve(context.Background(), idx, []Job{{Kind: JobInstall, Target: "postfix"}}, Options{})
	if err == nil {
		t.Fatal("expected a conflict error, got nil")
	}
	var ue *UnsatisfiableError
	var ce *ConflictingError
	if !errors.As(err, &ue) && !errors.As(err, &ce) {
		t.Errorf("got %v (%T), want *UnsatisfiableError or *ConflictingError", err, err)
	}
}

func TestSolveObsoletesHeldPackageFails(t *testing.T) {
	idx := newFakeIndex()
	idx.add(Candidate{NEVRA: nevra("old-pkg", "1.0", "1", "x86_64"), Installed: true, Held: true})
	idx.add(Candidate{NEVRA: nevra("new-pkg", "2.0", "1", "x86_64"),
		Obsoletes: []urpm.Capability{{Name: "old-pkg", Op: urpm.OpEQ, EVR: "1.0-1"}}})

	_, err := Solve(context.Background(), idx, []Job{{Kind: JobInstall, Target: "new-pkg"}}, Options{})
	if err == nil {
		t.Fatal("expected a held-obsoleted error, got nil")
	}
	var he *HeldObsoletedError
	if !errors.As(err, &he) {
		t.Errorf("got %v (%T), want *HeldObsoletedError", err, err)
	}
}

func TestSolveUnsatisfiableRequire(t *testing.T) {
	idx := newFakeIndex()
	idx.add(Candidate{NEVRA: nevra("app", "1.0", "1", "x86_64"),
		Requires: []urpm.Capability{{Name: "missing-lib"}}})

	_, err := Solve(context.Background(), idx, []Job{{Kind: JobInstall, Target: "app"}}, Options{})
	var ue *UnsatisfiableError
	if !errors.As(err, &ue) {
		t.Fatalf("got %v (%T), want *UnsatisfiableError", err, err)
	}
}

func TestSolveErase(t *testing.T) {
	idx := newFakeIndex()
	idx.add(Candidate{NEVRA: nevra("bash", "5.2", "1", "x86_64"), Installed: true})

	tx, err := Solve(context.Background(), idx, []Job{{Kind: JobErase, Target: "bash"}}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(tx.ToErase) != 1 || tx.ToErase[0].Name() != "bash" {
		t.Fatalf("got %+v, want bash erased", tx.ToErase)
	}
}

func TestSolveEraseHeldFails(t *testing.T) {
	idx := newFakeIndex()
	idx.add(Candidate{NEVRA: nevra("kernel", "6.1", "1", "x86_64"), Installed: true, Held: true})

	_, err := Solve(context.Background(), idx, []Job{{Kind: JobErase, Target: "kernel"}}, Options{Held: map[string]bool{"kernel": true}})
	var uerr *urpm.Error
	if !errors.As(err, &uerr) || uerr.Kind != urpm.ErrUser {
		t.Fatalf("got %v, want a held-package ErrUser", err)
	}
}

func TestSolveAmbiguousChoice(t *testing.T) {
	idx := newFakeIndex()
	idx.add(Candidate{NEVRA: nevra("vim", "9.0", "1", "x86_64"), Provides: []urpm.Capability{{Name: "editor"}}})
	idx.add(Candidate{NEVRA: nevra("emacs", "29.0", "1", "x86_64"), Provides: []urpm.Capability{{Name: "editor"}}})

	_, err := Solve(context.Background(), idx, []Job{{Kind: JobInstall, Target: "editor"}}, Options{})
	var ae *AmbiguousError
	if !errors.As(err, &ae) {
		t.Fatalf("got %v (%T), want *AmbiguousError", err, err)
	}
	if len(ae.Choice.Candidates) != 2 {
		t.Errorf("got %d candidates, want 2", len(ae.Choice.Candidates))
	}
}

func TestSolveAmbiguousResolvedByPreference(t *testing.T) {
	idx := newFakeIndex()
	idx.add(Candidate{NEVRA: nevra("vim", "9.0", "1", "x86_64"), Provides: []urpm.Capability{{Name: "editor"}}})
	idx.add(Candidate{NEVRA: nevra("emacs", "29.0", "1", "x86_64"), Provides: []urpm.Capability{{Name: "editor"}}})

	tx, err := Solve(context.Background(), idx, []Job{{Kind: JobInstall, Target: "editor"}},
		Options{Preferences: ParsePreferences([]string{"vim"})})
	if err != nil {
		t.Fatal(err)
	}
	if len(tx.ToInstall) != 1 || tx.ToInstall[0].Name() != "vim" {
		t.Fatalf("got %+v, want vim selected by preference", tx.ToInstall)
	}
}
