package resolver

import (
	"context"

	"github.com/urpm-project/urpm"
)

// Solve resolves a job list against idx, producing a transaction or a
// structured failure (spec.md §4.3). It never retries itself; the
// caller re-enters with an added preference for an [AmbiguousError].
func Solve(ctx context.Context, idx Index, jobs []Job, opts Options) (*Transaction, error) {
	s := newSolver(ctx, idx, opts)
	if err := s.loadInstalled(); err != nil {
		return nil, err
	}
	if err := s.seed(jobs); err != nil {
		return nil, err
	}
	if err := s.run(); err != nil {
		return nil, err
	}
	return s.project(), nil
}

// seed translates the job list into initial queue atoms.
func (s *solver) seed(jobs []Job) error {
	for i := range jobs {
		j := jobs[i]
		switch j.Kind {
		case JobErase:
			c, ok := s.sel[j.Target]
			if !ok || !c.Installed {
				return wrap("resolver.Solve", &UnsatisfiableError{Job: j, Chain: []string{j.Target}})
			}
			if c.Held && !s.opts.Force {
				return &urpm.Error{Kind: urpm.ErrUser, Op: "resolver.Solve",
					Message: "package " + j.Target + " is held"}
			}
			s.erase(j.Target)
			if s.opts.EraseRecommends {
				s.eraseRecommendsOf(c)
			}
		case JobUpgrade:
			if j.Target == "" {
				for name := range s.origins {
					s.push(atom{job: &Job{Kind: JobUpgrade, Target: name}, capability: name})
				}
				continue
			}
			s.push(atom{job: &j, capability: j.Target})
		case JobDistUpgrade:
			for name := range s.origins {
				s.push(atom{job: &Job{Kind: JobUpgrade, Target: name}, capability: name})
			}
		default: // JobInstall
			s.push(atom{job: &j, capability: j.Target})
		}
	}
	return nil
}

// erase schedules name for removal, unless already scheduled.
func (s *solver) erase(name string) {
	if s.erased[name] {
		return
	}
	s.erased[name] = true
	delete(s.sel, name)
}

// eraseRecommendsOf additionally erases every currently selected package
// that victim recommended and that nothing else still selected requires
// (spec.md §4.3's EraseRecommends option), returning the names it erased
// so a frame-driven caller can fold them into its own undo record. It
// does not cascade past that one level: a package pulled in as a
// recommends-of-a-recommends is left alone.
func (s *solver) eraseRecommendsOf(victim Candidate) []string {
	var erased []string
	for _, rec := range victim.Recommends {
		for name, c := range s.sel {
			if name == victim.Name() || s.erased[name] {
				continue
			}
			if !c.satisfies(rec) {
				continue
			}
			if s.stillRequired(name) {
				continue
			}
			s.erase(name)
			erased = append(erased, name)
		}
	}
	return erased
}

// stillRequired reports whether any other currently selected, non-erased
// package requires name.
func (s *solver) stillRequired(name string) bool {
	target, ok := s.sel[name]
	if !ok {
		return false
	}
	for other, c := range s.sel {
		if other == name || s.erased[other] {
			continue
		}
		for _, req := range c.Requires {
			if target.satisfies(req) {
				return true
			}
		}
	}
	return false
}

// run drains the pending queue, resolving each atom and backtracking on
// failure, until the queue is empty (solved) or the frame stack is
// exhausted (unsatisfiable).
func (s *solver) run() error {
	for {
		select {
		case <-s.ctx.Done():
			return wrap("resolver.Solve", s.ctx.Err())
		default:
		}

		a, ok := s.popQueue()
		if !ok {
			return nil
		}

		// Dependency atoms (job == nil) short-circuit once their capability's
		// name is already selected: the existing selection either already
		// satisfies the requirement or it doesn't (a conflict, handled via
		// backtrack). Explicit job atoms (install/upgrade a specific
		// target) always run the full candidate search below, even when
		// the target is already installed, so an upgrade can replace the
		// existing selection with a newer candidate.
		if a.job == nil {
			if c, already := s.resolvedName(a); already {
				if a.require != nil && !c.satisfies(*a.require) {
					if !s.failAtom(a) {
						return unsatisfiable(a)
					}
				}
				continue
			}
		}

		candidates, err := s.candidatesFor(a)
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			if !s.failAtom(a) {
				return unsatisfiable(a)
			}
			continue
		}
		if cp := ambiguousChoice(a, candidates, s.opts.Preferences); cp != nil {
			cp.Reason = a.reason
			return wrap("resolver.Solve", &AmbiguousError{Choice: *cp})
		}

		f := &frame{atom: a, candidates: candidates}
		s.frames = append(s.frames, f)
		if err := s.selectCandidate(f, candidates[0]); err != nil {
			if !s.failAtom(a) {
				return wrap("resolver.Solve", err)
			}
		}
	}
}

// resolvedName reports whether the atom's target name is already in the
// selection, returning the selected candidate.
func (s *solver) resolvedName(a atom) (Candidate, bool) {
	c, ok := s.sel[a.capability]
	return c, ok
}

// failAtom attempts to backtrack past a just-failed atom; weak atoms are
// simply dropped instead (spec.md §4.3's "Weak dependencies").
func (s *solver) failAtom(a atom) bool {
	if a.weak {
		return true
	}
	return s.backtrack()
}

// ambiguousChoice reports a choice point when an explicit install job's
// required capability has two or more non-installed, non-held candidates
// that no preference, media priority, or held/installed state
// disambiguates (spec.md §4.3's "Alternatives" paragraph); a newer EVR
// alone does not settle the choice.
// Dependency atoms never produce a choice point: they silently take the
// ranked front candidate, since "preferences ... break ties" there too
// but re-prompting the user mid-dependency-expansion has no natural UI.
func ambiguousChoice(a atom, candidates []Candidate, prefs []Preference) *ChoicePoint {
	if a.job == nil || a.job.Kind != JobInstall || len(candidates) < 2 {
		return nil
	}
	names := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		if c.Held || c.Installed {
			return nil
		}
		names[c.Name()] = true
	}
	if len(names) < 2 {
		return nil
	}
	first, second := candidates[0], candidates[1]
	if rank(prefs, first) != rank(prefs, second) {
		return nil
	}
	if first.MediaPriority != second.MediaPriority {
		return nil
	}
	return &ChoicePoint{Capability: a.capability, Candidates: candidates}
}

func unsatisfiable(a atom) error {
	var job Job
	if a.job != nil {
		job = *a.job
	} else {
		job = Job{Kind: JobInstall, Target: a.capability}
	}
	return wrap("resolver.Solve", &UnsatisfiableError{Job: job, Chain: append(append([]string{}, a.reason...), a.capability)})
}

// selectCandidate commits c as the selection for f.atom: checks
// conflicts against the current selection, schedules held-safe
// obsoletions, records the commitment on f for [solver.undo], and
// enqueues c's requires (and, per options, recommends/suggests) as new
// atoms.
func (s *solver) selectCandidate(f *frame, c Candidate) error {
	name := c.Name()

	for _, other := range s.sel {
		if other.Name() == name {
			continue
		}
		if capabilitiesConflict(c, other) {
			return &ConflictingError{A: c.NEVRA, B: other.NEVRA}
		}
	}

	var erasedHere []string
	for _, obs := range c.Obsoletes {
		victim, ok := s.origins[obs.Name]
		if !ok || s.erased[victim.Name()] {
			continue
		}
		if !versionSatisfies(obs, urpm.Capability{Name: victim.Name(), Op: urpm.OpEQ, EVR: victim.NEVRA.EVR()}) {
			continue
		}
		if victim.Held && !s.opts.Force {
			return &HeldObsoletedError{Package: victim.NEVRA, By: c.NEVRA}
		}
		s.erase(victim.Name())
		erasedHere = append(erasedHere, victim.Name())
		if s.opts.EraseRecommends {
			erasedHere = append(erasedHere, s.eraseRecommendsOf(victim)...)
		}
	}

	s.sel[name] = c
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.order = append(s.order, name)
	f.selectedName = name
	f.erasedNames = erasedHere

	before := len(s.queue)
	if !s.opts.NoDeps {
		for i := range c.Requires {
			req := c.Requires[i]
			s.push(atom{capability: req.Name, require: &req, reason: append(append([]string{}, f.atom.reason...), name)})
		}
		if s.opts.WithRecommends {
			for i := range c.Recommends {
				req := c.Recommends[i]
				s.push(atom{capability: req.Name, require: &req, weak: true,
					reason: append(append([]string{}, f.atom.reason...), name)})
			}
		}
		if s.opts.WithSuggests {
			for i := range c.Suggests {
				req := c.Suggests[i]
				s.push(atom{capability: req.Name, require: &req, weak: true,
					reason: append(append([]string{}, f.atom.reason...), name)})
			}
		}
	}
	f.pushedAtoms = len(s.queue) - before
	return nil
}

// capabilitiesConflict reports whether a and b mutually exclude each
// other: either's conflicts list is satisfied by the other's identity or
// provides (spec.md §4.3's conflicts invariant).
func capabilitiesConflict(a, b Candidate) bool {
	for _, c := range a.Conflicts {
		if b.satisfies(c) {
			return true
		}
	}
	for _, c := range b.Conflicts {
		if a.satisfies(c) {
			return true
		}
	}
	return false
}
