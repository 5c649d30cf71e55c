package resolver

import (
	"context"
	"sort"
	"strings"

	"github.com/urpm-project/urpm"
)

// atom is one pending unit of work in the solver's unselected queue: an
// explicit job, or a dependency requirement pulled in by an already
// selected candidate. Mirrors the gps solver's unselected-queue entries,
// generalized from Go import paths to RPM capability names.
type atom struct {
	job        *Job            // non-nil for an atom seeded directly from a job
	capability string          // capability/package name to search for
	require    *urpm.Capability // version-constrained requirement, nil for a plain job atom
	weak       bool            // recommends/suggests: drop silently instead of failing
	reason     []string        // chain of requiring package names, for error reporting
}

// frame is a choice point the solver has committed to: the atom it
// resolves, the ranked candidate list, and which one is currently
// selected. Mirrors gps's versionQueue stack (vqs).
type frame struct {
	atom       atom
	candidates []Candidate
	tried      int // index into candidates currently selected

	// applied records the effects selectCandidate had, so backtrack can
	// undo exactly this frame's contribution before retrying.
	selectedName   string
	erasedNames    []string
	pushedAtoms    int // how many atoms this frame appended to the queue
}

// solver holds one resolve run's mutable state: the selection (sel), the
// pending queue (queue), and the frame stack driving backtracking (frames),
// generalized from other_examples/f720cacd_golang-dep__solver.go.go's gps
// solver shape.
type solver struct {
	ctx context.Context
	idx Index
	opts Options

	sel     map[string]Candidate // name -> final candidate, installed + newly selected
	origins map[string]Candidate // name -> originally-installed candidate (read-only snapshot)
	erased  map[string]bool      // name -> scheduled for erase
	order   []string             // selection order, in the order committed

	queue  []atom
	frames []*frame
}

func newSolver(ctx context.Context, idx Index, opts Options) *solver {
	return &solver{
		ctx:     ctx,
		idx:     idx,
		opts:    opts,
		sel:     make(map[string]Candidate),
		origins: make(map[string]Candidate),
		erased:  make(map[string]bool),
	}
}

func (s *solver) loadInstalled() error {
	installed, err := s.idx.Installed(s.ctx)
	if err != nil {
		return wrap("resolver.Solve", err)
	}
	for _, c := range installed {
		c.Installed = true
		if s.opts.Held[c.Name()] {
			c.Held = true
		}
		s.sel[c.Name()] = c
		s.origins[c.Name()] = c
	}
	return nil
}

// push appends an atom to the pending queue.
func (s *solver) push(a atom) { s.queue = append(s.queue, a) }

// popQueue pops the most recently pushed atom (LIFO/stack order): a
// candidate's requirements are resolved immediately, depth-first, before
// the solver returns to its siblings. This is what makes frame-local
// undo-by-truncation correct in [solver.undo] — whatever a frame pushed
// is still sitting untouched at the top of the stack by the time that
// frame is backtracked, since everything pushed after it must belong to
// its own (already resolved or already unwound) descendants.
func (s *solver) popQueue() (atom, bool) {
	if len(s.queue) == 0 {
		return atom{}, false
	}
	last := len(s.queue) - 1
	a := s.queue[last]
	s.queue = s.queue[:last]
	return a, true
}

// candidatesFor gathers and ranks the candidate list for an atom,
// applying the blacklist and forbidding preferences, the requirement's
// version constraint, and spec.md §4.3's tie-break order.
func (s *solver) candidatesFor(a atom) ([]Candidate, error) {
	var pool []Candidate
	var err error
	if a.job != nil {
		pool, err = s.idx.ByName(s.ctx, a.capability)
	} else {
		pool, err = s.idx.Providers(s.ctx, a.capability)
	}
	if err != nil {
		return nil, wrap("resolver.Solve", err)
	}
	if len(pool) == 0 {
		// install(capability) job targets, and bare package-name
		// requirements with no explicit provides row, both fall back to
		// the other lookup.
		if a.job != nil {
			pool, err = s.idx.Providers(s.ctx, a.capability)
		} else {
			pool, err = s.idx.ByName(s.ctx, a.capability)
		}
		if err != nil {
			return nil, wrap("resolver.Solve", err)
		}
	}

	out := make([]Candidate, 0, len(pool))
	for _, c := range pool {
		if s.opts.Blacklist[c.Name()] {
			continue
		}
		if forbidden(s.opts.Preferences, c) {
			continue
		}
		if a.require != nil && !c.satisfies(*a.require) {
			continue
		}
		if s.isDowngrade(a, c) {
			continue
		}
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool { return less(s.opts, out[i], out[j]) })
	return out, nil
}

// isDowngrade reports whether c would install an older build than name's
// currently installed origin, for an explicit install/upgrade job target
// (spec.md §4.3's AllowDowngrade option). Dependency atoms are never
// subject to this check: a requirement is satisfied by whatever candidate
// meets its version constraint, downgrade or not.
func (s *solver) isDowngrade(a atom, c Candidate) bool {
	if s.opts.AllowDowngrade || a.job == nil {
		return false
	}
	origin, ok := s.origins[c.Name()]
	if !ok {
		return false
	}
	return CompareEVR(c.NEVRA.EVR(), origin.NEVRA.EVR()) < 0
}

// less implements spec.md §4.3's candidate ranking tie-break order:
// held-and-installed, preference-favored, higher media priority, newer
// EVR, same-arch-as-system, locale match. i sorts before j when i should
// be preferred. The final fallback, alphabetical by arch, only matters
// once every named term above is a wash (e.g. neither candidate matches
// the system arch or the locale tag).
func less(opts Options, a, b Candidate) bool {
	if a.Held != b.Held {
		return a.Held
	}
	if a.Installed != b.Installed {
		return a.Installed
	}
	ra, rb := rank(opts.Preferences, a), rank(opts.Preferences, b)
	if ra != rb {
		return ra > rb
	}
	if a.MediaPriority != b.MediaPriority {
		return a.MediaPriority > b.MediaPriority
	}
	if c := CompareEVR(a.NEVRA.EVR(), b.NEVRA.EVR()); c != 0 {
		return c > 0
	}
	if opts.SystemArch != "" {
		aArch := a.NEVRA.Arch == opts.SystemArch
		bArch := b.NEVRA.Arch == opts.SystemArch
		if aArch != bArch {
			return aArch
		}
	}
	if opts.SystemLocale != "" {
		aLocale := localeMatch(a.NEVRA.Name, opts.SystemLocale)
		bLocale := localeMatch(b.NEVRA.Name, opts.SystemLocale)
		if aLocale != bLocale {
			return aLocale
		}
	}
	return a.NEVRA.Arch < b.NEVRA.Arch
}

// localeMatch reports whether name ends with the current locale tag,
// spec.md §4.3's "locale match (package name ends with current locale
// tag)" term, e.g. "man-pages-fr" for locale "fr".
func localeMatch(name, locale string) bool {
	return strings.HasSuffix(name, "-"+locale)
}
