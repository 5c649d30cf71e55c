package resolver

// backtrack undoes the most recent frame's selection and tries that
// frame's next candidate; if the frame is exhausted it is discarded and
// the prior frame is retried instead, recursively. Returns false once the
// frame stack is empty — the run is unsatisfiable. This is the CDCL-style
// rollback other_examples/f720cacd_golang-dep__solver.go.go's backtrack()
// performs over its version-queue stack, generalized to RPM candidates.
func (s *solver) backtrack() bool {
	for len(s.frames) > 0 {
		f := s.frames[len(s.frames)-1]
		s.undo(f)

		f.tried++
		if f.tried < len(f.candidates) {
			if err := s.selectCandidate(f, f.candidates[f.tried]); err == nil {
				return true
			}
			// selectCandidate failed again (conflict/held-obsolete);
			// keep advancing this same frame before popping it.
			continue
		}

		// Frame exhausted: drop it and unwind to the parent.
		s.frames = s.frames[:len(s.frames)-1]
	}
	return false
}

// undo reverts a frame's committed effects: its selection, any erases it
// scheduled, and the atoms it pushed onto the pending queue.
func (s *solver) undo(f *frame) {
	if f.selectedName != "" {
		if orig, ok := s.origins[f.selectedName]; ok {
			s.sel[f.selectedName] = orig
		} else {
			delete(s.sel, f.selectedName)
		}
		for i, n := range s.order {
			if n == f.selectedName {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
		f.selectedName = ""
	}
	for _, n := range f.erasedNames {
		delete(s.erased, n)
		if orig, ok := s.origins[n]; ok {
			s.sel[n] = orig
		}
	}
	f.erasedNames = nil
	if f.pushedAtoms > 0 && f.pushedAtoms <= len(s.queue) {
		s.queue = s.queue[:len(s.queue)-f.pushedAtoms]
	}
	f.pushedAtoms = 0
}
