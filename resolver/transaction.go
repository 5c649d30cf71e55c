package resolver

// project turns the solver's final selection into the three ordered
// lists spec.md §4.3's "Transaction build" describes: to_install and
// to_upgrade topologically sorted dependencies-first, to_erase in
// reverse topological order (dependents first). Residual cycles (from a
// capability loop the solver didn't need to break to satisfy requires)
// degrade to the arbitrary DFS order topoSort produces for that cycle.
func (s *solver) project() *Transaction {
	var installNames, upgradeNames, eraseNames []string
	for _, name := range s.order {
		c := s.sel[name]
		orig, wasInstalled := s.origins[name]
		switch {
		case !wasInstalled:
			installNames = append(installNames, name)
		case orig.NEVRA != c.NEVRA:
			upgradeNames = append(upgradeNames, name)
		}
	}
	for name := range s.erased {
		eraseNames = append(eraseNames, name)
	}

	deps := s.dependencyEdges()

	combined := append(append([]string{}, installNames...), upgradeNames...)
	sorted := topoSort(combined, deps)
	installSet := toSet(installNames)

	t := &Transaction{}
	for _, name := range sorted {
		if installSet[name] {
			t.ToInstall = append(t.ToInstall, s.sel[name])
		} else {
			t.ToUpgrade = append(t.ToUpgrade, s.sel[name])
		}
	}

	eraseOrder := topoSort(eraseNames, deps)
	for i := len(eraseOrder) - 1; i >= 0; i-- {
		if c, ok := s.origins[eraseOrder[i]]; ok {
			t.ToErase = append(t.ToErase, c)
		}
	}
	return t
}

// dependencyEdges resolves every selected candidate's Requires capabilities
// against the final selection, mapping a package name to the names of the
// other selected packages that satisfy its requirements. Built once, after
// the solve, against the settled selection — the solver itself never needs
// to know which capability name resolves to which package name mid-search.
func (s *solver) dependencyEdges() map[string][]string {
	deps := make(map[string][]string, len(s.sel))
	for name, c := range s.sel {
		for _, req := range c.Requires {
			if provider, ok := s.providerOf(req.Name); ok && provider != name {
				deps[name] = append(deps[name], provider)
			}
		}
	}
	return deps
}

// providerOf finds the selected package whose identity or provides list
// satisfies a bare capability name.
func (s *solver) providerOf(capName string) (string, bool) {
	for name, c := range s.sel {
		if name == capName {
			return name, true
		}
		for _, p := range c.Provides {
			if p.Name == capName {
				return name, true
			}
		}
	}
	return "", false
}

// topoSort returns names in dependency-first order, restricted to the
// subgraph induced by names itself (edges leaving the set are ignored:
// an already-installed, unaffected package is not part of this
// transaction).
func topoSort(names []string, deps map[string][]string) []string {
	inSet := make(map[string]bool, len(names))
	for _, n := range names {
		inSet[n] = true
	}
	visited := make(map[string]bool, len(names))
	order := make([]string, 0, len(names))
	var visit func(string)
	visit = func(n string) {
		if visited[n] {
			return
		}
		visited[n] = true
		for _, d := range deps[n] {
			if inSet[d] {
				visit(d)
			}
		}
		order = append(order, n)
	}
	for _, n := range names {
		visit(n)
	}
	return order
}

func toSet(names []string) map[string]bool {
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}
