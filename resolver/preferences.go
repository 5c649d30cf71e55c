package resolver

import (
	"strings"
)

// Preference is one parsed token from the preferences list (spec.md §4.3):
// a name:version pin, a substring upweight, or a "-"-prefixed downweight /
// forbid.
type Preference struct {
	Pattern string
	Version string // non-empty for a "name:version" token
	Forbid  bool
}

// ParsePreferences parses the user-facing preferences token list.
func ParsePreferences(tokens []string) []Preference {
	out := make([]Preference, 0, len(tokens))
	for _, t := range tokens {
		if t == "" {
			continue
		}
		p := Preference{Pattern: t}
		if strings.HasPrefix(t, "-") {
			p.Forbid = true
			p.Pattern = t[1:]
		} else if name, version, ok := strings.Cut(t, ":"); ok {
			p.Pattern = name
			p.Version = version
		}
		out = append(out, p)
	}
	return out
}

// matches reports whether a candidate's capability layer (its own name as
// an implicit self-provide, its provides, or its requires) contains a
// capability whose name contains the preference pattern as a substring.
// Preferences are guidance applied to the capability layer, not package
// names (spec.md §4.3); a candidate's own name is itself a capability via
// the self-provide rule, so matching it is part of that same rule.
func (p Preference) matches(c Candidate) bool {
	if matchOne(p, c.NEVRA.Name, c.NEVRA.EVR()) {
		return true
	}
	for _, pc := range c.Provides {
		if matchOne(p, pc.Name, pc.EVR) {
			return true
		}
	}
	for _, pc := range c.Requires {
		if matchOne(p, pc.Name, pc.EVR) {
			return true
		}
	}
	return false
}

func matchOne(p Preference, name, evr string) bool {
	if !strings.Contains(name, p.Pattern) {
		return false
	}
	if p.Version == "" || evr == "" {
		return true
	}
	return CompareEVR(evr, p.Version) == 0
}

// forbidden reports whether any forbidding preference matches c.
func forbidden(prefs []Preference, c Candidate) bool {
	for _, p := range prefs {
		if p.Forbid && p.matches(c) {
			return true
		}
	}
	return false
}

// rank scores a candidate for tie-break ordering: higher is preferred.
// Implements the preference term of spec.md §4.3's candidate ranking
// order; [less] combines it with held/installed, media priority, EVR, and
// arch/locale comparisons for the full tie-break.
func rank(prefs []Preference, c Candidate) int {
	score := 0
	for _, p := range prefs {
		if !p.Forbid && p.matches(c) {
			score++
		}
	}
	return score
}
