package resolver

// JobKind is the verb of a solver [Job] (spec.md §4.3's "Input" paragraph).
type JobKind int

// Defined job kinds.
const (
	JobInstall JobKind = iota
	JobErase
	JobUpgrade
	JobDistUpgrade
)

// Job is one translated CLI request. Target is a package name or
// capability name for JobInstall (install-one-of); a package name for
// JobErase and JobUpgrade; empty for JobUpgrade meaning "upgrade all" and
// for JobDistUpgrade.
type Job struct {
	Kind   JobKind
	Target string
}

// Options carries the solver's per-run switches (spec.md §4.3's "Options"
// paragraph).
type Options struct {
	AllowDowngrade  bool
	WithRecommends  bool
	WithSuggests    bool
	EraseRecommends bool
	Force           bool
	NoDeps          bool
	Preferences     []Preference
	Held            map[string]bool
	Blacklist       map[string]bool

	// SystemArch is this machine's RPM package arch (e.g. "x86_64"),
	// the "same-arch-as-system" term of spec.md §4.3's candidate ranking
	// tie-break. Empty disables the term (every arch ranks equally).
	SystemArch string
	// SystemLocale is the current locale tag (e.g. "fr"); spec.md §4.3's
	// final tie-break term prefers a candidate whose package name ends
	// with it. Empty disables the term.
	SystemLocale string
}

// Transaction is the solver's projected output: three ordered NEVRA lists
// ready for the transaction engine (spec.md §4.3's "Transaction build").
type Transaction struct {
	ToInstall []Candidate
	ToUpgrade []Candidate
	ToErase   []Candidate
}
