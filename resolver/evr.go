package resolver

import (
	rpmversion "github.com/knqyf263/go-rpm-version"
)

// CompareEVR compares two epoch:version-release strings, newer-is-greater,
// delegating the rpm version-comparison algorithm to go-rpm-version rather
// than reimplementing rpmvercmp locally.
func CompareEVR(a, b string) int {
	return rpmversion.NewVersion(a).Compare(rpmversion.NewVersion(b))
}
