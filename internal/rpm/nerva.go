package rpm

import (
	"strings"
)

// NERVA returns an rpm NERVA for the package "p", assuming that the
// [urpm.NEVRA.EVR] value is the package's EVR string. This should hold true
// for all [Package] instances returned by this package.
func NERVA(p *Package) string {
	var b strings.Builder
	b.WriteString(p.NEVRA.Name)
	b.WriteByte('-')
	b.WriteString(p.NEVRA.EVR())
	b.WriteByte('.')
	b.WriteString(p.NEVRA.Arch)
	return b.String()
}
