// Package rpm allows for inspecting RPM databases in BerkleyDB, NDB, and SQLite
// formats.
//
// It backs the "installed-package set" described in SPEC_FULL.md §3: a
// read-only projection of the system RPM database, reloaded on demand and
// never persisted by the catalog.
package rpm

import (
	"context"
	"io"
	"iter"

	"github.com/urpm-project/urpm"
)

const Version = "10"

// HeaderReader is the interface implemented for in-process RPM database handlers.
type HeaderReader interface {
	Headers(context.Context) iter.Seq2[io.ReaderAt, error]
}

// Package is one row of the installed-package set: a NEVRA plus the
// bookkeeping fields the resolver and transaction engine need (which
// package database it came from, its source package, its module stream).
type Package struct {
	NEVRA          urpm.NEVRA
	Kind           string // "binary" or "source"
	Source         *urpm.NEVRA
	Module         string
	RepositoryHint string
	PackageDB      string
}

const (
	KindBinary = "binary"
	KindSource = "source"
)

// Validator is the extra interface an RPM database can implement if it needs
// extra checks after opening.
type validator interface {
	Validate(context.Context) error
}
