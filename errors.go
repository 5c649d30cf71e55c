// Package urpm is the root package of the package-manager core: shared
// value types (errors, digests, NEVRA-identified packages) used by every
// subpackage.
package urpm

import (
	"errors"
	"strings"
)

// Error is the urpm error domain type.
//
// Errors coming from urpm components should be able to be inspected as
// ([errors.As]) an *Error at some point in the error chain.
//
// Implementers of urpm components should create an Error at the system
// boundary (e.g. when using a database client or reading a file) and
// intermediate layers should not wrap in another Error except to add additional
// [ErrorKind] information. That is to say, use [fmt.Errorf] with a "%w" verb in
// preference to creating a containing Error.
type Error struct {
	Inner   error
	Kind    ErrorKind
	Message string
	Op      string
}

// Assert this implements all the cool features.
var (
	_ error                       = (*Error)(nil)
	_ interface{ Is(error) bool } = (*Error)(nil)
	_ interface{ Unwrap() error } = (*Error)(nil)
)

// Error implements error.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(" ")
	}
	b.WriteString("[")
	switch e.Kind {
	case ErrUser,
		ErrEnvironment,
		ErrMetadataCorrupt,
		ErrResolver,
		ErrTransaction,
		ErrInternal:
		b.WriteString(string(e.Kind))
	default:
		b.WriteString("???")
	}
	b.WriteString("]: ")
	if e.Message != "" {
		b.WriteString(e.Message)
	}
	if e.Message != "" && e.Inner != nil {
		b.WriteString(": ")
	}
	if e.Op == "" && e.Message == "" {
		b.Reset()
	}
	if e.Inner != nil {
		b.WriteString(e.Inner.Error())
	}
	return b.String()
}

// Is enables [errors.Is].
//
// It compares the error kind. Callers should compare against a declared
// [ErrorKind] over a specific error.
func (e *Error) Is(kind error) bool {
	return errors.Is(e.Kind, kind)
}

// Unwrap enables [errors.Unwrap].
func (e *Error) Unwrap() error {
	return e.Inner
}

// ErrorKind represents classes of errors to be checked against.
//
// The set follows the taxonomy a package-manager core needs: bad input from
// a caller, a failing environment, corrupt upstream metadata, a resolver
// that could not produce a transaction, a failed RPM handoff, and an
// internal invariant violation.
//
// If an error is unsure which kind to use, ErrInternal should be used.
type ErrorKind string

// Defined error kinds.
var (
	// ErrUser covers bad syntax, unknown package/media names, and
	// held-would-be-removed requests. Surfaced immediately with a non-zero
	// exit and no state change.
	ErrUser = ErrorKind("user")
	// ErrEnvironment covers network failure, mirror unavailability, disk
	// full, and permission denied. Retried within a policy window, then
	// surfaced; never leaves a partial catalog mutation.
	ErrEnvironment = ErrorKind("environment")
	// ErrMetadataCorrupt covers magic mismatch, truncated stream, and hash
	// mismatch while ingesting repository metadata. The affected media is
	// quarantined at its previous state.
	ErrMetadataCorrupt = ErrorKind("metadata-corrupt")
	// ErrResolver covers unsatisfiable, conflicting, and ambiguous-choice
	// outcomes from the dependency resolver. Returned as structured data,
	// never retried automatically.
	ErrResolver = ErrorKind("resolver")
	// ErrTransaction covers RPM handoff failure. The history entry is
	// marked failed; the RPM database is assumed consistent.
	ErrTransaction = ErrorKind("transaction")
	// ErrInternal covers programming invariant violations.
	ErrInternal = ErrorKind("internal")
)

// Error implements error.
func (e ErrorKind) Error() string {
	return string(e)
}
