package transaction

import (
	"context"
	"fmt"

	"github.com/urpm-project/urpm"
	"github.com/urpm-project/urpm/resolver"
)

// HistoryEntryView is the subset of a recorded history entry that undo and
// rollback need. Mirrors catalog.HistoryEntry.
type HistoryEntryView struct {
	ID        int64
	State     string
	Installed []string // NEVRA strings
	Upgraded  []string
	Erased    []string
}

// HistorySource reads recorded history entries, newest first. Implemented
// by catalog.HistoryAdapter.
type HistorySource interface {
	// Entries returns at most limit entries (limit <= 0 means unbounded).
	Entries(ctx context.Context, limit int) ([]HistoryEntryView, error)
	Entry(ctx context.Context, id int64) (HistoryEntryView, error)
}

// Resolver re-resolves a target install/erase set, used only by RollbackTo
// (spec.md §4.4: rollback-to "re-runs the resolver at each step to catch
// dependency drift", unlike undo/rollback-n which apply the recorded delta
// verbatim).
type Resolver func(ctx context.Context, install, erase []urpm.NEVRA) (*resolver.Transaction, error)

// History drives undo and rollback against recorded history entries.
//
// Undoing an upgrade removes the package rather than downgrading it to the
// build it replaced: the history schema, like the catalog it mirrors, keys
// on NEVRA and never records which build an upgrade replaced, so
// reconstructing a downgrade without a resolver re-run isn't possible.
// RollbackTo's resolver re-run is the path to restore an exact prior build.
type History struct {
	Source HistorySource
	Engine *Engine
}

// NewHistory builds a History driving engine from the entries source reads.
func NewHistory(source HistorySource, engine *Engine) *History {
	return &History{Source: source, Engine: engine}
}

// Undo builds the inverse of history entry id directly from its recorded
// NEVRA lists, with no resolver re-run, and runs it (spec.md §4.4).
func (h *History) Undo(ctx context.Context, id int64, progress ProgressFunc) error {
	entry, err := h.Source.Entry(ctx, id)
	if err != nil {
		return err
	}
	tx, err := inverseTransaction(entry)
	if err != nil {
		return err
	}
	return h.Engine.Run(ctx, tx, progress)
}

// RollbackN undoes the last n history entries, newest first, stopping at
// the first failure; whatever was successfully reverted up to that point
// is left in place (spec.md §4.4's undo semantics, applied n times).
func (h *History) RollbackN(ctx context.Context, n int, progress ProgressFunc) error {
	entries, err := h.Source.Entries(ctx, n)
	if err != nil {
		return err
	}
	for _, e := range entries {
		tx, err := inverseTransaction(e)
		if err != nil {
			return fmt.Errorf("transaction: rollback stopped at history entry %d: %w", e.ID, err)
		}
		if err := h.Engine.Run(ctx, tx, progress); err != nil {
			return fmt.Errorf("transaction: rollback stopped at history entry %d: %w", e.ID, err)
		}
	}
	return nil
}

// RollbackTo replays history entries newer than target, newest first,
// re-resolving at each step so dependency drift accumulated since target
// is caught rather than blindly replayed (spec.md §4.4).
func (h *History) RollbackTo(ctx context.Context, target int64, resolve Resolver, progress ProgressFunc) error {
	entries, err := h.Source.Entries(ctx, 0)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.ID <= target {
			break
		}
		install, erase, err := inverseNames(e)
		if err != nil {
			return fmt.Errorf("transaction: rollback-to stopped at history entry %d: %w", e.ID, err)
		}
		tx, err := resolve(ctx, install, erase)
		if err != nil {
			return fmt.Errorf("transaction: rollback-to stopped at history entry %d: %w", e.ID, err)
		}
		if err := h.Engine.Run(ctx, tx, progress); err != nil {
			return fmt.Errorf("transaction: rollback-to stopped at history entry %d: %w", e.ID, err)
		}
	}
	return nil
}

// inverseNames computes the install/erase NEVRA sets that reverse e: what
// e made present (installed and upgraded-to) becomes an erase, what e made
// absent (erased) becomes an install.
func inverseNames(e HistoryEntryView) (install, erase []urpm.NEVRA, err error) {
	for _, s := range e.Erased {
		n, perr := urpm.ParseNEVRA(s)
		if perr != nil {
			return nil, nil, fmt.Errorf("history entry %d: %w", e.ID, perr)
		}
		install = append(install, n)
	}
	for _, s := range append(append([]string{}, e.Installed...), e.Upgraded...) {
		n, perr := urpm.ParseNEVRA(s)
		if perr != nil {
			return nil, nil, fmt.Errorf("history entry %d: %w", e.ID, perr)
		}
		erase = append(erase, n)
	}
	return install, erase, nil
}

// inverseTransaction builds the bare resolver.Transaction describing e's
// inverse, without a resolver re-run: NEVRAs carry no provides/requires,
// which is fine, since Undo hands the result straight to the Engine rather
// than back through conflict/dependency checks.
func inverseTransaction(e HistoryEntryView) (*resolver.Transaction, error) {
	install, erase, err := inverseNames(e)
	if err != nil {
		return nil, err
	}
	tx := &resolver.Transaction{}
	for _, n := range install {
		tx.ToInstall = append(tx.ToInstall, resolver.Candidate{NEVRA: n})
	}
	for _, n := range erase {
		tx.ToErase = append(tx.ToErase, resolver.Candidate{NEVRA: n})
	}
	return tx, nil
}
