package transaction

import (
	"context"
	"fmt"

	"github.com/urpm-project/urpm"
	"github.com/urpm-project/urpm/locksource"
	"github.com/urpm-project/urpm/resolver"
)

// rpmdbLockKey is the single named lock guarding the on-disk RPM database
// (spec.md §5: "the RPM database itself is a single-writer resource").
const rpmdbLockKey = "rpmdb"

// Engine drives one resolved transaction from artifact acquisition through
// RPM handoff and history recording (spec.md §4.4).
type Engine struct {
	Pool     *Pool
	Lookup   ArtifactLookup
	Executor Executor
	History  HistoryRecorder
	Lock     locksource.ContextLock
}

// NewEngine builds an Engine from its collaborators. lock may be
// [locksource.Local] for a single-process deployment.
func NewEngine(pool *Pool, lookup ArtifactLookup, exec Executor, history HistoryRecorder, lock locksource.ContextLock) *Engine {
	return &Engine{Pool: pool, Lookup: lookup, Executor: exec, History: history, Lock: lock}
}

// Run acquires every artifact tx needs, hands the assembled install/upgrade/
// erase set to the Executor, and records the outcome in history.
//
// The RPM handoff itself is not interruptible once started: ctx cancellation
// aborts acquisition (at the pool's next suspension point) but is only
// observed again once Execute returns, at which point the transaction is
// recorded failed (spec.md §5).
func (e *Engine) Run(ctx context.Context, tx *resolver.Transaction, progress ProgressFunc) error {
	lockCtx, cancel := e.Lock.Lock(ctx, rpmdbLockKey)
	defer cancel()

	id, err := e.History.Begin(lockCtx)
	if err != nil {
		return fmt.Errorf("transaction: beginning history entry: %w", err)
	}

	installed, upgraded, erased, err := e.run(lockCtx, tx, progress)
	ok := err == nil
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	if ferr := e.History.Finish(context.WithoutCancel(ctx), id, ok, installed, upgraded, erased, errMsg); ferr != nil {
		if err == nil {
			err = fmt.Errorf("transaction: recording history entry: %w", ferr)
		}
	}
	return err
}

func (e *Engine) run(ctx context.Context, tx *resolver.Transaction, progress ProgressFunc) (installed, upgraded, erased []string, err error) {
	arts, err := installArtifacts(ctx, e.Lookup, tx)
	if err != nil {
		return nil, nil, nil, &urpm.Error{Inner: err, Kind: urpm.ErrResolver, Op: "transaction.Engine.Run", Message: "resolving artifact sources"}
	}

	if _, err := e.Pool.FetchAll(ctx, arts); err != nil {
		return nil, nil, nil, &urpm.Error{Inner: err, Kind: urpm.ErrEnvironment, Op: "transaction.Engine.Run", Message: "acquiring package artifacts"}
	}

	install := nevraList(tx.ToInstall)
	upgrade := nevraList(tx.ToUpgrade)
	erase := nevraList(tx.ToErase)

	if err := e.Executor.Prepare(ctx, install, upgrade, erase); err != nil {
		return nil, nil, nil, &urpm.Error{Inner: err, Kind: urpm.ErrTransaction, Op: "transaction.Engine.Run", Message: "preparing RPM transaction"}
	}

	// The handoff itself ignores ctx cancellation: once started it runs to
	// completion, successful or not.
	execCtx := context.WithoutCancel(ctx)
	if err := e.Executor.Execute(execCtx, progress); err != nil {
		return nil, nil, nil, &urpm.Error{Inner: err, Kind: urpm.ErrTransaction, Op: "transaction.Engine.Run", Message: "executing RPM transaction"}
	}

	return stringNEVRAs(install), stringNEVRAs(upgrade), stringNEVRAs(erase), nil
}

func stringNEVRAs(ns []urpm.NEVRA) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = n.String()
	}
	return out
}
