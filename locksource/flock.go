//go:build !windows

package locksource

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

// Flock is a [ContextLock] backed by an advisory file lock
// (golang.org/x/sys/unix.Flock): the daemon (one per machine) and a
// transient urpm CLI invocation are separate OS processes sharing one RPM
// database (spec.md §5's "an exclusive lock guards the RPM database"), a
// guarantee [Local]'s in-process sync.Map cannot give them.
//
// The zero value is not ready for use; build one with [NewFlock].
type Flock struct {
	dir string

	mu    sync.Mutex
	files map[string]*os.File
}

// NewFlock builds a Flock whose lock files live under dir, created on
// first use.
func NewFlock(dir string) *Flock {
	return &Flock{dir: dir, files: make(map[string]*os.File)}
}

var _ ContextLock = (*Flock)(nil)

// Lock implements [ContextLock]: it blocks until key's file lock is
// acquired, ctx is canceled, or opening the lock file fails outright.
func (l *Flock) Lock(ctx context.Context, key string) (context.Context, context.CancelFunc) {
	f, err := l.open(key)
	if err != nil {
		return canceled(ctx)
	}

	done := make(chan error, 1)
	go func() { done <- unix.Flock(int(f.Fd()), unix.LOCK_EX) }()

	select {
	case err := <-done:
		if err != nil {
			return canceled(ctx)
		}
		c, cancel := context.WithCancel(ctx)
		return c, l.unlockFunc(f, cancel)
	case <-ctx.Done():
		return ctx, func() {}
	}
}

// TryLock implements [ContextLock]: it never blocks, returning an
// already-canceled Context when key's lock file is held by another
// process (or this one, via a different key handle).
func (l *Flock) TryLock(ctx context.Context, key string) (context.Context, context.CancelFunc) {
	f, err := l.open(key)
	if err != nil {
		return canceled(ctx)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return canceled(ctx)
	}
	c, cancel := context.WithCancel(ctx)
	return c, l.unlockFunc(f, cancel)
}

// open returns key's lock file, opening (and creating, as needed) it on
// first use and caching the handle for the Flock's lifetime.
func (l *Flock) open(key string) (*os.File, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if f, ok := l.files[key]; ok {
		return f, nil
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return nil, fmt.Errorf("locksource: creating lock dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(l.dir, key+".lock"), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("locksource: opening lock file %s: %w", key, err)
	}
	l.files[key] = f
	return f, nil
}

func (l *Flock) unlockFunc(f *os.File, next context.CancelFunc) context.CancelFunc {
	return func() {
		next()
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
	}
}

func canceled(ctx context.Context) (context.Context, context.CancelFunc) {
	c, cancel := context.WithCancel(ctx)
	cancel()
	return c, func() {}
}
