package locksource

import (
	"context"
	"testing"
	"time"
)

func TestFlockTryLockExcludesConcurrentHolder(t *testing.T) {
	l := NewFlock(t.TempDir())
	ctx := context.Background()

	c1, cancel1 := l.TryLock(ctx, "rpmdb")
	defer cancel1()
	if err := c1.Err(); err != nil {
		t.Fatalf("first TryLock: got canceled context (%v), want the lock held", err)
	}

	l2 := NewFlock(l.dir)
	c2, cancel2 := l2.TryLock(ctx, "rpmdb")
	defer cancel2()
	if c2.Err() == nil {
		t.Fatal("second TryLock over the same lock file succeeded; want it excluded by the first holder")
	}
}

func TestFlockUnlockReleasesForNextHolder(t *testing.T) {
	l := NewFlock(t.TempDir())
	ctx := context.Background()

	_, cancel1 := l.TryLock(ctx, "rpmdb")
	cancel1()

	l2 := NewFlock(l.dir)
	c2, cancel2 := l2.TryLock(ctx, "rpmdb")
	defer cancel2()
	if err := c2.Err(); err != nil {
		t.Fatalf("TryLock after release: got canceled context (%v), want the lock free", err)
	}
}

func TestFlockLockWaitsThenCancelsWithContext(t *testing.T) {
	l := NewFlock(t.TempDir())
	ctx := context.Background()

	_, cancel1 := l.TryLock(ctx, "rpmdb")
	defer cancel1()

	waitCtx, waitCancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer waitCancel()

	l2 := NewFlock(l.dir)
	c2, cancel2 := l2.Lock(waitCtx, "rpmdb")
	defer cancel2()
	select {
	case <-c2.Done():
	case <-time.After(time.Second):
		t.Fatal("Lock did not respect the parent context's deadline")
	}
}
