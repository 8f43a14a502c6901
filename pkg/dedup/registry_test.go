package dedup_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/crudlink/pkg/dedup"
	"github.com/stretchr/testify/require"
)

// blockingOp returns an op that counts its invocations and blocks until
// release is closed or its context ends.
func blockingOp(calls *atomic.Int32, release <-chan struct{}, val string) dedup.Op {
	return func(ctx context.Context) (any, error) {
		calls.Add(1)
		select {
		case <-release:
			return val, nil
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		}
	}
}

func waitForPending(t *testing.T, r *dedup.Registry, fp string, waiters int) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, s := range r.Snapshot() {
			if s.Fingerprint == fp && s.Waiters >= waiters {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)
}

func TestRegistry_ConcurrentCallsShareOneExecution(t *testing.T) {
	t.Parallel()

	r := dedup.New(dedup.Config{})
	release := make(chan struct{})

	var calls atomic.Int32
	op := blockingOp(&calls, release, "todos")

	const n = 10
	var wg sync.WaitGroup
	results := make([]any, n)
	sharedCount := atomic.Int32{}

	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, shared, err := r.Run(context.Background(), "GET /todos", op)
			require.NoError(t, err)
			results[i] = v
			if shared {
				sharedCount.Add(1)
			}
		}()
	}

	waitForPending(t, r, "GET /todos", n)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), calls.Load(), "operation should run exactly once")
	require.Equal(t, int32(n-1), sharedCount.Load())
	for _, v := range results {
		require.Equal(t, "todos", v)
	}
	require.Zero(t, r.Pending(), "entry is removed on settlement")
}

func TestRegistry_FailureIsSharedAndEntryRemoved(t *testing.T) {
	t.Parallel()

	r := dedup.New(dedup.Config{})
	boom := errors.New("boom")
	release := make(chan struct{})

	var calls atomic.Int32
	op := func(ctx context.Context) (any, error) {
		calls.Add(1)
		<-release
		return nil, boom
	}

	errs := make(chan error, 2)
	for range 2 {
		go func() {
			_, _, err := r.Run(context.Background(), "GET /todos/1", op)
			errs <- err
		}()
	}

	waitForPending(t, r, "GET /todos/1", 2)
	close(release)

	require.ErrorIs(t, <-errs, boom)
	require.ErrorIs(t, <-errs, boom)
	require.Equal(t, int32(1), calls.Load())
	require.Zero(t, r.Pending())

	// A later call starts a fresh operation
	v, shared, err := r.Run(context.Background(), "GET /todos/1", func(ctx context.Context) (any, error) {
		return "fresh", nil
	})
	require.NoError(t, err)
	require.False(t, shared)
	require.Equal(t, "fresh", v)
}

func TestRegistry_DistinctFingerprintsRunIndependently(t *testing.T) {
	t.Parallel()

	r := dedup.New(dedup.Config{})

	a, _, err := dedup.Do(context.Background(), r, "GET /a", func(ctx context.Context) (string, error) { return "a", nil })
	require.NoError(t, err)
	b, _, err := dedup.Do(context.Background(), r, "GET /b", func(ctx context.Context) (string, error) { return "b", nil })
	require.NoError(t, err)

	require.Equal(t, "a", a)
	require.Equal(t, "b", b)
}

func TestRegistry_Cancel(t *testing.T) {
	t.Parallel()

	r := dedup.New(dedup.Config{})

	opCtxDone := make(chan error, 1)
	op := func(ctx context.Context) (any, error) {
		<-ctx.Done()
		opCtxDone <- context.Cause(ctx)
		return nil, ctx.Err()
	}

	errs := make(chan error, 1)
	go func() {
		_, _, err := r.Run(context.Background(), "GET /slow", op)
		errs <- err
	}()

	waitForPending(t, r, "GET /slow", 1)

	require.True(t, r.Cancel("GET /slow"))
	require.ErrorIs(t, <-errs, dedup.ErrCancelled)
	require.ErrorIs(t, <-opCtxDone, dedup.ErrCancelled)
	require.Zero(t, r.Pending())

	require.False(t, r.Cancel("GET /slow"), "second cancel finds nothing")
	require.False(t, r.Cancel("GET /never"))
}

func TestRegistry_CancelAll(t *testing.T) {
	t.Parallel()

	r := dedup.New(dedup.Config{})
	release := make(chan struct{})
	defer close(release)

	var calls atomic.Int32
	errs := make(chan error, 3)
	for _, fp := range []string{"GET /a", "GET /b", "GET /c"} {
		go func() {
			_, _, err := r.Run(context.Background(), fp, blockingOp(&calls, release, fp))
			errs <- err
		}()
		waitForPending(t, r, fp, 1)
	}

	require.Equal(t, 3, r.CancelAll())
	for range 3 {
		require.True(t, dedup.IsCancelled(<-errs))
	}
	require.Zero(t, r.Pending())
}

func TestRegistry_SweepEvictsStaleEntries(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	r := dedup.New(dedup.Config{PendingTimeout: 30 * time.Second, Now: clock})

	// An operation that never observes its cancellation signal
	stuck := make(chan struct{})
	defer close(stuck)
	cancelled := make(chan struct{})
	op := func(ctx context.Context) (any, error) {
		go func() {
			<-ctx.Done()
			close(cancelled)
		}()
		<-stuck
		return "late", nil
	}

	errs := make(chan error, 1)
	go func() {
		_, _, err := r.Run(context.Background(), "GET /stuck", op)
		errs <- err
	}()
	waitForPending(t, r, "GET /stuck", 1)

	advance(10 * time.Second)
	require.Zero(t, r.Sweep(), "young entries survive")
	require.Equal(t, 1, r.Pending())

	advance(25 * time.Second)
	require.Equal(t, 1, r.Sweep())
	require.Zero(t, r.Pending(), "swept entry is no longer pending")
	require.ErrorIs(t, <-errs, dedup.ErrEvicted)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("cancellation handle was not invoked")
	}
}

func TestRegistry_AbandonedByAllWaitersCancelsOperation(t *testing.T) {
	t.Parallel()

	r := dedup.New(dedup.Config{})

	opCancelled := make(chan struct{})
	op := func(ctx context.Context) (any, error) {
		<-ctx.Done()
		close(opCancelled)
		return nil, ctx.Err()
	}

	ctx1, cancel1 := context.WithCancel(context.Background())
	ctx2, cancel2 := context.WithCancel(context.Background())

	errs := make(chan error, 2)
	go func() {
		_, _, err := r.Run(ctx1, "GET /orphan", op)
		errs <- err
	}()
	waitForPending(t, r, "GET /orphan", 1)
	go func() {
		_, _, err := r.Run(ctx2, "GET /orphan", op)
		errs <- err
	}()
	waitForPending(t, r, "GET /orphan", 2)

	// One waiter leaving keeps the operation alive
	cancel1()
	require.ErrorIs(t, <-errs, context.Canceled)
	require.Equal(t, 1, r.Pending())

	cancel2()
	require.ErrorIs(t, <-errs, context.Canceled)

	select {
	case <-opCancelled:
	case <-time.After(time.Second):
		t.Fatal("orphaned operation was not cancelled")
	}
	require.Zero(t, r.Pending())
}

func TestRegistry_PanicBecomesError(t *testing.T) {
	t.Parallel()

	r := dedup.New(dedup.Config{})
	_, _, err := r.Run(context.Background(), "GET /panic", func(ctx context.Context) (any, error) {
		panic("kaboom")
	})
	require.ErrorContains(t, err, "kaboom")
	require.Zero(t, r.Pending())
}

func TestRegistry_StartStop(t *testing.T) {
	t.Parallel()

	r := dedup.New(dedup.Config{PendingTimeout: time.Millisecond, SweepInterval: 5 * time.Millisecond})
	r.Start()
	defer r.Stop()

	release := make(chan struct{})
	defer close(release)

	var calls atomic.Int32
	errs := make(chan error, 1)
	go func() {
		_, _, err := r.Run(context.Background(), "GET /bg", blockingOp(&calls, release, "x"))
		errs <- err
	}()

	select {
	case err := <-errs:
		require.ErrorIs(t, err, dedup.ErrEvicted)
	case <-time.After(2 * time.Second):
		t.Fatal("background sweeper did not evict the entry")
	}
}

func TestRegistry_StartStopAreIdempotent(t *testing.T) {
	t.Parallel()

	r := dedup.New(dedup.Config{SweepInterval: time.Millisecond})

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Stop()
		r.Start()
		r.Start()
		r.Stop()
		r.Stop()
		r.Start()
		r.Stop()
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("lifecycle calls blocked")
	}
}

func TestRegistry_SnapshotOldestFirst(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	r := dedup.New(dedup.Config{Now: func() time.Time { return at }})

	release := make(chan struct{})
	var calls atomic.Int32
	var wg sync.WaitGroup

	fps := []string{"GET /c", "GET /a", "GET /b"}
	for _, fp := range fps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = r.Run(context.Background(), fp, blockingOp(&calls, release, fp))
		}()
		waitForPending(t, r, fp, 1)
	}

	snap := r.Snapshot()
	require.Len(t, snap, len(fps))
	for i, s := range snap {
		require.Equal(t, fps[i], s.Fingerprint, "entries keep start order within one clock tick")
		require.True(t, at.Equal(s.ID.Time()))
		require.Zero(t, s.Age)
	}

	close(release)
	wg.Wait()
}
