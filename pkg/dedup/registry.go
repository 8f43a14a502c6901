// Package dedup merges concurrent identical operations into a single
// underlying execution keyed by a request fingerprint.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/aussiebroadwan/crudlink/pkg/idx"
)

const (
	// DefaultPendingTimeout is the age after which an in-flight entry is evicted.
	DefaultPendingTimeout = 30 * time.Second

	// DefaultSweepInterval is how often the background sweeper runs.
	DefaultSweepInterval = 60 * time.Second
)

var (
	// ErrCancelled settles an entry removed through Cancel or CancelAll, or
	// abandoned by every waiter.
	ErrCancelled = fmt.Errorf("dedup: operation cancelled: %w", context.Canceled)

	// ErrEvicted settles an entry removed by the sweeper.
	ErrEvicted = fmt.Errorf("dedup: operation evicted after pending timeout: %w", context.Canceled)
)

// Op is the underlying operation. It must honour ctx cancellation.
type Op func(ctx context.Context) (any, error)

// Config configures a Registry. Zero values take the defaults.
type Config struct {
	PendingTimeout time.Duration
	SweepInterval  time.Duration
	Logger         *slog.Logger
	Now            func() time.Time
}

// EntryStatus describes one in-flight entry.
type EntryStatus struct {
	ID          idx.ID        `json:"id"`
	Fingerprint string        `json:"fingerprint"`
	StartedAt   time.Time     `json:"startedAt"`
	Age         time.Duration `json:"age"`
	Waiters     int           `json:"waiters"`
}

type entry struct {
	id          idx.ID
	fingerprint string
	startedAt   time.Time
	ctx         context.Context
	cancel      context.CancelCauseFunc
	done        chan struct{}

	// guarded by Registry.mu
	waiters int
	settled bool
	val     any
	err     error
}

// Registry tracks in-flight operations by fingerprint. At most one operation
// runs per fingerprint at any instant; later callers with the same
// fingerprint wait for it and share its result.
type Registry struct {
	PendingTimeout time.Duration
	SweepInterval  time.Duration
	Logger         *slog.Logger

	now func() time.Time

	mu      sync.Mutex
	entries map[string]*entry

	// Internal channels for lifecycle management
	lifecycle sync.Mutex
	running   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// New creates a registry. Call Start to run the background sweeper.
func New(cfg Config) *Registry {
	if cfg.PendingTimeout <= 0 {
		cfg.PendingTimeout = DefaultPendingTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Registry{
		PendingTimeout: cfg.PendingTimeout,
		SweepInterval:  cfg.SweepInterval,
		Logger:         cfg.Logger,
		now:            cfg.Now,
		entries:        make(map[string]*entry),
	}
}

// Run executes op under fingerprint, or joins the operation already in
// flight for it. shared is true when the result came from an operation
// started by another caller.
//
// op runs detached from ctx: if ctx ends, this caller stops waiting and gets
// ctx's error, but the operation keeps going for the remaining waiters. Only
// when the last waiter leaves is the operation cancelled.
func (r *Registry) Run(ctx context.Context, fingerprint string, op Op) (value any, shared bool, err error) {
	r.mu.Lock()
	if e, ok := r.entries[fingerprint]; ok {
		e.waiters++
		r.mu.Unlock()

		value, err = r.wait(ctx, e)
		return value, true, err
	}

	opCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	startedAt := r.now()
	e := &entry{
		id:          idx.NewAt(startedAt),
		fingerprint: fingerprint,
		startedAt:   startedAt,
		ctx:         opCtx,
		cancel:      cancel,
		done:        make(chan struct{}),
		waiters:     1,
	}
	r.entries[fingerprint] = e
	r.mu.Unlock()

	go r.execute(e, op)

	value, err = r.wait(ctx, e)
	return value, false, err
}

// Do is the typed form of Run.
func Do[T any](ctx context.Context, r *Registry, fingerprint string, op func(ctx context.Context) (T, error)) (T, bool, error) {
	v, shared, err := r.Run(ctx, fingerprint, func(ctx context.Context) (any, error) {
		return op(ctx)
	})
	if err != nil {
		var zero T
		return zero, shared, err
	}

	t, _ := v.(T)
	return t, shared, nil
}

// Cancel signals cancellation to the operation under fingerprint and removes
// its entry. Waiters are released with ErrCancelled. Reports whether a live
// entry was found.
func (r *Registry) Cancel(fingerprint string) bool {
	r.mu.Lock()
	e, ok := r.entries[fingerprint]
	r.mu.Unlock()

	if !ok {
		return false
	}

	return r.abort(e, ErrCancelled)
}

// CancelAll cancels every live entry and clears the registry. Returns the
// number of entries cancelled.
func (r *Registry) CancelAll() int {
	var cancelled int
	for _, e := range r.live() {
		if r.abort(e, ErrCancelled) {
			cancelled++
		}
	}

	if cancelled > 0 {
		r.Logger.Info("cancelled all in-flight requests", "count", cancelled)
	}
	return cancelled
}

// Sweep force-cancels entries older than the pending timeout. Returns the
// number of entries evicted.
func (r *Registry) Sweep() int {
	now := r.now()

	var evicted int
	for _, e := range r.live() {
		age := now.Sub(e.startedAt)
		if age < r.PendingTimeout {
			continue
		}
		if r.abort(e, ErrEvicted) {
			evicted++
			r.Logger.Warn("evicted stale in-flight request",
				"fingerprint", e.fingerprint,
				"age", age,
			)
		}
	}

	return evicted
}

// Pending returns the number of live entries.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Snapshot describes the live entries, oldest first.
func (r *Registry) Snapshot() []EntryStatus {
	now := r.now()

	r.mu.Lock()
	out := make([]EntryStatus, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, EntryStatus{
			ID:          e.id,
			Fingerprint: e.fingerprint,
			StartedAt:   e.startedAt,
			Age:         now.Sub(e.startedAt),
			Waiters:     e.waiters,
		})
	}
	r.mu.Unlock()

	slices.SortFunc(out, func(a, b EntryStatus) int {
		return idx.Compare(a.ID, b.ID)
	})
	return out
}

// Start begins the background sweeper. Call Stop to shut it down. Starting
// a running sweeper does nothing.
func (r *Registry) Start() {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	if r.running {
		return
	}

	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	go r.run(r.stopCh, r.doneCh)

	r.Logger.Info("dedup sweeper started",
		"interval", r.SweepInterval,
		"pending_timeout", r.PendingTimeout,
	)
}

// Stop shuts down the background sweeper and blocks until it exits. It does
// nothing when the sweeper is not running. In-flight entries are left alone;
// use CancelAll for teardown.
func (r *Registry) Stop() {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	if !r.running {
		return
	}

	r.running = false
	close(r.stopCh)
	<-r.doneCh
	r.Logger.Info("dedup sweeper stopped")
}

func (r *Registry) run(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(r.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.Logger.Debug("dedup sweep completed", "evicted", n)
			}
		case <-stopCh:
			return
		}
	}
}

func (r *Registry) execute(e *entry, op Op) {
	var (
		val any
		err error
	)

	func() {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("dedup: operation panicked: %v", p)
			}
		}()
		val, err = op(e.ctx)
	}()

	r.settle(e, val, err)
	e.cancel(context.Canceled)
}

// wait blocks until e settles or ctx ends.
func (r *Registry) wait(ctx context.Context, e *entry) (any, error) {
	select {
	case <-e.done:
		return e.val, e.err
	case <-ctx.Done():
	}

	r.mu.Lock()
	e.waiters--
	orphaned := e.waiters == 0 && !e.settled
	r.mu.Unlock()

	if orphaned {
		r.abort(e, ErrCancelled)
	}

	return nil, ctx.Err()
}

// abort settles e with cause and cancels its operation.
func (r *Registry) abort(e *entry, cause error) bool {
	ok := r.settle(e, nil, cause)
	e.cancel(cause)
	return ok
}

// settle records the result once, removes the entry and then releases the
// waiters, so a waiter that immediately retries starts a fresh operation.
func (r *Registry) settle(e *entry, val any, err error) bool {
	r.mu.Lock()
	if e.settled {
		r.mu.Unlock()
		return false
	}
	e.settled = true
	e.val, e.err = val, err
	if r.entries[e.fingerprint] == e {
		delete(r.entries, e.fingerprint)
	}
	r.mu.Unlock()

	close(e.done)
	return true
}

func (r *Registry) live() []*entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

// IsCancelled reports whether err settled a cancelled or evicted entry.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, ErrEvicted)
}
