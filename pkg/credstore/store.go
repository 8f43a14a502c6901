// Package credstore owns the access/refresh credential pair: its durable
// storage, expiry bookkeeping and the single-flight renewal protocol.
package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/aussiebroadwan/crudlink/pkg/jwtx"
)

const (
	// StorageKey is the durable key the sealed credential blob lives under.
	StorageKey = "crudlink.credentials"

	// DefaultLifetime is the local validity window given to a new access
	// credential. It is deliberately shorter than the server-side lifetime.
	DefaultLifetime = 55 * time.Minute

	// DefaultRefreshWindow is the "expiring soon" horizon.
	DefaultRefreshWindow = 5 * time.Minute

	// DefaultRenewTimeout bounds a single renewal call.
	DefaultRenewTimeout = 30 * time.Second
)

// KV is the durable key-value primitive the store persists into.
// Get reports found=false for a missing key; Remove of a missing key is not
// an error.
type KV interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

// Codec is the opaque reversible transform applied to the blob at rest.
type Codec interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// Refresher exchanges a refresh credential for a new pair.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (Pair, error)
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context, refreshToken string) (Pair, error)

// Refresh implements Refresher.
func (f RefresherFunc) Refresh(ctx context.Context, refreshToken string) (Pair, error) {
	return f(ctx, refreshToken)
}

// Pair is the credential pair. ExpiresAt is the local expiry; a Refresher may
// set it to the server's expiry, which then caps the local one.
type Pair struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt,omitzero"`
}

// Config configures a Store. KV, Codec and Refresher may be nil: without KV
// the store is memory-only, without Codec the blob is stored as-is, and
// without Refresher every renewal fails.
type Config struct {
	KV           KV
	Codec        Codec
	Refresher    Refresher
	Lifetime     time.Duration
	RenewTimeout time.Duration
	Logger       *slog.Logger
	Now          func() time.Time
}

// Store holds one live credential pair per process.
type Store struct {
	kv           KV
	codec        Codec
	refresher    Refresher
	lifetime     time.Duration
	renewTimeout time.Duration
	logger       *slog.Logger
	now          func() time.Time

	loadGroup singleflight.Group
	persistMu sync.Mutex

	mu     sync.RWMutex
	loaded bool
	pair   Pair
	ticket *Ticket

	// generation changes on every Clear
	generation uint64
}

// New creates a Store. Nothing is read from storage until first access.
func New(cfg Config) *Store {
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = DefaultLifetime
	}
	if cfg.RenewTimeout <= 0 {
		cfg.RenewTimeout = DefaultRenewTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Store{
		kv:           cfg.KV,
		codec:        cfg.Codec,
		refresher:    cfg.Refresher,
		lifetime:     cfg.Lifetime,
		renewTimeout: cfg.RenewTimeout,
		logger:       cfg.Logger,
		now:          cfg.Now,
	}
}

// GetAccess returns the access credential, if any.
func (s *Store) GetAccess(ctx context.Context) (string, bool) {
	p := s.Snapshot(ctx)
	return p.AccessToken, p.AccessToken != ""
}

// GetRefresh returns the refresh credential, if any.
func (s *Store) GetRefresh(ctx context.Context) (string, bool) {
	p := s.Snapshot(ctx)
	return p.RefreshToken, p.RefreshToken != ""
}

// Snapshot returns a consistent copy of the current pair.
func (s *Store) Snapshot(ctx context.Context) Pair {
	s.ensureLoaded(ctx)

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair
}

// SetCredentials replaces the access credential, and the refresh credential
// when refresh is non-empty, then persists the pair. The expiry becomes
// now + lifetime, capped by the token's own exp claim when it is a JWT.
func (s *Store) SetCredentials(ctx context.Context, access, refresh string) {
	s.setPair(ctx, Pair{AccessToken: access, RefreshToken: refresh})
}

func (s *Store) setPair(ctx context.Context, in Pair) {
	s.ensureLoaded(ctx)

	s.mu.Lock()
	s.applyLocked(in)
	s.mu.Unlock()

	s.persist(ctx)
}

// setPairSince stores in only if the credentials have not been cleared
// since generation was observed.
func (s *Store) setPairSince(ctx context.Context, in Pair, generation uint64) bool {
	s.mu.Lock()
	if s.generation != generation {
		s.mu.Unlock()
		return false
	}
	s.applyLocked(in)
	s.mu.Unlock()

	s.persist(ctx)
	return true
}

func (s *Store) applyLocked(in Pair) {
	expiresAt := jwtx.CapExpiry(in.AccessToken, s.now().Add(s.lifetime))
	if !in.ExpiresAt.IsZero() && in.ExpiresAt.Before(expiresAt) {
		expiresAt = in.ExpiresAt
	}

	s.loaded = true
	s.pair.AccessToken = in.AccessToken
	if in.RefreshToken != "" {
		s.pair.RefreshToken = in.RefreshToken
	}
	s.pair.ExpiresAt = expiresAt.UTC()
}

// Clear erases both credentials and the expiry from memory and storage. A
// renewal in flight when Clear is called does not restore them.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	s.loaded = true
	s.pair = Pair{}
	s.generation++
	s.mu.Unlock()

	s.persist(ctx)
}

// ExpiresAt returns the recorded expiry, or the zero time.
func (s *Store) ExpiresAt(ctx context.Context) time.Time {
	return s.Snapshot(ctx).ExpiresAt
}

// IsExpired reports whether no expiry is recorded or it has passed.
func (s *Store) IsExpired(ctx context.Context) bool {
	exp := s.ExpiresAt(ctx)
	return exp.IsZero() || !s.now().Before(exp)
}

// IsExpiringSoon reports whether the credential expires within window.
// A non-positive window uses DefaultRefreshWindow.
func (s *Store) IsExpiringSoon(ctx context.Context, window time.Duration) bool {
	if window <= 0 {
		window = DefaultRefreshWindow
	}

	exp := s.ExpiresAt(ctx)
	return exp.IsZero() || !s.now().Add(window).Before(exp)
}

// ensureLoaded reads the pair from storage once. Concurrent first accesses
// share one read, which does not end with the first caller's ctx.
func (s *Store) ensureLoaded(ctx context.Context) {
	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()
	if loaded {
		return
	}

	_, _, _ = s.loadGroup.Do("load", func() (any, error) {
		s.mu.RLock()
		loaded := s.loaded
		s.mu.RUnlock()
		if loaded {
			return nil, nil
		}

		pair, err := s.read(context.WithoutCancel(ctx))
		if err != nil {
			s.logger.Warn("credential storage unavailable, continuing in memory", "error", err)
		}

		s.mu.Lock()
		// A write may have landed while we were reading
		if !s.loaded {
			s.loaded = true
			s.pair = pair
		}
		s.mu.Unlock()

		return nil, nil
	})
}

func (s *Store) read(ctx context.Context) (Pair, error) {
	if s.kv == nil {
		return Pair{}, nil
	}

	blob, found, err := s.kv.Get(ctx, StorageKey)
	if err != nil {
		return Pair{}, fmt.Errorf("failed to read credentials: %w", err)
	}
	if !found || len(blob) == 0 {
		return Pair{}, nil
	}

	if s.codec != nil {
		blob, err = s.codec.Open(blob)
		if err != nil {
			return Pair{}, fmt.Errorf("failed to open credentials: %w", err)
		}
	}

	var p Pair
	if err := json.Unmarshal(blob, &p); err != nil {
		return Pair{}, fmt.Errorf("failed to decode credentials: %w", err)
	}

	return p, nil
}

// persist writes the current pair, or removes it when empty. Writes are
// serialized and always store the latest in-memory state, so storage never
// ends up behind memory. Failures are logged and otherwise ignored.
func (s *Store) persist(ctx context.Context) {
	if s.kv == nil {
		return
	}

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.RLock()
	p := s.pair
	s.mu.RUnlock()

	if err := s.write(context.WithoutCancel(ctx), p); err != nil {
		s.logger.Warn("credential storage unavailable, continuing in memory", "error", err)
	}
}

func (s *Store) write(ctx context.Context, p Pair) error {
	if p.AccessToken == "" && p.RefreshToken == "" {
		if err := s.kv.Remove(ctx, StorageKey); err != nil {
			return fmt.Errorf("failed to remove credentials: %w", err)
		}
		return nil
	}

	blob, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}

	if s.codec != nil {
		blob, err = s.codec.Seal(blob)
		if err != nil {
			return fmt.Errorf("failed to seal credentials: %w", err)
		}
	}

	if err := s.kv.Set(ctx, StorageKey, blob); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	return nil
}

// ErrNoRefreshCredential is the cause of a renewal attempted without a
// refresh credential.
var ErrNoRefreshCredential = errors.New("credstore: no refresh credential")

// ErrNoRefresher is the cause of a renewal on a store built without a
// Refresher.
var ErrNoRefresher = errors.New("credstore: no refresher configured")

// ErrClearedDuringRenewal is the cause of a renewal whose result was
// discarded because the credentials were cleared while it was in flight.
var ErrClearedDuringRenewal = errors.New("credstore: credentials cleared during renewal")
