// Package kv opens the durable key-value storage behind the credential store.
package kv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aussiebroadwan/crudlink/internal/kv/drivers/badger"
	"github.com/aussiebroadwan/crudlink/internal/kv/drivers/memory"
	"github.com/aussiebroadwan/crudlink/internal/kv/drivers/redis"
	"github.com/aussiebroadwan/crudlink/internal/kv/drivers/sqlite"
	"github.com/aussiebroadwan/crudlink/pkg/credstore"
)

// Supported drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverBadger = "badger"
	DriverRedis  = "redis"
)

var ErrUnknownDriver = errors.New("kv: unknown driver")

// Store is durable key-value storage. Get reports a missing key with
// ok=false and a nil error.
type Store interface {
	credstore.KV

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases any underlying resources.
	Close() error
}

// Config selects and configures a driver.
type Config struct {
	// Driver is one of memory, sqlite, badger or redis. Empty means memory.
	Driver string

	// Path is the sqlite database file or the badger directory.
	Path string

	// URL is the redis connection URL, e.g. "redis://localhost:6379/0".
	URL string

	// Prefix namespaces keys on shared backends (redis).
	Prefix string

	Logger *slog.Logger
}

// Open opens the configured driver and verifies it is usable.
func Open(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var (
		s   Store
		err error
	)

	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverMemory:
		s = memory.New()

	case DriverSQLite:
		var db *sqlite.Store
		db, err = sqlite.NewStore(cfg.Path)
		if err == nil {
			if err = db.ApplyMigrations(); err != nil {
				_ = db.Close()
			}
		}
		s = db

	case DriverBadger:
		bcfg := badger.DefaultConfig()
		bcfg.Path = cfg.Path
		bcfg.Logger = cfg.Logger
		s, err = badger.Open(bcfg)

	case DriverRedis:
		s, err = redis.NewStore(ctx, redis.Config{URL: cfg.URL, Prefix: cfg.Prefix})

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", cfg.Driver, err)
	}

	if err := s.Ping(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("storage not reachable: %w", err)
	}

	cfg.Logger.Debug("credential storage opened", "driver", cfg.Driver)
	return s, nil
}

var (
	_ Store = (*memory.Store)(nil)
	_ Store = (*sqlite.Store)(nil)
	_ Store = (*badger.Store)(nil)
	_ Store = (*redis.Store)(nil)
)
