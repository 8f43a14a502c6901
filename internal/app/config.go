package app

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/crudlink/internal/kv"
	"github.com/aussiebroadwan/crudlink/pkg/credstore"
	"github.com/aussiebroadwan/crudlink/pkg/crudclient"
	"github.com/aussiebroadwan/crudlink/pkg/dedup"
	"github.com/aussiebroadwan/crudlink/pkg/httpx"
)

// EnvMasterKey holds sealing key material directly.
const EnvMasterKey = "CRUDLINK_MASTER_KEY"

type Config struct {
	BaseURL            string        // Remote CRUD service (default: http://localhost:3000)
	RenewPath          string        // Renewal endpoint path (default: /auth/refresh)
	RequestTimeout     time.Duration // Transport ceiling per attempt (default: 30s)
	CredentialLifetime time.Duration // Local credential lifetime (default: 55m)
	RefreshWindow      time.Duration // Pre-flight renewal window (default: 5m)
	MaxRetries         int           // Transient retry limit (default: 2)
	RetryBaseDelay     time.Duration // First backoff delay (default: 500ms)
	RetryMaxDelay      time.Duration // Backoff cap (default: 10s)
	PendingTimeout     time.Duration // In-flight eviction age (default: 30s)
	SweepInterval      time.Duration // Eviction sweep interval (default: 60s)
	Throttle           httpx.ThrottleConfig

	StorageDriver string // memory, sqlite, badger, redis (default: sqlite)
	DatabaseFile  string // SQLite file (default: crudlink.db)
	BadgerDir     string // Badger directory (default: crudlink-badger)
	RedisURL      string // Redis URL (default: redis://localhost:6379/0)
	MasterKey     string // Optional: sealing key material, wins over MasterKeyPath
	MasterKeyPath string // Sealing key file, generated on first use (default: crudlink.key)

	Env                 string        // Environment (dev, staging, prod) (default: dev)
	LogLevel            string        // Log level (debug, info, warn, error) (default: info)
	LogFormat           string        // Log format (json, text, pretty) (default: json)
	MetricsEnabled      bool          // Register Prometheus collectors (default: false)
	ShutdownGracePeriod time.Duration // Time allowed for in-flight calls on shutdown (default: 10s)

	// Set by the caller, not the environment
	LogOutput io.Writer
	Notifier  crudclient.Notifier
}

func LoadConfig() Config {
	return Config{
		BaseURL:            getEnvOrDefault("CRUDLINK_BASE_URL", "http://localhost:3000"),
		RenewPath:          getEnvOrDefault("CRUDLINK_RENEW_PATH", crudclient.DefaultRenewPath),
		RequestTimeout:     getEnvDurationOrDefault("CRUDLINK_REQUEST_TIMEOUT", crudclient.DefaultTimeout),
		CredentialLifetime: getEnvDurationOrDefault("CRUDLINK_CREDENTIAL_LIFETIME", credstore.DefaultLifetime),
		RefreshWindow:      getEnvDurationOrDefault("CRUDLINK_REFRESH_WINDOW", credstore.DefaultRefreshWindow),
		MaxRetries:         getEnvIntOrDefault("CRUDLINK_MAX_RETRIES", crudclient.DefaultMaxRetries),
		RetryBaseDelay:     getEnvDurationOrDefault("CRUDLINK_RETRY_BASE_DELAY", crudclient.DefaultRetryBaseDelay),
		RetryMaxDelay:      getEnvDurationOrDefault("CRUDLINK_RETRY_MAX_DELAY", crudclient.DefaultRetryMaxDelay),
		PendingTimeout:     getEnvDurationOrDefault("CRUDLINK_PENDING_TIMEOUT", dedup.DefaultPendingTimeout),
		SweepInterval:      getEnvDurationOrDefault("CRUDLINK_SWEEP_INTERVAL", dedup.DefaultSweepInterval),
		Throttle:           httpx.ParseThrottleFromEnv("CRUDLINK_RATE_LIMIT", httpx.ThrottleConfig{}),

		StorageDriver: getEnvOrDefault("CRUDLINK_STORAGE_DRIVER", kv.DriverSQLite),
		DatabaseFile:  getEnvOrDefault("CRUDLINK_DATABASE_FILE", "crudlink.db"),
		BadgerDir:     getEnvOrDefault("CRUDLINK_BADGER_DIR", "crudlink-badger"),
		RedisURL:      getEnvOrDefault("CRUDLINK_REDIS_URL", "redis://localhost:6379/0"),
		MasterKey:     os.Getenv(EnvMasterKey),
		MasterKeyPath: getEnvOrDefault("CRUDLINK_MASTER_KEY_PATH", "crudlink.key"),

		Env:                 getEnvOrDefault("ENV", "dev"),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:           getEnvOrDefault("LOG_FORMAT", "json"),
		MetricsEnabled:      getEnvBoolOrDefault("METRICS_ENABLED", false),
		ShutdownGracePeriod: getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
	}
}

// storage maps the driver selection onto a kv.Config.
func (c Config) storage() kv.Config {
	cfg := kv.Config{Driver: c.StorageDriver}
	switch strings.ToLower(c.StorageDriver) {
	case kv.DriverSQLite:
		cfg.Path = c.DatabaseFile
	case kv.DriverBadger:
		cfg.Path = c.BadgerDir
	case kv.DriverRedis:
		cfg.URL = c.RedisURL
	}
	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if boolValue, err := strconv.ParseBool(value); err == nil {
		return boolValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are seconds
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	return defaultValue
}
