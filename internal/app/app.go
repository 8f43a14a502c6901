package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/aussiebroadwan/crudlink/internal/kv"
	"github.com/aussiebroadwan/crudlink/pkg/credstore"
	"github.com/aussiebroadwan/crudlink/pkg/crudclient"
	"github.com/aussiebroadwan/crudlink/pkg/cryptox"
	"github.com/aussiebroadwan/crudlink/pkg/dedup"
	"github.com/aussiebroadwan/crudlink/pkg/failure"
	"github.com/aussiebroadwan/crudlink/pkg/httpx"
	"github.com/aussiebroadwan/crudlink/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application wires the request layer: storage, credential store,
// deduplication registry and client.
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db     kv.Store
	sealer *cryptox.Sealer

	creds    *credstore.Store
	registry *dedup.Registry
	client   *crudclient.Client

	metrics *prometheus.Registry
}

// New creates a new Application with all dependencies initialized.
func New(ctx context.Context, cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "crudlink",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
			Output:  cfg.LogOutput,
		}),
	}

	if err := app.initStorage(ctx); err != nil {
		return nil, err
	}

	if err := app.initClient(); err != nil {
		_ = app.db.Close()
		return nil, err
	}

	return app, nil
}

// initStorage opens the key-value store and the sealer protecting it.
func (app *Application) initStorage(ctx context.Context) error {
	sealer, err := app.loadSealer()
	if err != nil {
		return fmt.Errorf("failed to initialize credential sealing: %w", err)
	}
	if sealer.Ephemeral {
		app.logger.Warn("using an ephemeral sealing key, stored credentials will not survive a restart")
	}
	app.sealer = sealer

	storage := app.cfg.storage()
	storage.Logger = app.logger

	db, err := kv.Open(ctx, storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	app.db = db

	app.logger.Debug("credential storage ready", "driver", app.cfg.StorageDriver)
	return nil
}

func (app *Application) loadSealer() (*cryptox.Sealer, error) {
	if app.cfg.MasterKey != "" {
		return cryptox.NewSealer([]byte(app.cfg.MasterKey))
	}

	if app.cfg.MasterKeyPath != "" {
		material, err := cryptox.LoadOrGenerateKeyFile(app.cfg.MasterKeyPath)
		if err != nil {
			return nil, err
		}
		return cryptox.NewSealer(material)
	}

	return cryptox.LoadSealer("", "")
}

// initClient builds the credential store, registry and client.
func (app *Application) initClient() error {
	httpClient := &http.Client{Transport: &slogx.Transport{}}

	app.creds = credstore.New(credstore.Config{
		KV:           app.db,
		Codec:        app.sealer,
		Refresher:    crudclient.NewRenewalEndpoint(app.cfg.BaseURL, app.cfg.RenewPath, httpClient),
		Lifetime:     app.cfg.CredentialLifetime,
		RenewTimeout: app.cfg.RequestTimeout,
		Logger:       app.logger,
	})

	app.registry = dedup.New(dedup.Config{
		PendingTimeout: app.cfg.PendingTimeout,
		SweepInterval:  app.cfg.SweepInterval,
		Logger:         app.logger,
	})

	var metrics *crudclient.Metrics
	if app.cfg.MetricsEnabled {
		app.metrics = prometheus.NewRegistry()
		metrics = crudclient.NewMetrics(app.metrics)
	}

	// LoadConfig fills in the default, so an explicit zero means no retries
	maxRetries := app.cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = -1
	}

	var throttle *httpx.Throttle
	if app.cfg.Throttle.Enabled() {
		throttle = httpx.NewThrottle(app.cfg.Throttle)
	}

	client, err := crudclient.New(crudclient.Config{
		BaseURL:       app.cfg.BaseURL,
		Credentials:   app.creds,
		Registry:      app.registry,
		HTTPClient:    httpClient,
		Timeout:       app.cfg.RequestTimeout,
		RefreshWindow: app.cfg.RefreshWindow,
		Retry: crudclient.RetryConfig{
			MaxRetries: maxRetries,
			BaseDelay:  app.cfg.RetryBaseDelay,
			MaxDelay:   app.cfg.RetryMaxDelay,
		},
		Throttle: throttle,
		Notifier: app.cfg.Notifier,
		OnUnauthorized: []crudclient.UnauthorizedHook{
			func(ctx context.Context, f *failure.Failure) {
				slogx.FromContext(ctx).Warn("signed out, credentials cleared", "kind", f.Kind)
			},
		},
		Logger:  app.logger,
		Metrics: metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize client: %w", err)
	}
	app.client = client

	return nil
}

// Client returns the request layer entry point.
func (app *Application) Client() *crudclient.Client {
	return app.client
}

// Logger returns the application logger.
func (app *Application) Logger() *slog.Logger {
	return app.logger
}

// Gatherer returns the metrics registry, or nil when metrics are disabled.
func (app *Application) Gatherer() prometheus.Gatherer {
	if app.metrics == nil {
		return nil
	}
	return app.metrics
}

// WriteMetrics writes every gathered metric family to w in the Prometheus
// text exposition format. It writes nothing when metrics are disabled.
func (app *Application) WriteMetrics(w io.Writer) error {
	if app.metrics == nil {
		return nil
	}

	families, err := app.metrics.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
	}

	return nil
}

// Run starts background work, runs fn, and shuts down when fn returns or an
// interrupt arrives.
func (app *Application) Run(ctx context.Context, fn func(ctx context.Context, client *crudclient.Client) error) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app.registry.Start()

	runErr := fn(ctx, app.client)
	if errors.Is(ctx.Err(), context.Canceled) {
		app.logger.Info("shutdown signal received")
	}

	if err := app.Shutdown(); err != nil {
		return errors.Join(runErr, fmt.Errorf("graceful shutdown failed: %w", err))
	}

	return runErr
}

// Shutdown waits up to the grace period for in-flight calls, cancels the
// rest, stops the sweeper and closes storage.
func (app *Application) Shutdown() error {
	app.logger.Debug("shutting down request layer")

	app.drain(app.cfg.ShutdownGracePeriod)
	if n := app.registry.CancelAll(); n > 0 {
		app.logger.Info("cancelled in-flight requests", "count", n)
	}
	app.registry.Stop()

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing storage", "error", err)
		return err
	}

	return nil
}

func (app *Application) drain(grace time.Duration) {
	if grace <= 0 || app.registry.Pending() == 0 {
		return
	}

	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for app.registry.Pending() > 0 {
		select {
		case <-deadline.C:
			return
		case <-ticker.C:
		}
	}
}
