// Package crudclient is the single entry point for calls to the remote CRUD
// service. Every call goes through pre-flight credential renewal, the
// deduplication registry, and failure classification and recovery.
package crudclient

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/aussiebroadwan/crudlink/pkg/credstore"
	"github.com/aussiebroadwan/crudlink/pkg/dedup"
	"github.com/aussiebroadwan/crudlink/pkg/failure"
	"github.com/aussiebroadwan/crudlink/pkg/httpx"
	"github.com/aussiebroadwan/crudlink/pkg/slogx"
)

const (
	// DefaultTimeout is the transport ceiling for a single attempt.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries is the transient retry limit.
	DefaultMaxRetries = 2

	// DefaultRetryBaseDelay is the first backoff delay; it doubles per retry.
	DefaultRetryBaseDelay = 500 * time.Millisecond

	// DefaultRetryMaxDelay caps a single backoff delay.
	DefaultRetryMaxDelay = 10 * time.Second

	// maxBodyBytes bounds how much of a response body is read.
	maxBodyBytes = 10 << 20

	tracerName = "github.com/aussiebroadwan/crudlink/pkg/crudclient"
)

// RetryConfig configures transient retries. Zero values take the defaults;
// a negative MaxRetries disables transient retries.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Notifier is the user-facing notification sink.
type Notifier interface {
	Notify(ctx context.Context, message string, severity failure.Severity)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, message string, severity failure.Severity)

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, message string, severity failure.Severity) {
	f(ctx, message, severity)
}

// UnauthorizedHook is fired when the session is invalidated.
type UnauthorizedHook func(ctx context.Context, cause *failure.Failure)

// Config configures a Client.
type Config struct {
	// BaseURL of the remote service, e.g. "https://api.example.com"
	BaseURL string

	// Credentials is required
	Credentials *credstore.Store

	// Registry defaults to a fresh registry whose sweeper is not started
	Registry *dedup.Registry

	// HTTPClient defaults to a client with a logging transport
	HTTPClient *http.Client

	Timeout       time.Duration
	RefreshWindow time.Duration
	Retry         RetryConfig

	// Throttle rejects calls locally with RequestThrottled; nil disables it
	Throttle *httpx.Throttle

	Notifier       Notifier
	OnUnauthorized []UnauthorizedHook
	Messages       failure.Messages

	Logger         *slog.Logger
	Metrics        *Metrics
	TracerProvider trace.TracerProvider

	// Sleep waits between retries; defaults to a context-aware timer
	Sleep func(ctx context.Context, d time.Duration) error
}

// Client is safe for concurrent use. Construct one per process.
type Client struct {
	baseURL       string
	creds         *credstore.Store
	registry      *dedup.Registry
	httpClient    *http.Client
	timeout       time.Duration
	refreshWindow time.Duration
	retry         RetryConfig
	throttle      *httpx.Throttle
	notifier      Notifier
	messages      failure.Messages
	logger        *slog.Logger
	metrics       *Metrics
	tracer        trace.Tracer
	sleep         func(ctx context.Context, d time.Duration) error

	mu    sync.RWMutex
	hooks []UnauthorizedHook
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.Credentials == nil {
		return nil, fmt.Errorf("credentials store is required")
	}

	base := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}

	if cfg.Registry == nil {
		cfg.Registry = dedup.New(dedup.Config{Logger: cfg.Logger})
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Transport: &slogx.Transport{}}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RefreshWindow <= 0 {
		cfg.RefreshWindow = credstore.DefaultRefreshWindow
	}
	switch {
	case cfg.Retry.MaxRetries < 0:
		cfg.Retry.MaxRetries = 0
	case cfg.Retry.MaxRetries == 0:
		cfg.Retry.MaxRetries = DefaultMaxRetries
	}
	if cfg.Retry.BaseDelay <= 0 {
		cfg.Retry.BaseDelay = DefaultRetryBaseDelay
	}
	if cfg.Retry.MaxDelay <= 0 {
		cfg.Retry.MaxDelay = DefaultRetryMaxDelay
	}
	if cfg.Retry.MaxDelay < cfg.Retry.BaseDelay {
		cfg.Retry.MaxDelay = cfg.Retry.BaseDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}

	return &Client{
		baseURL:       base,
		creds:         cfg.Credentials,
		registry:      cfg.Registry,
		httpClient:    cfg.HTTPClient,
		timeout:       cfg.Timeout,
		refreshWindow: cfg.RefreshWindow,
		retry:         cfg.Retry,
		throttle:      cfg.Throttle,
		notifier:      cfg.Notifier,
		messages:      failure.DefaultMessages().With(cfg.Messages),
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		tracer:        cfg.TracerProvider.Tracer(tracerName),
		sleep:         cfg.Sleep,
		hooks:         append([]UnauthorizedHook(nil), cfg.OnUnauthorized...),
	}, nil
}

// OnUnauthorized registers a hook fired when the session is invalidated.
func (c *Client) OnUnauthorized(hook UnauthorizedHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, hook)
}

// Credentials returns the store the client authenticates with.
func (c *Client) Credentials() *credstore.Store {
	return c.creds
}

// Registry returns the deduplication registry.
func (c *Client) Registry() *dedup.Registry {
	return c.registry
}

// Status is a point-in-time view of the request layer.
type Status struct {
	Pending          int                 `json:"pending"`
	InFlight         []dedup.EntryStatus `json:"inFlight"`
	RenewalInFlight  bool                `json:"renewalInFlight"`
	RenewalStartedAt time.Time           `json:"renewalStartedAt,omitzero"`
	HasCredentials   bool                `json:"hasCredentials"`
	ExpiresAt        time.Time           `json:"expiresAt,omitzero"`
}

// Status reports in-flight requests and credential state.
func (c *Client) Status(ctx context.Context) Status {
	inFlight := c.registry.Snapshot()
	renewal := c.creds.RenewalStatus()
	pair := c.creds.Snapshot(ctx)

	c.metrics.setPending(len(inFlight))

	return Status{
		Pending:          len(inFlight),
		InFlight:         inFlight,
		RenewalInFlight:  renewal.InFlight,
		RenewalStartedAt: renewal.StartedAt,
		HasCredentials:   pair.AccessToken != "",
		ExpiresAt:        pair.ExpiresAt,
	}
}

// Close cancels every in-flight request.
func (c *Client) Close() {
	c.registry.CancelAll()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
