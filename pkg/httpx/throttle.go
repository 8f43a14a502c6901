package httpx

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ThrottleConfig defines the client-side rate limiting parameters.
type ThrottleConfig struct {
	// RequestsPerWindow is the number of requests allowed in the time window.
	// Zero disables throttling.
	RequestsPerWindow int
	// Window is the time window for rate limiting
	Window time.Duration
	// Burst allows for temporary bursts above the rate limit
	Burst int
}

// Enabled reports whether the config describes an active limit.
func (c ThrottleConfig) Enabled() bool {
	return c.RequestsPerWindow > 0 && c.Window > 0
}

// ParseThrottleFromEnv reads throttle configuration from environment variables.
// Environment variables follow the pattern: {prefix}_{field}
// For example: CRUDLINK_RATE_LIMIT_REQUESTS, CRUDLINK_RATE_LIMIT_WINDOW_SEC, CRUDLINK_RATE_LIMIT_BURST
func ParseThrottleFromEnv(prefix string, defaultConfig ThrottleConfig) ThrottleConfig {
	config := defaultConfig

	if val := os.Getenv(prefix + "_REQUESTS"); val != "" {
		if requests, err := strconv.Atoi(val); err == nil && requests > 0 {
			config.RequestsPerWindow = requests
		}
	}

	if val := os.Getenv(prefix + "_WINDOW_SEC"); val != "" {
		if windowSec, err := strconv.Atoi(val); err == nil && windowSec > 0 {
			config.Window = time.Duration(windowSec) * time.Second
		}
	}

	if val := os.Getenv(prefix + "_BURST"); val != "" {
		if burst, err := strconv.Atoi(val); err == nil && burst > 0 {
			config.Burst = burst
		}
	}

	return config
}

// RouteKey groups outbound calls by verb and path, ignoring the query string,
// so that paging through a collection shares one bucket.
func RouteKey(method, target string) string {
	if i := strings.IndexByte(target, '?'); i >= 0 {
		target = target[:i]
	}
	return strings.ToUpper(method) + " " + target
}

// Throttle keeps one token bucket per route key. A nil *Throttle allows
// everything.
type Throttle struct {
	config   ThrottleConfig
	limiters sync.Map // map[string]*rate.Limiter
	rate     rate.Limit
	burst    int

	mu          sync.Mutex
	lastCleanup time.Time
}

// NewThrottle returns a throttle for the config, or nil when the config is
// disabled.
func NewThrottle(config ThrottleConfig) *Throttle {
	if !config.Enabled() {
		return nil
	}

	burst := config.Burst
	if burst <= 0 {
		burst = config.RequestsPerWindow
	}

	return &Throttle{
		config:      config,
		rate:        rate.Limit(float64(config.RequestsPerWindow) / config.Window.Seconds()),
		burst:       burst,
		lastCleanup: time.Now(),
	}
}

// Allow consumes a token for key. When the bucket is empty it returns false
// together with the delay until the next token is available.
func (t *Throttle) Allow(key string) (time.Duration, bool) {
	if t == nil {
		return 0, true
	}

	limiter := t.getLimiter(key)
	if limiter.Allow() {
		return 0, true
	}

	// Peek at when the next token lands without consuming it
	reservation := limiter.Reserve()
	delay := reservation.Delay()
	reservation.Cancel()

	return delay, false
}

// Config returns the limits the throttle was built with.
func (t *Throttle) Config() ThrottleConfig {
	if t == nil {
		return ThrottleConfig{}
	}
	return t.config
}

func (t *Throttle) getLimiter(key string) *rate.Limiter {
	if limiter, ok := t.limiters.Load(key); ok {
		return limiter.(*rate.Limiter)
	}

	limiter := rate.NewLimiter(t.rate, t.burst)
	actual, _ := t.limiters.LoadOrStore(key, limiter)

	t.maybeCleanup()

	return actual.(*rate.Limiter)
}

// maybeCleanup drops buckets that have refilled completely, they belong to
// routes that have gone quiet.
func (t *Throttle) maybeCleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if time.Since(t.lastCleanup) < 5*time.Minute {
		return
	}
	t.lastCleanup = time.Now()

	t.limiters.Range(func(key, value any) bool {
		limiter := value.(*rate.Limiter)
		if limiter.Tokens() >= float64(t.burst) {
			t.limiters.Delete(key)
		}
		return true
	})
}
