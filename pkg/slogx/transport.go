package slogx

import (
	"net/http"
	"time"

	"github.com/aussiebroadwan/crudlink/pkg/idx"
)

// Transport is an http.RoundTripper that logs every outbound exchange with
// the request-scoped logger from the request context.
type Transport struct {
	// Base defaults to http.DefaultTransport
	Base http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(r *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	start := time.Now()

	// Forward the request ID, generating one if the caller has none
	reqID := r.Header.Get("X-Request-ID")
	if reqID == "" {
		reqID = RequestID(r.Context())
	}
	if reqID == "" {
		reqID = idx.New().String()
	}
	if r.Header.Get("X-Request-ID") == "" {
		r = r.Clone(r.Context())
		r.Header.Set("X-Request-ID", reqID)
	}

	logger := FromContext(r.Context()).With(
		"method", r.Method,
		"path", r.URL.Path,
	)
	if RequestID(r.Context()) == "" {
		logger = logger.With("req_id", reqID)
	}

	resp, err := base.RoundTrip(r)
	duration := time.Since(start).Milliseconds()

	if err != nil {
		logger.Debug("http_request_failed",
			"duration_ms", duration,
			"error", err,
		)
		return nil, err
	}

	logger.Debug("http_request",
		"status", resp.StatusCode,
		"duration_ms", duration,
	)
	return resp, nil
}

// ensure Transport satisfies the interface
var _ http.RoundTripper = (*Transport)(nil)
