package crudclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aussiebroadwan/crudlink/pkg/cryptox"
	"github.com/aussiebroadwan/crudlink/pkg/dedup"
	"github.com/aussiebroadwan/crudlink/pkg/failure"
	"github.com/aussiebroadwan/crudlink/pkg/httpx"
	"github.com/aussiebroadwan/crudlink/pkg/idx"
	"github.com/aussiebroadwan/crudlink/pkg/slogx"
)

// Response is a successful (2xx) response. Deduplicated callers share the
// same value, so treat it as read-only.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the JSON body into v. An empty body leaves v untouched.
func (r *Response) Decode(v any) error {
	if r == nil || len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Request performs one logical call. On failure the returned error is always
// a *failure.Failure that has already been logged and, unless it was a
// cancellation, reported.
//
// path is resolved against the base URL; a missing leading slash is added
// and absolute URLs are rejected.
func (c *Client) Request(ctx context.Context, method, path string, body any, opts *RequestOptions) (*Response, error) {
	return c.request(ctx, method, path, body, opts, nil)
}

// request runs a call and, when decode is set, decodes a successful response
// as part of it, so a decode failure is settled like any other failure.
func (c *Client) request(ctx context.Context, method, path string, body any, opts *RequestOptions, decode func(*Response) error) (*Response, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	path, pathErr := normalizePath(path)

	ctx = slogx.WithRequestID(ctx, idx.New().String())
	ctx, span := c.tracer.Start(ctx, "crudlink.request", trace.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", path),
	))
	defer span.End()

	start := time.Now()

	var (
		resp        *Response
		f           *failure.Failure
		invalidated bool
		attempts    int
	)

	payload, err := encodeBody(body)
	switch {
	case pathErr != nil:
		f = failure.New(failure.UnknownError, "invalid request path", pathErr)
	case err != nil:
		f = failure.New(failure.UnknownError, "failed to encode request body", err)
	default:
		resp, f, invalidated, attempts = c.execute(ctx, method, path, payload, opts)
	}

	if f == nil && decode != nil {
		if err := decode(resp); err != nil {
			f = failure.New(failure.UnknownError, "unexpected response from server", err)
		}
	}

	span.SetAttributes(attribute.Int("crudlink.attempts", attempts))
	c.metrics.observeDuration(method, time.Since(start))
	c.metrics.setPending(c.registry.Pending())

	if f == nil {
		c.metrics.observeRequest(method, "success")
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
		return resp, nil
	}

	outcome := c.settle(ctx, f, opts, invalidated)
	c.metrics.observeRequest(method, string(outcome))
	c.metrics.observeFailure(f.Kind, outcome)

	span.SetAttributes(
		attribute.String("crudlink.outcome", string(outcome)),
		attribute.String("crudlink.failure_kind", string(f.Kind)),
	)
	if f.StatusCode != 0 {
		span.SetAttributes(attribute.Int("http.status_code", f.StatusCode))
	}
	span.SetStatus(codes.Error, f.Message)

	return nil, f
}

// execute runs the recovery state machine for one call. It returns the
// response or the final failure, whether the session must be invalidated,
// and how many attempts were made.
func (c *Client) execute(ctx context.Context, method, path string, payload []byte, opts *RequestOptions) (*Response, *failure.Failure, bool, int) {
	logger := slogx.FromContext(ctx)

	stale := c.preflight(ctx)

	b := c.newBackOff()
	var (
		attempts  int
		retries   int
		renewed   bool
		lastDelay time.Duration
	)

	for {
		attempts++
		c.metrics.observeAttempt(method)

		resp, err := c.dispatch(ctx, method, path, payload, stale, opts)
		if err == nil {
			return resp, nil, false, attempts
		}

		f := failure.Classify(err)

		switch {
		case f.Kind == failure.AuthenticationError && !renewed:
			renewed = true
			logger.Debug("request unauthorized, renewing credentials")

			if _, rerr := c.renew(ctx, "unauthorized"); rerr != nil {
				rf := failure.Classify(rerr)
				if rf.Kind == failure.RequestCancelled && ctx.Err() != nil {
					return nil, rf, false, attempts
				}
				return nil, &failure.Failure{
					Kind:       failure.AuthenticationError,
					StatusCode: f.StatusCode,
					Message:    f.Message,
					Cause:      errors.Join(f, rf),
				}, true, attempts
			}

			c.metrics.observeRetry("unauthorized")
			stale = ""

		case f.Kind == failure.AuthenticationError:
			// The renewed credential was rejected too
			return nil, f, true, attempts

		case f.Retryable() && opts.retry() && retries < c.retry.MaxRetries:
			delay := max(b.NextBackOff(), min(f.RetryAfter, c.retry.MaxDelay), lastDelay)
			lastDelay = delay
			retries++

			c.metrics.observeRetry("transient")
			logger.Debug("transient failure, retrying",
				"kind", f.Kind,
				"retry", retries,
				"delay", delay,
			)

			if err := c.sleep(ctx, delay); err != nil {
				return nil, failure.Classify(err), false, attempts
			}

		default:
			return nil, f, false, attempts
		}
	}
}

// preflight renews credentials that are about to expire. When the renewal
// fails the call goes ahead with the credential held before renewing, which
// is returned.
func (c *Client) preflight(ctx context.Context) string {
	pair := c.creds.Snapshot(ctx)
	if pair.RefreshToken == "" || !c.creds.IsExpiringSoon(ctx, c.refreshWindow) {
		return ""
	}

	if _, err := c.renew(ctx, "preflight"); err != nil {
		slogx.FromContext(ctx).Warn("pre-flight credential renewal failed, using current credential",
			"error", err,
		)
		return pair.AccessToken
	}

	return ""
}

func (c *Client) renew(ctx context.Context, trigger string) (string, error) {
	token, err := c.creds.Renew(ctx)
	if err != nil {
		c.metrics.observeRenewal(trigger, "failure")
		return "", err
	}

	c.metrics.observeRenewal(trigger, "success")
	return token, nil
}

// dispatch sends one attempt, through the registry when the call is
// deduplicated. fallback is used when the store holds no access credential.
// The registry key includes a digest of the credential sent.
func (c *Client) dispatch(ctx context.Context, method, path string, payload []byte, fallback string, opts *RequestOptions) (*Response, error) {
	token, ok := c.creds.GetAccess(ctx)
	if !ok {
		token = fallback
	}

	if !opts.deduplicate(method) {
		return c.send(ctx, method, path, payload, token, opts.header())
	}

	fp := opts.fingerprint()
	if fp == "" {
		fp = dedup.Fingerprint(method, path, payload)
	}
	// Callers holding different credentials never share a response
	if token != "" {
		fp += " @" + cryptox.Digest([]byte(token))[:16]
	}

	resp, shared, err := dedup.Do(ctx, c.registry, fp, func(ctx context.Context) (*Response, error) {
		return c.send(ctx, method, path, payload, token, opts.header())
	})
	if shared {
		c.metrics.observeShared(method)
	}

	return resp, err
}

// send performs the network exchange under the transport timeout.
func (c *Client) send(ctx context.Context, method, path string, payload []byte, token string, header http.Header) (*Response, error) {
	if delay, ok := c.throttle.Allow(httpx.RouteKey(method, path)); !ok {
		return nil, &failure.ThrottledError{Route: httpx.RouteKey(method, path), RetryAfter: delay}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reqBody io.Reader
	if len(payload) > 0 {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if id := slogx.RequestID(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &failure.TransportError{Method: method, URL: path, Err: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		return nil, &failure.TransportError{Method: method, URL: path, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, &failure.HTTPError{
			StatusCode: httpResp.StatusCode,
			Body:       respBody,
			Header:     httpResp.Header,
		}
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       respBody,
	}, nil
}

func (c *Client) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retry.BaseDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = c.retry.MaxDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func normalizePath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if strings.Contains(path, "://") {
		return "", fmt.Errorf("path %q must be relative to the base URL", path)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path, nil
}

func encodeBody(body any) ([]byte, error) {
	switch v := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	default:
		return json.Marshal(v)
	}
}
