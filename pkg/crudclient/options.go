package crudclient

import (
	"context"
	"net/http"

	"github.com/aussiebroadwan/crudlink/pkg/failure"
)

// RequestOptions tune a single call. A nil *RequestOptions uses the defaults.
type RequestOptions struct {
	// Deduplicate overrides the per-method default: GET, HEAD and OPTIONS
	// are deduplicated, every other method is not.
	Deduplicate *bool

	// FingerprintOverride replaces the derived fingerprint, letting distinct
	// calls share one execution on purpose.
	FingerprintOverride string

	// Retry set to false disables transient retries. Credential renewal on a
	// first 401 still happens.
	Retry *bool

	// OnError replaces the notifier for this call's reported failures.
	OnError func(ctx context.Context, f *failure.Failure)

	// Header is added to the outbound request.
	Header http.Header
}

// Bool returns a pointer to b, for the optional fields of RequestOptions.
func Bool(b bool) *bool {
	return &b
}

func (o *RequestOptions) deduplicate(method string) bool {
	if o != nil && o.Deduplicate != nil {
		return *o.Deduplicate
	}

	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

func (o *RequestOptions) retry() bool {
	if o != nil && o.Retry != nil {
		return *o.Retry
	}
	return true
}

func (o *RequestOptions) fingerprint() string {
	if o == nil {
		return ""
	}
	return o.FingerprintOverride
}

func (o *RequestOptions) header() http.Header {
	if o == nil {
		return nil
	}
	return o.Header
}

func (o *RequestOptions) onError() func(ctx context.Context, f *failure.Failure) {
	if o == nil {
		return nil
	}
	return o.OnError
}
