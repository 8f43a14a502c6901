package failure

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/aussiebroadwan/crudlink/pkg/httpx"
)

// Classify maps any error into a Failure. It never panics: an unrecognized
// or unusable shape degrades to UnknownError with the original message
// preserved. A nil error classifies to nil.
func Classify(err error) (classified *Failure) {
	if err == nil {
		return nil
	}

	// Error methods of foreign types may panic on a typed-nil receiver
	defer func() {
		if recover() != nil {
			classified = &Failure{Kind: UnknownError, Message: fmt.Sprintf("%T", err), Cause: err}
		}
	}()

	var f *Failure
	if errors.As(err, &f) && f != nil {
		return f
	}

	var throttled *ThrottledError
	if errors.As(err, &throttled) && throttled != nil {
		return &Failure{
			Kind:       RequestThrottled,
			Message:    "too many requests, slow down",
			Cause:      err,
			RetryAfter: throttled.RetryAfter,
		}
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr != nil {
		f := FromStatus(httpErr.StatusCode, httpErr.Body, httpErr.Header)
		f.Cause = err
		return f
	}

	// Context errors come before net.Error because *url.Error wraps them
	if errors.Is(err, context.Canceled) {
		return &Failure{Kind: RequestCancelled, Message: "request cancelled", Cause: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Failure{Kind: NetworkError, Message: "request timed out", Cause: err, Timeout: true}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr != nil {
		return &Failure{
			Kind:    NetworkError,
			Message: netErr.Error(),
			Cause:   err,
			Timeout: netErr.Timeout(),
		}
	}

	var transportErr *TransportError
	if errors.As(err, &transportErr) && transportErr != nil {
		msg := "connection failed"
		if transportErr.Err != nil {
			msg = transportErr.Err.Error()
		}
		return &Failure{Kind: NetworkError, Message: msg, Cause: err}
	}

	return &Failure{Kind: UnknownError, Message: err.Error(), Cause: err}
}


// FromStatus classifies an HTTP response. The message is taken from the JSON
// error body when present, otherwise from the status text.
func FromStatus(status int, body []byte, header http.Header) *Failure {
	f := &Failure{
		Kind:       KindForStatus(status),
		StatusCode: status,
		Message:    httpx.ErrorMessage(body),
	}

	if f.Message == "" {
		f.Message = http.StatusText(status)
	}
	if f.Message == "" {
		f.Message = fmt.Sprintf("unexpected status %d", status)
	}

	if header != nil {
		f.RetryAfter = httpx.ParseRetryAfter(header.Get("Retry-After"))
	}

	return f
}

// KindForStatus maps an HTTP status code to a kind.
func KindForStatus(status int) Kind {
	switch status {
	case http.StatusUnauthorized:
		return AuthenticationError
	case http.StatusForbidden:
		return AuthorizationError
	case http.StatusNotFound:
		return NotFoundError
	case http.StatusConflict:
		return ConflictError
	case http.StatusUnprocessableEntity:
		return ValidationError
	case http.StatusInternalServerError:
		return ServerError
	}

	switch {
	case status >= 400 && status < 500:
		return ValidationError
	case status >= 500 && status < 600:
		return ServerError
	default:
		return UnknownError
	}
}
