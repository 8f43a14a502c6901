// Package failure defines the structured failure taxonomy used by the request
// layer and the classifier that maps raw errors into it.
package failure

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ============================================================================
// Kinds
// ============================================================================

// Kind is one member of the failure taxonomy.
type Kind string

const (
	NetworkError        Kind = "NetworkError"
	AuthenticationError Kind = "AuthenticationError"
	AuthorizationError  Kind = "AuthorizationError"
	ValidationError     Kind = "ValidationError"
	NotFoundError       Kind = "NotFoundError"
	ConflictError       Kind = "ConflictError"
	ServerError         Kind = "ServerError"
	UnknownError        Kind = "UnknownError"
	NoRefreshCredential Kind = "NoRefreshCredential"
	RenewalFailed       Kind = "RenewalFailed"
	RequestThrottled    Kind = "RequestThrottled"
	RequestCancelled    Kind = "RequestCancelled"
)

// Kinds lists every member of the taxonomy in a stable order.
func Kinds() []Kind {
	return []Kind{
		NetworkError,
		AuthenticationError,
		AuthorizationError,
		ValidationError,
		NotFoundError,
		ConflictError,
		ServerError,
		UnknownError,
		NoRefreshCredential,
		RenewalFailed,
		RequestThrottled,
		RequestCancelled,
	}
}

// Transient reports whether failures of this kind may succeed on a later
// attempt without any change on the caller's side. Timeouts are classified
// as NetworkError and therefore transient too.
func (k Kind) Transient() bool {
	return k == NetworkError || k == ServerError
}

// Severity is the level at which a failure is shown to a user.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Severity returns the user-facing severity for the kind.
func (k Kind) Severity() Severity {
	switch k {
	case RequestCancelled:
		return SeverityInfo
	case ValidationError, NotFoundError, ConflictError, RequestThrottled:
		return SeverityWarning
	default:
		return SeverityError
	}
}

// ============================================================================
// Failure
// ============================================================================

// Failure is the normalized, taxonomy-tagged form of any error surfaced by the
// request layer. Values are built by the classifier and the constructors in
// this package and must not be mutated afterwards.
type Failure struct {
	// Kind is the taxonomy member
	Kind Kind

	// StatusCode is the HTTP status when a response was received, otherwise 0
	StatusCode int

	// Message is the canonical human-readable message
	Message string

	// Cause is the original error
	Cause error

	// Timeout is set when the failure was caused by a deadline
	Timeout bool

	// RetryAfter is the server- or throttle-suggested delay, if any
	RetryAfter time.Duration
}

// New creates a failure of the given kind.
func New(kind Kind, message string, cause error) *Failure {
	return &Failure{Kind: kind, Message: message, Cause: cause}
}

// Wrap reclassifies an error under a new kind, keeping it as the cause.
// When message is empty the cause's message is carried over.
func Wrap(kind Kind, message string, cause error) *Failure {
	f := &Failure{Kind: kind, Message: message, Cause: cause}

	var inner *Failure
	if errors.As(cause, &inner) {
		f.StatusCode = inner.StatusCode
		f.Timeout = inner.Timeout
		if f.Message == "" {
			f.Message = inner.Message
		}
	}
	if f.Message == "" && cause != nil {
		f.Message = cause.Error()
	}

	return f
}

// OfKind returns a matcher for errors.Is that compares by kind only.
//
//	if errors.Is(err, failure.OfKind(failure.NotFoundError)) { ... }
func OfKind(kind Kind) *Failure {
	return &Failure{Kind: kind}
}

// Error implements the error interface.
func (f *Failure) Error() string {
	switch {
	case f == nil:
		return string(UnknownError)
	case f.StatusCode != 0 && f.Message != "":
		return fmt.Sprintf("%s (HTTP %d): %s", f.Kind, f.StatusCode, f.Message)
	case f.Message != "":
		return fmt.Sprintf("%s: %s", f.Kind, f.Message)
	default:
		return string(f.Kind)
	}
}

// Unwrap returns the original error.
func (f *Failure) Unwrap() error {
	if f == nil {
		return nil
	}
	return f.Cause
}

// Is matches another *Failure by kind.
func (f *Failure) Is(target error) bool {
	t, ok := target.(*Failure)
	if !ok || f == nil || t == nil {
		return false
	}
	return f.Kind == t.Kind
}

// Retryable reports whether a transient retry may be attempted.
func (f *Failure) Retryable() bool {
	return f.Kind.Transient()
}

// Severity returns the user-facing severity for the failure.
func (f *Failure) Severity() Severity {
	return f.Kind.Severity()
}

// ============================================================================
// Raw failure shapes
// ============================================================================

// HTTPError is produced when a response was received with a non-2xx status.
type HTTPError struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e == nil {
		return "HTTP error"
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// TransportError is produced when no response was received at all.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e == nil || e.Err == nil {
		return "transport error"
	}
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

// Unwrap returns the underlying transport error.
func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ErrThrottled is matched by every ThrottledError.
var ErrThrottled = errors.New("request throttled")

// ThrottledError is produced when the client-side throttle rejects a call.
type ThrottledError struct {
	Route      string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *ThrottledError) Error() string {
	if e == nil {
		return ErrThrottled.Error()
	}
	return fmt.Sprintf("request throttled for %s, retry after %s", e.Route, e.RetryAfter)
}

// Is reports whether target is ErrThrottled.
func (e *ThrottledError) Is(target error) bool {
	return target == ErrThrottled
}
