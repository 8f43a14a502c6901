package crudclient

import (
	"context"

	"github.com/aussiebroadwan/crudlink/pkg/failure"
	"github.com/aussiebroadwan/crudlink/pkg/slogx"
)

// Outcome is where a failure ended up. Every failed call has exactly one.
type Outcome string

const (
	// OutcomeSilent is logged only.
	OutcomeSilent Outcome = "silent"

	// OutcomeReported is logged and reported to the user.
	OutcomeReported Outcome = "reported"

	// OutcomeSessionInvalidated is logged, reported, and signs the user out.
	OutcomeSessionInvalidated Outcome = "session_invalidated"
)

// settle routes f to its single outcome.
func (c *Client) settle(ctx context.Context, f *failure.Failure, opts *RequestOptions, invalidate bool) Outcome {
	logger := slogx.FromContext(ctx).With(
		"kind", f.Kind,
		"status", f.StatusCode,
	)

	switch {
	case invalidate:
		logger.Error("session invalidated", "error", f.Message)
		c.report(ctx, f, opts)
		c.signOut(ctx, f)
		return OutcomeSessionInvalidated

	case f.Kind == failure.RequestCancelled:
		logger.Debug("request cancelled")
		return OutcomeSilent

	default:
		if f.Severity() == failure.SeverityError {
			logger.Error("request failed", "error", f.Message)
		} else {
			logger.Warn("request failed", "error", f.Message)
		}
		c.report(ctx, f, opts)
		return OutcomeReported
	}
}

// report hands f to the per-call handler, or the notifier when there is none.
func (c *Client) report(ctx context.Context, f *failure.Failure, opts *RequestOptions) {
	if h := opts.onError(); h != nil {
		h(ctx, f)
		return
	}

	if c.notifier != nil {
		c.notifier.Notify(ctx, c.messages.Render(f), f.Severity())
	}
}

// signOut clears credentials and fires every unauthorized hook.
func (c *Client) signOut(ctx context.Context, f *failure.Failure) {
	c.creds.Clear(ctx)

	c.mu.RLock()
	hooks := append([]UnauthorizedHook(nil), c.hooks...)
	c.mu.RUnlock()

	for _, hook := range hooks {
		hook(ctx, f)
	}
}
