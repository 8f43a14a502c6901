package failure

import "strings"

// Placeholder is replaced by the failure's own message when rendering.
const Placeholder = "{message}"

// Messages holds one human-readable template per kind.
type Messages map[Kind]string

// DefaultMessages returns the built-in templates.
func DefaultMessages() Messages {
	return Messages{
		NetworkError:        "Unable to reach the server. Check your connection and try again.",
		AuthenticationError: "Your session has expired. Please sign in again.",
		AuthorizationError:  "You do not have permission to do that.",
		ValidationError:     Placeholder,
		NotFoundError:       "The requested item could not be found.",
		ConflictError:       "This item was changed by someone else: " + Placeholder,
		ServerError:         "The server ran into a problem. Please try again later.",
		UnknownError:        "Something went wrong: " + Placeholder,
		NoRefreshCredential: "Your session has expired. Please sign in again.",
		RenewalFailed:       "Your session could not be renewed. Please sign in again.",
		RequestThrottled:    "Too many requests. Please wait a moment and try again.",
		RequestCancelled:    "The request was cancelled.",
	}
}

// With returns a copy of m with the given templates overriding existing ones.
func (m Messages) With(overrides Messages) Messages {
	out := make(Messages, len(m)+len(overrides))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// Render produces the user-facing text for f. Missing templates fall back to
// the built-in ones, and a template that renders empty falls back to the
// failure's own message.
func (m Messages) Render(f *Failure) string {
	if f == nil {
		return ""
	}

	tmpl, ok := m[f.Kind]
	if !ok {
		tmpl = DefaultMessages()[f.Kind]
	}

	text := strings.TrimSpace(strings.ReplaceAll(tmpl, Placeholder, f.Message))
	text = strings.TrimSuffix(text, ":")
	if text == "" {
		return f.Message
	}
	return text
}
