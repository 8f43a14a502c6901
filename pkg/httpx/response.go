package httpx

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// errorBody covers the error shapes the remote service produces. Both fields
// are kept raw because either may be a string, an array or an object.
type errorBody struct {
	Message          json.RawMessage `json:"message"`
	Error            json.RawMessage `json:"error"`
	ErrorDescription string          `json:"error_description"`
}

// ErrorMessage extracts the canonical message from a JSON error body.
//
// The "message" field wins and may be a single string or an array of strings,
// in which case the first element is used. OAuth2-style "error_description"
// and "error" fields are consulted next. Returns "" when nothing usable is
// present or the body is not JSON.
func ErrorMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return ""
	}

	if msg := rawText(eb.Message); msg != "" {
		return msg
	}
	if msg := strings.TrimSpace(eb.ErrorDescription); msg != "" {
		return msg
	}
	return rawText(eb.Error)
}

// rawText decodes a string or the first element of a string array.
func rawText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return strings.TrimSpace(single)
	}

	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		for _, m := range many {
			if m = strings.TrimSpace(m); m != "" {
				return m
			}
		}
	}

	return ""
}

// ParseRetryAfter parses a Retry-After header in either delay-seconds or
// HTTP-date form. Values are capped at one hour; anything unparsable is 0.
func ParseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds <= 0 {
			return 0
		}
		return min(time.Duration(seconds)*time.Second, time.Hour)
	}

	if t, err := http.ParseTime(value); err == nil {
		if delay := time.Until(t); delay > 0 {
			return min(delay, time.Hour)
		}
	}

	return 0
}
