package crudclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aussiebroadwan/crudlink/pkg/credstore"
	"github.com/aussiebroadwan/crudlink/pkg/failure"
	"github.com/aussiebroadwan/crudlink/pkg/slogx"
)

// DefaultRenewPath is the renewal endpoint on the remote service.
const DefaultRenewPath = "/auth/refresh"

// RenewalEndpoint exchanges a refresh credential at the remote service. It
// implements credstore.Refresher.
type RenewalEndpoint struct {
	BaseURL    string
	Path       string
	HTTPClient *http.Client
	Now        func() time.Time
}

// NewRenewalEndpoint creates a renewal endpoint. An empty path uses
// DefaultRenewPath.
func NewRenewalEndpoint(baseURL, path string, httpClient *http.Client) *RenewalEndpoint {
	if path == "" {
		path = DefaultRenewPath
	}
	if httpClient == nil {
		httpClient = &http.Client{Transport: &slogx.Transport{}}
	}

	return &RenewalEndpoint{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		Path:       path,
		HTTPClient: httpClient,
		Now:        time.Now,
	}
}

// renewalResponse accepts both camelCase and OAuth2 snake_case field names.
type renewalResponse struct {
	AccessToken       string `json:"accessToken"`
	RefreshToken      string `json:"refreshToken"`
	ExpiresIn         int    `json:"expiresIn"`
	AccessTokenSnake  string `json:"access_token"`
	RefreshTokenSnake string `json:"refresh_token"`
	ExpiresInSnake    int    `json:"expires_in"`
}

// Refresh implements credstore.Refresher. Error responses come back as a
// classified *failure.Failure.
func (e *RenewalEndpoint) Refresh(ctx context.Context, refreshToken string) (credstore.Pair, error) {
	payload, err := json.Marshal(map[string]string{"refreshToken": refreshToken})
	if err != nil {
		return credstore.Pair{}, fmt.Errorf("failed to encode renewal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.BaseURL+e.Path, bytes.NewReader(payload))
	if err != nil {
		return credstore.Pair{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return credstore.Pair{}, failure.Classify(&failure.TransportError{Method: http.MethodPost, URL: e.Path, Err: err})
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return credstore.Pair{}, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return credstore.Pair{}, failure.Classify(&failure.HTTPError{
			StatusCode: resp.StatusCode,
			Body:       body,
			Header:     resp.Header,
		})
	}

	var rr renewalResponse
	if err := json.Unmarshal(body, &rr); err != nil {
		return credstore.Pair{}, fmt.Errorf("failed to decode renewal response: %w", err)
	}

	pair := credstore.Pair{
		AccessToken:  firstNonEmpty(rr.AccessToken, rr.AccessTokenSnake),
		RefreshToken: firstNonEmpty(rr.RefreshToken, rr.RefreshTokenSnake),
	}

	if expiresIn := max(rr.ExpiresIn, rr.ExpiresInSnake); expiresIn > 0 {
		now := time.Now
		if e.Now != nil {
			now = e.Now
		}
		pair.ExpiresAt = now().Add(time.Duration(expiresIn) * time.Second)
	}

	return pair, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

var _ credstore.Refresher = (*RenewalEndpoint)(nil)
