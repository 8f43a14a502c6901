package crudclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/crudlink/pkg/failure"
)

func TestRenewalEndpoint_Refresh(t *testing.T) {
	t.Parallel()

	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/token" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "next-access",
			"refresh_token": "next-refresh",
			"expires_in":    600,
		})
	}))
	defer srv.Close()

	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	ep := NewRenewalEndpoint(srv.URL+"/", "/v1/token", srv.Client())
	ep.Now = func() time.Time { return now }

	pair, err := ep.Refresh(context.Background(), "r-1")
	require.NoError(t, err)
	require.Equal(t, "r-1", got["refreshToken"])
	require.Equal(t, "next-access", pair.AccessToken)
	require.Equal(t, "next-refresh", pair.RefreshToken)
	require.True(t, now.Add(10*time.Minute).Equal(pair.ExpiresAt))
}

func TestRenewalEndpoint_Rejected(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error_description": "refresh token revoked"})
	}))
	defer srv.Close()

	ep := NewRenewalEndpoint(srv.URL, "", srv.Client())
	require.Equal(t, DefaultRenewPath, ep.Path)

	_, err := ep.Refresh(context.Background(), "r-1")

	var f *failure.Failure
	require.ErrorAs(t, err, &f)
	require.Equal(t, failure.AuthenticationError, f.Kind)
	require.Equal(t, "refresh token revoked", f.Message)
}

func TestRenewalEndpoint_Unreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	ep := NewRenewalEndpoint(url, "", nil)
	_, err := ep.Refresh(context.Background(), "r-1")
	require.True(t, errors.Is(err, failure.OfKind(failure.NetworkError)))
}
