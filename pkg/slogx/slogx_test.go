package slogx_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aussiebroadwan/crudlink/pkg/slogx"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, slogx.ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, slogx.ParseLevel("warning"))
	require.Equal(t, slog.LevelError, slogx.ParseLevel("error"))
	require.Equal(t, slog.LevelInfo, slogx.ParseLevel("bogus"))
}

func TestNew_WritesJSONToOutput(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := slogx.New(slogx.Config{Service: "crudlink", Version: "test", Env: "test", Level: "info", Output: &buf})
	logger.Info("hello")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "hello", rec["msg"])
	require.Equal(t, "crudlink", rec["service"])
}

func TestNew_PrettyFormat(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := slogx.New(slogx.Config{Service: "crudlink", Format: "pretty", Output: &buf})
	logger.Debug("hidden")
	logger.Info("shown")

	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), "shown")
}

func TestRequestID(t *testing.T) {
	ctx := context.Background()
	require.Empty(t, slogx.RequestID(ctx))

	ctx = slogx.WithRequestID(ctx, "01JABCDEF")
	require.Equal(t, "01JABCDEF", slogx.RequestID(ctx))
	require.NotNil(t, slogx.FromContext(ctx))
}

func TestTransport(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get("X-Request-ID"))
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	client := &http.Client{Transport: &slogx.Transport{}}

	t.Run("forwards context request id", func(t *testing.T) {
		ctx := slogx.WithRequestID(slogx.WithContext(context.Background(), logger), "req-123")
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/todos", nil)
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		require.Equal(t, "req-123", seen[len(seen)-1])
		require.Contains(t, buf.String(), `"path":"/todos"`)
		require.Contains(t, buf.String(), `"status":204`)
		require.Empty(t, req.Header.Get("X-Request-ID"), "caller's request is not mutated")
	})

	t.Run("generates request id when absent", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, srv.URL+"/todos", nil)
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		require.Len(t, seen[len(seen)-1], 26, "ULID request id")
	})
}
