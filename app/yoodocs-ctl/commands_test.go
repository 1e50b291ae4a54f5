package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	method, path, auth string
}

func fakeServer(t *testing.T, calls *[]call) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	record := func(r *http.Request) {
		*calls = append(*calls, call{r.Method, r.URL.RequestURI(), r.Header.Get("Authorization")})
	}
	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
	admin := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			record(r)
			if r.Header.Get("Authorization") != "Bearer admin-token" {
				writeJSON(w, http.StatusForbidden, map[string]string{"code": "FORBIDDEN", "message": "forbidden"})
				return
			}
			next(w, r)
		}
	}

	mux.HandleFunc("POST /vectors/resync", admin(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]int{"synced": 12, "skipped": 1, "total": 13})
	}))
	mux.HandleFunc("POST /vectors/rebuild", admin(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]int{"indexed_vectors": 40})
	}))
	mux.HandleFunc("GET /admin/stats", admin(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"users": 3})
	}))
	mux.HandleFunc("GET /admin/usage", admin(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"days": 30})
	}))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":       "degraded",
			"dependencies": map[string]string{"postgres": "ok", "redis": "connection refused"},
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("YOODOCS_URL", "")
	t.Setenv("YOODOCS_TOKEN", "")
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestResync(t *testing.T) {
	var calls []call
	srv := fakeServer(t, &calls)

	out, err := run(t, "resync", "--server", srv.URL, "--token", "admin-token")
	require.NoError(t, err)
	assert.Contains(t, out, "Synced 12 of 13 chunks (1 skipped).")
	require.Len(t, calls, 1)
	assert.Equal(t, call{http.MethodPost, "/vectors/resync", "Bearer admin-token"}, calls[0])
}

func TestResyncSurfacesServerErrors(t *testing.T) {
	var calls []call
	srv := fakeServer(t, &calls)

	_, err := run(t, "resync", "--server", srv.URL, "--token", "user-token")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403 FORBIDDEN")
}

func TestCommandsRequireToken(t *testing.T) {
	var calls []call
	srv := fakeServer(t, &calls)

	for _, name := range []string{"resync", "stats", "usage"} {
		_, err := run(t, name, "--server", srv.URL)
		require.Error(t, err, name)
		assert.Contains(t, err.Error(), "admin token")
	}
	assert.Empty(t, calls)
}

func TestRebuildNeedsConfirmation(t *testing.T) {
	var calls []call
	srv := fakeServer(t, &calls)

	_, err := run(t, "rebuild", "--server", srv.URL, "--token", "admin-token")
	require.Error(t, err)
	assert.Empty(t, calls)

	out, err := run(t, "rebuild", "--yes", "--server", srv.URL, "--token", "admin-token")
	require.NoError(t, err)
	assert.Contains(t, out, "40 vectors")
}

func TestUsagePassesDays(t *testing.T) {
	var calls []call
	srv := fakeServer(t, &calls)

	out, err := run(t, "usage", "--days", "30", "--server", srv.URL, "--token", "admin-token")
	require.NoError(t, err)
	assert.Contains(t, out, `"days": 30`)
	require.Len(t, calls, 1)
	assert.Equal(t, "/admin/usage?days=30", calls[0].path)
}

func TestHealthReportsDegraded(t *testing.T) {
	var calls []call
	srv := fakeServer(t, &calls)

	out, err := run(t, "health", "--server", srv.URL)
	require.Error(t, err)
	assert.Contains(t, out, "status: degraded")
	assert.Contains(t, out, "redis")
	assert.Contains(t, out, "connection refused")
}
