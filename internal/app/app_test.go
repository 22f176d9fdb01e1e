package app

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicos/backoffice/internal/observability"
	"github.com/clinicos/backoffice/internal/shared"
	"github.com/clinicos/backoffice/jobs"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://u:p@db:5432/x")
	t.Setenv("RATE_CACHE_TTL", "90s")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, "postgres://u:p@db:5432/x", cfg.PGDSN)
	assert.Equal(t, 90*time.Second, cfg.RateCacheTTL)
	assert.Equal(t, 120, cfg.RateLimitPerMinute)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	t.Setenv("RATE_LIMIT_PER_MINUTE", "0")
	_, err := LoadConfig()
	require.Error(t, err)

	t.Setenv("RATE_LIMIT_PER_MINUTE", "10")
	t.Setenv("APP_REQUEST_TIMEOUT", "soon")
	_, err = LoadConfig()
	require.Error(t, err)
}

func TestLoggerFormats(t *testing.T) {
	buf := &bytes.Buffer{}
	newLogger(&Config{LogFormat: "json", AppEnv: "production"}, buf).Info("claim generated")
	assert.Contains(t, buf.String(), `"msg":"claim generated"`)
	assert.Contains(t, buf.String(), `"env":"production"`)

	buf.Reset()
	newLogger(&Config{AppEnv: "development"}, buf).Debug("debug line")
	assert.Contains(t, buf.String(), "msg=\"debug line\"")
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func newTestRouter(t *testing.T, db Pinger) (http.Handler, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := &Config{AppEnv: "test", AppRequestTimeout: time.Second, RateLimitPerMinute: 1000, ExportDir: dir}
	return NewRouter(RouterParams{
		Config:     cfg,
		Metrics:    observability.NewMetrics(),
		DB:         db,
		JobHandler: jobs.NewHandler(nil, nil),
	}), dir
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRouterHealthAndHeaders(t *testing.T) {
	router, _ := newTestRouter(t, stubPinger{})
	rec := get(router, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	down, _ := newTestRouter(t, stubPinger{err: errors.New("refused")})
	assert.Equal(t, http.StatusServiceUnavailable, get(down, "/healthz").Code)
}

func TestRouterMetricsJobsAndFallback(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	get(router, "/healthz")
	rec := get(router, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `backoffice_http_requests_total{code="200",route="/healthz"}`)

	assert.Equal(t, http.StatusOK, get(router, "/jobs/health").Code)

	rec = get(router, "/api/unknown")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "application/problem+json"))
}

func TestRouterServesExports(t *testing.T) {
	router, dir := newTestRouter(t, nil)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "CLM-202405-001.csv"), []byte("TransactionId\n"), 0o644))

	rec := get(router, "/exports/CLM-202405-001.csv")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "TransactionId\n", rec.Body.String())
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/csv"))
}

func TestActorContext(t *testing.T) {
	var got string
	h := actorContext(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = shared.ActorFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/corporate/claims", nil)
	req.Header.Set(ActorHeader, " cashier-7 ")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "cashier-7", got)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, shared.SystemActor, got)
}
