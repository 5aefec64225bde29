package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsemkt/themescore/internal/metrics"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	outDir := t.TempDir()
	reg := prometheus.NewRegistry()
	metrics.NewRegistry(reg).RecordRun("ok")
	return New(DefaultConfig(), outDir, reg), outDir
}

func writeDoc(t *testing.T, outDir, name string, doc any) {
	t.Helper()
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(outDir, name), data, 0o644))
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := get(t, s, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	rec := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "themescore_runs_total")
}

func TestScoresDocumentServedVerbatim(t *testing.T) {
	s, outDir := newTestServer(t)
	writeDoc(t, outDir, "scores_2026-08-28.json", map[string]any{"date": "2026-08-28", "degraded": false})

	rec := get(t, s, "/api/v1/scores/2026-08-28")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "2026-08-28", body["date"])
}

func TestLatestResolvesNewestDate(t *testing.T) {
	s, outDir := newTestServer(t)
	writeDoc(t, outDir, "scores_2026-08-27.json", map[string]any{"date": "2026-08-27"})
	writeDoc(t, outDir, "scores_2026-08-28.json", map[string]any{"date": "2026-08-28"})

	rec := get(t, s, "/api/v1/scores/latest")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "2026-08-28", body["date"])
}

func TestMissingDocumentIs404(t *testing.T) {
	s, _ := newTestServer(t)
	rec := get(t, s, "/api/v1/actions/2026-08-28")
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body["error"], "2026-08-28")
}

func TestBadDateIs400(t *testing.T) {
	s, _ := newTestServer(t)
	rec := get(t, s, "/api/v1/status/yesterday")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownEndpointIs404JSON(t *testing.T) {
	s, _ := newTestServer(t)
	rec := get(t, s, "/api/v1/nope")
	require.Equal(t, http.StatusNotFound, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unknown endpoint", body["error"])
}
