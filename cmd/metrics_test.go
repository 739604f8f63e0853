package cmd

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/pe-runtime/ldb"
)

func get(t *testing.T, srv *httptest.Server, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestMetricsRouter_ServesRegistry(t *testing.T) {
	// GIVEN a registry holding the load balancer metrics
	reg := prometheus.NewRegistry()
	ldb.NewMetrics(reg)
	srv := httptest.NewServer(newMetricsRouter(reg))
	defer srv.Close()

	// WHEN scraped
	code, body := get(t, srv, "/metrics")

	// THEN the load balancer series are exposed
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "ldb_migrations_total")

	code, body = get(t, srv, "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)

	code, _ = get(t, srv, "/nope")
	assert.Equal(t, http.StatusNotFound, code)
}
