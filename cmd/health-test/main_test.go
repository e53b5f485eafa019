package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeServer(t *testing.T, storeStatus string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"status":"ok","services":{"store":{"status":"` + storeStatus + `"}}}`))
	})
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("logsentinel_processing_runs_total{state=\"COLD\",outcome=\"ok\"} 1\n"))
	})
	mux.HandleFunc("/api/v1/projects", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"projects":null}`))
	})
	mux.HandleFunc("/api/v1/projects/cart/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"projectId":"cart","riskLevel":"HIGH","failureLikelihood":0.7}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func runChecks(p *smokeClient, project string) map[string]error {
	results := map[string]error{}
	for _, c := range p.checks(project) {
		results[c.name] = c.fn()
	}
	return results
}

func TestChecksPass(t *testing.T) {
	srv := fakeServer(t, "ok")
	p := &smokeClient{baseURL: srv.URL, token: "tok", client: srv.Client()}

	results := runChecks(p, "cart")
	require.Len(t, results, 4)
	for name, err := range results {
		assert.NoError(t, err, name)
	}
}

func TestChecksReportFailures(t *testing.T) {
	srv := fakeServer(t, "error")
	p := &smokeClient{baseURL: srv.URL, client: srv.Client()}

	results := runChecks(p, "ghost")
	assert.ErrorContains(t, results["liveness"], `store is "error"`)
	assert.NoError(t, results["metrics"])
	assert.ErrorContains(t, results["projects"], "401")
	assert.ErrorContains(t, results["prediction"], "404")
}
