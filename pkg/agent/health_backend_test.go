package agent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAgent_CheckBackendHealthMarksHealthyOnSuccess(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	dir := t.TempDir()
	a := newTestAgent(t, dir)
	a.cfg.BackendAPIURL = backend.URL
	a.backendChecker.URL = backend.URL + "/healthz"

	a.checkBackendHealth(context.Background())

	require.True(t, a.backendHealthyFlag.Load())
}

func TestAgent_CheckBackendHealthMarksUnhealthyAfterRetriesExhausted(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer backend.Close()

	dir := t.TempDir()
	a := newTestAgent(t, dir)
	a.cfg.BackendAPIURL = backend.URL
	a.backendChecker.URL = backend.URL + "/healthz"
	a.backendConfig.StartPeriod = 0

	for i := 0; i < a.backendConfig.Retries; i++ {
		a.checkBackendHealth(context.Background())
	}

	require.False(t, a.backendHealthyFlag.Load())
}
