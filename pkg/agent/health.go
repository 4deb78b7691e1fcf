package agent

import (
	"encoding/json"
	"net/http"
	"time"
)

// localHealthResponse mirrors the Session Endpoint's healthResponse shape
// for consistency across the two processes' HTTP surfaces.
type localHealthResponse struct {
	Status          string    `json:"status"`
	Timestamp       time.Time `json:"timestamp"`
	InitialSyncDone bool      `json:"initial_sync_done"`
	BackendHealthy  bool      `json:"backend_healthy"`
}

// newLocalHealthHandler builds the agent's supplementary HTTP /healthz.
// The initial-sync-complete marker file is the spec-mandated readiness
// mechanism; this endpoint is additive, mirroring the same flag for
// supervisors that prefer to poll HTTP over stat-ing a file.
func (a *Agent) newLocalHealthHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		done := false
		select {
		case <-a.InitialSyncDone():
			done = true
		default:
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(localHealthResponse{
			Status:          "healthy",
			Timestamp:       time.Now(),
			InitialSyncDone: done,
			BackendHealthy:  a.backendHealthyFlag.Load(),
		})
	})
	return mux
}

// serveLocalHealth starts the agent's local health HTTP server, blocking
// until it errors. Callers typically run this in its own goroutine.
func (a *Agent) serveLocalHealth() error {
	server := &http.Server{
		Addr:         a.cfg.LocalHealthAddr,
		Handler:      a.newLocalHealthHandler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return server.ListenAndServe()
}
