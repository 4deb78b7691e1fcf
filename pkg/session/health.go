package session

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cuemby/ideengine/pkg/metrics"
	"github.com/cuemby/ideengine/pkg/storage"
	"github.com/cuemby/ideengine/pkg/types"
)

// LeaderChecker exposes just enough of the Cluster Coordinator's Raft
// status for the readiness check; the Session Endpoint never otherwise
// touches Raft. Satisfied by the Cluster Coordinator's node type.
type LeaderChecker interface {
	IsLeader() bool
	LeaderAddr() string
}

// healthSentinelKey is a reserved document key the readiness probe uses to
// exercise the Snapshot Adapter's reachability without touching real
// student data.
var healthSentinelKey = types.DocumentKey{BucketID: "__health__", Path: "ping"}

// HealthServer serves /healthz and /metrics alongside the stream listener,
// in the same process. Grounded on the teacher's health/ready HTTP server,
// generalized from a Raft-manager-and-service-list check to a Raft-leader
// check plus a Snapshot Adapter reachability probe.
type HealthServer struct {
	leader  LeaderChecker // nil on a single-node deployment with no Cluster Coordinator
	adapter storage.SnapshotAdapter
	mux     *http.ServeMux
}

// NewHealthServer constructs a HealthServer. leader may be nil when the
// engine runs without the Cluster Coordinator.
func NewHealthServer(leader LeaderChecker, adapter storage.SnapshotAdapter) *HealthServer {
	hs := &HealthServer{leader: leader, adapter: adapter, mux: http.NewServeMux()}
	hs.mux.HandleFunc("/healthz", hs.healthHandler)
	hs.mux.HandleFunc("/readyz", hs.readyHandler)
	hs.mux.Handle("/metrics", metrics.Handler())
	hs.mux.HandleFunc("/buckets/{bucketID}/files", hs.filesHandler)
	return hs
}

// Start runs the HTTP server, blocking until it exits.
func (hs *HealthServer) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      hs.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}

// GetHandler returns the HTTP handler for embedding in another server.
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.mux
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type readyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// healthHandler is a pure liveness check: 200 iff the process is alive.
func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(healthResponse{Status: "healthy", Timestamp: time.Now()})
}

// readyHandler checks Raft leadership (if clustered) and Snapshot Adapter
// reachability.
func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	ready := true

	if hs.leader != nil {
		if hs.leader.IsLeader() {
			checks["raft"] = "leader"
		} else if addr := hs.leader.LeaderAddr(); addr != "" {
			checks["raft"] = "follower (leader: " + addr + ")"
		} else {
			checks["raft"] = "no leader elected"
			ready = false
		}
	} else {
		checks["raft"] = "standalone"
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if _, err := hs.adapter.LoadText(ctx, healthSentinelKey); err != nil {
		checks["snapshot_adapter"] = "error: " + err.Error()
		ready = false
	} else {
		checks["snapshot_adapter"] = "ok"
	}

	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(readyResponse{Status: status, Timestamp: time.Now(), Checks: checks})
}

type filesResponse struct {
	Paths []string `json:"paths"`
}

// filesHandler lets a Container Agent discover, at startup, the set of
// paths the Snapshot Adapter already holds for its bucket — the file list
// spec.md's agent startup step asks the adapter for "via the server"
// rather than by talking to the object store directly.
func (hs *HealthServer) filesHandler(w http.ResponseWriter, r *http.Request) {
	bucketID := r.PathValue("bucketID")
	if bucketID == "" {
		http.Error(w, "missing bucket id", http.StatusBadRequest)
		return
	}

	paths, err := hs.adapter.ListPaths(r.Context(), types.BucketHandle{ID: bucketID})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(filesResponse{Paths: paths})
}
