package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Connection metrics
	ConnectionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "syncengine_connections_total",
			Help: "Current number of connections by peer kind",
		},
		[]string{"peer_kind"},
	)

	ConnectionsDisconnectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncengine_connections_disconnected_total",
			Help: "Total connections disconnected, by reason",
		},
		[]string{"reason"},
	)

	// Document Store metrics
	DocumentsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "syncengine_documents_active",
			Help: "Number of documents currently held in memory",
		},
	)

	DocumentsDirty = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "syncengine_documents_dirty",
			Help: "Number of documents with unflushed changes",
		},
	)

	ApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "syncengine_apply_duration_seconds",
			Help:    "Time taken to apply a CRDT update to the in-memory document",
			Buckets: prometheus.DefBuckets,
		},
	)

	FlushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "syncengine_flush_duration_seconds",
			Help:    "Time taken to flush a document's materialized text to the Snapshot Adapter",
			Buckets: prometheus.DefBuckets,
		},
	)

	FlushFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "syncengine_flush_failures_total",
			Help: "Total number of flush attempts that failed",
		},
	)

	DocumentsEvictedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "syncengine_documents_evicted_total",
			Help: "Total number of documents evicted by the sweeper",
		},
	)

	// Room Router metrics
	BroadcastDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "syncengine_broadcast_duration_seconds",
			Help:    "Time taken to fan an update out to all subscribers of a room",
			Buckets: prometheus.DefBuckets,
		},
	)

	BroadcastDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "syncengine_broadcast_dropped_total",
			Help: "Total number of updates dropped from a subscriber's outbound queue",
		},
	)

	SlowConsumersDisconnectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "syncengine_slow_consumers_disconnected_total",
			Help: "Total number of connections dropped for falling behind their outbound queue",
		},
	)

	// Container Agent metrics
	FileEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncengine_agent_file_events_total",
			Help: "Total filesystem events observed by the Container Agent watcher",
		},
		[]string{"kind"},
	)

	DebounceTimersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "syncengine_agent_debounce_timers_active",
			Help: "Number of pending debounce timers in the Container Agent",
		},
	)

	ConflictsResolvedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncengine_agent_conflicts_resolved_total",
			Help: "Total conflicts resolved during initial sync, by winning side",
		},
		[]string{"winner"},
	)

	ReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "syncengine_agent_reconnects_total",
			Help: "Total number of times the Container Agent reconnected to the Session Endpoint",
		},
	)

	BackendHealthy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "syncengine_agent_backend_healthy",
			Help: "Whether the Container Agent's periodic backend reachability check is currently passing (1 = healthy, 0 = unhealthy)",
		},
	)

	// Cluster Coordinator (Raft) metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "syncengine_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "syncengine_raft_log_index",
			Help: "Current Raft log index",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "syncengine_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "syncengine_raft_apply_duration_seconds",
			Help:    "Time taken for the FSM to apply a committed Raft log entry",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(ConnectionsTotal)
	prometheus.MustRegister(ConnectionsDisconnectedTotal)
	prometheus.MustRegister(DocumentsActive)
	prometheus.MustRegister(DocumentsDirty)
	prometheus.MustRegister(ApplyDuration)
	prometheus.MustRegister(FlushDuration)
	prometheus.MustRegister(FlushFailuresTotal)
	prometheus.MustRegister(DocumentsEvictedTotal)
	prometheus.MustRegister(BroadcastDuration)
	prometheus.MustRegister(BroadcastDroppedTotal)
	prometheus.MustRegister(SlowConsumersDisconnectedTotal)
	prometheus.MustRegister(FileEventsTotal)
	prometheus.MustRegister(DebounceTimersActive)
	prometheus.MustRegister(ConflictsResolvedTotal)
	prometheus.MustRegister(ReconnectsTotal)
	prometheus.MustRegister(BackendHealthy)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftLogIndex)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(RaftApplyDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
