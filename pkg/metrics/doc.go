/*
Package metrics provides Prometheus metrics collection and exposition for
the synchronization engine's long-running processes (the Session Endpoint
and the Container Agent).

# Metrics

Connections:
  - syncengine_connections_total{peer_kind}
  - syncengine_connections_disconnected_total{reason}

Document Store:
  - syncengine_documents_active
  - syncengine_documents_dirty
  - syncengine_apply_duration_seconds
  - syncengine_flush_duration_seconds
  - syncengine_flush_failures_total
  - syncengine_documents_evicted_total

Room Router:
  - syncengine_broadcast_duration_seconds
  - syncengine_broadcast_dropped_total
  - syncengine_slow_consumers_disconnected_total

Container Agent:
  - syncengine_agent_file_events_total{kind}
  - syncengine_agent_debounce_timers_active
  - syncengine_agent_conflicts_resolved_total{winner}
  - syncengine_agent_reconnects_total

Cluster Coordinator:
  - syncengine_raft_is_leader
  - syncengine_raft_log_index
  - syncengine_raft_applied_index
  - syncengine_raft_apply_duration_seconds

# Usage

	http.Handle("/metrics", metrics.Handler())

	timer := metrics.NewTimer()
	seq, err := store.Apply(ctx, key, update, origin)
	timer.ObserveDuration(metrics.ApplyDuration)

Components own and update their own gauges/counters directly (this package
has no dependency on docstore, room, session, agent, or cluster) so there is
no import cycle and no separate polling collector: a gauge like
DocumentsActive is Set() by the Document Store itself whenever its live
document count changes.

# Health

Liveness and readiness are served by session.HealthServer, not this
package: a process-wide health registry keyed by component name doesn't
fit a design where tests construct several independent HealthServer
instances (each wired to its own fake Cluster Coordinator and Snapshot
Adapter) in the same test binary. session.HealthServer takes its
dependencies directly instead.
*/
package metrics
