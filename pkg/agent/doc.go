/*
Package agent implements the Container Agent: a process that runs inside a
single execution container, bound to one bucket, keeping the container's
workspace filesystem and the Document Store's CRDT documents in sync.

# Architecture

	┌─────────────────────── CONTAINER AGENT ──────────────────────┐
	│                                                                │
	│  ┌──────────────┐   fs events    ┌───────────────────────┐   │
	│  │   Watcher    │───────────────►│     Per-path state      │   │
	│  │  (fsnotify)  │                │  (debounce, conflict)   │   │
	│  └──────────────┘                └───────────┬────────────┘   │
	│                                               │ CRDT updates   │
	│                                      ┌────────▼────────┐       │
	│                                      │      Client      │      │
	│                                      │  (reconnect +     │      │
	│                                      │   backoff, wire   │      │
	│                                      │   protocol)        │      │
	│                                      └────────┬────────┘       │
	│                                               │ ws connection   │
	└───────────────────────────────────────────────┼───────────────┘
	                                                 ▼
	                                         Session Endpoint

# Core components

Watcher watches the workspace tree recursively with fsnotify and hands
each classified event to the Agent as its own WatchedFileEvent. Rapid
writes on the same path are not coalesced or debounced; debounce timers
apply only to remote-to-disk writes.

Client owns the single WebSocket connection to the Session Endpoint:
handshake, subscribe/unsubscribe, send/receive of the wire envelope kinds,
and a reconnect loop with exponential backoff that never gives up.

Agent is the top-level coordinator: it owns one pathState per watched file,
decides conflict-resolution winners on document-state arrival, applies the
debouncing and echo-suppression rules for remote-to-disk writes, and tracks
whether initial sync has completed.

# Failure semantics

A watcher error is logged and the loop continues; a disconnect triggers
reconnect-with-backoff and a full re-subscribe sweep; an error handling one
path's event is logged and does not affect any other path. The agent never
exits because the server is unreachable — only a fatal startup error
(missing required configuration) causes a nonzero exit.

A periodic backend reachability probe against the Session Endpoint's own
/healthz tracks degraded-but-not-disconnected states (e.g. the server is
up but overloaded) and is surfaced both as a Prometheus gauge and on the
agent's local /healthz.
*/
package agent
