/*
Package cluster implements the Cluster Coordinator: a Raft-backed
replicated command log that lets the engine run as more than one process
while keeping exactly one Document Store authoritative at a time.

# Architecture

	┌─────────────────────────── ENGINE NODE ───────────────────────────┐
	│                                                                     │
	│  Session Endpoint ──propose(cmd)──▶  Coordinator.Propose            │
	│                                           │                         │
	│                                  ┌────────▼────────┐                │
	│                                  │  hashicorp/raft  │                │
	│                                  │  log replication │                │
	│                                  │  leader election │                │
	│                                  └────────┬────────┘                │
	│                                           │ committed                │
	│                                  ┌────────▼────────┐                │
	│                                  │  documentFSM     │                │
	│                                  │  Apply/Snapshot/ │                │
	│                                  │  Restore         │                │
	│                                  └────────┬────────┘                │
	│                                           │                         │
	│                                    docstore.Store                   │
	└─────────────────────────────────────────────────────────────────────┘

# Single-node default

A Coordinator bootstrapped with no peers is a one-member Raft cluster: it
is always the leader, every Propose commits locally with no network round
trip, and no operator action is required to run the engine at all. Scaling
out to multiple engine processes means starting additional Coordinators
and calling AddVoter against the existing leader — the exact same code
path, never a special "clustered mode" branch.

# Commands

Every state change the Document Store makes while a Coordinator is present
goes through Propose first: apply-update (a CRDT update for one document),
tombstone-bucket, create-document, and delete-document. The FSM's Apply
dispatches each into the Store's normal in-process operations — the Store
itself never knows whether it is being driven directly (single process, no
Coordinator at all) or via committed Raft log entries.

# Snapshots

Raft periodically asks the FSM to snapshot so the log can be compacted.
The snapshot holds only the live set of (bucket, path) keys plus their
materialized text — never the full CRDT update log. The object store
behind the Snapshot Adapter already durably holds materialized text for
every document, clustered or not, so a node restoring from a Raft snapshot
only needs enough to resume serving immediately; anything it's missing
rehydrates lazily on the next Attach.

# Leadership

Only the leader accepts Propose calls; everyone else returns an error
naming the current leader's address so the caller (the Session Endpoint)
can decide whether to forward the write or reject it. Coordinator
implements session.LeaderChecker (IsLeader, LeaderAddr) so the Session
Endpoint's readiness probe can report accurately without importing this
package's Raft internals.

# Join tokens

TokenManager issues short-lived, random join tokens a second engine
process presents when asking the leader to add it as a voter. These are
unrelated to auth.TokenManager's service tokens: one gates cluster
membership, the other gates WebSocket connections to buckets.
*/
package cluster
