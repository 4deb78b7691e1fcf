/*
Package docstore implements the Document Store: the in-memory registry of
every (bucket, path) currently of interest, each backed by a CRDT replica
and an append-only update log.

# Operations

Attach loads or creates a document and increments its subscriber count;
concurrent attaches on the same key share one Snapshot Adapter load via a
single in-flight loader per key. Apply (and ApplyAt, which additionally
records the Raft log index a replicated update committed at) decodes and
applies a CRDT update under a short, non-suspending per-document lock,
bumps the sequence, appends to the update log, and marks the document
dirty. Flush writes the document's materialized text through the Snapshot
Adapter outside any lock and, if no further apply raced it, clears the
dirty flag — it never discards the update log itself. Compact is the
separate operation that does: it only drops log entries once the document
is clean and, when a Cluster Coordinator is wired via
SetDurabilityChecker, once those entries' Raft indexes are confirmed
quorum-applied. A periodic snapshot worker (Options.FlushInterval) calls
Flush then Compact for every dirty document; FlushAll drains every dirty
document with bounded parallelism at shutdown without compacting, since
the process is exiting anyway. Release decrements the subscriber count; a
background sweeper evicts documents that are unsubscribed, clean, and
idle past a grace period — eviction is pure memory management, since the
next Attach rehydrates from the Snapshot Adapter.

TombstoneBucket marks a bucket closed: live documents under it are evicted
immediately and further Apply/Attach calls for that bucket fail with
ErrBucketClosed. Delete removes a single document from the store (used by
file-tree-change deletes) after writing its cleared text through so a
future Attach does not resurrect stale content.

# Concurrency

Each document has its own mutex, held only across in-memory CRDT work
(apply, log append, dirty-flag flip) and never across a Snapshot Adapter
call — object-store I/O always happens outside that lock, per the
suspension-point contract the Document Store is required to honor.
*/
package docstore
