/*
Package types defines the core data structures shared across the
synchronization engine: buckets, documents, updates, connections, and the
error taxonomy used on the wire.

# Core Types

Workspace model:
  - BucketHandle: opaque reference to a student workspace in the object store
  - DocumentKey: bucket id plus normalized file path
  - Document: in-memory CRDT state plus flush/eviction bookkeeping
  - Update: one opaque CRDT update tagged with its origin

Connections:
  - Connection: an authenticated long-lived stream, browser/container-agent/service
  - Subscription: a connection's attachment to one document
  - PeerKind, SubscriptionRole: typed string enums

Container Agent:
  - WatchedFileEvent: a raw fsnotify observation
  - PendingWrite: a debounced write pending upstream delivery

# Errors

Error kinds are sentinel values (ErrUnauthorized, ErrBucketClosed, ...)
wrapped with fmt.Errorf("...: %w", ...) at the detection site and compared
with errors.Is. WireErrorCode converts a wrapped error into the stable
string code used in the "error" wire message.

# Thread Safety

Types in this package carry no locks of their own. Document and Connection
are mutated under locks owned by pkg/docstore and pkg/session respectively;
nothing in this package is safe for concurrent mutation without an external
lock.
*/
package types
