/*
Package storage implements the Snapshot Adapter: the only component that
talks to the object store holding materialized document text.

# Implementations

FilesystemAdapter targets a local directory tree (one subdirectory per
bucket, one file per path) and is the only object-store implementation in
this package; there is no S3-compatible adapter.

CachingAdapter wraps any SnapshotAdapter with a local BoltDB (bbolt)
write-through cache keyed by (bucket, path): every SaveText the backing
adapter accepts also updates the cache, and LoadText falls back to the
cache when the backing adapter fails. The cache never overrides the
backing adapter's answer when the backing adapter succeeds, and it holds
only text the backing adapter has already saved.

# Concurrency

Writes for the same key are expected to be serialized by the caller (the
Document Store flushes one document from one goroutine at a time); the
adapters here do not themselves serialize concurrent writers to the same
key beyond what the backing filesystem or BoltDB transaction already
provides.
*/
package storage
