package storage

import (
	"context"

	"github.com/cuemby/ideengine/pkg/types"
)

// SnapshotAdapter is the only component that talks to the object store. All
// operations may block or yield; callers above this package never touch the
// object store's own wire protocol directly.
type SnapshotAdapter interface {
	// LoadText fetches the current materialized text for key. A missing
	// object returns an empty string, not an error.
	LoadText(ctx context.Context, key types.DocumentKey) (string, error)

	// SaveText durably writes text for key. The write is atomic from an
	// observer's point of view: a reader never sees a partially written
	// object.
	SaveText(ctx context.Context, key types.DocumentKey, text string) error

	// ListPaths returns every path known to exist in bucket, used by the
	// Container Agent at startup to discover files present in the snapshot
	// but not yet materialized on disk.
	ListPaths(ctx context.Context, bucket types.BucketHandle) ([]string, error)

	// Clone makes a server-side copy of an entire bucket and returns a
	// handle to the new bucket.
	Clone(ctx context.Context, src types.BucketHandle, newName string) (types.BucketHandle, error)

	// Tombstone marks bucket deleted. Subsequent LoadText calls still
	// succeed (archival access for grading), but SaveText is rejected with
	// ErrBucketClosed.
	Tombstone(ctx context.Context, bucket types.BucketHandle) error

	// Close releases any resources held by the adapter.
	Close() error
}
