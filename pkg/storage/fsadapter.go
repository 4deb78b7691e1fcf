package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cuemby/ideengine/pkg/types"
	"github.com/google/uuid"
)

// FilesystemAdapter implements SnapshotAdapter against a directory tree on
// local disk: one subdirectory per bucket, one file per path. It is the
// only object-store implementation in this package (see doc.go).
type FilesystemAdapter struct {
	root string

	mu         sync.RWMutex
	tombstoned map[string]bool // bucket ID -> tombstoned
}

// NewFilesystemAdapter creates an adapter rooted at root, creating it if it
// does not already exist.
func NewFilesystemAdapter(root string) (*FilesystemAdapter, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot root %s: %w", root, err)
	}
	return &FilesystemAdapter{
		root:       root,
		tombstoned: make(map[string]bool),
	}, nil
}

func (a *FilesystemAdapter) bucketDir(bucketID string) string {
	return filepath.Join(a.root, bucketID)
}

func (a *FilesystemAdapter) objectPath(key types.DocumentKey) string {
	return filepath.Join(a.bucketDir(key.BucketID), filepath.FromSlash(key.Path))
}

// LoadText implements SnapshotAdapter.
func (a *FilesystemAdapter) LoadText(_ context.Context, key types.DocumentKey) (string, error) {
	data, err := os.ReadFile(a.objectPath(key))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrSnapshotUnavailable, err)
	}
	return string(data), nil
}

// SaveText implements SnapshotAdapter. The write is made atomic by writing
// to a sibling temp file and renaming over the target, which is atomic on
// the same filesystem.
func (a *FilesystemAdapter) SaveText(_ context.Context, key types.DocumentKey, text string) error {
	a.mu.RLock()
	closed := a.tombstoned[key.BucketID]
	a.mu.RUnlock()
	if closed {
		return fmt.Errorf("%w: bucket %s", types.ErrBucketClosed, key.BucketID)
	}

	target := a.objectPath(key)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("%w: %v", types.ErrSnapshotUnavailable, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".snapshot-*")
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrSnapshotUnavailable, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", types.ErrSnapshotUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", types.ErrSnapshotUnavailable, err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return fmt.Errorf("%w: %v", types.ErrSnapshotUnavailable, err)
	}
	return nil
}

// ListPaths implements SnapshotAdapter.
func (a *FilesystemAdapter) ListPaths(_ context.Context, bucket types.BucketHandle) ([]string, error) {
	root := a.bucketDir(bucket.ID)
	var paths []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrSnapshotUnavailable, err)
	}
	return paths, nil
}

// Clone implements SnapshotAdapter by recursively copying the source
// bucket's directory into a freshly minted bucket handle.
func (a *FilesystemAdapter) Clone(ctx context.Context, src types.BucketHandle, newName string) (types.BucketHandle, error) {
	dst := types.BucketHandle{ID: uuid.New().String(), Name: newName, Region: src.Region}

	paths, err := a.ListPaths(ctx, src)
	if err != nil {
		return types.BucketHandle{}, err
	}
	for _, p := range paths {
		text, err := a.LoadText(ctx, types.DocumentKey{BucketID: src.ID, Path: p})
		if err != nil {
			return types.BucketHandle{}, err
		}
		if err := a.SaveText(ctx, types.DocumentKey{BucketID: dst.ID, Path: p}, text); err != nil {
			return types.BucketHandle{}, err
		}
	}
	return dst, nil
}

// Tombstone implements SnapshotAdapter.
func (a *FilesystemAdapter) Tombstone(_ context.Context, bucket types.BucketHandle) error {
	a.mu.Lock()
	a.tombstoned[bucket.ID] = true
	a.mu.Unlock()
	return nil
}

// Close implements SnapshotAdapter. The filesystem adapter holds no
// long-lived resources.
func (a *FilesystemAdapter) Close() error {
	return nil
}
