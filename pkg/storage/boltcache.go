package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/ideengine/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var bucketSnapshotCache = []byte("snapshot_cache")

// cachedEntry is the JSON value stored per (bucket, path) key in the local
// BoltDB cache.
type cachedEntry struct {
	Text string `json:"text"`
}

func cacheKey(key types.DocumentKey) []byte {
	return []byte(key.BucketID + "\x00" + key.Path)
}

// CachingAdapter wraps a SnapshotAdapter with a local BoltDB write-through
// cache: every SaveText that the backing adapter accepts also writes the
// materialized text to a local file, so LoadText can still return a
// document's last saved text while the object store is unreachable. The
// cache is a pure optimization; correctness decisions (such as whether a
// bucket is tombstoned) are always delegated to the wrapped adapter.
type CachingAdapter struct {
	SnapshotAdapter
	db *bolt.DB
}

// NewCachingAdapter opens (creating if necessary) a BoltDB file under
// dataDir and wraps backing with a local durability cache.
func NewCachingAdapter(backing SnapshotAdapter, dataDir string) (*CachingAdapter, error) {
	dbPath := filepath.Join(dataDir, "snapshot-cache.db")
	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open snapshot cache: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSnapshotCache)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init snapshot cache bucket: %w", err)
	}

	return &CachingAdapter{SnapshotAdapter: backing, db: db}, nil
}

// SaveText writes through to the backing adapter, then updates the local
// cache. A cache-write failure is logged by the caller via the returned
// error's wrapping, but the upstream write having already succeeded means
// durability is not compromised.
func (c *CachingAdapter) SaveText(ctx context.Context, key types.DocumentKey, text string) error {
	if err := c.SnapshotAdapter.SaveText(ctx, key, text); err != nil {
		return err
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapshotCache)
		data, err := json.Marshal(cachedEntry{Text: text})
		if err != nil {
			return fmt.Errorf("encode cache entry: %w", err)
		}
		return b.Put(cacheKey(key), data)
	})
}

// LoadText prefers the backing adapter; if the backing adapter is
// unreachable (ErrSnapshotUnavailable), it falls back to the local cache so
// a process restart can still resume serving a document it had previously
// flushed.
func (c *CachingAdapter) LoadText(ctx context.Context, key types.DocumentKey) (string, error) {
	text, err := c.SnapshotAdapter.LoadText(ctx, key)
	if err == nil {
		return text, nil
	}

	var cached cachedEntry
	cacheErr := c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapshotCache)
		data := b.Get(cacheKey(key))
		if data == nil {
			return types.ErrSnapshotUnavailable
		}
		return json.Unmarshal(data, &cached)
	})
	if cacheErr != nil {
		return "", err // surface the original upstream error
	}
	return cached.Text, nil
}

// Close closes the local cache database, then the backing adapter.
func (c *CachingAdapter) Close() error {
	cacheErr := c.db.Close()
	backingErr := c.SnapshotAdapter.Close()
	if cacheErr != nil {
		return cacheErr
	}
	return backingErr
}
