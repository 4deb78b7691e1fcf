package docstore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/ideengine/pkg/crdt"
	"github.com/cuemby/ideengine/pkg/log"
	"github.com/cuemby/ideengine/pkg/metrics"
	"github.com/cuemby/ideengine/pkg/storage"
	"github.com/cuemby/ideengine/pkg/types"
	"github.com/rs/zerolog"
)

// Options configures a Store.
type Options struct {
	// ReplicaID identifies the server's own CRDT replica, embedded in the
	// NodeIDs it mints when seeding documents from loaded snapshot text.
	ReplicaID string
	// SweepInterval is how often the eviction sweeper runs.
	SweepInterval time.Duration
	// IdleGrace is how long a subscriber-less, clean document is kept in
	// memory before the sweeper evicts it.
	IdleGrace time.Duration
	// FlushParallelism bounds how many documents FlushAll writes through
	// the Snapshot Adapter concurrently.
	FlushParallelism int
	// FlushInterval is how often the periodic snapshot worker flushes
	// every dirty document and compacts whatever flushed log entries are
	// safe to discard. Zero disables the periodic worker entirely —
	// flushes then only happen at shutdown (FlushAll) or bucket
	// tombstoning.
	FlushInterval time.Duration
}

// DefaultOptions returns reasonable defaults for a production deployment.
func DefaultOptions() Options {
	return Options{
		ReplicaID:        "server",
		SweepInterval:    30 * time.Second,
		IdleGrace:        5 * time.Minute,
		FlushParallelism: 8,
		FlushInterval:    10 * time.Second,
	}
}

// entry is one document's live state. Its mutex guards only in-memory CRDT
// work; Snapshot Adapter calls always happen with it released.
type entry struct {
	key types.DocumentKey

	mu sync.Mutex

	replica crdt.Replica
	// log holds every applied update since the last successful Compact,
	// kept around so a flush can be retried and so the periodic snapshot
	// worker has something to compact once it is safe to. It is never
	// read to reconstruct state — the CRDT replica itself is the
	// authoritative in-memory state, and the Snapshot Adapter is the
	// authoritative durable one.
	log              [][]byte
	pendingRaftIndex uint64 // highest Raft log index among entries in log, 0 if none were replicated
	seq              uint64
	flushedSeq       uint64
	lastActivity     time.Time
	subscriberCount  int
	dirty            bool

	ready   chan struct{}
	loadErr error
}

// DurabilityChecker reports the highest Raft log index known applied to a
// quorum of the cluster. The Cluster Coordinator implements this; a Store
// with no Coordinator wired (single-process deployment with no cluster at
// all) leaves it unset, and Compact treats every log entry as durable as
// soon as it has been flushed.
type DurabilityChecker interface {
	QuorumAppliedIndex() uint64
}

// Store is the Document Store: one per process, constructed at startup and
// threaded explicitly through the Session Endpoint and the Raft FSM.
type Store struct {
	adapter storage.SnapshotAdapter
	opts    Options
	logger  zerolog.Logger

	mu         sync.Mutex
	documents  map[types.DocumentKey]*entry
	tombstoned map[string]bool // bucket ID -> tombstoned

	dirtyCount int64

	// durability is nil for a single-process Store with no Cluster
	// Coordinator; Compact then treats every flushed entry as
	// immediately safe to discard.
	durability DurabilityChecker

	stopCh chan struct{}
	doneWG sync.WaitGroup
}

// New constructs a Store backed by adapter. Call Start to begin the
// eviction sweeper and the periodic snapshot worker.
func New(adapter storage.SnapshotAdapter, opts Options) *Store {
	return &Store{
		adapter:    adapter,
		opts:       opts,
		logger:     log.WithComponent("docstore"),
		documents:  make(map[types.DocumentKey]*entry),
		tombstoned: make(map[string]bool),
		stopCh:     make(chan struct{}),
	}
}

// SetDurabilityChecker wires a Cluster Coordinator's quorum-applied index
// into the periodic snapshot worker's Compact decisions. Left unset for a
// single-process deployment with no Coordinator.
func (s *Store) SetDurabilityChecker(d DurabilityChecker) {
	s.durability = d
}

// Start begins the background idle-eviction sweeper and, if
// Options.FlushInterval is nonzero, the periodic snapshot worker.
func (s *Store) Start() {
	s.doneWG.Add(1)
	go s.sweepLoop()

	if s.opts.FlushInterval > 0 {
		s.doneWG.Add(1)
		go s.flushLoop()
	}
}

// Stop halts the background workers and waits for them to exit.
func (s *Store) Stop() {
	close(s.stopCh)
	s.doneWG.Wait()
}

func (s *Store) sweepLoop() {
	defer s.doneWG.Done()
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

// flushLoop is the periodic snapshot worker: on each tick it flushes every
// dirty document through the Snapshot Adapter, then compacts whatever
// update-log entries that flush made safe to discard. Compacting is a
// separate call from Flush so a flush can happen without ever discarding
// log entries that are not yet known quorum-durable.
func (s *Store) flushLoop() {
	defer s.doneWG.Done()
	ticker := time.NewTicker(s.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.flushAndCompactDirty()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Store) flushAndCompactDirty() {
	s.mu.Lock()
	keys := make([]types.DocumentKey, 0, len(s.documents))
	for key, e := range s.documents {
		e.mu.Lock()
		dirty := e.dirty
		e.mu.Unlock()
		if dirty {
			keys = append(keys, key)
		}
	}
	s.mu.Unlock()

	ctx := context.Background()
	for _, key := range keys {
		if err := s.Flush(ctx, key); err != nil {
			log.WithDocumentKey(key.BucketID, key.Path).Warn().Err(err).Msg("periodic flush failed")
			continue
		}
		if err := s.Compact(key); err != nil {
			log.WithDocumentKey(key.BucketID, key.Path).Warn().Err(err).Msg("periodic compact failed")
		}
	}
}

func (s *Store) sweep() {
	now := time.Now()
	var evicted []types.DocumentKey

	s.mu.Lock()
	for key, e := range s.documents {
		e.mu.Lock()
		idle := e.subscriberCount == 0 && !e.dirty && now.Sub(e.lastActivity) > s.opts.IdleGrace
		e.mu.Unlock()
		if idle {
			delete(s.documents, key)
			evicted = append(evicted, key)
		}
	}
	active := len(s.documents)
	s.mu.Unlock()

	metrics.DocumentsActive.Set(float64(active))
	for _, key := range evicted {
		metrics.DocumentsEvictedTotal.Inc()
		log.WithDocumentKey(key.BucketID, key.Path).Debug().Msg("evicted idle document")
	}
}

// Attach returns the existing document for key or loads it from the
// Snapshot Adapter, incrementing its subscriber count. Concurrent attaches
// on the same key share one load.
func (s *Store) Attach(ctx context.Context, key types.DocumentKey) (types.Document, error) {
	if s.bucketTombstoned(key.BucketID) {
		return types.Document{}, fmt.Errorf("%w: bucket %s", types.ErrBucketClosed, key.BucketID)
	}

	s.mu.Lock()
	e, exists := s.documents[key]
	if !exists {
		e = &entry{key: key, ready: make(chan struct{})}
		s.documents[key] = e
	}
	s.mu.Unlock()

	if !exists {
		s.loadEntry(ctx, e)
		close(e.ready)
		if e.loadErr != nil {
			s.mu.Lock()
			delete(s.documents, key)
			s.mu.Unlock()
			return types.Document{}, e.loadErr
		}
		metrics.DocumentsActive.Inc()
	} else {
		<-e.ready
		if e.loadErr != nil {
			return types.Document{}, e.loadErr
		}
	}

	e.mu.Lock()
	e.subscriberCount++
	e.lastActivity = time.Now()
	doc := snapshotLocked(e)
	e.mu.Unlock()

	return doc, nil
}

func (s *Store) loadEntry(ctx context.Context, e *entry) {
	text, err := s.adapter.LoadText(ctx, e.key)
	if err != nil {
		e.loadErr = fmt.Errorf("%w: %v", types.ErrSnapshotUnavailable, err)
		return
	}
	e.replica = crdt.NewDocFromText(s.opts.ReplicaID, text)
	e.lastActivity = time.Now()
}

func snapshotLocked(e *entry) types.Document {
	return types.Document{
		Key:             e.key,
		Sequence:        e.seq,
		LastActivity:    e.lastActivity,
		SubscriberCount: e.subscriberCount,
		Dirty:           e.dirty,
	}
}

func (s *Store) lookup(key types.DocumentKey) (*entry, bool) {
	s.mu.Lock()
	e, ok := s.documents[key]
	s.mu.Unlock()
	return e, ok
}

func (s *Store) bucketTombstoned(bucketID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tombstoned[bucketID]
}

// Apply decodes and applies update to the document at key, under a single
// short in-memory lock, and returns the document's new sequence number.
// Equivalent to ApplyAt with a zero Raft index: the update was not
// replicated through the Cluster Coordinator, so its log entry is already
// considered durable once flushed (there is no quorum to wait on).
func (s *Store) Apply(ctx context.Context, key types.DocumentKey, update []byte, origin string) (uint64, error) {
	return s.ApplyAt(ctx, key, update, origin, 0)
}

// ApplyAt is Apply plus the Raft log index the update was committed at,
// called by the Cluster Coordinator's FSM. The index is recorded against
// the document's pending log entries so Compact can confirm quorum
// durability before discarding them.
func (s *Store) ApplyAt(ctx context.Context, key types.DocumentKey, update []byte, origin string, raftIndex uint64) (uint64, error) {
	if s.bucketTombstoned(key.BucketID) {
		return 0, fmt.Errorf("%w: bucket %s", types.ErrBucketClosed, key.BucketID)
	}

	e, ok := s.lookup(key)
	if !ok {
		return 0, types.ErrNotSubscribed
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ApplyDuration)

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.replica.Apply(update); err != nil {
		return 0, err
	}
	e.seq++
	e.log = append(e.log, update)
	if raftIndex > e.pendingRaftIndex {
		e.pendingRaftIndex = raftIndex
	}
	wasDirty := e.dirty
	e.dirty = true
	e.lastActivity = time.Now()
	_ = origin // origin tagging belongs to the Room Router's echo suppression, not CRDT state

	if !wasDirty {
		metrics.DocumentsDirty.Set(float64(atomic.AddInt64(&s.dirtyCount, 1)))
	}

	return e.seq, nil
}

// Snapshot returns the materialized text of the document at key.
func (s *Store) Snapshot(key types.DocumentKey) (string, error) {
	e, ok := s.lookup(key)
	if !ok {
		return "", types.ErrNotSubscribed
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.replica.Text(), nil
}

// EncodeState returns the document's full CRDT state, sent to a newly
// subscribed connection as the `document-state` payload.
func (s *Store) EncodeState(key types.DocumentKey) ([]byte, error) {
	e, ok := s.lookup(key)
	if !ok {
		return nil, types.ErrNotSubscribed
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.replica.EncodeState()
}

// Flush writes the document's materialized text through the Snapshot
// Adapter. Safe to call concurrently with Apply: the write observes a
// point-in-time snapshot, and the dirty flag is only cleared if no further
// apply raced the write. Flush never discards the update log itself — call
// Compact once the flushed entries are known safe to drop.
func (s *Store) Flush(ctx context.Context, key types.DocumentKey) error {
	e, ok := s.lookup(key)
	if !ok {
		return types.ErrNotSubscribed
	}

	e.mu.Lock()
	if !e.dirty {
		e.mu.Unlock()
		return nil
	}
	text := e.replica.Text()
	seqAtSnapshot := e.seq
	e.mu.Unlock()

	timer := metrics.NewTimer()
	err := s.adapter.SaveText(ctx, key, text)
	timer.ObserveDuration(metrics.FlushDuration)
	if err != nil {
		metrics.FlushFailuresTotal.Inc()
		return fmt.Errorf("%w: %v", types.ErrTransient, err)
	}

	e.mu.Lock()
	if e.seq == seqAtSnapshot {
		e.dirty = false
		e.flushedSeq = seqAtSnapshot
		metrics.DocumentsDirty.Set(float64(atomic.AddInt64(&s.dirtyCount, -1)))
	}
	e.mu.Unlock()
	return nil
}

// Compact discards a document's update log once it is safe to: the
// document must be clean (a Flush has already pushed its materialized
// text to the Snapshot Adapter), and, when a Cluster Coordinator is
// wired via SetDurabilityChecker, every entry currently in the log must
// be at or below the Coordinator's quorum-applied index. A document still
// dirty, or whose log outruns the quorum-applied index, is left
// untouched — the periodic snapshot worker simply retries on its next
// tick. Compact is deliberately separate from Flush so a caller can flush
// without compacting, keeping the log intact until it is quorum-durable.
func (s *Store) Compact(key types.DocumentKey) error {
	e, ok := s.lookup(key)
	if !ok {
		return types.ErrNotSubscribed
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dirty {
		return nil
	}
	if s.durability != nil && e.pendingRaftIndex > s.durability.QuorumAppliedIndex() {
		return nil
	}

	e.log = nil
	e.pendingRaftIndex = 0
	return nil
}

// FlushAllResult reports the outcome of a FlushAll pass.
type FlushAllResult struct {
	Flushed int
	Failed  map[types.DocumentKey]error
}

// FlushAll flushes every dirty document with bounded parallelism. Failures
// are collected and logged but never block other documents from flushing;
// invoked at shutdown.
func (s *Store) FlushAll(ctx context.Context) FlushAllResult {
	s.mu.Lock()
	keys := make([]types.DocumentKey, 0, len(s.documents))
	for key, e := range s.documents {
		e.mu.Lock()
		dirty := e.dirty
		e.mu.Unlock()
		if dirty {
			keys = append(keys, key)
		}
	}
	s.mu.Unlock()

	result := FlushAllResult{Failed: make(map[types.DocumentKey]error)}
	if len(keys) == 0 {
		return result
	}

	sem := make(chan struct{}, s.opts.FlushParallelism)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, key := range keys {
		wg.Add(1)
		sem <- struct{}{}
		go func(key types.DocumentKey) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := s.Flush(ctx, key); err != nil {
				mu.Lock()
				result.Failed[key] = err
				mu.Unlock()
				log.WithDocumentKey(key.BucketID, key.Path).Error().Err(err).Msg("flush failed during shutdown drain")
				return
			}
			mu.Lock()
			result.Flushed++
			mu.Unlock()
		}(key)
	}
	wg.Wait()
	return result
}

// Release decrements the subscriber count for key, making the document
// eligible for eviction once it is also clean and past the idle grace.
func (s *Store) Release(key types.DocumentKey) error {
	e, ok := s.lookup(key)
	if !ok {
		return types.ErrNotSubscribed
	}
	e.mu.Lock()
	if e.subscriberCount > 0 {
		e.subscriberCount--
	}
	e.lastActivity = time.Now()
	e.mu.Unlock()
	return nil
}

// LiveKeys returns the key of every document currently resident in memory,
// for the Cluster Coordinator's Raft snapshot.
func (s *Store) LiveKeys() []types.DocumentKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]types.DocumentKey, 0, len(s.documents))
	for key := range s.documents {
		keys = append(keys, key)
	}
	return keys
}

// SeedText materializes key directly from a Raft snapshot, bypassing the
// Snapshot Adapter: the object store already durably holds this text, so a
// restoring node can resume serving without a cold round-trip per document.
func (s *Store) SeedText(key types.DocumentKey, text string) {
	e := &entry{
		key:          key,
		replica:      crdt.NewDocFromText(s.opts.ReplicaID, text),
		lastActivity: time.Now(),
		ready:        make(chan struct{}),
	}
	close(e.ready)

	s.mu.Lock()
	s.documents[key] = e
	active := len(s.documents)
	s.mu.Unlock()
	metrics.DocumentsActive.Set(float64(active))
}

// Delete removes key from the store entirely, first clearing its
// materialized text through the Snapshot Adapter so a future Attach does
// not resurrect stale content. Used for file-tree-change deletes.
func (s *Store) Delete(ctx context.Context, key types.DocumentKey) error {
	if err := s.adapter.SaveText(ctx, key, ""); err != nil {
		return fmt.Errorf("%w: %v", types.ErrTransient, err)
	}
	s.mu.Lock()
	e, ok := s.documents[key]
	delete(s.documents, key)
	active := len(s.documents)
	s.mu.Unlock()
	if ok {
		e.mu.Lock()
		wasDirty := e.dirty
		e.mu.Unlock()
		if wasDirty {
			metrics.DocumentsDirty.Set(float64(atomic.AddInt64(&s.dirtyCount, -1)))
		}
	}
	metrics.DocumentsActive.Set(float64(active))
	return nil
}

// TombstoneBucket marks bucketID closed: every live document under it is
// evicted immediately (after a best-effort final flush) and further
// Attach/Apply calls for the bucket fail with ErrBucketClosed.
func (s *Store) TombstoneBucket(ctx context.Context, bucketID string) {
	s.mu.Lock()
	s.tombstoned[bucketID] = true
	var keys []types.DocumentKey
	for key := range s.documents {
		if key.BucketID == bucketID {
			keys = append(keys, key)
		}
	}
	s.mu.Unlock()

	for _, key := range keys {
		if err := s.Flush(ctx, key); err != nil {
			log.WithDocumentKey(key.BucketID, key.Path).Warn().Err(err).Msg("final flush failed before bucket tombstone eviction")
		}
		s.mu.Lock()
		e, ok := s.documents[key]
		delete(s.documents, key)
		s.mu.Unlock()
		if ok {
			e.mu.Lock()
			stillDirty := e.dirty
			e.mu.Unlock()
			if stillDirty {
				metrics.DocumentsDirty.Set(float64(atomic.AddInt64(&s.dirtyCount, -1)))
			}
		}
	}

	s.mu.Lock()
	active := len(s.documents)
	s.mu.Unlock()
	metrics.DocumentsActive.Set(float64(active))
}
