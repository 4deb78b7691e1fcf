package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/cuemby/ideengine/pkg/docstore"
	"github.com/cuemby/ideengine/pkg/types"
	"github.com/hashicorp/raft"
)

// Command is one replicated state change, appended to the Raft log and
// applied to every node's Document Store exactly once.
type Command struct {
	Op       string `json:"op"`
	BucketID string `json:"bucket_id"`
	Path     string `json:"path,omitempty"`
	Update   []byte `json:"update,omitempty"`
	Origin   string `json:"origin,omitempty"`
}

const (
	OpApplyUpdate     = "apply-update"
	OpTombstoneBucket = "tombstone-bucket"
	OpCreateDocument  = "create-document"
	OpDeleteDocument  = "delete-document"
)

// documentFSM is the Raft finite state machine wrapping the Document Store.
// Apply dispatches each committed command into the Store's normal
// in-process operations, so the Store itself stays oblivious to whether it
// is running single-node or behind a Raft quorum.
type documentFSM struct {
	store *docstore.Store
}

func newDocumentFSM(store *docstore.Store) *documentFSM {
	return &documentFSM{store: store}
}

func (f *documentFSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("unmarshal command: %w", err)
	}

	ctx := context.Background()
	key := types.DocumentKey{BucketID: cmd.BucketID, Path: cmd.Path}

	switch cmd.Op {
	case OpApplyUpdate:
		_, err := f.store.ApplyAt(ctx, key, cmd.Update, cmd.Origin, log.Index)
		return err

	case OpTombstoneBucket:
		f.store.TombstoneBucket(ctx, cmd.BucketID)
		return nil

	case OpCreateDocument:
		_, err := f.store.Attach(ctx, key)
		return err

	case OpDeleteDocument:
		return f.store.Delete(ctx, key)

	default:
		return fmt.Errorf("unknown command op: %s", cmd.Op)
	}
}

// documentSnapshot is one document's materialized text, the unit a Raft
// snapshot carries. The update log itself is never snapshotted: the object
// store already durably holds materialized text, so a restoring node only
// needs enough to resume serving without a cold Snapshot Adapter round-trip
// for every document.
type documentSnapshot struct {
	BucketID string `json:"bucket_id"`
	Path     string `json:"path"`
	Text     string `json:"text"`
}

type fsmSnapshot struct {
	Documents []documentSnapshot `json:"documents"`
}

func (f *documentFSM) Snapshot() (raft.FSMSnapshot, error) {
	keys := f.store.LiveKeys()
	snap := fsmSnapshot{Documents: make([]documentSnapshot, 0, len(keys))}
	for _, key := range keys {
		text, err := f.store.Snapshot(key)
		if err != nil {
			continue // evicted between LiveKeys and Snapshot; the object store still holds it
		}
		snap.Documents = append(snap.Documents, documentSnapshot{
			BucketID: key.BucketID,
			Path:     key.Path,
			Text:     text,
		})
	}
	return &snap, nil
}

func (f *documentFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snap fsmSnapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("decode fsm snapshot: %w", err)
	}

	for _, doc := range snap.Documents {
		key := types.DocumentKey{BucketID: doc.BucketID, Path: doc.Path}
		f.store.SeedText(key, doc.Text)
	}
	return nil
}

// Persist writes the snapshot as JSON to the Raft snapshot sink.
func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	if err := json.NewEncoder(sink).Encode(s); err != nil {
		sink.Cancel()
		return fmt.Errorf("encode fsm snapshot: %w", err)
	}
	return sink.Close()
}

func (s *fsmSnapshot) Release() {}
