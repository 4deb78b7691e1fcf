package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/cuemby/ideengine/pkg/crdt"
	"github.com/cuemby/ideengine/pkg/docstore"
	"github.com/cuemby/ideengine/pkg/storage"
	"github.com/cuemby/ideengine/pkg/types"
	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *docstore.Store {
	t.Helper()
	adapter, err := storage.NewFilesystemAdapter(t.TempDir())
	require.NoError(t, err)
	return docstore.New(adapter, docstore.DefaultOptions())
}

func raftLog(t *testing.T, cmd Command) *raft.Log {
	t.Helper()
	data, err := json.Marshal(cmd)
	require.NoError(t, err)
	return &raft.Log{Data: data}
}

func TestDocumentFSM_ApplyCreateThenApplyUpdate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	key := types.DocumentKey{BucketID: "b1", Path: "main.py"}

	fsm := newDocumentFSM(store)

	result := fsm.Apply(raftLog(t, Command{Op: OpCreateDocument, BucketID: "b1", Path: "main.py"}))
	require.Nil(t, result)

	doc := crdt.NewDoc("client")
	update, _, err := doc.InsertText(crdt.NodeID{}, "hello")
	require.NoError(t, err)

	result = fsm.Apply(raftLog(t, Command{Op: OpApplyUpdate, BucketID: "b1", Path: "main.py", Update: update, Origin: "conn-1"}))
	require.Nil(t, result)

	text, err := store.Snapshot(key)
	require.NoError(t, err)
	require.Equal(t, "hello", text)
	_ = ctx
}

func TestDocumentFSM_SnapshotAndRestoreRoundTrips(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	key := types.DocumentKey{BucketID: "b1", Path: "main.py"}

	_, err := store.Attach(ctx, key)
	require.NoError(t, err)

	doc := crdt.NewDoc("client")
	update, _, err := doc.InsertText(crdt.NodeID{}, "snapshot-me")
	require.NoError(t, err)
	_, err = store.Apply(ctx, key, update, "conn-1")
	require.NoError(t, err)

	fsm := newDocumentFSM(store)
	snap, err := fsm.Snapshot()
	require.NoError(t, err)

	fsmSnap, ok := snap.(*fsmSnapshot)
	require.True(t, ok)
	require.Len(t, fsmSnap.Documents, 1)
	require.Equal(t, "snapshot-me", fsmSnap.Documents[0].Text)

	restoreInto := newTestStore(t)
	restoreFSM := newDocumentFSM(restoreInto)

	data, err := json.Marshal(fsmSnap)
	require.NoError(t, err)
	require.NoError(t, restoreFSM.Restore(io.NopCloser(bytes.NewReader(data))))

	restoredText, err := restoreInto.Snapshot(key)
	require.NoError(t, err)
	require.Equal(t, "snapshot-me", restoredText)
}

func TestDocumentFSM_ApplyTombstoneBucketRejectsFurtherAttach(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	key := types.DocumentKey{BucketID: "b1", Path: "main.py"}

	_, err := store.Attach(ctx, key)
	require.NoError(t, err)

	fsm := newDocumentFSM(store)
	result := fsm.Apply(raftLog(t, Command{Op: OpTombstoneBucket, BucketID: "b1"}))
	require.Nil(t, result)

	_, err = store.Attach(ctx, key)
	require.ErrorIs(t, err, types.ErrBucketClosed)
}

func TestDocumentFSM_ApplyUnknownOpReturnsError(t *testing.T) {
	store := newTestStore(t)
	fsm := newDocumentFSM(store)
	result := fsm.Apply(raftLog(t, Command{Op: "not-a-real-op"}))
	require.Error(t, result.(error))
}
