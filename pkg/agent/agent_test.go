package agent

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/ideengine/pkg/crdt"
	"github.com/cuemby/ideengine/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestAgent(t *testing.T, workspace string) *Agent {
	t.Helper()
	cfg := Config{
		WorkspacePath: workspace,
		BackendAPIURL: "http://example.invalid",
		BucketID:      "b1",
		ContainerID:   "container-a",
		ServiceToken:  "tok",
		MarkerPath:    filepath.Join(workspace, "initial-sync-complete"),
	}
	a, err := New(cfg)
	require.NoError(t, err)
	return a
}

func encodedInsert(t *testing.T, text string) string {
	t.Helper()
	d := crdt.NewDoc("server")
	update, _, err := d.InsertText(crdt.NodeID{}, text)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(update)
}

func encodedState(t *testing.T, text string) string {
	t.Helper()
	d := crdt.NewDoc("server")
	_, _, err := d.InsertText(crdt.NodeID{}, text)
	require.NoError(t, err)
	state, err := d.EncodeState()
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(state)
}

func TestAgent_DebounceCancelledByFilesystemEvent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.py"), []byte("old"), 0o644))

	a := newTestAgent(t, dir)

	a.handleRemoteUpdate(wireEnvelope{
		Kind:     wireKindUpdate,
		BucketID: "b1",
		FilePath: "main.py",
		Update:   encodedInsert(t, "server-text"),
	})

	ps := a.pathState("main.py")
	require.NotNil(t, ps.pendingWrite)

	// A filesystem event for the same path (terminal write) arrives before
	// the debounce fires — it must cancel the pending remote write.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.py"), []byte("typed-by-user"), 0o644))
	a.handleFSEvent("main.py", types.FileEventChange)
	require.Nil(t, ps.pendingWrite)

	// Give the (cancelled) timer time to have fired if cancellation failed.
	time.Sleep(300 * time.Millisecond)

	content, err := os.ReadFile(filepath.Join(dir, "main.py"))
	require.NoError(t, err)
	require.Equal(t, "typed-by-user", string(content))
}

func TestAgent_RemoteUpdateFlushesAfterDebounce(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.py"), []byte("old"), 0o644))

	a := newTestAgent(t, dir)
	a.handleRemoteUpdate(wireEnvelope{
		Kind:     wireKindUpdate,
		BucketID: "b1",
		FilePath: "main.py",
		Update:   encodedInsert(t, "server-text"),
	})

	select {
	case req := <-a.flushCh:
		a.flushPendingWrite(req.ps, req.path)
	case <-time.After(2 * time.Second):
		t.Fatal("debounced write never flushed")
	}

	content, err := os.ReadFile(filepath.Join(dir, "main.py"))
	require.NoError(t, err)
	require.Equal(t, "server-text", string(content))

	ps := a.pathState("main.py")
	require.True(t, ps.inQuietWindow(time.Now()))
}

func TestAgent_DocumentStateLocalWinsOnEmptyServer(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.py"), []byte("local content"), 0o644))

	a := newTestAgent(t, dir)
	a.handleDocumentState(wireEnvelope{
		Kind:     wireKindState,
		BucketID: "b1",
		FilePath: "main.py",
		State:    encodedState(t, ""),
	})

	// Local wins: the file on disk must be untouched.
	content, err := os.ReadFile(filepath.Join(dir, "main.py"))
	require.NoError(t, err)
	require.Equal(t, "local content", string(content))

	ps := a.pathState("main.py")
	require.Equal(t, statusSubscribedLive, ps.status)
}

func TestAgent_DocumentStateServerWinsWritesLocalFile(t *testing.T) {
	dir := t.TempDir()

	a := newTestAgent(t, dir)
	a.handleDocumentState(wireEnvelope{
		Kind:     wireKindState,
		BucketID: "b1",
		FilePath: "new-file.py",
		State:    encodedState(t, "from server"),
	})

	content, err := os.ReadFile(filepath.Join(dir, "new-file.py"))
	require.NoError(t, err)
	require.Equal(t, "from server", string(content))
}

func TestAgent_QuietWindowSuppressesEcho(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.py"), []byte("content"), 0o644))

	a := newTestAgent(t, dir)
	ps := a.pathState("main.py")
	before := ps.doc.Text()

	require.NoError(t, a.writeFileQuiet(ps, filepath.Join(dir, "main.py"), "content"))
	require.True(t, ps.inQuietWindow(time.Now()))

	// A filesystem event arriving inside the quiet window must be dropped
	// without mutating the CRDT replica.
	a.handleFSEvent("main.py", types.FileEventChange)
	require.Equal(t, before, ps.doc.Text())
}

func TestAgent_InitialSyncCompletesWhenStartupListEmpty(t *testing.T) {
	dir := t.TempDir()
	a := newTestAgent(t, dir)
	a.seedStartupList(nil)

	select {
	case <-a.InitialSyncDone():
	default:
		t.Fatal("initial sync should complete immediately for an empty startup list")
	}

	marker, err := os.ReadFile(a.cfg.MarkerPath)
	require.NoError(t, err)
	require.NotEmpty(t, marker)
}

func TestAgent_InitialSyncCompletesAfterAllStartupPathsProcessed(t *testing.T) {
	dir := t.TempDir()
	a := newTestAgent(t, dir)
	a.seedStartupList([]string{"a.py", "b.py"})

	select {
	case <-a.InitialSyncDone():
		t.Fatal("initial sync should not be complete yet")
	default:
	}

	a.handleDocumentState(wireEnvelope{Kind: wireKindState, BucketID: "b1", FilePath: "a.py", State: encodedState(t, "")})
	select {
	case <-a.InitialSyncDone():
		t.Fatal("initial sync should not be complete until every path is processed")
	default:
	}

	a.handleDocumentState(wireEnvelope{Kind: wireKindState, BucketID: "b1", FilePath: "b.py", State: encodedState(t, "")})
	select {
	case <-a.InitialSyncDone():
	default:
		t.Fatal("initial sync should be complete once every startup path has a document-state")
	}
}
