package cluster

import (
	"net"
	"testing"
	"time"

	"github.com/cuemby/ideengine/pkg/crdt"
	"github.com/cuemby/ideengine/pkg/types"
	"github.com/stretchr/testify/require"
)

func freeTCPAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func bootstrappedCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	store := newTestStore(t)

	c, err := New(Config{
		NodeID:   "node-1",
		BindAddr: freeTCPAddr(t),
		DataDir:  t.TempDir(),
	}, store)
	require.NoError(t, err)
	require.NoError(t, c.Bootstrap())

	require.Eventually(t, c.IsLeader, 5*time.Second, 20*time.Millisecond, "single-node coordinator should become leader")
	return c
}

func TestCoordinator_BootstrapSingleNodeBecomesLeader(t *testing.T) {
	c := bootstrappedCoordinator(t)
	require.True(t, c.IsLeader())
	require.NoError(t, c.Shutdown())
}

func TestCoordinator_ProposeCommitsToFSM(t *testing.T) {
	c := bootstrappedCoordinator(t)
	defer c.Shutdown()

	_, err := c.Propose(Command{Op: OpCreateDocument, BucketID: "b1", Path: "main.py"})
	require.NoError(t, err)

	doc := crdt.NewDoc("client")
	update, _, err := doc.InsertText(crdt.NodeID{}, "replicated")
	require.NoError(t, err)

	_, err = c.Propose(Command{Op: OpApplyUpdate, BucketID: "b1", Path: "main.py", Update: update, Origin: "conn-1"})
	require.NoError(t, err)

	text, err := c.fsm.store.Snapshot(types.DocumentKey{BucketID: "b1", Path: "main.py"})
	require.NoError(t, err)
	require.Equal(t, "replicated", text)
}

func TestCoordinator_NotStartedRejectsPropose(t *testing.T) {
	store := newTestStore(t)
	c, err := New(Config{NodeID: "node-1", BindAddr: freeTCPAddr(t), DataDir: t.TempDir()}, store)
	require.NoError(t, err)

	_, err = c.Propose(Command{Op: OpCreateDocument, BucketID: "b1", Path: "x"})
	require.Error(t, err)
}

func TestCoordinator_JoinTokenLifecycle(t *testing.T) {
	c := bootstrappedCoordinator(t)
	defer c.Shutdown()

	jt, err := c.GenerateJoinToken(time.Hour)
	require.NoError(t, err)
	require.NoError(t, c.ValidateJoinToken(jt.Token))
}
