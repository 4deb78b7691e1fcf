package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cuemby/ideengine/pkg/auth"
	"github.com/cuemby/ideengine/pkg/crdt"
	"github.com/cuemby/ideengine/pkg/docstore"
	"github.com/cuemby/ideengine/pkg/room"
	"github.com/cuemby/ideengine/pkg/types"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func insertUpdate(t *testing.T, text string) []byte {
	t.Helper()
	d := crdt.NewDoc("peer-a")
	update, _, err := d.InsertText(crdt.NodeID{}, text)
	require.NoError(t, err)
	return update
}

type endpointFakeAdapter struct {
	texts map[types.DocumentKey]string
}

func newEndpointFakeAdapter() *endpointFakeAdapter {
	return &endpointFakeAdapter{texts: make(map[types.DocumentKey]string)}
}

func (f *endpointFakeAdapter) LoadText(ctx context.Context, key types.DocumentKey) (string, error) {
	return f.texts[key], nil
}
func (f *endpointFakeAdapter) SaveText(ctx context.Context, key types.DocumentKey, text string) error {
	f.texts[key] = text
	return nil
}
func (f *endpointFakeAdapter) ListPaths(ctx context.Context, bucket types.BucketHandle) ([]string, error) {
	return nil, nil
}
func (f *endpointFakeAdapter) Clone(ctx context.Context, src types.BucketHandle, newName string) (types.BucketHandle, error) {
	return types.BucketHandle{}, nil
}
func (f *endpointFakeAdapter) Tombstone(ctx context.Context, bucket types.BucketHandle) error {
	return nil
}
func (f *endpointFakeAdapter) Close() error { return nil }

func newTestEndpoint(t *testing.T) (*Endpoint, *auth.TokenManager) {
	t.Helper()
	store := docstore.New(newEndpointFakeAdapter(), docstore.DefaultOptions())
	store.Start()
	t.Cleanup(store.Stop)

	router := room.New(room.Options{ShardCount: 2})
	t.Cleanup(router.Stop)

	tokens := auth.NewTokenManager()

	opts := DefaultOptions()
	opts.HandlerTimeout = time.Second
	opts.IncomingRateLimit = rate.Limit(1000)
	opts.IncomingBurst = 1000

	return New(store, router, tokens, opts), tokens
}

func dialConn(t *testing.T, server *httptest.Server, kind types.PeerKind, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/?kind=" + string(kind) + "&token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn, timeout time.Duration) envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var e envelope
	require.NoError(t, json.Unmarshal(raw, &e))
	return e
}

func sendEnvelope(t *testing.T, conn *websocket.Conn, e envelope) {
	t.Helper()
	b, err := json.Marshal(e)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, b))
}

func TestEndpoint_SubscribeReturnsDocumentState(t *testing.T) {
	ep, tokens := newTestEndpoint(t)
	server := httptest.NewServer(ep)
	defer server.Close()

	st, err := tokens.IssueContainerAgentToken("b1", "container-1", time.Hour)
	require.NoError(t, err)

	conn := dialConn(t, server, types.PeerKindContainerAgent, st.Token)
	defer conn.Close()

	sendEnvelope(t, conn, envelope{Kind: KindSubscribeDocument, BucketID: "b1", FilePath: "main.py"})

	resp := readEnvelope(t, conn, 2*time.Second)
	require.Equal(t, KindDocumentState, resp.Kind)
	require.Equal(t, "b1", resp.BucketID)
	require.Equal(t, "main.py", resp.FilePath)
}

func TestEndpoint_UpdateIsSuppressedForOriginButDeliveredToOthers(t *testing.T) {
	ep, tokens := newTestEndpoint(t)
	server := httptest.NewServer(ep)
	defer server.Close()

	stA, err := tokens.IssueContainerAgentToken("b1", "agent-a", time.Hour)
	require.NoError(t, err)
	stB, err := tokens.IssueContainerAgentToken("b1", "agent-b", time.Hour)
	require.NoError(t, err)

	connA := dialConn(t, server, types.PeerKindContainerAgent, stA.Token)
	defer connA.Close()
	connB := dialConn(t, server, types.PeerKindContainerAgent, stB.Token)
	defer connB.Close()

	sendEnvelope(t, connA, envelope{Kind: KindSubscribeDocument, BucketID: "b1", FilePath: "main.py"})
	readEnvelope(t, connA, 2*time.Second)
	sendEnvelope(t, connB, envelope{Kind: KindSubscribeDocument, BucketID: "b1", FilePath: "main.py"})
	readEnvelope(t, connB, 2*time.Second)

	update := base64.StdEncoding.EncodeToString(insertUpdate(t, "hello"))
	sendEnvelope(t, connA, envelope{Kind: KindYjsUpdate, BucketID: "b1", FilePath: "main.py", Update: update})

	// connB must receive the broadcast update.
	_ = connB.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := connB.ReadMessage()
	require.NoError(t, err)
	var got envelope
	require.NoError(t, json.Unmarshal(raw, &got))
	require.Equal(t, KindYjsUpdate, got.Kind)

	// connA (the origin) must not receive its own update back.
	_ = connA.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err = connA.ReadMessage()
	require.Error(t, err)
}

func TestEndpoint_ContainerTokenCannotTouchOtherBucket(t *testing.T) {
	ep, tokens := newTestEndpoint(t)
	server := httptest.NewServer(ep)
	defer server.Close()

	st, err := tokens.IssueContainerAgentToken("b1", "agent-a", time.Hour)
	require.NoError(t, err)

	conn := dialConn(t, server, types.PeerKindContainerAgent, st.Token)
	defer conn.Close()

	sendEnvelope(t, conn, envelope{Kind: KindSubscribeDocument, BucketID: "b2", FilePath: "main.py"})

	resp := readEnvelope(t, conn, 2*time.Second)
	require.Equal(t, KindError, resp.Kind)
	require.Equal(t, "unauthorized", resp.Code)
}

func TestEndpoint_MissingTokenIsRejectedAtHandshake(t *testing.T) {
	ep, _ := newTestEndpoint(t)
	server := httptest.NewServer(ep)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/?kind=container-agent"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, 401, resp.StatusCode)
}

type fakeProposer struct {
	updates int
	deletes int
	creates int
}

func (f *fakeProposer) ProposeUpdate(bucketID, path string, update []byte, origin string) error {
	f.updates++
	return nil
}
func (f *fakeProposer) ProposeDelete(bucketID, path string) error {
	f.deletes++
	return nil
}
func (f *fakeProposer) ProposeCreate(bucketID, path string) error {
	f.creates++
	return nil
}

func TestEndpoint_WithProposerRoutesMutationsThroughIt(t *testing.T) {
	ep, tokens := newTestEndpoint(t)
	proposer := &fakeProposer{}
	ep.SetProposer(proposer)
	server := httptest.NewServer(ep)
	defer server.Close()

	st, err := tokens.IssueContainerAgentToken("b1", "agent-a", time.Hour)
	require.NoError(t, err)
	conn := dialConn(t, server, types.PeerKindContainerAgent, st.Token)
	defer conn.Close()

	sendEnvelope(t, conn, envelope{Kind: KindSubscribeDocument, BucketID: "b1", FilePath: "main.py"})
	readEnvelope(t, conn, 2*time.Second)

	update := base64.StdEncoding.EncodeToString(insertUpdate(t, "hello"))
	sendEnvelope(t, conn, envelope{Kind: KindYjsUpdate, BucketID: "b1", FilePath: "main.py", Update: update})

	require.Eventually(t, func() bool { return proposer.updates == 1 }, 2*time.Second, 10*time.Millisecond)

	sendEnvelope(t, conn, envelope{Kind: KindFileTreeChange, BucketID: "b1", FilePath: "other.py", Action: FileTreeCreate})
	require.Eventually(t, func() bool { return proposer.creates == 1 }, 2*time.Second, 10*time.Millisecond)

	sendEnvelope(t, conn, envelope{Kind: KindFileTreeChange, BucketID: "b1", FilePath: "other.py", Action: FileTreeDelete})
	require.Eventually(t, func() bool { return proposer.deletes == 1 }, 2*time.Second, 10*time.Millisecond)
}
