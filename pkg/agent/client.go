package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cuemby/ideengine/pkg/log"
	"github.com/cuemby/ideengine/pkg/metrics"
	"github.com/cuemby/ideengine/pkg/types"
	"github.com/gorilla/websocket"
)

// wireEnvelope mirrors the Session Endpoint's wire envelope. The agent
// speaks the same JSON shape as a client would, without importing pkg/session
// (which would pull in the whole server-side store/router/auth stack for a
// client that only ever sends and receives JSON frames).
type wireEnvelope struct {
	Kind     string `json:"kind"`
	BucketID string `json:"bucketId,omitempty"`
	FilePath string `json:"filePath,omitempty"`
	State    string `json:"state,omitempty"`
	Update   string `json:"update,omitempty"`
	Action   string `json:"action,omitempty"`
	Code     string `json:"code,omitempty"`
	Message  string `json:"message,omitempty"`
}

const (
	wireKindSubscribe   = "subscribe-document"
	wireKindUnsubscribe = "unsubscribe-document"
	wireKindState       = "document-state"
	wireKindUpdate      = "yjs-update"
	wireKindFileTree    = "file-tree-change"
	wireKindError       = "error"
)

// backoff implements bounded-delay exponential backoff for reconnection
// attempts. Grounded on the pack's Sentinel agent backoff helper: 1s, 2s,
// 4s, ... capped at maxDelay, reset after a long-lived session.
type backoff struct {
	attempt  int
	base     time.Duration
	maxDelay time.Duration
}

func newBackoff() *backoff {
	return &backoff{base: time.Second, maxDelay: 30 * time.Second}
}

func (b *backoff) next() time.Duration {
	shift := b.attempt
	if shift > 30 {
		shift = 30
	}
	delay := b.base << uint(shift)
	if delay > b.maxDelay || delay < 0 {
		delay = b.maxDelay
	}
	b.attempt++
	return delay
}

func (b *backoff) reset() {
	b.attempt = 0
}

// client owns the single WebSocket connection to the Session Endpoint for
// the agent's lifetime, including reconnect-with-backoff. Grounded on the
// pack's Sentinel agent session loop, generalized from gRPC streams to a
// JSON WebSocket connection speaking the document-sync wire protocol.
type client struct {
	backendURL string
	bucketID   string
	token      string

	mu   sync.Mutex
	conn *websocket.Conn
}

func newClient(backendURL, bucketID, token string) *client {
	return &client{backendURL: backendURL, bucketID: bucketID, token: token}
}

// dialURL builds the WebSocket URL the session endpoint listens on, mapping
// an http(s) backend URL to ws(s) and carrying kind/token as query
// parameters (the fallback the Session Endpoint accepts for clients that
// cannot set an Authorization header on the upgrade request).
func (c *client) dialURL() (string, error) {
	u, err := url.Parse(c.backendURL)
	if err != nil {
		return "", fmt.Errorf("parse backend url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported backend url scheme %q", u.Scheme)
	}
	q := u.Query()
	q.Set("kind", string(types.PeerKindContainerAgent))
	q.Set("token", c.token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// connect dials the Session Endpoint once. Does not retry — callers run
// this inside the runSessions reconnect loop.
func (c *client) connect(ctx context.Context) error {
	target, err := c.dialURL()
	if err != nil {
		return err
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dial session endpoint: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *client) send(env wireEnvelope) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (c *client) subscribe(filePath string) error {
	return c.send(wireEnvelope{Kind: wireKindSubscribe, BucketID: c.bucketID, FilePath: filePath})
}

// readLoop blocks reading frames and handing each decoded envelope to
// handle, returning when the connection errors or closes. Runs on the
// single goroutine runSessions spawns per connection attempt.
func (c *client) readLoop(handle func(wireEnvelope)) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var env wireEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			log.WithComponent("agent.client").Warn().Err(err).Msg("malformed frame from session endpoint, skipping")
			continue
		}
		handle(env)
	}
}

// runSessions drives the reconnect loop: connect, run one session until it
// errors, back off, repeat — forever, per spec.md §4.5's "never exit due to
// server unreachability" failure semantic. onConnected is called with a
// fresh client on every successful connect, to re-run the subscribe sweep.
func runSessions(ctx context.Context, c *client, onConnected func(*client), handle func(wireEnvelope)) {
	bo := newBackoff()
	compLog := log.WithComponent("agent.client")

	for {
		if ctx.Err() != nil {
			return
		}

		start := time.Now()
		err := func() error {
			if connErr := c.connect(ctx); connErr != nil {
				return connErr
			}
			defer c.close()
			onConnected(c)
			return c.readLoop(handle)
		}()

		if ctx.Err() != nil {
			return
		}

		metrics.ReconnectsTotal.Inc()
		if time.Since(start) > time.Minute {
			bo.reset()
		}
		wait := bo.next()
		compLog.Warn().Err(err).Dur("backoff", wait).Msg("session endpoint connection lost, reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}
