package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/ideengine/pkg/types"
	"github.com/gorilla/websocket"
)

// connState is a Connection's position in the state machine described in
// the package doc: handshake -> authenticated -> subscribed -> closed.
// subscribed is not a distinct atomic state here — a connection is
// "subscribed" exactly when its subscriptions set is non-empty — so only
// three values are tracked.
type connState int32

const (
	stateHandshake connState = iota
	stateAuthenticated
	stateClosed
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // 1MiB: generous for a single CRDT update or state blob
)

// Connection is one authenticated, long-lived stream attached to the
// Session Endpoint. Grounded on the teacher pack's websocket Client
// (readPump/writePump over a conn + buffered send channel), generalized
// with the peer-kind/token-scope bookkeeping spec.md's authentication
// model requires.
type Connection struct {
	ID         string
	Kind       types.PeerKind
	Identity   string
	TokenScope string // bucket id the connection's token is bound to; "" for unscoped service tokens

	conn        *websocket.Conn
	outbound    chan []byte
	connectedAt time.Time

	state     atomic.Int32 // connState
	closeOnce sync.Once

	subMu         sync.Mutex
	subscriptions map[types.DocumentKey]types.SubscriptionRole
}

func newConnection(id string, kind types.PeerKind, identity, tokenScope string, conn *websocket.Conn, queueDepth int) *Connection {
	c := &Connection{
		ID:            id,
		Kind:          kind,
		Identity:      identity,
		TokenScope:    tokenScope,
		conn:          conn,
		outbound:      make(chan []byte, queueDepth),
		connectedAt:   time.Now(),
		subscriptions: make(map[types.DocumentKey]types.SubscriptionRole),
	}
	c.state.Store(int32(stateAuthenticated))
	return c
}

func (c *Connection) markClosed() {
	c.state.Store(int32(stateClosed))
}

// closeOutbound closes the outbound queue exactly once, waking writePump
// so it can tear the underlying connection down. Safe to call concurrently
// from the handler-timeout path and the slow-consumer watcher.
func (c *Connection) closeOutbound() {
	c.closeOnce.Do(func() {
		c.markClosed()
		close(c.outbound)
	})
}

func (c *Connection) addSubscription(key types.DocumentKey, role types.SubscriptionRole) {
	c.subMu.Lock()
	c.subscriptions[key] = role
	c.subMu.Unlock()
}

func (c *Connection) removeSubscription(key types.DocumentKey) {
	c.subMu.Lock()
	delete(c.subscriptions, key)
	c.subMu.Unlock()
}

func (c *Connection) roleFor(key types.DocumentKey) (types.SubscriptionRole, bool) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	role, ok := c.subscriptions[key]
	return role, ok
}

// subscribedKeys returns a snapshot of every key the connection currently
// holds, used to unwind subscriptions on disconnect.
func (c *Connection) subscribedKeys() []types.DocumentKey {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	keys := make([]types.DocumentKey, 0, len(c.subscriptions))
	for k := range c.subscriptions {
		keys = append(keys, k)
	}
	return keys
}

// send enqueues a message for delivery, returning false if the outbound
// queue is full. The caller (the Endpoint's slow-consumer watcher) is
// responsible for tearing the connection down on false.
func (c *Connection) send(b []byte) bool {
	select {
	case c.outbound <- b:
		return true
	default:
		return false
	}
}

// readPump reads frames off the websocket and hands each one to handle.
// Exactly one goroutine per connection calls this. Grounded on the
// read-loop shape in the pack's websocket handlers: set a read deadline,
// extend it on every pong, break the loop on any read error.
func (c *Connection) readPump(handle func([]byte)) {
	defer func() {
		c.markClosed()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		handle(message)
	}
}

// writePump drains the outbound queue onto the websocket and keeps the
// connection alive with periodic pings. Exactly one goroutine per
// connection calls this — gorilla/websocket requires a single writer.
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.outbound:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
