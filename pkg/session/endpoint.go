package session

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cuemby/ideengine/pkg/auth"
	"github.com/cuemby/ideengine/pkg/docstore"
	"github.com/cuemby/ideengine/pkg/log"
	"github.com/cuemby/ideengine/pkg/metrics"
	"github.com/cuemby/ideengine/pkg/room"
	"github.com/cuemby/ideengine/pkg/types"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Options configures an Endpoint.
type Options struct {
	// OutboundQueueDepth bounds each connection's outgoing queue. Exceeding
	// it disconnects the connection per spec.md's back-pressure policy.
	OutboundQueueDepth int
	// HandlerTimeout bounds how long a single inbound message's handler may
	// run before the connection is dropped with ErrHandlerTimeout.
	HandlerTimeout time.Duration
	// IncomingRateLimit and IncomingBurst bound inbound messages per
	// connection; excess messages are dropped with a typed reject rather
	// than processed.
	IncomingRateLimit rate.Limit
	IncomingBurst     int
	// Authorizer resolves browser session tokens to a user id and decides
	// bucket access. Browser connections are rejected with ErrUnauthorized
	// if this is nil — identity/session validation for browsers is an
	// external collaborator this engine does not implement.
	Authorizer auth.ExternalAuthorizer
}

func DefaultOptions() Options {
	return Options{
		OutboundQueueDepth: 256,
		HandlerTimeout:     5 * time.Second,
		IncomingRateLimit:  rate.Limit(50),
		IncomingBurst:      100,
	}
}

// ClusterProposer routes document mutations through the Cluster
// Coordinator's replicated command log instead of applying them to the
// Document Store directly. Satisfied by *cluster.Coordinator; left nil the
// Endpoint applies to the Document Store in-process, which is exactly
// correct for a single-node deployment (the Coordinator's own default).
type ClusterProposer interface {
	ProposeUpdate(bucketID, path string, update []byte, origin string) error
	ProposeDelete(bucketID, path string) error
	ProposeCreate(bucketID, path string) error
}

// Endpoint is the Session Endpoint: the per-connection protocol driver that
// authenticates peers, decodes wire messages, and dispatches them against
// the Document Store and the Room Router. Constructed once at startup and
// threaded explicitly through its HTTP handler, per spec.md's module-level
// singleton rearchitecture (see DESIGN.md).
type Endpoint struct {
	store    *docstore.Store
	router   *room.Router
	tokens   *auth.TokenManager
	opts     Options
	logger   zerolog.Logger
	proposer ClusterProposer // nil on a single-node deployment with no Cluster Coordinator

	upgrader websocket.Upgrader

	connsMu sync.Mutex
	conns   map[string]*Connection
}

// SetProposer wires the Endpoint to replicate mutations through a Cluster
// Coordinator rather than applying them to the Document Store directly.
// Called once at startup before the Endpoint serves any connection.
func (ep *Endpoint) SetProposer(p ClusterProposer) {
	ep.proposer = p
}

// New constructs an Endpoint over store, router, and tokens.
func New(store *docstore.Store, router *room.Router, tokens *auth.TokenManager, opts Options) *Endpoint {
	ep := &Endpoint{
		store:  store,
		router: router,
		tokens: tokens,
		opts:   opts,
		logger: log.WithComponent("session"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns: make(map[string]*Connection),
	}
	go ep.watchSlowConsumers()
	return ep
}

func (ep *Endpoint) watchSlowConsumers() {
	for evt := range ep.router.SlowConsumers() {
		ep.connsMu.Lock()
		conn, ok := ep.conns[evt.ConnectionID]
		ep.connsMu.Unlock()
		if !ok {
			continue
		}
		log.WithConnectionID(evt.ConnectionID).Warn().
			Str("bucket_id", evt.Key.BucketID).Str("path", evt.Key.Path).
			Msg("disconnecting slow consumer")
		metrics.ConnectionsDisconnectedTotal.WithLabelValues("slow_consumer").Inc()
		ep.closeConnection(conn)
	}
}

// ServeHTTP upgrades the request to a websocket and runs the connection's
// lifecycle to completion. Blocks until the connection closes.
func (ep *Endpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	kind, identity, tokenScope, err := ep.authenticate(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	wsConn, err := ep.upgrader.Upgrade(w, r, nil)
	if err != nil {
		ep.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := newConnection(uuid.New().String(), kind, identity, tokenScope, wsConn, ep.opts.OutboundQueueDepth)
	ep.registerConnection(conn)
	metrics.ConnectionsTotal.WithLabelValues(string(kind)).Inc()

	log.WithConnectionID(conn.ID).Info().
		Str("peer_kind", string(kind)).Str("identity", identity).Str("token_scope", tokenScope).
		Msg("connection authenticated")

	go conn.writePump()

	limiter := rate.NewLimiter(ep.opts.IncomingRateLimit, ep.opts.IncomingBurst)
	conn.readPump(func(raw []byte) {
		if !limiter.Allow() {
			conn.send(encodeError(types.DocumentKey{}, fmt.Errorf("%w: incoming rate limit exceeded", types.ErrTransient)))
			return
		}
		ep.dispatch(conn, raw)
	})

	ep.teardownConnection(conn)
}

func (ep *Endpoint) registerConnection(conn *Connection) {
	ep.connsMu.Lock()
	ep.conns[conn.ID] = conn
	ep.connsMu.Unlock()
}

func (ep *Endpoint) closeConnection(conn *Connection) {
	conn.closeOutbound()
}

// teardownConnection runs once a connection's readPump returns: it releases
// every document the connection held and forgets the connection.
func (ep *Endpoint) teardownConnection(conn *Connection) {
	for _, key := range conn.subscribedKeys() {
		ep.router.Leave(key, conn.ID)
		_ = ep.store.Release(key)
	}
	ep.connsMu.Lock()
	delete(ep.conns, conn.ID)
	ep.connsMu.Unlock()
	metrics.ConnectionsDisconnectedTotal.WithLabelValues("disconnect").Inc()
	log.WithConnectionID(conn.ID).Info().Msg("connection closed")
}

// authenticate resolves the handshake's bearer token and declared peer kind
// into an identity and a bucket scope. Container-agent and service peers
// carry tokens issued by the TokenManager; browser peers are delegated to
// the configured ExternalAuthorizer.
func (ep *Endpoint) authenticate(r *http.Request) (types.PeerKind, string, string, error) {
	kind := types.PeerKind(r.URL.Query().Get("kind"))
	token := bearerToken(r)
	if token == "" {
		return "", "", "", fmt.Errorf("%w: missing bearer token", types.ErrUnauthorized)
	}

	switch kind {
	case types.PeerKindContainerAgent, types.PeerKindService:
		st, err := ep.tokens.Validate(token)
		if err != nil {
			return "", "", "", err
		}
		if st.Kind != kind {
			return "", "", "", fmt.Errorf("%w: token kind %q does not match declared peer kind %q", types.ErrUnauthorized, st.Kind, kind)
		}
		return st.Kind, st.Identity, st.BucketID, nil

	case types.PeerKindBrowser:
		if ep.opts.Authorizer == nil {
			return "", "", "", fmt.Errorf("%w: no browser authorizer configured", types.ErrUnauthorized)
		}
		userID, err := ep.opts.Authorizer.AuthorizeBrowser(r.Context(), token)
		if err != nil {
			return "", "", "", fmt.Errorf("%w: %v", types.ErrUnauthorized, err)
		}
		return types.PeerKindBrowser, userID, "", nil

	default:
		return "", "", "", fmt.Errorf("%w: unrecognized peer kind %q", types.ErrUnauthorized, kind)
	}
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return r.URL.Query().Get("token")
}

// dispatch decodes one inbound frame and routes it to its handler under a
// bounded deadline. A panic-free, error-typed handler: failures are
// reported to this connection only, never torn down except for the kinds
// spec.md's error taxonomy marks connection-fatal.
func (ep *Endpoint) dispatch(conn *Connection, raw []byte) {
	env, err := decodeEnvelope(raw)
	if err != nil {
		conn.send(encodeError(types.DocumentKey{}, err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), ep.opts.HandlerTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- ep.handle(ctx, conn, env) }()

	select {
	case err := <-done:
		if err != nil {
			ep.reportHandlerError(conn, env, err)
		}
	case <-ctx.Done():
		log.WithConnectionID(conn.ID).Warn().
			Str("kind", string(env.Kind)).Msg("handler exceeded budget, closing connection")
		metrics.ConnectionsDisconnectedTotal.WithLabelValues("handler_timeout").Inc()
		conn.send(encodeError(env.key(), types.ErrHandlerTimeout))
		ep.closeConnection(conn)
	}
}

func (ep *Endpoint) reportHandlerError(conn *Connection, env envelope, err error) {
	decision := "rejected"
	fatal := false
	switch {
	case types.WireErrorCode(err) == "unauthorized", types.WireErrorCode(err) == "slow_consumer":
		fatal = true
	}

	log.WithConnectionID(conn.ID).Warn().
		Str("kind", string(env.Kind)).Str("bucket_id", env.BucketID).Str("path", env.FilePath).
		Str("code", types.WireErrorCode(err)).Str("decision", decision).Bool("fatal", fatal).
		Msg("access decision")

	conn.send(encodeError(env.key(), err))
	if fatal {
		ep.closeConnection(conn)
	}
}

// handle executes one message kind's business logic. ctx carries the
// per-message handler deadline.
func (ep *Endpoint) handle(ctx context.Context, conn *Connection, env envelope) error {
	switch env.Kind {
	case KindSubscribeDocument:
		return ep.handleSubscribe(ctx, conn, env)
	case KindUnsubscribeDocument:
		return ep.handleUnsubscribe(conn, env)
	case KindYjsUpdate:
		return ep.handleUpdate(ctx, conn, env)
	case KindFileTreeChange:
		return ep.handleFileTreeChange(ctx, conn, env)
	default:
		return fmt.Errorf("%w: unrecognized message kind %q", types.ErrMalformedUpdate, env.Kind)
	}
}

func (ep *Endpoint) checkScope(conn *Connection, bucketID string) (types.SubscriptionRole, error) {
	switch conn.Kind {
	case types.PeerKindContainerAgent:
		if err := auth.CheckScope(conn.Kind, conn.TokenScope, bucketID); err != nil {
			return "", err
		}
		return types.RoleWatcher, nil
	case types.PeerKindService:
		return types.RoleWatcher, nil
	case types.PeerKindBrowser:
		if ep.opts.Authorizer == nil {
			return "", fmt.Errorf("%w: no browser authorizer configured", types.ErrUnauthorized)
		}
		role, err := ep.opts.Authorizer.CanAccessBucket(context.Background(), conn.Identity, bucketID)
		if err != nil {
			return "", fmt.Errorf("%w: %v", types.ErrUnauthorized, err)
		}
		return role, nil
	default:
		return "", fmt.Errorf("%w: unknown peer kind", types.ErrUnauthorized)
	}
}

func (ep *Endpoint) handleSubscribe(ctx context.Context, conn *Connection, env envelope) error {
	role, err := ep.checkScope(conn, env.BucketID)
	if err != nil {
		return err
	}
	key := env.key()

	if _, err := ep.store.Attach(ctx, key); err != nil {
		return err
	}
	ep.router.Join(key, conn.ID, role, conn.outbound)
	conn.addSubscription(key, role)

	state, err := ep.store.EncodeState(key)
	if err != nil {
		return err
	}
	conn.send(encodeDocumentState(key, state))
	return nil
}

func (ep *Endpoint) handleUnsubscribe(conn *Connection, env envelope) error {
	key := env.key()
	if _, ok := conn.roleFor(key); !ok {
		return types.ErrNotSubscribed
	}
	ep.router.Leave(key, conn.ID)
	_ = ep.store.Release(key)
	conn.removeSubscription(key)
	return nil
}

func (ep *Endpoint) handleUpdate(ctx context.Context, conn *Connection, env envelope) error {
	key := env.key()
	if _, ok := conn.roleFor(key); !ok {
		return types.ErrNotSubscribed
	}
	if _, err := ep.checkScope(conn, env.BucketID); err != nil {
		return err
	}

	update, err := decodeUpdateBytes(env.Update)
	if err != nil {
		return err
	}
	if ep.proposer != nil {
		if err := ep.proposer.ProposeUpdate(key.BucketID, key.Path, update, conn.ID); err != nil {
			return err
		}
	} else if _, err := ep.store.Apply(ctx, key, update, conn.ID); err != nil {
		return err
	}
	ep.router.Broadcast(key, encodeYjsUpdate(key, update), conn.ID)
	return nil
}

func (ep *Endpoint) handleFileTreeChange(ctx context.Context, conn *Connection, env envelope) error {
	if _, err := ep.checkScope(conn, env.BucketID); err != nil {
		return err
	}
	key := env.key()

	switch env.Action {
	case FileTreeDelete:
		if ep.proposer != nil {
			if err := ep.proposer.ProposeDelete(key.BucketID, key.Path); err != nil {
				return err
			}
		} else if err := ep.store.Delete(ctx, key); err != nil {
			return err
		}
		ep.router.Broadcast(key, encodeFileTreeChange(key, FileTreeDelete), conn.ID)
		ep.router.Leave(key, conn.ID)
		conn.removeSubscription(key)
		return nil
	case FileTreeCreate:
		if ep.proposer != nil {
			if err := ep.proposer.ProposeCreate(key.BucketID, key.Path); err != nil {
				return err
			}
		} else if _, err := ep.store.Attach(ctx, key); err != nil {
			return err
		}
		ep.router.Broadcast(key, encodeFileTreeChange(key, FileTreeCreate), conn.ID)
		return nil
	default:
		return fmt.Errorf("%w: unrecognized file-tree-change action %q", types.ErrMalformedUpdate, env.Action)
	}
}
