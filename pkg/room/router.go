package room

import (
	"hash/fnv"
	"time"

	"github.com/cuemby/ideengine/pkg/log"
	"github.com/cuemby/ideengine/pkg/metrics"
	"github.com/cuemby/ideengine/pkg/types"
)

// defaultShardCount is the number of independent broker goroutines a Router
// spreads document rooms across. Fan-out for two documents hashing to
// different shards never contends on the same lock.
const defaultShardCount = 16

// defaultCmdBuffer bounds how many pending join/leave/broadcast commands a
// shard will queue before its caller blocks.
const defaultCmdBuffer = 1024

// Subscriber is one connection's membership in a document's room. The
// outbound channel is owned by the caller (the Session Endpoint), not the
// Router: a connection subscribed to several documents shares one physical
// outbound queue so broadcasts from every one of its rooms serialize onto
// the single writer a websocket connection requires.
type Subscriber struct {
	ConnectionID string
	Role         types.SubscriptionRole
	JoinedAt     time.Time
	outbound     chan<- []byte
}

// SlowConsumerEvent is emitted when a subscriber's outbound queue overflows
// and the Router drops it from the room. The Session Endpoint consumes
// these from Router.SlowConsumers to tear down the underlying connection
// with ErrSlowConsumer.
type SlowConsumerEvent struct {
	ConnectionID string
	Key          types.DocumentKey
}

type joinCmd struct {
	key    types.DocumentKey
	sub    *Subscriber
	result chan<- error
}

type leaveCmd struct {
	key          types.DocumentKey
	connectionID string
}

type broadcastCmd struct {
	key      types.DocumentKey
	update   []byte
	originID string
}

// shardWorker owns a disjoint slice of document rooms, processed one
// command at a time by its own goroutine so broadcast for one document
// never blocks on another's lock. Grounded on the teacher's event Broker
// (pkg/events, now pkg/room): a buffered command channel drained by a
// single run loop, generalized from one global broker to a fixed pool
// keyed by document hash.
type shardWorker struct {
	cmds   chan any
	stopCh chan struct{}
	doneCh chan struct{}

	rooms map[types.DocumentKey]map[string]*Subscriber

	onSlowConsumer func(SlowConsumerEvent)
}

func newShardWorker(onSlowConsumer func(SlowConsumerEvent)) *shardWorker {
	return &shardWorker{
		cmds:           make(chan any, defaultCmdBuffer),
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
		rooms:          make(map[types.DocumentKey]map[string]*Subscriber),
		onSlowConsumer: onSlowConsumer,
	}
}

func (w *shardWorker) start() { go w.run() }

func (w *shardWorker) stop() {
	close(w.stopCh)
	<-w.doneCh
}

func (w *shardWorker) run() {
	defer close(w.doneCh)
	for {
		select {
		case cmd := <-w.cmds:
			switch c := cmd.(type) {
			case joinCmd:
				w.handleJoin(c)
			case leaveCmd:
				w.handleLeave(c)
			case broadcastCmd:
				w.handleBroadcast(c)
			}
		case <-w.stopCh:
			return
		}
	}
}

func (w *shardWorker) handleJoin(c joinCmd) {
	room, ok := w.rooms[c.key]
	if !ok {
		room = make(map[string]*Subscriber)
		w.rooms[c.key] = room
	}
	room[c.sub.ConnectionID] = c.sub
	c.result <- nil
}

func (w *shardWorker) handleLeave(c leaveCmd) {
	room, ok := w.rooms[c.key]
	if !ok {
		return
	}
	delete(room, c.connectionID)
	if len(room) == 0 {
		delete(w.rooms, c.key)
	}
}

func (w *shardWorker) handleBroadcast(c broadcastCmd) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.BroadcastDuration)

	room := w.rooms[c.key]
	if room == nil {
		return
	}
	for connID, sub := range room {
		if connID == c.originID {
			continue // origin suppression: never echo back to the sender
		}
		select {
		case sub.outbound <- c.update:
		default:
			metrics.BroadcastDroppedTotal.Inc()
			metrics.SlowConsumersDisconnectedTotal.Inc()
			delete(room, connID)
			w.onSlowConsumer(SlowConsumerEvent{ConnectionID: connID, Key: c.key})
		}
	}
	if len(room) == 0 {
		delete(w.rooms, c.key)
	}
}

// Options configures a Router.
type Options struct {
	// ShardCount is the number of broker goroutines rooms are spread
	// across. Defaults to defaultShardCount if zero or negative.
	ShardCount int
}

func (o Options) withDefaults() Options {
	if o.ShardCount <= 0 {
		o.ShardCount = defaultShardCount
	}
	return o
}

// Router maintains document_key -> set<subscription> and fans updates out
// to peers with origin-based echo suppression, per spec.md §4.3. Rooms are
// sharded by document key hash across a fixed pool of broker goroutines so
// fan-out for unrelated documents never contends on one lock.
type Router struct {
	shards        []*shardWorker
	slowConsumers chan SlowConsumerEvent
}

// New constructs a Router and starts its shard goroutines.
func New(opts Options) *Router {
	opts = opts.withDefaults()
	r := &Router{
		slowConsumers: make(chan SlowConsumerEvent, 256),
	}
	for i := 0; i < opts.ShardCount; i++ {
		w := newShardWorker(r.emitSlowConsumer)
		w.start()
		r.shards = append(r.shards, w)
	}
	return r
}

// Stop halts every shard goroutine and closes the slow-consumer stream.
func (r *Router) Stop() {
	for _, w := range r.shards {
		w.stop()
	}
	close(r.slowConsumers)
}

// SlowConsumers returns the stream of subscribers the Router has dropped
// for falling behind their outbound queue. The Session Endpoint consumes
// this to close the underlying connection.
func (r *Router) SlowConsumers() <-chan SlowConsumerEvent {
	return r.slowConsumers
}

func (r *Router) emitSlowConsumer(e SlowConsumerEvent) {
	select {
	case r.slowConsumers <- e:
	default:
		log.WithComponent("room").Warn().
			Str("connection_id", e.ConnectionID).
			Msg("slow consumer event dropped, notification channel full")
	}
}

func (r *Router) shardFor(key types.DocumentKey) *shardWorker {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key.String()))
	return r.shards[h.Sum32()%uint32(len(r.shards))]
}

// Join registers connectionID as a subscriber of key with the given role.
// outbound is the connection's own queue (shared across every document it
// subscribes to); broadcasts for key are delivered onto it.
func (r *Router) Join(key types.DocumentKey, connectionID string, role types.SubscriptionRole, outbound chan<- []byte) *Subscriber {
	sub := &Subscriber{ConnectionID: connectionID, Role: role, JoinedAt: time.Now(), outbound: outbound}
	result := make(chan error, 1)
	r.shardFor(key).cmds <- joinCmd{key: key, sub: sub, result: result}
	<-result
	return sub
}

// Leave removes connectionID's subscription to key.
func (r *Router) Leave(key types.DocumentKey, connectionID string) {
	r.shardFor(key).cmds <- leaveCmd{key: key, connectionID: connectionID}
}

// Broadcast fans update out to every subscriber of key except originID.
// Fan-out is best-effort: a subscriber whose outbound queue is full is
// dropped and reported via SlowConsumers rather than blocking the others.
func (r *Router) Broadcast(key types.DocumentKey, update []byte, originID string) {
	r.shardFor(key).cmds <- broadcastCmd{key: key, update: update, originID: originID}
}
