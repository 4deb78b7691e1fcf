package types

import (
	"time"
)

// BucketHandle is an opaque reference to a student workspace bucket in the
// object store. The engine never interprets the bucket id beyond passing it
// to the Snapshot Adapter and using it to scope authorization.
type BucketHandle struct {
	ID         string
	Name       string // logical name, e.g. the assignment slug
	Region     string
	IsTemplate bool // template buckets are cloned, never edited directly
	DeletedAt  time.Time
}

// Tombstoned reports whether the bucket has been marked deleted.
func (b *BucketHandle) Tombstoned() bool {
	return !b.DeletedAt.IsZero()
}

// DocumentKey identifies a single file within a bucket. Path is normalized
// to forward slashes with no leading slash, matching object-store key
// conventions.
type DocumentKey struct {
	BucketID string
	Path     string
}

func (k DocumentKey) String() string {
	return k.BucketID + "/" + k.Path
}

// Document is the in-memory record the Document Store keeps for one open
// file: the live CRDT state plus the bookkeeping needed to decide when to
// flush and when to evict.
type Document struct {
	Key             DocumentKey
	State           []byte // opaque encoded CRDT state
	Sequence        uint64 // monotonic, incremented on every applied update
	LastActivity    time.Time
	SubscriberCount int
	Dirty           bool // true if State has changed since the last flush
}

// Update is one opaque CRDT update as it travels through the Document Store,
// the Room Router, and the wire protocol. Origin identifies the producer so
// that updates are never echoed back to the connection that authored them.
type Update struct {
	Key      DocumentKey
	Bytes    []byte
	Origin   string // connection ID, "server", or "filesystem-sync"
	Sequence uint64
}

// PeerKind distinguishes the three classes of connection the Session
// Endpoint accepts. Authorization rules and token scope differ by kind.
type PeerKind string

const (
	PeerKindBrowser        PeerKind = "browser"
	PeerKindContainerAgent PeerKind = "container-agent"
	PeerKindService        PeerKind = "service"
)

// SubscriptionRole records why a connection is attached to a document, for
// audit logging and for deciding whether writes are permitted.
type SubscriptionRole string

const (
	RoleEditor  SubscriptionRole = "editor"  // browser client, read-write
	RoleWatcher SubscriptionRole = "watcher" // container agent or service, read-write via filesystem sync
)

// Subscription links a Connection to a DocumentKey it has joined.
type Subscription struct {
	ConnectionID string
	Key          DocumentKey
	Role         SubscriptionRole
	JoinedAt     time.Time
}

// Connection is one authenticated, long-lived stream attached to the
// Session Endpoint. It tracks the back-pressure state the Room Router needs
// to decide when to disconnect a slow consumer.
type Connection struct {
	ID          string
	Kind        PeerKind
	Identity    string // user id for browser peers, bucket id for container-agent peers
	TokenScope  string // bucket id this connection's token is bound to, empty for unscoped service tokens
	ConnectedAt time.Time
	LastPingAt  time.Time

	QueueDepth   int
	QueueDropped uint64
}

// FileEventKind enumerates the filesystem changes the Container Agent's
// watcher reports.
type FileEventKind string

const (
	FileEventAdd    FileEventKind = "add"
	FileEventChange FileEventKind = "change"
	FileEventDelete FileEventKind = "delete"
)

// WatchedFileEvent is a single raw fsnotify observation before debouncing.
type WatchedFileEvent struct {
	Path       string
	Kind       FileEventKind
	ReceivedAt time.Time
}

// PendingWrite tracks a debounced local file write the Container Agent is
// about to push upstream, so a new fsnotify event on the same path can
// cancel and reschedule it instead of sending duplicate updates.
type PendingWrite struct {
	Path           string
	Deadline       time.Time
	ExpectedSHA256 string // content hash at schedule time, used to detect a stale timer firing after the file changed again
}
