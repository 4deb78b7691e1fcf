package crdt

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/cuemby/ideengine/pkg/types"
)

// NodeID globally identifies one character inserted into a Doc. The zero
// value is reserved as the "start of document" anchor and is never assigned
// to a real insert (Seq starts at 1).
type NodeID struct {
	Seq       uint64
	ReplicaID string
}

func (id NodeID) isRoot() bool {
	return id.Seq == 0 && id.ReplicaID == ""
}

// precedes reports whether a should be positioned before b among siblings
// that share the same insertion anchor. Higher Seq wins; ties break on the
// replica ID so the order is total and identical on every replica.
func (id NodeID) precedes(other NodeID) bool {
	if id.Seq != other.Seq {
		return id.Seq > other.Seq
	}
	return id.ReplicaID < other.ReplicaID
}

// node is one character (live or tombstoned) in the replicated sequence.
type node struct {
	ID      NodeID
	After   NodeID
	Char    rune
	Deleted bool
}

// OpKind distinguishes the two operations an update can carry.
type OpKind string

const (
	OpInsert OpKind = "insert"
	OpDelete OpKind = "delete"
)

// Op is one unit of a CRDT update: either the insertion of a single
// character after a given anchor, or the tombstoning of an existing one.
type Op struct {
	Kind  OpKind `json:"kind"`
	ID    NodeID `json:"id"`
	After NodeID `json:"after,omitempty"`
	Char  rune   `json:"char,omitempty"`
}

// Replica is the narrow contract the Document Store depends on. Nothing
// above this package inspects update or state bytes; they are produced and
// consumed only here, which keeps the engine free to swap in a different
// CRDT implementation without touching callers.
type Replica interface {
	// Apply decodes and applies a previously encoded update. It is safe to
	// apply the same update more than once; duplicates are no-ops.
	Apply(update []byte) error
	// EncodeState returns the full document state as opaque bytes.
	EncodeState() ([]byte, error)
	// DecodeState discards the current state and replaces it with state.
	DecodeState(state []byte) error
	// Text returns the materialized document text.
	Text() string
}

// Doc is a character-level RGA: an ordered sequence of tombstoned-or-live
// nodes, each anchored to the node it was inserted after. Concurrent
// inserts at the same anchor are ordered by NodeID.precedes so that any two
// replicas which have applied the same set of operations converge to
// identical text, regardless of the order the operations were applied in.
type Doc struct {
	mu        sync.Mutex
	replicaID string
	seq       uint64
	nodes     []node
	index     map[NodeID]int
}

// NewDoc creates an empty document. replicaID must be unique among the
// peers editing this document; it is embedded in every NodeID this replica
// mints so two replicas never generate the same ID.
func NewDoc(replicaID string) *Doc {
	return &Doc{
		replicaID: replicaID,
		index:     make(map[NodeID]int),
	}
}

// NewDocFromText creates a document already containing text, inserted as a
// single run anchored at the start of the document. Used when a document is
// attached for the first time and its materialized text is loaded from the
// Snapshot Adapter: the loaded bytes become the replica's initial state
// rather than an update that needs to be broadcast anywhere.
func NewDocFromText(replicaID, text string) *Doc {
	d := NewDoc(replicaID)
	if text == "" {
		return d
	}
	d.mu.Lock()
	anchor := NodeID{}
	for _, ch := range text {
		id := d.nextID()
		d.insertLocked(node{ID: id, After: anchor, Char: ch})
		anchor = id
	}
	d.mu.Unlock()
	return d
}

func (d *Doc) nextID() NodeID {
	d.seq++
	return NodeID{Seq: d.seq, ReplicaID: d.replicaID}
}

// insertLocked places n into the sequence, keeping the (Seq desc, ReplicaID
// asc) tie-break among siblings sharing the same anchor, and rebuilds the
// index. A sibling that precedes n is skipped together with every node
// anchored (directly or transitively) to it, so n lands after that
// sibling's whole subtree. Must be called with d.mu held.
func (d *Doc) insertLocked(n node) {
	pos := -1
	if !n.After.isRoot() {
		if idx, ok := d.index[n.After]; ok {
			pos = idx
		}
	}
	i := pos + 1
	skipped := make(map[NodeID]bool)
	for i < len(d.nodes) {
		cur := d.nodes[i]
		if (cur.After == n.After && cur.ID.precedes(n.ID)) || skipped[cur.After] {
			skipped[cur.ID] = true
			i++
			continue
		}
		break
	}
	d.nodes = append(d.nodes, node{})
	copy(d.nodes[i+1:], d.nodes[i:])
	d.nodes[i] = n
	d.reindexFrom(i)
}

func (d *Doc) reindexFrom(i int) {
	for ; i < len(d.nodes); i++ {
		d.index[d.nodes[i].ID] = i
	}
}

func (d *Doc) applyOpLocked(op Op) error {
	switch op.Kind {
	case OpInsert:
		if _, ok := d.index[op.ID]; ok {
			return nil // already applied
		}
		d.insertLocked(node{ID: op.ID, After: op.After, Char: op.Char})
		return nil
	case OpDelete:
		if idx, ok := d.index[op.ID]; ok {
			d.nodes[idx].Deleted = true
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown op kind %q", types.ErrMalformedUpdate, op.Kind)
	}
}

// Apply decodes update as a batch of Ops and applies each in order under a
// single lock. A batch that fails to decode is rejected in full.
func (d *Doc) Apply(update []byte) error {
	ops, err := DecodeOps(update)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, op := range ops {
		if err := d.applyOpLocked(op); err != nil {
			return err
		}
	}
	return nil
}

// InsertText inserts text as a run of characters, each anchored to the
// previous one starting from after, and returns the encoded update along
// with the ID of the last character inserted (so a caller chaining further
// edits can anchor to it).
func (d *Doc) InsertText(after NodeID, text string) ([]byte, NodeID, error) {
	d.mu.Lock()
	ops := make([]Op, 0, len(text))
	anchor := after
	for _, ch := range text {
		id := d.nextID()
		d.insertLocked(node{ID: id, After: anchor, Char: ch})
		ops = append(ops, Op{Kind: OpInsert, ID: id, After: anchor, Char: ch})
		anchor = id
	}
	d.mu.Unlock()

	encoded, err := EncodeOps(ops)
	if err != nil {
		return nil, NodeID{}, err
	}
	return encoded, anchor, nil
}

// Delete tombstones a single character and returns the encoded update.
func (d *Doc) Delete(id NodeID) ([]byte, error) {
	d.mu.Lock()
	if idx, ok := d.index[id]; ok {
		d.nodes[idx].Deleted = true
	}
	d.mu.Unlock()

	return EncodeOps([]Op{{Kind: OpDelete, ID: id}})
}

// ReplaceAll tombstones every currently-live character and inserts text as
// a fresh run from the start of the document, as a single encoded update.
// This is the operation the Container Agent uses when a filesystem event
// reports that a file's bytes have changed out from under the live CRDT
// state: the whole document is replaced in one transaction.
func (d *Doc) ReplaceAll(text string) ([]byte, error) {
	d.mu.Lock()
	ops := make([]Op, 0, len(d.nodes)+len(text))
	for i := range d.nodes {
		if !d.nodes[i].Deleted {
			d.nodes[i].Deleted = true
			ops = append(ops, Op{Kind: OpDelete, ID: d.nodes[i].ID})
		}
	}
	anchor := NodeID{}
	for _, ch := range text {
		id := d.nextID()
		d.insertLocked(node{ID: id, After: anchor, Char: ch})
		ops = append(ops, Op{Kind: OpInsert, ID: id, After: anchor, Char: ch})
		anchor = id
	}
	d.mu.Unlock()

	return EncodeOps(ops)
}

// Text materializes the document by walking the sequence in order and
// skipping tombstones.
func (d *Doc) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var b strings.Builder
	b.Grow(len(d.nodes))
	for _, n := range d.nodes {
		if !n.Deleted {
			b.WriteRune(n.Char)
		}
	}
	return b.String()
}

// docState is the JSON encoding of a Doc's full state, used by EncodeState
// and DecodeState. Nodes are stored already in sequence order so
// DecodeState does not need to re-run insertion ordering.
type docState struct {
	ReplicaID string `json:"replica_id"`
	Seq       uint64 `json:"seq"`
	Nodes     []node `json:"nodes"`
}

// EncodeState returns the full ordered node sequence, including tombstones,
// so a replica restored from this state can still accept deletes of
// already-seen nodes and inserts anchored to tombstoned characters.
func (d *Doc) EncodeState() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := docState{
		ReplicaID: d.replicaID,
		Seq:       d.seq,
		Nodes:     append([]node(nil), d.nodes...),
	}
	return json.Marshal(st)
}

// DecodeState replaces the document's contents with a previously encoded
// state. The replica's own identity and sequence counter are left
// unchanged so it can keep minting new, non-colliding IDs after a restore.
func (d *Doc) DecodeState(state []byte) error {
	var st docState
	if err := json.Unmarshal(state, &st); err != nil {
		return fmt.Errorf("%w: %v", types.ErrMalformedUpdate, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.nodes = append([]node(nil), st.Nodes...)
	d.index = make(map[NodeID]int, len(d.nodes))
	for i, n := range d.nodes {
		d.index[n.ID] = i
	}
	return nil
}

// EncodeOps serializes a batch of operations into the wire/log format used
// by Apply.
func EncodeOps(ops []Op) ([]byte, error) {
	data, err := json.Marshal(ops)
	if err != nil {
		return nil, fmt.Errorf("encode crdt update: %w", err)
	}
	return data, nil
}

// DecodeOps parses a batch of operations previously produced by EncodeOps.
func DecodeOps(update []byte) ([]Op, error) {
	var ops []Op
	if err := json.Unmarshal(update, &ops); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrMalformedUpdate, err)
	}
	return ops, nil
}
