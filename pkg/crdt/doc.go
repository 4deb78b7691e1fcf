/*
Package crdt defines the narrow contract the Document Store uses to apply
and encode replicated text updates, and ships one concrete implementation:
an RGA (Replicated Growable Array) sequence CRDT.

# Why a narrow interface

The Document Store, Room Router, and wire protocol never parse CRDT bytes;
they move opaque []byte values tagged with an origin string. Replica is the
only place that byte layout is known. Swapping in a different CRDT library
means implementing Replica and changing one constructor call; nothing above
this package needs to change.

# RGA

Replica is backed by Doc, a character-level RGA: every inserted character
gets a globally unique (Seq, ReplicaID) identifier, deletions are tombstones
rather than removals, and concurrent inserts at the same position are
totally ordered by (Seq desc, ReplicaID asc) so all replicas that have seen
the same set of operations converge to the same text regardless of the
order those operations arrived in.
*/
package crdt
