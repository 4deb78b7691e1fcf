/*
Package session implements the Session Endpoint: the per-connection
protocol driver for the synchronization engine's websocket stream.

A Connection progresses through a small state machine:

	handshake --auth ok--> authenticated --subscribe--> subscribed (N keys)
	                              |                            |
	                              +------- disconnect ---------+--> closed

Three peer kinds authenticate at handshake, distinguished by a declared
kind plus a bearer token: browser (delegated to an external
auth.ExternalAuthorizer), container-agent and service (both validated
against the shared auth.TokenManager). Every subsequent document-touching
message re-checks the connection's scope against that message's bucket, so
a compromised connection cannot reach across buckets.

Wire messages are JSON objects with a "kind" discriminator:
subscribe-document, unsubscribe-document, document-state, yjs-update, and
file-tree-change, matching the table in spec.md §6. CRDT state and update
payloads travel as opaque base64 bytes; this package never parses them,
only hands them to the Document Store.

Each connection runs two goroutines: readPump decodes inbound frames and
dispatches them under a per-message handler deadline (Options.HandlerTimeout);
writePump drains the connection's single outbound queue (shared across every
document it has joined in the Room Router) and sends periodic pings.
Back-pressure in both directions follows spec.md §4.4: inbound messages are
token-bucket rate limited per connection (golang.org/x/time/rate, the same
library the teacher's ingress middleware uses), and a connection whose
outbound queue overflows is dropped as a SlowConsumer.

HealthServer exposes /healthz (liveness) and /readyz (Raft leadership, if
clustered, plus Snapshot Adapter reachability) alongside /metrics, in the
same process as the stream listener, grounded on the teacher's health/ready
HTTP server. It also exposes /buckets/{bucketID}/files, a plain HTTP GET a
Container Agent calls once at startup to learn which paths already exist
in the Snapshot Adapter before it opens its WebSocket and subscribes to
each one.
*/
package session
