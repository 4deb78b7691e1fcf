package types

import "errors"

// Error kinds exposed on the wire as the "error" message kind's code field.
// Callers should compare with errors.Is; wrapping context is added with
// fmt.Errorf("...: %w", ErrX) at the point the error is detected.
var (
	// ErrUnauthorized means the connection's token does not grant access to
	// the bucket or operation it attempted.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrBucketClosed means the bucket has been tombstoned and no longer
	// accepts subscriptions or updates.
	ErrBucketClosed = errors.New("bucket closed")

	// ErrNotSubscribed means a message referenced a document the connection
	// never subscribed to.
	ErrNotSubscribed = errors.New("not subscribed")

	// ErrMalformedUpdate means an update payload failed to decode as a
	// well-formed CRDT update.
	ErrMalformedUpdate = errors.New("malformed update")

	// ErrSnapshotUnavailable means the Snapshot Adapter could not produce a
	// document's backing text (object store unreachable). A missing path is
	// not an error: it loads as empty text.
	ErrSnapshotUnavailable = errors.New("snapshot unavailable")

	// ErrSlowConsumer means a connection's outbound queue overflowed and the
	// connection was disconnected rather than let it stall the room.
	ErrSlowConsumer = errors.New("slow consumer")

	// ErrHandlerTimeout means an operation did not complete within its
	// allotted deadline.
	ErrHandlerTimeout = errors.New("handler timeout")

	// ErrTransient means the failure is expected to clear on retry (a
	// dependency blip), as opposed to a structural error in the request.
	ErrTransient = errors.New("transient error")
)

// errorCode maps a sentinel error to its stable wire code. Returns false if
// err does not wrap one of the known sentinels.
func errorCode(err error) (string, bool) {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized", true
	case errors.Is(err, ErrBucketClosed):
		return "bucket_closed", true
	case errors.Is(err, ErrNotSubscribed):
		return "not_subscribed", true
	case errors.Is(err, ErrMalformedUpdate):
		return "malformed_update", true
	case errors.Is(err, ErrSnapshotUnavailable):
		return "snapshot_unavailable", true
	case errors.Is(err, ErrSlowConsumer):
		return "slow_consumer", true
	case errors.Is(err, ErrHandlerTimeout):
		return "handler_timeout", true
	case errors.Is(err, ErrTransient):
		return "transient", true
	default:
		return "", false
	}
}

// WireErrorCode returns the stable error code for the "error" message kind,
// falling back to "internal" for errors that don't wrap a known sentinel.
func WireErrorCode(err error) string {
	if code, ok := errorCode(err); ok {
		return code
	}
	return "internal"
}
