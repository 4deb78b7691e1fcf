package session

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/cuemby/ideengine/pkg/types"
)

// MessageKind is the wire discriminator. Names match the logical message
// kinds on the stream, not an implementation detail of any one transport.
type MessageKind string

const (
	KindSubscribeDocument   MessageKind = "subscribe-document"
	KindUnsubscribeDocument MessageKind = "unsubscribe-document"
	KindDocumentState       MessageKind = "document-state"
	KindYjsUpdate           MessageKind = "yjs-update"
	KindFileTreeChange      MessageKind = "file-tree-change"
	KindError               MessageKind = "error"
)

// FileTreeAction distinguishes the two file-tree-change operations.
type FileTreeAction string

const (
	FileTreeCreate FileTreeAction = "create"
	FileTreeDelete FileTreeAction = "delete"
)

// envelope is the full set of fields any message kind may carry. State and
// Update are opaque CRDT bytes, base64-encoded on the wire; this package
// never interprets them beyond passing them to the Document Store.
type envelope struct {
	Kind     MessageKind    `json:"kind"`
	BucketID string         `json:"bucketId,omitempty"`
	FilePath string         `json:"filePath,omitempty"`
	State    string         `json:"state,omitempty"`
	Update   string         `json:"update,omitempty"`
	Action   FileTreeAction `json:"action,omitempty"`
	Code     string         `json:"code,omitempty"`
	Message  string         `json:"message,omitempty"`
}

func (e envelope) key() types.DocumentKey {
	return types.DocumentKey{BucketID: e.BucketID, Path: e.FilePath}
}

func decodeEnvelope(raw []byte) (envelope, error) {
	var e envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return envelope{}, fmt.Errorf("%w: %v", types.ErrMalformedUpdate, err)
	}
	return e, nil
}

func encodeDocumentState(key types.DocumentKey, state []byte) []byte {
	e := envelope{
		Kind:     KindDocumentState,
		BucketID: key.BucketID,
		FilePath: key.Path,
		State:    base64.StdEncoding.EncodeToString(state),
	}
	b, _ := json.Marshal(e)
	return b
}

func encodeYjsUpdate(key types.DocumentKey, update []byte) []byte {
	e := envelope{
		Kind:     KindYjsUpdate,
		BucketID: key.BucketID,
		FilePath: key.Path,
		Update:   base64.StdEncoding.EncodeToString(update),
	}
	b, _ := json.Marshal(e)
	return b
}

func encodeFileTreeChange(key types.DocumentKey, action FileTreeAction) []byte {
	e := envelope{
		Kind:     KindFileTreeChange,
		BucketID: key.BucketID,
		FilePath: key.Path,
		Action:   action,
	}
	b, _ := json.Marshal(e)
	return b
}

func encodeError(key types.DocumentKey, err error) []byte {
	e := envelope{
		Kind:     KindError,
		BucketID: key.BucketID,
		FilePath: key.Path,
		Code:     types.WireErrorCode(err),
		Message:  err.Error(),
	}
	b, _ := json.Marshal(e)
	return b
}

func decodeUpdateBytes(b64 string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrMalformedUpdate, err)
	}
	return b, nil
}
