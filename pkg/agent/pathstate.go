package agent

import (
	"time"

	"github.com/cuemby/ideengine/pkg/crdt"
)

// pathStatus is a path's position in spec.md §4.5's per-path state diagram.
type pathStatus string

const (
	statusUnsubscribed      pathStatus = "unsubscribed"
	statusSubscribedNoLocal pathStatus = "subscribed_no_local"
	statusSubscribedLive    pathStatus = "subscribed_live"
)

// pathState is everything the agent tracks for one watched file. Grounded
// on spec.md §3's "Pending write" entity, extended with the CRDT replica
// and state-machine status the per-path diagram in §4.5 names.
type pathState struct {
	status pathStatus
	doc    *crdt.Doc

	// pendingWrite, when non-nil, is a scheduled debounced disk write not
	// yet applied; cancelled by any filesystem event on the same path.
	pendingWrite *pendingWrite

	// quietUntil suppresses the watcher's own echo: a disk write the agent
	// just performed must not be turned back into an outbound CRDT update.
	quietUntil time.Time

	lastRemoteUpdateAt time.Time
}

type pendingWrite struct {
	timer          *time.Timer
	deadline       time.Time
	text           string
	expectedSHA256 string
}

func newPathState(replicaID string) *pathState {
	return &pathState{status: statusUnsubscribed, doc: crdt.NewDoc(replicaID)}
}

// cancelPendingWrite stops any scheduled debounced write for this path,
// used both when a new filesystem event arrives and on shutdown.
func (p *pathState) cancelPendingWrite() {
	if p.pendingWrite != nil {
		p.pendingWrite.timer.Stop()
		p.pendingWrite = nil
	}
}

// inQuietWindow reports whether now falls inside the suppression window
// following the agent's own most recent disk write for this path.
func (p *pathState) inQuietWindow(now time.Time) bool {
	return now.Before(p.quietUntil)
}
