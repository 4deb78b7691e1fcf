package agent

// conflictWinner names which side's content survives a document-state
// arrival, for the structured log line SPEC_FULL.md's expansion of §4.5
// asks for.
type conflictWinner string

const (
	winnerServer conflictWinner = "server"
	winnerLocal  conflictWinner = "local"
	winnerNone   conflictWinner = "none" // both empty, nothing to resolve
)

// resolveConflict implements spec.md §4.5's conflict-resolution table for
// a document-state arrival:
//
//	local absent,     server non-empty ⇒ server wins
//	local non-empty,  server empty     ⇒ local wins
//	both empty                         ⇒ no write
//	both non-empty and different       ⇒ server wins (object store is the
//	                                      durable source of truth at
//	                                      reconnect time)
func resolveConflict(localExists bool, localText, serverText string) conflictWinner {
	localNonEmpty := localExists && localText != ""
	serverNonEmpty := serverText != ""

	switch {
	case !localNonEmpty && serverNonEmpty:
		return winnerServer
	case localNonEmpty && !serverNonEmpty:
		return winnerLocal
	case !localNonEmpty && !serverNonEmpty:
		return winnerNone
	default:
		return winnerServer
	}
}
