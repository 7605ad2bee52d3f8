package session

// TokenCache persists the current session's tokens and timestamps across
// restarts. A single session exists per cache; writes are last-writer-wins
// with no cross-process locking (two concurrent portals may clobber each
// other's refreshed tokens, which is tolerated).
type TokenCache interface {
	// Load returns the cached session, or a zero Session when none is stored.
	Load() (Session, error)
	Save(Session) error
	// Clear drops all tokens and timestamps. Clearing an empty cache is a no-op.
	Clear() error

	// One-shot message slot for notices that must survive a process
	// boundary (e.g. a lab access denial surfaced on the next listing).
	// TakeMessage consumes the message.
	PutMessage(key, msg string) error
	TakeMessage(key string) (string, error)
}

// MessageKeyLabAccess is the one-shot slot for lab access denials.
const MessageKeyLabAccess = "labAccessError"
