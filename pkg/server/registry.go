package server

import (
	"sync"
)

// Registry is the authoritative mapping of online usernames to their live
// sessions. It is the single synchronization point for cross-session
// communication: at most one entry exists per username at any time, and
// registration is an atomic check-and-set so two concurrent logins for the
// same username can never both succeed.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// TryRegister inserts the session under username iff no session is already
// registered for it. Returns false on a duplicate login.
func (r *Registry) TryRegister(username string, sess *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[username]; exists {
		return false
	}
	r.sessions[username] = sess
	return true
}

// Unregister removes username's entry iff it still points at sess. The guard
// keeps a late cleanup of an old connection from evicting a newer session
// that reused the name.
func (r *Registry) Unregister(username string, sess *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.sessions[username]; ok && current == sess {
		delete(r.sessions, username)
	}
}

// Get returns the live session for username, if any.
func (r *Registry) Get(username string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[username]
	return sess, ok
}

// BroadcastExcept sends a frame to every registered session other than
// username's. Membership is snapshotted under the lock, so the set of
// recipients is consistent with respect to concurrent logins and logouts;
// the writes themselves happen outside the lock so one slow client cannot
// stall the registry.
func (r *Registry) BroadcastExcept(username string, parts ...string) {
	r.mu.RLock()
	targets := make([]*Session, 0, len(r.sessions))
	for name, sess := range r.sessions {
		if name != username {
			targets = append(targets, sess)
		}
	}
	r.mu.RUnlock()

	for _, sess := range targets {
		// Best effort: a dead connection is cleaned up by its own read
		// loop shortly after.
		_ = sess.Conn.WriteFrame(parts...)
	}
}

// All returns a snapshot of every registered session.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	return sessions
}

// Count returns the number of registered (authenticated) sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
