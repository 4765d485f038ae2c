package server

import (
	"sync"
)

// Session represents one live client connection. It is created on accept in
// state unauthenticated, becomes authenticated when LOGIN succeeds and the
// registry accepts it, and is destroyed on disconnect. The username field is
// the authentication marker: empty means unauthenticated.
type Session struct {
	ID         uint64
	Conn       *SafeConn
	RemoteAddr string
	Transport  string // "tcp" or "ws"

	mu       sync.RWMutex
	username string
	userID   int64

	// disconnect runs its side effects exactly once, no matter how many
	// paths trigger it (LOGOUT, read error, server shutdown).
	closeOnce sync.Once
}

// Authenticated reports whether LOGIN has succeeded on this session.
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username != ""
}

// Username returns the authenticated username, or "" before login.
func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

// UserID returns the authenticated user's store id, or 0 before login.
func (s *Session) UserID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// setAuthenticated records the identity after a successful LOGIN.
func (s *Session) setAuthenticated(userID int64, username string) {
	s.mu.Lock()
	s.userID = userID
	s.username = username
	s.mu.Unlock()
}

// clearAuthenticated resets the session to the unauthenticated state during
// disconnect and returns the identity it held.
func (s *Session) clearAuthenticated() (int64, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	userID, username := s.userID, s.username
	s.userID, s.username = 0, ""
	return userID, username
}
