package realtime

import (
	"sync"
	"time"
)

// Conn abstracts one live transport connection. The websocket adapter in
// the ws subpackage is the production implementation; tests use fakes.
type Conn interface {
	// ID returns the opaque transport-assigned connection identifier
	ID() string

	// Connected reports whether the underlying transport is still open
	Connected() bool

	// Emit sends a named event with a JSON-serializable payload
	Emit(event string, payload any) error

	// Close closes the underlying transport. The close may complete
	// asynchronously; callers do not wait on it.
	Close() error
}

// Session is the in-memory record of one live connection. It exists in
// the registry from transport connect until cleanup, and owns the two
// lifecycle timers armed for its connection.
type Session struct {
	conn        Conn
	connectedAt time.Time

	mu            sync.Mutex
	userID        int64
	lastActivity  time.Time
	heartbeatStop chan struct{}
	idleTimer     *time.Timer
	closed        bool
}

// SessionSnapshot is a copy of a session's observable state for monitoring
type SessionSnapshot struct {
	ConnectionID string    `json:"connectionId"`
	UserID       int64     `json:"userId"`
	ConnectedAt  time.Time `json:"connectedAt"`
	LastActivity time.Time `json:"lastActivity"`
}

func newSession(conn Conn) *Session {
	now := time.Now()
	return &Session{
		conn:          conn,
		connectedAt:   now,
		lastActivity:  now,
		heartbeatStop: make(chan struct{}),
	}
}

// ID returns the connection identifier this session tracks
func (s *Session) ID() string {
	return s.conn.ID()
}

// UserID returns the authenticated user id, or 0 before authentication
func (s *Session) UserID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// Authenticated reports whether the session has been bound to a user
func (s *Session) Authenticated() bool {
	return s.UserID() > 0
}

// setUserID binds the session to a user. It succeeds only once; later
// calls report false so duplicate authenticates stay idempotent.
func (s *Session) setUserID(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userID != 0 {
		return false
	}
	s.userID = id
	return true
}

// Touch advances the activity stamp. lastActivity never moves backwards.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now := time.Now(); now.After(s.lastActivity) {
		s.lastActivity = now
	}
}

// LastActivity returns the time of the most recent inbound event
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// setLastActivity backdates the activity stamp; used by tests and never
// by the event path.
func (s *Session) setLastActivity(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = t
}

func (s *Session) snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionSnapshot{
		ConnectionID: s.conn.ID(),
		UserID:       s.userID,
		ConnectedAt:  s.connectedAt,
		LastActivity: s.lastActivity,
	}
}

// armIdle schedules the idle watchdog. A torn-down session is never re-armed.
func (s *Session) armIdle(d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleTimer = time.AfterFunc(d, fn)
}

// teardown releases both lifecycle timers. It is idempotent and is the
// single exit path shared by disconnect, force-disconnect and the
// reconciler sweep, so neither timer can leak.
func (s *Session) teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.heartbeatStop)
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
}
