package realtime

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Registry owns the in-memory mapping from connection id to session.
// It is the only holder of mutable session references; monitoring
// accessors return copies.
type Registry struct {
	logger   *zap.Logger
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty connection registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger:   logger.Named("realtime.registry"),
		sessions: make(map[string]*Session),
	}
}

// Register creates an unauthenticated session for the given connection.
// A duplicate connection id means the transport handed out the same id
// twice; that is logged and rejected.
func (r *Registry) Register(conn Conn) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[conn.ID()]; exists {
		r.logger.Error("duplicate connection id", zap.String("connectionId", conn.ID()))
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRegistered, conn.ID())
	}

	sess := newSession(conn)
	r.sessions[conn.ID()] = sess
	return sess, nil
}

// Get looks up the session for a connection id
func (r *Registry) Get(connID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[connID]
	return sess, ok
}

// Remove deletes the session for a connection id, returning it and
// true only for the caller that actually removed it. Concurrent
// cleanups for the same connection therefore act exactly once.
// Removing an unknown id is a no-op.
func (r *Registry) Remove(connID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[connID]
	if ok {
		delete(r.sessions, connID)
	}
	return sess, ok
}

// Count returns the number of live sessions
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot returns a copy of every session's observable state
func (r *Registry) Snapshot() []SessionSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]SessionSnapshot, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess.snapshot())
	}
	return out
}

// all returns the live session pointers for manager-internal sweeps
func (r *Registry) all() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess)
	}
	return out
}
