package realtime

import (
	"sync"
	"time"
)

// RetryInfo reports the outcome of one recorded retry attempt
type RetryInfo struct {
	Attempt    int
	MaxRetries int
	Delay      time.Duration
	NextDelay  time.Duration
}

// RetrySnapshot is a copy of one connection's retry state for monitoring
type RetrySnapshot struct {
	Attempts    int       `json:"attempts"`
	LastAttempt time.Time `json:"lastAttempt"`
	MaxRetries  int       `json:"maxRetries"`
}

type retryState struct {
	attempts    int
	lastAttempt time.Time
}

// RetryTracker counts reconnect attempts per connection and computes
// the exponential backoff delay for each. Entries outlive nothing: a
// successful authenticate clears them and the reconciler purges stale
// ones independently of the session lifecycle.
type RetryTracker struct {
	mu      sync.Mutex
	max     int
	base    time.Duration
	cap     time.Duration
	entries map[string]*retryState
}

// NewRetryTracker creates a tracker with the given ceiling and delay bounds
func NewRetryTracker(maxRetries int, base, maxDelay time.Duration) *RetryTracker {
	return &RetryTracker{
		max:     maxRetries,
		base:    base,
		cap:     maxDelay,
		entries: make(map[string]*retryState),
	}
}

// Record registers one retry attempt for the connection. Attempts are
// counted from 0, giving delays base, 2*base, 4*base, ... capped at the
// configured maximum. Once the attempt count reaches the ceiling the
// call fails with ErrMaxRetriesExceeded.
func (t *RetryTracker) Record(connID string) (RetryInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.entries[connID]
	if !ok {
		state = &retryState{}
		t.entries[connID] = state
	}

	if state.attempts >= t.max {
		return RetryInfo{Attempt: state.attempts, MaxRetries: t.max}, ErrMaxRetriesExceeded
	}

	delay := t.delayFor(state.attempts)
	state.attempts++
	state.lastAttempt = time.Now()

	return RetryInfo{
		Attempt:    state.attempts,
		MaxRetries: t.max,
		Delay:      delay,
		NextDelay:  t.delayFor(state.attempts),
	}, nil
}

func (t *RetryTracker) delayFor(attempts int) time.Duration {
	delay := t.base << uint(attempts)
	if delay > t.cap || delay <= 0 {
		delay = t.cap
	}
	return delay
}

// Clear drops the entry for a connection, typically after a successful
// authenticate
func (t *RetryTracker) Clear(connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, connID)
}

// PurgeOlderThan drops entries whose last attempt is older than ttl and
// returns how many were removed
func (t *RetryTracker) PurgeOlderThan(ttl time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := time.Now().Add(-ttl)
	purged := 0
	for id, state := range t.entries {
		if state.lastAttempt.Before(cutoff) {
			delete(t.entries, id)
			purged++
		}
	}
	return purged
}

// Len returns the number of tracked connections
func (t *RetryTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Snapshot returns a copy of the tracked retry states
func (t *RetryTracker) Snapshot() map[string]RetrySnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]RetrySnapshot, len(t.entries))
	for id, state := range t.entries {
		out[id] = RetrySnapshot{
			Attempts:    state.attempts,
			LastAttempt: state.lastAttempt,
			MaxRetries:  t.max,
		}
	}
	return out
}
