package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestRegistry_RegisterGetRemove(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	conn := newFakeConn("c1")

	sess, err := r.Register(conn)
	assert.NoError(t, err)
	assert.NotNil(t, sess)
	assert.Equal(t, 1, r.Count())

	// duplicate register should fail
	_, err = r.Register(conn)
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
	assert.Equal(t, 1, r.Count())

	got, ok := r.Get("c1")
	assert.True(t, ok)
	assert.Equal(t, "c1", got.ID())

	removed, ok := r.Remove("c1")
	assert.True(t, ok)
	assert.Equal(t, "c1", removed.ID())
	_, ok = r.Get("c1")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Count())

	// only the first removal wins
	_, ok = r.Remove("c1")
	assert.False(t, ok)
}

func TestRegistry_SnapshotIsACopy(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	_, err := r.Register(newFakeConn("c1"))
	assert.NoError(t, err)

	snap := r.Snapshot()
	assert.Len(t, snap, 1)
	assert.Equal(t, "c1", snap[0].ConnectionID)
	assert.Equal(t, int64(0), snap[0].UserID)

	// mutating the snapshot must not touch the live session
	snap[0].UserID = 42
	sess, _ := r.Get("c1")
	assert.Equal(t, int64(0), sess.UserID())
}

func TestSession_UserIDSetOnce(t *testing.T) {
	sess := newSession(newFakeConn("c1"))

	assert.False(t, sess.Authenticated())
	assert.True(t, sess.setUserID(7))
	assert.True(t, sess.Authenticated())
	assert.Equal(t, int64(7), sess.UserID())

	// a second bind must be refused
	assert.False(t, sess.setUserID(8))
	assert.Equal(t, int64(7), sess.UserID())
}

func TestSession_TeardownIdempotent(t *testing.T) {
	sess := newSession(newFakeConn("c1"))
	sess.armIdle(time.Hour, func() {})

	sess.teardown()
	// second teardown must not panic on the closed channel
	sess.teardown()

	// a torn-down session is never re-armed
	sess.armIdle(time.Hour, func() {})
	sess.mu.Lock()
	assert.Nil(t, sess.idleTimer)
	sess.mu.Unlock()
}
