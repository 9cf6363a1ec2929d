package broker

import (
	"testing"
	"time"

	"github.com/civicmesh/presence/internal/common/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testLogger(t *testing.T) *zap.Logger {
	t.Helper()
	return zap.NewNop()
}

func newTestRedisBroker(t *testing.T, addr string, rec *recorder) *RedisBroker {
	t.Helper()
	b, err := NewRedisBroker(testLogger(t), config.BrokerRedisConfig{
		Addr:  addr,
		Topic: "presence:test",
	}, rec.deliver)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestRedisBroker_BroadcastReachesLocalMembers(t *testing.T) {
	mr := miniredis.RunT(t)

	rec := newRecorder()
	b := newTestRedisBroker(t, mr.Addr(), rec)

	b.Join("c1", "room_a")
	b.Join("c2", "room_b")

	require.NoError(t, b.Broadcast("room_a", "hello", map[string]string{"k": "v"}))

	assert.Eventually(t, func() bool {
		return rec.count("c1") == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, rec.count("c2"))
}

func TestRedisBroker_BroadcastCrossesInstances(t *testing.T) {
	mr := miniredis.RunT(t)

	recA := newRecorder()
	recB := newRecorder()
	a := newTestRedisBroker(t, mr.Addr(), recA)
	b := newTestRedisBroker(t, mr.Addr(), recB)

	a.Join("local", "room_a")
	b.Join("remote", "room_a")

	// published on instance a, delivered to the member attached to b too
	require.NoError(t, a.Broadcast("room_a", "hello", nil))

	assert.Eventually(t, func() bool {
		return recA.count("local") == 1 && recB.count("remote") == 1
	}, time.Second, 5*time.Millisecond)
}

func TestRedisBroker_MembershipStaysLocal(t *testing.T) {
	mr := miniredis.RunT(t)

	rec := newRecorder()
	a := newTestRedisBroker(t, mr.Addr(), rec)
	b := newTestRedisBroker(t, mr.Addr(), newRecorder())

	a.Join("c1", "room_a")

	assert.Contains(t, a.Members("room_a"), "c1")
	assert.Empty(t, b.Members("room_a"))

	a.LeaveAll("c1")
	assert.Empty(t, a.Members("room_a"))
}

func TestRedisBroker_CloseIsIdempotent(t *testing.T) {
	mr := miniredis.RunT(t)

	b, err := NewRedisBroker(testLogger(t), config.BrokerRedisConfig{Addr: mr.Addr()}, newRecorder().deliver)
	require.NoError(t, err)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
}

func TestNewBroker_Factory(t *testing.T) {
	rec := newRecorder()

	b, err := NewBroker(testLogger(t), &config.BrokerConfig{}, rec.deliver)
	require.NoError(t, err)
	assert.IsType(t, &MemoryBroker{}, b)

	_, err = NewBroker(testLogger(t), &config.BrokerConfig{Type: "carrier-pigeon"}, rec.deliver)
	assert.Error(t, err)
}
