package broker

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recorder struct {
	mu     sync.Mutex
	events map[string][]string // connID -> delivered event names
}

func newRecorder() *recorder {
	return &recorder{events: make(map[string][]string)}
}

func (r *recorder) deliver(connID, event string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[connID] = append(r.events[connID], event)
}

func (r *recorder) count(connID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events[connID])
}

func TestMemoryBroker_JoinBroadcastLeave(t *testing.T) {
	rec := newRecorder()
	b := NewMemoryBroker(testLogger(t), rec.deliver)

	b.Join("c1", "room_a")
	b.Join("c2", "room_a")
	b.Join("c3", "room_b")

	assert.NoError(t, b.Broadcast("room_a", "hello", nil))
	assert.Equal(t, 1, rec.count("c1"))
	assert.Equal(t, 1, rec.count("c2"))
	assert.Equal(t, 0, rec.count("c3"))

	b.Leave("c2", "room_a")
	assert.NoError(t, b.Broadcast("room_a", "hello", nil))
	assert.Equal(t, 2, rec.count("c1"))
	assert.Equal(t, 1, rec.count("c2"))
}

func TestMemoryBroker_JoinTwiceIsNoop(t *testing.T) {
	rec := newRecorder()
	b := NewMemoryBroker(testLogger(t), rec.deliver)

	b.Join("c1", "room_a")
	b.Join("c1", "room_a")

	assert.Len(t, b.Members("room_a"), 1)
	assert.NoError(t, b.Broadcast("room_a", "hello", nil))
	assert.Equal(t, 1, rec.count("c1"))
}

func TestMemoryBroker_LeaveAll(t *testing.T) {
	rec := newRecorder()
	b := NewMemoryBroker(testLogger(t), rec.deliver)

	b.Join("c1", "room_a")
	b.Join("c1", "room_b")
	b.Join("c2", "room_a")

	b.LeaveAll("c1")

	assert.Empty(t, b.Rooms("c1"))
	assert.Equal(t, []string{"c2"}, b.Members("room_a"))
	assert.Empty(t, b.Members("room_b"))
}

func TestMemoryBroker_LeaveUnknownIsSilent(t *testing.T) {
	rec := newRecorder()
	b := NewMemoryBroker(testLogger(t), rec.deliver)

	b.Leave("ghost", "room_a")
	b.LeaveAll("ghost")
	assert.NoError(t, b.Broadcast("nonexistent", "hello", nil))
}

func TestMemoryBroker_EmptyRoomsAreDropped(t *testing.T) {
	rec := newRecorder()
	b := NewMemoryBroker(testLogger(t), rec.deliver)

	b.Join("c1", "room_a")
	b.Leave("c1", "room_a")

	b.mu.RLock()
	defer b.mu.RUnlock()
	assert.Empty(t, b.rooms)
	assert.Empty(t, b.conns)
}
