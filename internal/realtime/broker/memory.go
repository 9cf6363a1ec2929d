package broker

import (
	"sync"

	"go.uber.org/zap"
)

// MemoryBroker implements Broker with in-process membership maps
type MemoryBroker struct {
	logger  *zap.Logger
	deliver DeliverFunc

	mu    sync.RWMutex
	rooms map[string]map[string]struct{} // room -> member connection ids
	conns map[string]map[string]struct{} // connection id -> joined rooms
}

var _ Broker = (*MemoryBroker)(nil)

// NewMemoryBroker creates a new in-memory room broker
func NewMemoryBroker(logger *zap.Logger, deliver DeliverFunc) *MemoryBroker {
	return &MemoryBroker{
		logger:  logger.Named("broker.memory"),
		deliver: deliver,
		rooms:   make(map[string]map[string]struct{}),
		conns:   make(map[string]map[string]struct{}),
	}
}

// Join implements Broker.Join
func (b *MemoryBroker) Join(connID, room string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.rooms[room] == nil {
		b.rooms[room] = make(map[string]struct{})
	}
	b.rooms[room][connID] = struct{}{}

	if b.conns[connID] == nil {
		b.conns[connID] = make(map[string]struct{})
	}
	b.conns[connID][room] = struct{}{}
}

// Leave implements Broker.Leave
func (b *MemoryBroker) Leave(connID, room string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.leaveLocked(connID, room)
}

func (b *MemoryBroker) leaveLocked(connID, room string) {
	if members, ok := b.rooms[room]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(b.rooms, room)
		}
	}
	if joined, ok := b.conns[connID]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(b.conns, connID)
		}
	}
}

// LeaveAll implements Broker.LeaveAll
func (b *MemoryBroker) LeaveAll(connID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for room := range b.conns[connID] {
		b.leaveLocked(connID, room)
	}
}

// Broadcast implements Broker.Broadcast
func (b *MemoryBroker) Broadcast(room, event string, payload any) error {
	for _, connID := range b.Members(room) {
		b.deliver(connID, event, payload)
	}
	return nil
}

// Members implements Broker.Members
func (b *MemoryBroker) Members(room string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, 0, len(b.rooms[room]))
	for connID := range b.rooms[room] {
		out = append(out, connID)
	}
	return out
}

// Rooms implements Broker.Rooms
func (b *MemoryBroker) Rooms(connID string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, 0, len(b.conns[connID]))
	for room := range b.conns[connID] {
		out = append(out, room)
	}
	return out
}

// Close implements Broker.Close
func (b *MemoryBroker) Close() error {
	return nil
}
