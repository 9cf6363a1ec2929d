package broker

import (
	"fmt"

	"github.com/civicmesh/presence/internal/common/config"
	"go.uber.org/zap"
)

// DeliverFunc hands a broadcast event to one local connection. The
// session manager supplies it; brokers never hold connection references.
type DeliverFunc func(connID, event string, payload any)

// Broker provides room membership and room-scoped broadcast. Delivery is
// at-most-once per member and ordering across members is unspecified.
type Broker interface {
	// Join adds a connection to a room. Joining twice is a no-op.
	Join(connID, room string)

	// Leave removes a connection from a room. Always succeeds silently.
	Leave(connID, room string)

	// LeaveAll removes a connection from every room it joined.
	LeaveAll(connID string)

	// Broadcast delivers an event to every current member of the room,
	// including the sender if joined.
	Broadcast(room, event string, payload any) error

	// Members returns a copy of the room's current member ids.
	Members(room string) []string

	// Rooms returns a copy of the rooms a connection has joined.
	Rooms(connID string) []string

	// Close releases broker resources.
	Close() error
}

// Type represents the type of room broker
type Type string

const (
	// TypeMemory represents the single-process in-memory broker
	TypeMemory Type = "memory"
	// TypeRedis represents the redis pub/sub backed broker
	TypeRedis Type = "redis"
)

// NewBroker creates a room broker based on configuration
func NewBroker(logger *zap.Logger, cfg *config.BrokerConfig, deliver DeliverFunc) (Broker, error) {
	t := cfg.Type
	if t == "" {
		t = string(TypeMemory)
	}
	logger.Info("initializing room broker", zap.String("type", t))
	switch Type(t) {
	case TypeMemory:
		return NewMemoryBroker(logger, deliver), nil
	case TypeRedis:
		return NewRedisBroker(logger, cfg.Redis, deliver)
	default:
		return nil, fmt.Errorf("unsupported broker type: %s", t)
	}
}
