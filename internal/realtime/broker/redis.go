package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/civicmesh/presence/internal/common/config"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBroker implements Broker with local membership plus a redis
// pub/sub topic, so a broadcast published on one instance reaches room
// members attached to every instance. Delivery to local members happens
// only in the subscription handler; Broadcast itself just publishes.
type RedisBroker struct {
	logger *zap.Logger
	client *redis.Client
	topic  string
	local  *MemoryBroker

	mu     sync.Mutex
	pubsub *redis.PubSub
	closed bool
	done   chan struct{}
}

var _ Broker = (*RedisBroker)(nil)

type envelope struct {
	Room    string          `json:"room"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// NewRedisBroker creates a redis pub/sub backed room broker
func NewRedisBroker(logger *zap.Logger, cfg config.BrokerRedisConfig, deliver DeliverFunc) (*RedisBroker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	topic := cfg.Topic
	if topic == "" {
		topic = "presence:rooms"
	}

	b := &RedisBroker{
		logger: logger.Named("broker.redis"),
		client: client,
		topic:  topic,
		local:  NewMemoryBroker(logger, deliver),
		done:   make(chan struct{}),
	}

	b.pubsub = client.Subscribe(context.Background(), topic)
	go b.run()

	return b, nil
}

// run consumes the subscription and re-subscribes with exponential
// backoff if the channel closes before the broker itself is closed.
func (b *RedisBroker) run() {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0

	for {
		b.mu.Lock()
		ps := b.pubsub
		b.mu.Unlock()

		for msg := range ps.Channel() {
			b.handleMessage(msg.Payload)
		}

		select {
		case <-b.done:
			return
		default:
		}

		delay := bo.NextBackOff()
		b.logger.Warn("redis subscription lost, re-subscribing",
			zap.Duration("delay", delay))
		time.Sleep(delay)

		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return
		}
		b.pubsub = b.client.Subscribe(context.Background(), b.topic)
		b.mu.Unlock()
	}
}

func (b *RedisBroker) handleMessage(payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		b.logger.Error("failed to unmarshal broadcast envelope",
			zap.Error(err),
			zap.String("payload", payload))
		return
	}
	if err := b.local.Broadcast(env.Room, env.Event, env.Payload); err != nil {
		b.logger.Error("local delivery failed",
			zap.Error(err),
			zap.String("room", env.Room))
	}
}

// Join implements Broker.Join
func (b *RedisBroker) Join(connID, room string) {
	b.local.Join(connID, room)
}

// Leave implements Broker.Leave
func (b *RedisBroker) Leave(connID, room string) {
	b.local.Leave(connID, room)
}

// LeaveAll implements Broker.LeaveAll
func (b *RedisBroker) LeaveAll(connID string) {
	b.local.LeaveAll(connID)
}

// Broadcast implements Broker.Broadcast by publishing to the shared topic
func (b *RedisBroker) Broadcast(room, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	env, err := json.Marshal(envelope{Room: room, Event: event, Payload: data})
	if err != nil {
		return err
	}
	return b.client.Publish(context.Background(), b.topic, env).Err()
}

// Members implements Broker.Members
func (b *RedisBroker) Members(room string) []string {
	return b.local.Members(room)
}

// Rooms implements Broker.Rooms
func (b *RedisBroker) Rooms(connID string) []string {
	return b.local.Rooms(connID)
}

// Close implements Broker.Close
func (b *RedisBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	close(b.done)
	if err := b.pubsub.Close(); err != nil {
		b.logger.Warn("failed to close subscription", zap.Error(err))
	}
	return b.client.Close()
}
