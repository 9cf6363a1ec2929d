package ws

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/civicmesh/presence/internal/realtime"

	"github.com/gorilla/websocket"
)

// Frame is the wire format for both directions: a named event with a
// JSON payload.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Conn adapts a gorilla websocket connection to realtime.Conn. Writes
// are serialized with a mutex; gorilla connections allow only one
// concurrent writer.
type Conn struct {
	id     string
	ws     *websocket.Conn
	mu     sync.Mutex
	closed atomic.Bool
}

var _ realtime.Conn = (*Conn)(nil)

// NewConn wraps an upgraded websocket connection
func NewConn(id string, ws *websocket.Conn) *Conn {
	return &Conn{id: id, ws: ws}
}

// ID implements realtime.Conn.ID
func (c *Conn) ID() string {
	return c.id
}

// Connected implements realtime.Conn.Connected
func (c *Conn) Connected() bool {
	return !c.closed.Load()
}

// Emit implements realtime.Conn.Emit
func (c *Conn) Emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(Frame{Event: event, Data: data})
}

// Close implements realtime.Conn.Close
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.ws.Close()
}

// markClosed records that the transport is gone without re-closing it
func (c *Conn) markClosed() {
	c.closed.Store(true)
}
