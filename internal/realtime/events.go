package realtime

import (
	"fmt"
	"time"
)

// Inbound event names
const (
	EventAuthenticate     = "authenticate"
	EventJoinHelpRequest  = "join_help_request"
	EventLeaveHelpRequest = "leave_help_request"
	EventSendMessage      = "send_message"
	EventRetryConnection  = "retry_connection"
	EventPong             = "pong"
	EventDisconnecting    = "disconnecting"
	EventError            = "error"
)

// Outbound event names
const (
	EventPing              = "ping"
	EventAuthenticated     = "authenticated"
	EventAuthError         = "auth_error"
	EventRoomJoined        = "room_joined"
	EventRoomLeft          = "room_left"
	EventNewMessage        = "new_message"
	EventMessageSent       = "message_sent"
	EventConnectionRetry   = "connection_retry"
	EventMaxRetriesReached = "max_retries_reached"
	EventIdleTimeout       = "idle_timeout"
	EventErrorHandled      = "error_handled"
)

// PingPayload carries the server clock in epoch milliseconds
type PingPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// PongPayload echoes the timestamp of the ping being answered
type PongPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// AuthenticatedPayload acknowledges a successful authenticate
type AuthenticatedPayload struct {
	UserID    int64 `json:"userId"`
	Timestamp int64 `json:"timestamp"`
}

// ErrorPayload is the generic structured rejection scoped to one connection
type ErrorPayload struct {
	Message string `json:"message"`
}

// RoomPayload names the room a connection joined or left
type RoomPayload struct {
	RoomID string `json:"roomId"`
}

// SendMessagePayload is the inbound chat message request
type SendMessagePayload struct {
	HelpRequestID int64  `json:"helpRequestId"`
	Message       string `json:"message"`
}

// NewMessagePayload is the enriched message broadcast to a help request room
type NewMessagePayload struct {
	ID        int64     `json:"id"`
	Message   string    `json:"message"`
	Sender    string    `json:"sender"`
	Avatar    *string   `json:"avatar,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageSentPayload acknowledges a persisted message to its sender
type MessageSentPayload struct {
	MessageID int64     `json:"messageId"`
	Timestamp time.Time `json:"timestamp"`
}

// ConnectionRetryPayload reports backoff progress to a retrying client
type ConnectionRetryPayload struct {
	Attempt    int   `json:"attempt"`
	MaxRetries int   `json:"maxRetries"`
	NextDelay  int64 `json:"nextDelay"`
}

// MaxRetriesPayload is the terminal notice before a forced disconnect
type MaxRetriesPayload struct {
	Message string `json:"message"`
}

// IdleTimeoutPayload reports the observed idle duration in minutes
type IdleTimeoutPayload struct {
	Message  string `json:"message"`
	IdleTime int64  `json:"idleTime"`
}

// ErrorHandledPayload acknowledges a client-reported error
type ErrorHandledPayload struct {
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

func userRoom(userID int64) string {
	return fmt.Sprintf("user_%d", userID)
}

func helpRequestRoom(id int64) string {
	return fmt.Sprintf("help_request_%d", id)
}
