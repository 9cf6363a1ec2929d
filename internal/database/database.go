package database

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("record not found")

// Database defines the methods for database operations.
type Database interface {
	// Close closes the database connection.
	Close() error

	// GetUserByID gets a user by id, returning ErrNotFound when absent.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// CreateUser creates a new user.
	CreateUser(ctx context.Context, user *User) error

	// CreateHelpRequest creates a new help request.
	CreateHelpRequest(ctx context.Context, req *HelpRequest) error

	// GetHelpRequestByID gets a help request by id, returning ErrNotFound when absent.
	GetHelpRequestByID(ctx context.Context, id int64) (*HelpRequest, error)

	// SaveMessage saves a chat message, filling its id and created-at timestamp.
	SaveMessage(ctx context.Context, message *Message) error

	// GetMessages gets messages for a help request in chronological order.
	GetMessages(ctx context.Context, helpRequestID int64) ([]*Message, error)

	// InsertConnection records an authenticated live connection.
	InsertConnection(ctx context.Context, userID int64, connectionID string) error

	// DeleteConnectionByConnID removes the record for a connection id. Idempotent.
	DeleteConnectionByConnID(ctx context.Context, connectionID string) error

	// ListConnections returns every persisted connection record.
	ListConnections(ctx context.Context) ([]*UserConnection, error)
}
