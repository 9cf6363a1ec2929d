package realtime

import "errors"

var (
	// ErrAlreadyRegistered is returned when a connection id is registered twice.
	// This signals a transport-layer bug and is logged rather than surfaced to clients.
	ErrAlreadyRegistered = errors.New("connection already registered")

	// ErrMaxRetriesExceeded is returned once a connection exhausts its retry budget
	ErrMaxRetriesExceeded = errors.New("max retry attempts exceeded")
)
