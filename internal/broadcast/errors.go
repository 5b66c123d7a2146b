package broadcast

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timeout after 5 seconds")
	ErrInvalidJSON      = errors.New("invalid JSON data")
)

// Registry-related errors
var (
	ErrNilConnection        = errors.New("connection cannot be nil")
	ErrConnectionUnbound    = errors.New("connection must be bound to a session before registration")
)

// Hub-related errors
var (
	ErrHubAlreadyRunning = errors.New("hub is already running")
	ErrHubNotRunning     = errors.New("hub is not running")
	ErrPublishChannelFull = errors.New("publish channel is full")
)
