package client

import (
	"errors"
	"fmt"
)

// Transport error types
var (
	ErrMaxAttemptsReached = errors.New("broadcast connection attempts exhausted")
	ErrTransportClosed    = errors.New("broadcast transport is closed")
	ErrSubscribeTimeout   = errors.New("timed out waiting for subscription acknowledgment")
)

// APIError carries a server-provided message alongside the HTTP status,
// so callers can distinguish validation failures from transport trouble
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}
