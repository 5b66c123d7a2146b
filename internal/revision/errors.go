package revision

import "errors"

// Revision recording and reconstruction error types
var (
	ErrBadPatch     = errors.New("revision diff is not a valid patch")
	ErrEmptySession = errors.New("session ID cannot be empty")
	ErrEmptyStudent = errors.New("student ID cannot be empty")
)
