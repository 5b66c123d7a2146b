package types

import "errors"

// ARCHITECTURAL DISCOVERY: Specific error types enable proper error handling
// and user-friendly error messages throughout the system
var (
	ErrInvalidUserID      = errors.New("user ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidSessionID   = errors.New("session ID must be a non-empty identifier")
	ErrInvalidNamespaceID = errors.New("namespace ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidStatus      = errors.New("status must be 'active' or 'completed'")
	ErrInvalidStudentName = errors.New("student name must be 1-100 characters")
	ErrAmbiguousRevision  = errors.New("revision must carry exactly one of diff or fullCode")
	ErrRevisionTagMismatch = errors.New("revision isDiff tag does not match populated field")
	ErrUnknownEvent       = errors.New("unknown session event name")
)
