package interfaces

import (
	"context"

	"codesession/pkg/types"
)

// Store handles all persistence operations
// ARCHITECTURAL DISCOVERY: Single interface for all persistence operations
// enables consistent transaction handling and connection management.
// Constructed once at process start and passed to request handlers; there
// is no lazily-initialized shared instance anywhere in the system.
type Store interface {
	// Session operations

	// CreateSession creates a new session in the database
	CreateSession(ctx context.Context, session *types.Session) error

	// GetSession retrieves a session by ID
	// Context enables query timeout and cancellation for operations that
	// may block during high load
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)

	// UpdateSession updates a session's mutable fields (status, end time,
	// featured projection, problem, replacement pointer)
	UpdateSession(ctx context.Context, session *types.Session) error

	// ListActiveSessions returns all active sessions
	ListActiveSessions(ctx context.Context) ([]*types.Session, error)

	// Student operations

	// UpsertStudent inserts or replaces a student row for a session
	UpsertStudent(ctx context.Context, sessionID string, student *types.Student) error

	// GetStudent retrieves one student's record within a session
	GetStudent(ctx context.Context, sessionID, studentID string) (*types.Student, error)

	// ListStudents returns all students for a session
	ListStudents(ctx context.Context, sessionID string) ([]*types.Student, error)

	// Revision operations
	// FUNCTIONAL DISCOVERY: A (session, student) revision sequence is
	// append-only; concurrent appenders across different keys must be
	// tolerated, a single key's sequence is never concurrently mutated

	// AppendRevision appends one revision to its (session, student) sequence
	AppendRevision(ctx context.Context, revision *types.Revision) error

	// ListRevisions returns the time-ordered revision sequence for a
	// (session, student) pair
	ListRevisions(ctx context.Context, sessionID, studentID string) ([]*types.Revision, error)

	// Health and lifecycle operations

	// HealthCheck verifies database connectivity and basic operations
	HealthCheck(ctx context.Context) error

	// Close closes the database connection and cleans up resources
	Close() error
}

// RevisionStore is the narrow slice of Store the revision recorder needs
type RevisionStore interface {
	AppendRevision(ctx context.Context, revision *types.Revision) error
	ListRevisions(ctx context.Context, sessionID, studentID string) ([]*types.Revision, error)
}
