package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	// ARCHITECTURAL DISCOVERY: Import SQLite driver but only reference in connection string
	_ "github.com/mattn/go-sqlite3"

	dbconfig "codesession/pkg/database"
	"codesession/pkg/interfaces"
	"codesession/pkg/types"
)

// Store implements the interfaces.Store interface on SQLite
type Store struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex // TECHNICAL: Protect closed status
}

// writeOperation represents a database write operation
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewStore opens the database, applies pragmas, and starts the
// single-writer goroutine. The returned handle is constructed once at
// process start and injected into request handlers.
func NewStore(config *dbconfig.Config) (*Store, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// FUNCTIONAL DISCOVERY: Connection pool configuration critical for concurrent reads
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	store := &Store{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100), // Buffer for write operations prevents blocking
		shutdown:     make(chan struct{}),
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	store.wg.Add(1)
	go store.writeLoop()

	return store, nil
}

// writeLoop processes all write operations in a single goroutine
func (s *Store) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case op := <-s.writeChannel:
			// Retry exactly once after a short delay; revision appends and
			// code updates are idempotent at the caller level
			err := op.operation(s.db)
			if err != nil {
				log.Printf("Database write failed, retrying in 5 seconds: %v", err)
				time.Sleep(5 * time.Second)
				err = op.operation(s.db)
				if err != nil {
					log.Printf("Database write failed after retry: %v", err)
				}
			}
			op.result <- err

		case <-s.shutdown:
			log.Println("Database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion
func (s *Store) executeWrite(operation func(*sql.DB) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("store is closed")
	}
	s.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case s.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return fmt.Errorf("write operation timeout")
	case <-s.shutdown:
		return fmt.Errorf("store is shutting down")
	}
}

// CreateSession creates a new session in the database
func (s *Store) CreateSession(ctx context.Context, session *types.Session) error {
	if err := session.Validate(); err != nil {
		return err
	}

	return s.executeWrite(func(db *sql.DB) error {
		problemJSON, err := marshalNullable(session.Problem)
		if err != nil {
			return fmt.Errorf("failed to marshal problem: %w", err)
		}

		query := `
			INSERT INTO sessions (id, namespace_id, problem, status, featured_student_id,
				featured_code, created_by, start_time, ended_at, replaced_by)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err = db.ExecContext(ctx, query,
			session.ID,
			session.NamespaceID,
			problemJSON,
			session.Status,
			session.FeaturedStudentID,
			session.FeaturedCode,
			session.CreatedBy,
			session.StartTime,
			session.EndedAt,
			session.ReplacedBy,
		)
		if err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}
		return nil
	})
}

// GetSession retrieves a session by ID
// ARCHITECTURAL DISCOVERY: Read operations can be concurrent - no need for writeChannel
func (s *Store) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	query := `
		SELECT id, namespace_id, problem, status, featured_student_id, featured_code,
			created_by, start_time, ended_at, replaced_by
		FROM sessions
		WHERE id = ?
	`

	row := s.db.QueryRowContext(ctx, query, sessionID)
	session, err := scanSession(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return session, nil
}

// UpdateSession updates a session's mutable fields
func (s *Store) UpdateSession(ctx context.Context, session *types.Session) error {
	return s.executeWrite(func(db *sql.DB) error {
		problemJSON, err := marshalNullable(session.Problem)
		if err != nil {
			return fmt.Errorf("failed to marshal problem: %w", err)
		}

		query := `
			UPDATE sessions
			SET problem = ?, status = ?, featured_student_id = ?, featured_code = ?,
				ended_at = ?, replaced_by = ?
			WHERE id = ?
		`
		result, err := db.ExecContext(ctx, query,
			problemJSON,
			session.Status,
			session.FeaturedStudentID,
			session.FeaturedCode,
			session.EndedAt,
			session.ReplacedBy,
			session.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}

		affected, err := result.RowsAffected()
		if err == nil && affected == 0 {
			return interfaces.ErrSessionNotFound
		}
		return nil
	})
}

// ListActiveSessions returns all active sessions ordered by recency
func (s *Store) ListActiveSessions(ctx context.Context) ([]*types.Session, error) {
	query := `
		SELECT id, namespace_id, problem, status, featured_student_id, featured_code,
			created_by, start_time, ended_at, replaced_by
		FROM sessions
		WHERE status = 'active'
		ORDER BY start_time DESC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query active sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*types.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}
	return sessions, nil
}

// UpsertStudent inserts or replaces a student row for a session
func (s *Store) UpsertStudent(ctx context.Context, sessionID string, student *types.Student) error {
	if err := student.Validate(); err != nil {
		return err
	}

	return s.executeWrite(func(db *sql.DB) error {
		settingsJSON, err := marshalNullable(student.ExecutionSettings)
		if err != nil {
			return fmt.Errorf("failed to marshal execution settings: %w", err)
		}

		query := `
			INSERT INTO students (session_id, user_id, name, code, last_update, execution_settings)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (session_id, user_id) DO UPDATE SET
				name = excluded.name,
				code = excluded.code,
				last_update = excluded.last_update,
				execution_settings = excluded.execution_settings
		`
		_, err = db.ExecContext(ctx, query,
			sessionID,
			student.ID,
			student.Name,
			student.Code,
			student.LastUpdate,
			settingsJSON,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert student: %w", err)
		}
		return nil
	})
}

// GetStudent retrieves one student's record within a session
func (s *Store) GetStudent(ctx context.Context, sessionID, studentID string) (*types.Student, error) {
	query := `
		SELECT user_id, name, code, last_update, execution_settings
		FROM students
		WHERE session_id = ? AND user_id = ?
	`

	row := s.db.QueryRowContext(ctx, query, sessionID, studentID)
	student, err := scanStudent(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrStudentNotFound
		}
		return nil, fmt.Errorf("failed to query student: %w", err)
	}
	return student, nil
}

// ListStudents returns all students for a session ordered by join order
func (s *Store) ListStudents(ctx context.Context, sessionID string) ([]*types.Student, error) {
	query := `
		SELECT user_id, name, code, last_update, execution_settings
		FROM students
		WHERE session_id = ?
		ORDER BY user_id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query students: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var students []*types.Student
	for rows.Next() {
		student, err := scanStudent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan student row: %w", err)
		}
		students = append(students, student)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating student rows: %w", err)
	}
	return students, nil
}

// AppendRevision appends one revision to its (session, student) sequence
// FUNCTIONAL DISCOVERY: The single-writer loop serializes appends, so
// concurrent appenders across different keys never interleave writes
func (s *Store) AppendRevision(ctx context.Context, revision *types.Revision) error {
	if err := revision.Validate(); err != nil {
		return err
	}

	return s.executeWrite(func(db *sql.DB) error {
		resultJSON, err := marshalNullable(revision.ExecutionResult)
		if err != nil {
			return fmt.Errorf("failed to marshal execution result: %w", err)
		}

		query := `
			INSERT INTO revisions (id, namespace_id, session_id, student_id, timestamp,
				is_diff, diff, full_code, base_revision_id, execution_result)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err = db.ExecContext(ctx, query,
			revision.ID,
			nullableString(revision.NamespaceID),
			revision.SessionID,
			revision.StudentID,
			revision.Timestamp,
			revision.IsDiff,
			revision.Diff,
			revision.FullCode,
			nullableString(revision.BaseRevisionID),
			resultJSON,
		)
		if err != nil {
			return fmt.Errorf("failed to insert revision: %w", err)
		}
		return nil
	})
}

// ListRevisions returns the time-ordered revision sequence for a
// (session, student) pair
func (s *Store) ListRevisions(ctx context.Context, sessionID, studentID string) ([]*types.Revision, error) {
	query := `
		SELECT id, namespace_id, session_id, student_id, timestamp, is_diff,
			diff, full_code, base_revision_id, execution_result
		FROM revisions
		WHERE session_id = ? AND student_id = ?
		ORDER BY timestamp ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, sessionID, studentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query revisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var revisions []*types.Revision
	for rows.Next() {
		var rev types.Revision
		var namespaceID, baseRevisionID sql.NullString
		var resultJSON sql.NullString

		err := rows.Scan(
			&rev.ID,
			&namespaceID,
			&rev.SessionID,
			&rev.StudentID,
			&rev.Timestamp,
			&rev.IsDiff,
			&rev.Diff,
			&rev.FullCode,
			&baseRevisionID,
			&resultJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan revision row: %w", err)
		}

		rev.NamespaceID = namespaceID.String
		rev.BaseRevisionID = baseRevisionID.String
		if resultJSON.Valid && resultJSON.String != "" {
			var result types.ExecutionResult
			if err := json.Unmarshal([]byte(resultJSON.String), &result); err != nil {
				return nil, fmt.Errorf("failed to unmarshal execution result: %w", err)
			}
			rev.ExecutionResult = &result
		}

		revisions = append(revisions, &rev)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating revision rows: %w", err)
	}
	return revisions, nil
}

// HealthCheck validates database connectivity
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	_, err := s.db.QueryContext(ctx, "SELECT COUNT(*) FROM sessions LIMIT 1")
	if err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying database connection for migrations
func (s *Store) GetDB() *sql.DB {
	return s.db
}

// Close shuts down the store
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil // Already closed
	}
	s.closed = true
	s.mu.Unlock()

	// ARCHITECTURAL DISCOVERY: Graceful shutdown requires careful goroutine coordination
	close(s.shutdown)
	s.wg.Wait() // Wait for write loop to finish processing

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// rowScanner covers both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*types.Session, error) {
	var session types.Session
	var problemJSON sql.NullString
	var endedAt sql.NullTime

	err := row.Scan(
		&session.ID,
		&session.NamespaceID,
		&problemJSON,
		&session.Status,
		&session.FeaturedStudentID,
		&session.FeaturedCode,
		&session.CreatedBy,
		&session.StartTime,
		&endedAt,
		&session.ReplacedBy,
	)
	if err != nil {
		return nil, err
	}

	if problemJSON.Valid && problemJSON.String != "" {
		var problem types.Problem
		if err := json.Unmarshal([]byte(problemJSON.String), &problem); err != nil {
			return nil, fmt.Errorf("failed to unmarshal problem: %w", err)
		}
		session.Problem = &problem
	}
	if endedAt.Valid {
		session.EndedAt = &endedAt.Time
	}
	return &session, nil
}

func scanStudent(row rowScanner) (*types.Student, error) {
	var student types.Student
	var settingsJSON sql.NullString

	err := row.Scan(
		&student.ID,
		&student.Name,
		&student.Code,
		&student.LastUpdate,
		&settingsJSON,
	)
	if err != nil {
		return nil, err
	}

	if settingsJSON.Valid && settingsJSON.String != "" {
		if err := json.Unmarshal([]byte(settingsJSON.String), &student.ExecutionSettings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution settings: %w", err)
		}
	}
	return &student, nil
}

// marshalNullable serializes v to JSON, mapping nil to SQL NULL
func marshalNullable(v any) (*string, error) {
	switch val := v.(type) {
	case *types.Problem:
		if val == nil {
			return nil, nil
		}
	case *types.ExecutionResult:
		if val == nil {
			return nil, nil
		}
	case map[string]any:
		if val == nil {
			return nil, nil
		}
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	str := string(data)
	return &str, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// applySQLiteOptimizations applies performance optimizations
func applySQLiteOptimizations(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",   // Write-Ahead Logging for concurrency
		"PRAGMA synchronous = NORMAL", // Balance safety and performance
		"PRAGMA cache_size = -64000",  // 64MB cache for classroom scale
		"PRAGMA temp_store = MEMORY",  // Use memory for temporary tables
		"PRAGMA foreign_keys = ON",    // Ensure referential integrity
		"PRAGMA busy_timeout = 5000",  // 5 second timeout for write coordination
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}
