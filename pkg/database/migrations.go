package database

import (
	"database/sql"
	"fmt"
)

// Migration represents a database migration
// ARCHITECTURAL DISCOVERY: Migration struct encapsulates all information
// needed for safe schema evolution across environments
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// migrations are compiled into the binary and applied in order. Keeping
// them in code rather than on disk means a deployment is never missing
// its schema files.
var migrations = []Migration{
	{
		Version:     "001",
		Description: "create sessions table",
		SQL: `
			CREATE TABLE IF NOT EXISTS sessions (
				id                  TEXT PRIMARY KEY,
				namespace_id        TEXT NOT NULL,
				problem             TEXT,
				status              TEXT NOT NULL DEFAULT 'active'
					CHECK (status IN ('active', 'completed')),
				featured_student_id TEXT,
				featured_code       TEXT,
				created_by          TEXT NOT NULL,
				start_time          DATETIME NOT NULL,
				ended_at            DATETIME,
				replaced_by         TEXT
			);
			CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
			CREATE INDEX IF NOT EXISTS idx_sessions_namespace ON sessions(namespace_id);
		`,
	},
	{
		Version:     "002",
		Description: "create students table",
		SQL: `
			CREATE TABLE IF NOT EXISTS students (
				session_id         TEXT NOT NULL REFERENCES sessions(id),
				user_id            TEXT NOT NULL,
				name               TEXT NOT NULL,
				code               TEXT NOT NULL DEFAULT '',
				last_update        DATETIME NOT NULL,
				execution_settings TEXT,
				PRIMARY KEY (session_id, user_id)
			);
			CREATE INDEX IF NOT EXISTS idx_students_session ON students(session_id);
		`,
	},
	{
		Version:     "003",
		Description: "create revisions table",
		SQL: `
			CREATE TABLE IF NOT EXISTS revisions (
				id               TEXT PRIMARY KEY,
				namespace_id     TEXT,
				session_id       TEXT NOT NULL REFERENCES sessions(id),
				student_id       TEXT NOT NULL,
				timestamp        DATETIME NOT NULL,
				is_diff          INTEGER NOT NULL DEFAULT 0,
				diff             TEXT,
				full_code        TEXT,
				base_revision_id TEXT,
				execution_result TEXT,
				CHECK ((diff IS NULL) != (full_code IS NULL))
			);
			CREATE INDEX IF NOT EXISTS idx_revisions_session_student
				ON revisions(session_id, student_id, timestamp);
		`,
	},
}

// MigrationManager handles database migrations
type MigrationManager struct {
	db *sql.DB
}

// NewMigrationManager creates a new migration manager
func NewMigrationManager(db *sql.DB) *MigrationManager {
	return &MigrationManager{db: db}
}

// ApplyMigrations applies all pending migrations
// FUNCTIONAL DISCOVERY: Migration tracking table created automatically
// to maintain schema version state across application restarts
func (m *MigrationManager) ApplyMigrations() error {
	if err := m.createMigrationTable(); err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	applied, err := m.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, migration := range migrations {
		if applied[migration.Version] {
			continue
		}
		if err := m.applyMigration(migration); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
	}

	return nil
}

func (m *MigrationManager) createMigrationTable() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     TEXT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

func (m *MigrationManager) getAppliedMigrations() (map[string]bool, error) {
	rows, err := m.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

// applyMigration runs a single migration inside a transaction
// Either the migration and its tracking row both land, or neither does
func (m *MigrationManager) applyMigration(migration Migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(migration.SQL); err != nil {
		return fmt.Errorf("migration SQL failed: %w", err)
	}

	if _, err := tx.Exec(
		"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
		migration.Version, migration.Description,
	); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}

// ValidateSchema ensures the database matches the expected structure
// FUNCTIONAL DISCOVERY: Schema validation prevents runtime errors from
// structural mismatches between code expectations and database reality
func (m *MigrationManager) ValidateSchema() error {
	requiredTables := []string{"sessions", "students", "revisions", "schema_migrations"}
	for _, table := range requiredTables {
		exists, err := m.tableExists(table)
		if err != nil {
			return fmt.Errorf("failed to check table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("required table %s does not exist", table)
		}
	}

	requiredIndexes := []string{
		"idx_sessions_status",
		"idx_sessions_namespace",
		"idx_students_session",
		"idx_revisions_session_student",
	}
	for _, index := range requiredIndexes {
		exists, err := m.indexExists(index)
		if err != nil {
			return fmt.Errorf("failed to check index %s: %w", index, err)
		}
		if !exists {
			return fmt.Errorf("required index %s does not exist", index)
		}
	}

	return nil
}

func (m *MigrationManager) tableExists(tableName string) (bool, error) {
	var count int
	err := m.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?",
		tableName,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (m *MigrationManager) indexExists(indexName string) (bool, error) {
	var count int
	err := m.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?",
		indexName,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
