package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	dbconfig "codesession/pkg/database"
	"codesession/pkg/interfaces"
	"codesession/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := dbconfig.DefaultConfig(filepath.Join(t.TempDir(), "test.db"))

	store, err := NewStore(cfg)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	migrations := dbconfig.NewMigrationManager(store.GetDB())
	if err := migrations.ApplyMigrations(); err != nil {
		t.Fatalf("ApplyMigrations failed: %v", err)
	}
	return store
}

func activeSession(id string) *types.Session {
	return &types.Session{
		ID:          id,
		NamespaceID: "ns-1",
		Status:      types.SessionStatusActive,
		CreatedBy:   "teacher-1",
		StartTime:   time.Now().UTC(),
		Problem:     &types.Problem{ID: "p1", Title: "FizzBuzz", StarterCode: "def solve():\n"},
	}
}

func TestSessionRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session := activeSession("session-1")
	if err := store.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	got, err := store.GetSession(ctx, "session-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.ID != session.ID || got.NamespaceID != "ns-1" || got.Status != types.SessionStatusActive {
		t.Errorf("session mismatch: %+v", got)
	}
	if got.Problem == nil || got.Problem.Title != "FizzBuzz" {
		t.Errorf("problem not persisted: %+v", got.Problem)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.GetSession(context.Background(), "missing"); err != interfaces.ErrSessionNotFound {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestUpdateSessionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session := activeSession("session-1")
	if err := store.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	now := time.Now().UTC()
	successor := "session-2"
	session.Status = types.SessionStatusCompleted
	session.EndedAt = &now
	session.ReplacedBy = &successor

	if err := store.UpdateSession(ctx, session); err != nil {
		t.Fatalf("UpdateSession failed: %v", err)
	}

	got, err := store.GetSession(ctx, "session-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.Status != types.SessionStatusCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
	if got.EndedAt == nil {
		t.Error("end time not persisted")
	}
	if got.ReplacedBy == nil || *got.ReplacedBy != "session-2" {
		t.Errorf("replacement pointer not persisted: %v", got.ReplacedBy)
	}
}

func TestUpdateMissingSession(t *testing.T) {
	store := newTestStore(t)

	session := activeSession("never-created")
	if err := store.UpdateSession(context.Background(), session); err != interfaces.ErrSessionNotFound {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestListActiveSessions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	active := activeSession("active-1")
	ended := activeSession("ended-1")
	if err := store.CreateSession(ctx, active); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if err := store.CreateSession(ctx, ended); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	now := time.Now().UTC()
	ended.Status = types.SessionStatusCompleted
	ended.EndedAt = &now
	if err := store.UpdateSession(ctx, ended); err != nil {
		t.Fatalf("UpdateSession failed: %v", err)
	}

	sessions, err := store.ListActiveSessions(ctx)
	if err != nil {
		t.Fatalf("ListActiveSessions failed: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "active-1" {
		t.Errorf("expected only the active session, got %+v", sessions)
	}
}

func TestStudentUpsertAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateSession(ctx, activeSession("session-1")); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	student := &types.Student{
		ID:                "student-1",
		Name:              "Ann",
		Code:              "x = 1",
		LastUpdate:        time.Now().UTC(),
		ExecutionSettings: map[string]any{"lang": "python"},
	}
	if err := store.UpsertStudent(ctx, "session-1", student); err != nil {
		t.Fatalf("UpsertStudent failed: %v", err)
	}

	// Second upsert replaces rather than duplicating
	student.Code = "x = 2"
	if err := store.UpsertStudent(ctx, "session-1", student); err != nil {
		t.Fatalf("second UpsertStudent failed: %v", err)
	}

	got, err := store.GetStudent(ctx, "session-1", "student-1")
	if err != nil {
		t.Fatalf("GetStudent failed: %v", err)
	}
	if got.Code != "x = 2" {
		t.Errorf("expected updated code, got %q", got.Code)
	}
	if got.ExecutionSettings["lang"] != "python" {
		t.Errorf("settings not persisted: %+v", got.ExecutionSettings)
	}

	students, err := store.ListStudents(ctx, "session-1")
	if err != nil {
		t.Fatalf("ListStudents failed: %v", err)
	}
	if len(students) != 1 {
		t.Errorf("expected 1 student, got %d", len(students))
	}
}

func TestGetStudentNotFound(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateSession(ctx, activeSession("session-1")); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if _, err := store.GetStudent(ctx, "session-1", "ghost"); err != interfaces.ErrStudentNotFound {
		t.Errorf("expected ErrStudentNotFound, got %v", err)
	}
}

func TestRevisionAppendAndOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateSession(ctx, activeSession("session-1")); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	base := time.Now().UTC().Truncate(time.Millisecond)
	full := "x = 1"
	diff := "@@ patch @@"
	revisions := []*types.Revision{
		{
			ID: "r1", SessionID: "session-1", StudentID: "student-1",
			Timestamp: base, FullCode: &full,
		},
		{
			ID: "r2", SessionID: "session-1", StudentID: "student-1",
			Timestamp: base.Add(time.Second), IsDiff: true, Diff: &diff, BaseRevisionID: "r1",
			ExecutionResult: &types.ExecutionResult{Success: true, Output: "ok"},
		},
	}

	// Append out of order; listing must come back time-ordered
	if err := store.AppendRevision(ctx, revisions[1]); err != nil {
		t.Fatalf("AppendRevision failed: %v", err)
	}
	if err := store.AppendRevision(ctx, revisions[0]); err != nil {
		t.Fatalf("AppendRevision failed: %v", err)
	}

	got, err := store.ListRevisions(ctx, "session-1", "student-1")
	if err != nil {
		t.Fatalf("ListRevisions failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 revisions, got %d", len(got))
	}
	if got[0].ID != "r1" || got[1].ID != "r2" {
		t.Errorf("revisions out of order: %s, %s", got[0].ID, got[1].ID)
	}
	if got[0].FullCode == nil || *got[0].FullCode != "x = 1" {
		t.Errorf("snapshot not round-tripped: %v", got[0].FullCode)
	}
	if !got[1].IsDiff || got[1].Diff == nil || *got[1].Diff != "@@ patch @@" {
		t.Errorf("diff not round-tripped: %+v", got[1])
	}
	if got[1].ExecutionResult == nil || got[1].ExecutionResult.Output != "ok" {
		t.Errorf("execution result not round-tripped: %+v", got[1].ExecutionResult)
	}
}

func TestAppendRevisionValidates(t *testing.T) {
	store := newTestStore(t)

	invalid := &types.Revision{
		ID: "bad", SessionID: "session-1", StudentID: "student-1",
		Timestamp: time.Now(),
		// Neither diff nor fullCode
	}
	if err := store.AppendRevision(context.Background(), invalid); err == nil {
		t.Error("expected validation error for ambiguous revision")
	}
}

func TestRevisionsIsolatedByStudent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateSession(ctx, activeSession("session-1")); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	full := "code"
	for i, studentID := range []string{"s1", "s2"} {
		rev := &types.Revision{
			ID: "rev-" + studentID, SessionID: "session-1", StudentID: studentID,
			Timestamp: time.Now().UTC().Add(time.Duration(i) * time.Second), FullCode: &full,
		}
		if err := store.AppendRevision(ctx, rev); err != nil {
			t.Fatalf("AppendRevision failed: %v", err)
		}
	}

	got, err := store.ListRevisions(ctx, "session-1", "s1")
	if err != nil {
		t.Fatalf("ListRevisions failed: %v", err)
	}
	if len(got) != 1 || got[0].StudentID != "s1" {
		t.Errorf("expected only s1's revisions, got %+v", got)
	}
}

func TestHealthCheck(t *testing.T) {
	store := newTestStore(t)
	if err := store.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck failed: %v", err)
	}
}
