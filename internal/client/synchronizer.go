package client

import (
	"context"
	"log"
	"sync"
	"time"

	"codesession/pkg/types"
)

// Synchronizer keeps a local mirror of one session's state: the session
// record, a student map, the featured-student projection, and a
// replacement pointer. Events from the broadcast transport and full
// fetches from the poller both funnel into it; all mutation happens
// under one mutex so readers always see a consistent mirror.
//
// Updates that arrive for students the mirror does not know yet are
// buffered and consumed by the matching join event, so out-of-order
// delivery never loses a code change.
type Synchronizer struct {
	api   *API
	queue *MutationQueue

	mu           sync.RWMutex
	sessionID    string
	session      *types.Session
	students     map[string]*types.Student
	featured     *types.FeaturedStudent
	replacement  *types.ReplacementInfo
	pending      map[string]*types.PendingCodeUpdate
	loading      bool
	loaded       bool
	loadInFlight bool
	loadErr      error

	// onWriteError surfaces failures of debounced background writes;
	// optional, defaults to logging
	onWriteError func(error)
}

// NewSynchronizer creates a mirror for sessionID. debounceWindow bounds
// how often local edits become write calls.
func NewSynchronizer(api *API, sessionID string, debounceWindow time.Duration) *Synchronizer {
	if debounceWindow <= 0 {
		debounceWindow = 300 * time.Millisecond
	}
	s := &Synchronizer{
		api:       api,
		sessionID: sessionID,
		students:  make(map[string]*types.Student),
		pending:   make(map[string]*types.PendingCodeUpdate),
		loading:   true,
	}
	s.queue = NewMutationQueue(debounceWindow, s.commitCode)
	return s
}

// OnWriteError registers a callback for background write failures.
// Must be set before the first UpdateCode call.
func (s *Synchronizer) OnWriteError(fn func(error)) {
	s.onWriteError = fn
}

// Load performs the initial full-state fetch. Calls while a load is in
// flight or after a successful load are no-ops, so re-renders cannot
// trigger duplicate fetches.
func (s *Synchronizer) Load(ctx context.Context) error {
	s.mu.Lock()
	if s.loaded || s.loadInFlight {
		s.mu.Unlock()
		return nil
	}
	s.loadInFlight = true
	s.loading = true
	s.loadErr = nil
	current := s.sessionID
	s.mu.Unlock()

	state, err := s.api.GetSessionState(ctx, current)

	s.mu.Lock()
	defer s.mu.Unlock()

	// The mirror may have been swapped to a new session while this
	// fetch was in flight; its response belongs to the old one
	if s.sessionID != current {
		return nil
	}
	s.loadInFlight = false
	s.loading = false
	if err != nil {
		s.loadErr = err
		return err
	}
	s.replaceStateLocked(state)
	s.loaded = true
	return nil
}

// SetSession swaps the mirror to a different session. Everything is
// discarded: session, students, featured projection, replacement
// pointer, and the pending-update buffer. The next Load starts fresh.
func (s *Synchronizer) SetSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sessionID == s.sessionID {
		return
	}
	s.sessionID = sessionID
	s.session = nil
	s.students = make(map[string]*types.Student)
	s.featured = nil
	s.replacement = nil
	s.pending = make(map[string]*types.PendingCodeUpdate)
	s.loading = true
	s.loaded = false
	s.loadInFlight = false
	s.loadErr = nil
	s.queue.Cancel()
}

// ApplyEvent merges one broadcast event into the mirror. Events carrying
// a different session identifier are dropped; they are strays from a
// subscription that outlived a swap.
func (s *Synchronizer) ApplyEvent(event types.SessionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.Session() != s.sessionID {
		return
	}

	switch e := event.(type) {
	case types.StudentJoinedEvent:
		s.applyStudentJoined(e)
	case types.StudentCodeUpdatedEvent:
		s.applyCodeUpdated(e)
	case types.SessionEndedEvent:
		s.applySessionEnded(e)
	case types.FeaturedStudentChangedEvent:
		s.applyFeaturedChanged(e)
	case types.SessionReplacedEvent:
		s.applySessionReplaced(e)
	case types.ProblemUpdatedEvent:
		s.applyProblemUpdated(e)
	}
}

// Pump drains the transport's event stream into the mirror until the
// channel closes or ctx is cancelled
func (s *Synchronizer) Pump(ctx context.Context, events <-chan types.SessionEvent) {
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			s.ApplyEvent(event)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Synchronizer) applyStudentJoined(e types.StudentJoinedEvent) {
	joined := e.Student
	student := &types.Student{
		ID:                joined.UserID,
		Name:              joined.Name,
		Code:              joined.Code,
		ExecutionSettings: joined.ExecutionSettings,
		LastUpdate:        eventTime(e.At()),
	}

	// A buffered update that beat this join to the wire carries the
	// newer code; consume it instead of the join payload
	if buffered, ok := s.pending[joined.UserID]; ok {
		student.Code = buffered.Code
		if buffered.ExecutionSettings != nil {
			student.ExecutionSettings = buffered.ExecutionSettings
		}
		student.LastUpdate = buffered.LastUpdate
		delete(s.pending, joined.UserID)
	}

	s.students[joined.UserID] = student
}

func (s *Synchronizer) applyCodeUpdated(e types.StudentCodeUpdatedEvent) {
	when := eventTime(e.At())
	if e.LastUpdate != nil {
		when = *e.LastUpdate
	}

	student, ok := s.students[e.StudentID]
	if !ok {
		// Update outran its join event; buffer it keyed by student,
		// last write wins
		s.pending[e.StudentID] = &types.PendingCodeUpdate{
			Code:              e.Code,
			ExecutionSettings: e.ExecutionSettings,
			LastUpdate:        when,
		}
		return
	}

	student.Code = e.Code
	if e.ExecutionSettings != nil {
		student.ExecutionSettings = e.ExecutionSettings
	}
	student.LastUpdate = when
}

func (s *Synchronizer) applySessionEnded(e types.SessionEndedEvent) {
	if s.session == nil {
		return
	}
	s.session.Status = types.SessionStatusCompleted
	if e.EndedAt != nil {
		s.session.EndedAt = e.EndedAt
	} else {
		now := time.Now()
		s.session.EndedAt = &now
	}
}

func (s *Synchronizer) applyFeaturedChanged(e types.FeaturedStudentChangedEvent) {
	s.featured = &types.FeaturedStudent{
		StudentID: e.FeaturedStudentID,
		Code:      e.FeaturedCode,
	}
	if s.session != nil {
		s.session.FeaturedStudentID = e.FeaturedStudentID
		s.session.FeaturedCode = e.FeaturedCode
	}
}

func (s *Synchronizer) applySessionReplaced(e types.SessionReplacedEvent) {
	s.replacement = &types.ReplacementInfo{NewSessionID: e.NewSessionID}
	if s.session != nil {
		s.session.Status = types.SessionStatusCompleted
		s.session.ReplacedBy = &e.NewSessionID
	}
}

func (s *Synchronizer) applyProblemUpdated(e types.ProblemUpdatedEvent) {
	if s.session == nil {
		return
	}
	s.session.Problem = e.Problem
}

// ReplaceState overwrites the mirror with an authoritative full fetch.
// The student map is rebuilt, not merged; a full fetch is by definition
// newer than any partial event applied before it.
func (s *Synchronizer) ReplaceState(state *types.SessionState) {
	if state == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// Guard against a poll response for a session this mirror has
	// already swapped away from
	if state.Session != nil && state.Session.ID != s.sessionID {
		return
	}
	s.replaceStateLocked(state)
}

func (s *Synchronizer) replaceStateLocked(state *types.SessionState) {
	s.session = state.Session
	s.students = make(map[string]*types.Student, len(state.Students))
	for _, student := range state.Students {
		if student == nil {
			continue
		}
		copied := *student
		s.students[student.ID] = &copied
	}
	s.featured = state.FeaturedStudent
	if s.session != nil && s.session.ReplacedBy != nil {
		s.replacement = &types.ReplacementInfo{NewSessionID: *s.session.ReplacedBy}
	}
}

// UpdateCode applies a local edit optimistically and schedules the
// debounced write. The mirror keeps the optimistic value even if the
// eventual write fails; a later poll or event reconciles it.
func (s *Synchronizer) UpdateCode(studentID, code string, settings map[string]any) {
	s.mu.Lock()
	if student, ok := s.students[studentID]; ok {
		student.Code = code
		if settings != nil {
			student.ExecutionSettings = settings
		}
		student.LastUpdate = time.Now()
	}
	sessionID := s.sessionID
	s.mu.Unlock()

	s.queue.Enqueue(CodeMutation{
		SessionID:         sessionID,
		StudentID:         studentID,
		Code:              code,
		ExecutionSettings: settings,
	})
}

// commitCode is the mutation queue's flush target: it performs the
// actual write call for the last enqueued edit
func (s *Synchronizer) commitCode(m CodeMutation) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stored, err := s.api.UpdateCode(ctx, m.SessionID, m.StudentID, m.Code, m.ExecutionSettings)
	if err != nil {
		s.reportWriteError(err)
		return
	}
	if stored == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Drop the confirmation if the mirror moved on to another session
	if s.sessionID != m.SessionID {
		return
	}
	if student, ok := s.students[stored.ID]; ok {
		student.LastUpdate = stored.LastUpdate
		// Code stays at the local optimistic value: the user may have
		// kept typing while the write was in flight
	}
}

func (s *Synchronizer) reportWriteError(err error) {
	if s.onWriteError != nil {
		s.onWriteError(err)
		return
	}
	log.Printf("Debounced code write failed: %v", err)
}

// FlushPendingWrites commits any debounced edit immediately. Callers use
// this on teardown so the last keystrokes are not lost to the window.
func (s *Synchronizer) FlushPendingWrites() {
	s.queue.Flush()
}

// ExecuteCode runs code server-side and returns the result. Execution is
// never debounced and leaves the mirror untouched; the recorded revision
// arrives through normal event or poll channels.
func (s *Synchronizer) ExecuteCode(ctx context.Context, studentID, code string, settings map[string]any) (*types.ExecutionResult, error) {
	s.mu.RLock()
	sessionID := s.sessionID
	s.mu.RUnlock()
	return s.api.ExecuteCode(ctx, sessionID, studentID, code, settings)
}

// FeatureStudent promotes a student's code to the shared view. On
// success the projection is updated optimistically from the student's
// known code; the broadcast event confirms it for everyone else.
func (s *Synchronizer) FeatureStudent(ctx context.Context, studentID string) error {
	s.mu.RLock()
	sessionID := s.sessionID
	s.mu.RUnlock()

	if err := s.api.FeatureStudent(ctx, sessionID, studentID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionID != sessionID {
		return nil
	}
	var code *string
	if student, ok := s.students[studentID]; ok {
		c := student.Code
		code = &c
	}
	id := studentID
	s.featured = &types.FeaturedStudent{StudentID: &id, Code: code}
	if s.session != nil {
		s.session.FeaturedStudentID = &id
		s.session.FeaturedCode = code
	}
	return nil
}

// ClearFeaturedStudent removes the featured selection
func (s *Synchronizer) ClearFeaturedStudent(ctx context.Context) error {
	s.mu.RLock()
	sessionID := s.sessionID
	s.mu.RUnlock()

	if err := s.api.FeatureStudent(ctx, sessionID, ""); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionID != sessionID {
		return nil
	}
	s.featured = &types.FeaturedStudent{}
	if s.session != nil {
		s.session.FeaturedStudentID = nil
		s.session.FeaturedCode = nil
	}
	return nil
}

// JoinSession registers a student and returns the server's record. The
// mirror is not mutated directly; the student_joined broadcast (or the
// next poll) brings the participant in through the normal path.
func (s *Synchronizer) JoinSession(ctx context.Context, userID, name string) (*types.Student, error) {
	s.mu.RLock()
	sessionID := s.sessionID
	s.mu.RUnlock()
	return s.api.JoinSession(ctx, sessionID, userID, name)
}

// Revisions fetches a student's reconstructed code history
func (s *Synchronizer) Revisions(ctx context.Context, studentID string) ([]RevisionEntry, error) {
	s.mu.RLock()
	sessionID := s.sessionID
	s.mu.RUnlock()
	return s.api.GetRevisions(ctx, sessionID, studentID)
}

// Close drops any pending debounced write
func (s *Synchronizer) Close() {
	s.queue.Cancel()
}

// SessionID returns the identifier the mirror currently tracks
func (s *Synchronizer) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// Session returns a copy of the mirrored session record, or nil before
// the initial load completes
func (s *Synchronizer) Session() *types.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil
	}
	copied := *s.session
	return &copied
}

// Student returns a copy of one participant's record
func (s *Synchronizer) Student(studentID string) (types.Student, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	student, ok := s.students[studentID]
	if !ok {
		return types.Student{}, false
	}
	return *student, true
}

// Students returns a copy of the full student map
func (s *Synchronizer) Students() map[string]types.Student {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]types.Student, len(s.students))
	for id, student := range s.students {
		out[id] = *student
	}
	return out
}

// FeaturedStudent returns the current projection; nil means no
// featured-student information has arrived yet
func (s *Synchronizer) FeaturedStudent() *types.FeaturedStudent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.featured == nil {
		return nil
	}
	copied := *s.featured
	return &copied
}

// Replacement returns the successor pointer set by a session_replaced
// event, or nil if the session has not been replaced
func (s *Synchronizer) Replacement() *types.ReplacementInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.replacement == nil {
		return nil
	}
	copied := *s.replacement
	return &copied
}

// HasPendingUpdate reports whether a code update is buffered for a
// student whose join event has not arrived
func (s *Synchronizer) HasPendingUpdate(studentID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.pending[studentID]
	return ok
}

// IsLoading reports whether the initial fetch is still outstanding
func (s *Synchronizer) IsLoading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// IsLoaded reports whether the initial fetch has completed successfully
func (s *Synchronizer) IsLoaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// LoadError returns the error from a failed initial fetch, if any
func (s *Synchronizer) LoadError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadErr
}

func eventTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
