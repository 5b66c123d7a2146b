package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"codesession/internal/revision"
	"codesession/pkg/interfaces"
	"codesession/pkg/types"
)

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between
// external clients and internal components. Clean separation - no business
// logic beyond request orchestration, only HTTP handling and JSON
// serialization.
type Server struct {
	store     interfaces.Store
	publisher interfaces.EventPublisher
	recorder  *revision.Recorder
	runner    Runner
	router    *http.ServeMux
}

// NewServer creates an API server with all dependencies injected.
// The store handle is constructed once at process start; handlers never
// reach for a shared singleton.
func NewServer(store interfaces.Store, publisher interfaces.EventPublisher, recorder *revision.Recorder, runner Runner) *Server {
	if runner == nil {
		runner = NewNoopRunner()
	}
	s := &Server{
		store:     store,
		publisher: publisher,
		recorder:  recorder,
		runner:    runner,
		router:    http.NewServeMux(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/sessions", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleSessions))))
	s.router.Handle("/sessions/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleSessionByID))))
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// handleSessions covers the sessions collection (POST /sessions, GET /sessions)
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createSession(w, r)
	case http.MethodGet:
		s.listSessions(w, r)
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleSessionByID dispatches /sessions/{id}/{subresource}
func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/sessions/")
	if path == "" {
		s.sendError(w, "Session ID required", http.StatusBadRequest)
		return
	}

	parts := strings.SplitN(path, "/", 2)
	sessionID := parts[0]
	subresource := ""
	if len(parts) == 2 {
		subresource = parts[1]
	}

	if sessionID == "" {
		s.sendError(w, "Invalid session ID", http.StatusBadRequest)
		return
	}

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	switch {
	case subresource == "" && r.Method == http.MethodGet:
		s.getSession(w, r, sessionID)
	case subresource == "state" && r.Method == http.MethodGet:
		s.getSessionState(w, r, sessionID)
	case subresource == "code" && r.Method == http.MethodPost:
		s.updateCode(w, r, sessionID)
	case subresource == "execute" && r.Method == http.MethodPost:
		s.executeCode(w, r, sessionID)
	case subresource == "feature" && r.Method == http.MethodPost:
		s.featureStudent(w, r, sessionID)
	case subresource == "join" && r.Method == http.MethodPost:
		s.joinSession(w, r, sessionID)
	case subresource == "end" && r.Method == http.MethodPost:
		s.endSession(w, r, sessionID)
	case subresource == "replace" && r.Method == http.MethodPost:
		s.replaceSession(w, r, sessionID)
	case subresource == "problem" && r.Method == http.MethodPost:
		s.updateProblem(w, r, sessionID)
	case subresource == "revisions" && r.Method == http.MethodGet:
		s.getRevisions(w, r, sessionID)
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// Request/Response types for JSON serialization

type CreateSessionRequest struct {
	NamespaceID string         `json:"namespaceId"`
	CreatedBy   string         `json:"createdBy"`
	Problem     *types.Problem `json:"problem,omitempty"`
}

type SessionResponse struct {
	Success bool           `json:"success"`
	Session *types.Session `json:"session"`
}

type ListSessionsResponse struct {
	Sessions []*types.Session `json:"sessions"`
}

type UpdateCodeRequest struct {
	StudentID         string         `json:"studentId"`
	Code              string         `json:"code"`
	ExecutionSettings map[string]any `json:"executionSettings,omitempty"`
}

type UpdateCodeResponse struct {
	Success bool           `json:"success"`
	Student *types.Student `json:"student"`
}

type FeatureRequest struct {
	StudentID string `json:"studentId,omitempty"`
}

type JoinRequest struct {
	StudentID string `json:"studentId"`
	Name      string `json:"name"`
}

type JoinResponse struct {
	Success bool           `json:"success"`
	Student *types.Student `json:"student"`
}

type UpdateProblemRequest struct {
	Problem *types.Problem `json:"problem"`
}

type RevisionsResponse struct {
	Success   bool                             `json:"success"`
	Revisions []revision.ReconstructedRevision `json:"revisions"`
}

type AckResponse struct {
	Success bool `json:"success"`
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Database  string    `json:"database"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// createSession creates a new session (POST /sessions)
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if !types.IsValidNamespaceID(req.NamespaceID) {
		s.sendError(w, "Namespace ID is required", http.StatusBadRequest)
		return
	}
	if !types.IsValidUserID(req.CreatedBy) {
		s.sendError(w, "Creator ID is required", http.StatusBadRequest)
		return
	}

	session := &types.Session{
		ID:          uuid.New().String(),
		NamespaceID: req.NamespaceID,
		Problem:     req.Problem,
		Status:      types.SessionStatusActive,
		CreatedBy:   req.CreatedBy,
		StartTime:   time.Now(),
	}

	if err := s.store.CreateSession(r.Context(), session); err != nil {
		s.sendError(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	log.Printf("Created session: id=%s namespace=%s", session.ID, session.NamespaceID)
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(SessionResponse{Success: true, Session: session})
}

// listSessions returns all active sessions (GET /sessions)
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListActiveSessions(r.Context())
	if err != nil {
		s.sendError(w, "Failed to list sessions", http.StatusInternalServerError)
		return
	}
	if sessions == nil {
		sessions = []*types.Session{}
	}
	_ = json.NewEncoder(w).Encode(ListSessionsResponse{Sessions: sessions})
}

// getSession returns session details (GET /sessions/{id})
func (s *Server) getSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, ok := s.loadSession(w, r, sessionID)
	if !ok {
		return
	}
	_ = json.NewEncoder(w).Encode(SessionResponse{Success: true, Session: session})
}

// getSessionState returns the full session state: session, students,
// featured projection (GET /sessions/{id}/state). This is the payload the
// client synchronizer treats as an authoritative full-state replace.
func (s *Server) getSessionState(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, ok := s.loadSession(w, r, sessionID)
	if !ok {
		return
	}

	students, err := s.store.ListStudents(r.Context(), sessionID)
	if err != nil {
		s.sendError(w, "Failed to list students", http.StatusInternalServerError)
		return
	}
	if students == nil {
		students = []*types.Student{}
	}

	featured := &types.FeaturedStudent{
		StudentID: session.FeaturedStudentID,
		Code:      session.FeaturedCode,
	}

	_ = json.NewEncoder(w).Encode(types.SessionState{
		Session:         session,
		Students:        students,
		FeaturedStudent: featured,
	})
}

// updateCode persists a student's code change (POST /sessions/{id}/code).
// The revision recorder runs before the broadcast so history never lags
// behind what subscribers have seen.
func (s *Server) updateCode(w http.ResponseWriter, r *http.Request, sessionID string) {
	var req UpdateCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	session, ok := s.requireActiveSession(w, r, sessionID)
	if !ok {
		return
	}

	student, err := s.store.GetStudent(r.Context(), sessionID, req.StudentID)
	if err != nil {
		if err == interfaces.ErrStudentNotFound {
			s.sendError(w, "Student has not joined this session", http.StatusNotFound)
		} else {
			s.sendError(w, "Failed to load student", http.StatusInternalServerError)
		}
		return
	}

	now := time.Now()
	student.Code = req.Code
	student.LastUpdate = now
	if req.ExecutionSettings != nil {
		student.ExecutionSettings = req.ExecutionSettings
	}

	if err := s.store.UpsertStudent(r.Context(), sessionID, student); err != nil {
		s.sendError(w, "Failed to persist code", http.StatusInternalServerError)
		return
	}

	if _, err := s.recorder.Record(r.Context(), session.NamespaceID, sessionID, req.StudentID, req.Code, nil); err != nil {
		// History write failed but live state is already updated; log and
		// keep serving - polling clients still converge
		log.Printf("Failed to record revision for %s/%s: %v", sessionID, req.StudentID, err)
	}

	s.publish(types.StudentCodeUpdatedEvent{
		EventHeader:       types.EventHeader{SessionID: sessionID, Timestamp: now},
		StudentID:         req.StudentID,
		Code:              req.Code,
		ExecutionSettings: req.ExecutionSettings,
		LastUpdate:        &now,
	})

	_ = json.NewEncoder(w).Encode(UpdateCodeResponse{Success: true, Student: student})
}

// executeCode runs a student's code (POST /sessions/{id}/execute)
func (s *Server) executeCode(w http.ResponseWriter, r *http.Request, sessionID string) {
	var req UpdateCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	session, ok := s.requireActiveSession(w, r, sessionID)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	result, err := s.runner.Execute(ctx, req.Code, req.ExecutionSettings)
	if err != nil {
		s.sendError(w, fmt.Sprintf("Execution failed: %v", err), http.StatusInternalServerError)
		return
	}

	// Execution snapshots carry the result so history can show what a
	// student ran and what came back
	if _, err := s.recorder.Record(r.Context(), session.NamespaceID, sessionID, req.StudentID, req.Code, result); err != nil {
		log.Printf("Failed to record execution revision for %s/%s: %v", sessionID, req.StudentID, err)
	}

	_ = json.NewEncoder(w).Encode(result)
}

// featureStudent promotes a student's code to the shared view, or clears
// the projection when the body carries no student ID
// (POST /sessions/{id}/feature)
func (s *Server) featureStudent(w http.ResponseWriter, r *http.Request, sessionID string) {
	var req FeatureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	session, ok := s.requireActiveSession(w, r, sessionID)
	if !ok {
		return
	}

	var featuredID, featuredCode *string
	if req.StudentID != "" {
		student, err := s.store.GetStudent(r.Context(), sessionID, req.StudentID)
		if err != nil {
			if err == interfaces.ErrStudentNotFound {
				s.sendError(w, "Student has not joined this session", http.StatusNotFound)
			} else {
				s.sendError(w, "Failed to load student", http.StatusInternalServerError)
			}
			return
		}
		featuredID = &student.ID
		featuredCode = &student.Code
	}

	session.FeaturedStudentID = featuredID
	session.FeaturedCode = featuredCode
	if err := s.store.UpdateSession(r.Context(), session); err != nil {
		s.sendError(w, "Failed to update session", http.StatusInternalServerError)
		return
	}

	s.publish(types.FeaturedStudentChangedEvent{
		EventHeader:       types.EventHeader{SessionID: sessionID, Timestamp: time.Now()},
		FeaturedStudentID: featuredID,
		FeaturedCode:      featuredCode,
	})

	_ = json.NewEncoder(w).Encode(AckResponse{Success: true})
}

// joinSession registers a participant (POST /sessions/{id}/join).
// The caller gets the created record in the response; the mirror update
// is driven by the student_joined broadcast.
func (s *Server) joinSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	var req JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if !types.IsValidUserID(req.StudentID) {
		s.sendError(w, "Invalid student ID format", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		s.sendError(w, "Student name is required", http.StatusBadRequest)
		return
	}

	session, ok := s.requireActiveSession(w, r, sessionID)
	if !ok {
		return
	}

	// Rejoining is idempotent: an existing record keeps its code so a
	// reconnecting student does not lose work
	student, err := s.store.GetStudent(r.Context(), sessionID, req.StudentID)
	if err == interfaces.ErrStudentNotFound {
		starterCode := ""
		if session.Problem != nil {
			starterCode = session.Problem.StarterCode
		}
		student = &types.Student{
			ID:         req.StudentID,
			Name:       req.Name,
			Code:       starterCode,
			LastUpdate: time.Now(),
		}
	} else if err != nil {
		s.sendError(w, "Failed to load student", http.StatusInternalServerError)
		return
	} else {
		student.Name = req.Name
		student.LastUpdate = time.Now()
	}

	if err := s.store.UpsertStudent(r.Context(), sessionID, student); err != nil {
		s.sendError(w, "Failed to persist student", http.StatusInternalServerError)
		return
	}

	s.publish(types.StudentJoinedEvent{
		EventHeader: types.EventHeader{SessionID: sessionID, Timestamp: time.Now()},
		Student: types.JoinedStudent{
			UserID:            student.ID,
			Name:              student.Name,
			Code:              student.Code,
			ExecutionSettings: student.ExecutionSettings,
		},
	})

	_ = json.NewEncoder(w).Encode(JoinResponse{Success: true, Student: student})
}

// endSession marks a session completed (POST /sessions/{id}/end)
func (s *Server) endSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, ok := s.requireActiveSession(w, r, sessionID)
	if !ok {
		return
	}

	now := time.Now()
	session.Status = types.SessionStatusCompleted
	session.EndedAt = &now

	if err := s.store.UpdateSession(r.Context(), session); err != nil {
		s.sendError(w, "Failed to end session", http.StatusInternalServerError)
		return
	}

	s.publish(types.SessionEndedEvent{
		EventHeader: types.EventHeader{SessionID: sessionID, Timestamp: now},
		EndedAt:     &now,
	})

	log.Printf("Ended session: id=%s", sessionID)
	_ = json.NewEncoder(w).Encode(AckResponse{Success: true})
}

// replaceSession ends a session and creates its successor
// (POST /sessions/{id}/replace). Subscribers learn the new identifier
// through the session_replaced broadcast and navigate to it.
func (s *Server) replaceSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, ok := s.requireActiveSession(w, r, sessionID)
	if !ok {
		return
	}

	now := time.Now()
	successor := &types.Session{
		ID:          uuid.New().String(),
		NamespaceID: session.NamespaceID,
		Problem:     session.Problem,
		Status:      types.SessionStatusActive,
		CreatedBy:   session.CreatedBy,
		StartTime:   now,
	}

	if err := s.store.CreateSession(r.Context(), successor); err != nil {
		s.sendError(w, "Failed to create replacement session", http.StatusInternalServerError)
		return
	}

	session.Status = types.SessionStatusCompleted
	session.EndedAt = &now
	session.ReplacedBy = &successor.ID
	if err := s.store.UpdateSession(r.Context(), session); err != nil {
		s.sendError(w, "Failed to update replaced session", http.StatusInternalServerError)
		return
	}

	s.publish(types.SessionReplacedEvent{
		EventHeader:  types.EventHeader{SessionID: sessionID, Timestamp: now},
		NewSessionID: successor.ID,
	})

	log.Printf("Replaced session: old=%s new=%s", sessionID, successor.ID)
	_ = json.NewEncoder(w).Encode(SessionResponse{Success: true, Session: successor})
}

// updateProblem replaces the session's problem wholesale
// (POST /sessions/{id}/problem)
func (s *Server) updateProblem(w http.ResponseWriter, r *http.Request, sessionID string) {
	var req UpdateProblemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Problem == nil {
		s.sendError(w, "Problem is required", http.StatusBadRequest)
		return
	}

	session, ok := s.requireActiveSession(w, r, sessionID)
	if !ok {
		return
	}

	session.Problem = req.Problem
	if err := s.store.UpdateSession(r.Context(), session); err != nil {
		s.sendError(w, "Failed to update session", http.StatusInternalServerError)
		return
	}

	s.publish(types.ProblemUpdatedEvent{
		EventHeader: types.EventHeader{SessionID: sessionID, Timestamp: time.Now()},
		Problem:     req.Problem,
	})

	_ = json.NewEncoder(w).Encode(AckResponse{Success: true})
}

// getRevisions returns a student's reconstructed revision history
// (GET /sessions/{id}/revisions?studentId=...). Role enforcement happens
// upstream; this handler trusts the collaborator's check.
func (s *Server) getRevisions(w http.ResponseWriter, r *http.Request, sessionID string) {
	studentID := r.URL.Query().Get("studentId")
	if studentID == "" {
		s.sendError(w, "studentId query parameter is required", http.StatusBadRequest)
		return
	}

	if _, ok := s.loadSession(w, r, sessionID); !ok {
		return
	}

	revisions, err := s.store.ListRevisions(r.Context(), sessionID, studentID)
	if err != nil {
		s.sendError(w, "Failed to list revisions", http.StatusInternalServerError)
		return
	}

	reconstructed, err := revision.ReconstructAll(revisions)
	if err != nil {
		s.sendError(w, "Failed to reconstruct revisions", http.StatusInternalServerError)
		return
	}
	if reconstructed == nil {
		reconstructed = []revision.ReconstructedRevision{}
	}

	_ = json.NewEncoder(w).Encode(RevisionsResponse{Success: true, Revisions: reconstructed})
}

// healthCheck reports component health (GET /health)
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"

	if err := s.store.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Database:  dbStatus,
	}

	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(response)
}

// loadSession fetches a session or writes the appropriate error response
func (s *Server) loadSession(w http.ResponseWriter, r *http.Request, sessionID string) (*types.Session, bool) {
	session, err := s.store.GetSession(r.Context(), sessionID)
	if err != nil {
		if err == interfaces.ErrSessionNotFound {
			s.sendError(w, "Session not found", http.StatusNotFound)
		} else {
			s.sendError(w, "Failed to get session", http.StatusInternalServerError)
		}
		return nil, false
	}
	return session, true
}

// requireActiveSession fetches a session and rejects writes to completed ones
func (s *Server) requireActiveSession(w http.ResponseWriter, r *http.Request, sessionID string) (*types.Session, bool) {
	session, ok := s.loadSession(w, r, sessionID)
	if !ok {
		return nil, false
	}
	if session.Status != types.SessionStatusActive {
		s.sendError(w, "Session has ended", http.StatusBadRequest)
		return nil, false
	}
	return session, true
}

// publish fans an event out, logging rather than failing the request when
// the hub is saturated; polling clients converge regardless
func (s *Server) publish(event types.SessionEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(event); err != nil {
		log.Printf("Failed to publish %s for session %s: %v",
			event.EventName(), event.Session(), err)
	}
}

// sendError writes a consistent error response format
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// corsMiddleware enables web client access
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// jsonMiddleware ensures proper content-type headers
func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
