package types

import (
	"time"
)

// Session status constants defined once so lifecycle checks stay
// consistent across the store, the API layer, and the synchronizer
const (
	SessionStatusActive    = "active"
	SessionStatusCompleted = "completed"
)

// Problem is the exercise a session is built around. Replaced wholesale
// by a problem_updated event; never merged field-by-field.
type Problem struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	StarterCode string `json:"starterCode,omitempty"`
}

// Session represents a live coding session
// FUNCTIONAL DISCOVERY: Session is immutable after creation except for
// status, end time, featured projection, and the replacement pointer.
// This keeps the mirror reducer simple and makes event application idempotent.
type Session struct {
	ID                string     `json:"id"`
	NamespaceID       string     `json:"namespaceId"`
	Problem           *Problem   `json:"problem,omitempty"`
	Status            string     `json:"status"`
	FeaturedStudentID *string    `json:"featuredStudentId,omitempty"`
	FeaturedCode      *string    `json:"featuredCode,omitempty"`
	CreatedBy         string     `json:"createdBy"`
	StartTime         time.Time  `json:"startTime"`
	EndedAt           *time.Time `json:"endedAt,omitempty"`
	ReplacedBy        *string    `json:"replacedBy,omitempty"`
}

// Student is a participant's view inside a session mirror
// Created on student_joined, mutated on code updates, never deleted
// while the session lives (a session swap resets the whole mirror).
type Student struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	Code              string         `json:"code"`
	LastUpdate        time.Time      `json:"lastUpdate"`
	ExecutionSettings map[string]any `json:"executionSettings,omitempty"`
}

// FeaturedStudent is the projection of whose code is promoted to the
// shared view. Both fields nil means "no one is featured", which is a
// valid state distinct from "unknown" (a nil *FeaturedStudent).
type FeaturedStudent struct {
	StudentID *string `json:"studentId"`
	Code      *string `json:"code"`
}

// ReplacementInfo points the mirror at a successor session after a
// session_replaced event. Terminal for the current mirror.
type ReplacementInfo struct {
	NewSessionID string `json:"newSessionId"`
}

// ConnectionState describes the broadcast transport's state machine
type ConnectionState string

const (
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionFailed       ConnectionState = "failed"
)

// ConnectionInfo carries the state machine's auxiliary data:
// human-readable error, reconnect attempt counter, connection start
// timestamp for timeout detection, and the max-attempts bound.
type ConnectionInfo struct {
	State       ConnectionState `json:"state"`
	Error       string          `json:"error,omitempty"`
	Attempts    int             `json:"attempts"`
	StartedAt   time.Time       `json:"startedAt,omitempty"`
	MaxAttempts int             `json:"maxAttempts"`
}

// ExecutionResult is the outcome of running a student's code
type ExecutionResult struct {
	Success       bool   `json:"success"`
	Output        string `json:"output"`
	Error         string `json:"error,omitempty"`
	ExecutionTime int64  `json:"executionTime"` // milliseconds
}

// Revision is one persisted code change for a (session, student) pair.
// Exactly one of Diff/FullCode is populated; IsDiff is the tag.
// TECHNICAL DISCOVERY: pointers rather than strings because an empty
// snapshot ("" as full code) must be distinguishable from "not set".
type Revision struct {
	ID              string           `json:"id"`
	NamespaceID     string           `json:"namespaceId,omitempty"`
	SessionID       string           `json:"sessionId"`
	StudentID       string           `json:"studentId"`
	Timestamp       time.Time        `json:"timestamp"`
	IsDiff          bool             `json:"isDiff"`
	Diff            *string          `json:"diff,omitempty"`
	FullCode        *string          `json:"fullCode,omitempty"`
	BaseRevisionID  string           `json:"baseRevisionId,omitempty"`
	ExecutionResult *ExecutionResult `json:"executionResult,omitempty"`
}

// PendingCodeUpdate buffers a code update that arrived before its
// student's join event. Keyed by student ID inside the synchronizer;
// consumed by the matching join or discarded on session swap.
type PendingCodeUpdate struct {
	Code              string
	ExecutionSettings map[string]any
	LastUpdate        time.Time
}

// SessionState is the full-state payload returned by GET /sessions/{id}/state
// and fed into the synchronizer as an authoritative replace.
type SessionState struct {
	Session         *Session         `json:"session"`
	Students        []*Student       `json:"students"`
	FeaturedStudent *FeaturedStudent `json:"featuredStudent"`
}
