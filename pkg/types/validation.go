package types

import (
	"regexp"
)

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
// for better performance in high-frequency validation scenarios
var identifierRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// IsValidUserID checks if a user ID meets format requirements
// 1-50 character limit prevents database issues and ensures reasonable
// display in UI components
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 50 {
		return false
	}
	return identifierRegex.MatchString(userID)
}

// IsValidNamespaceID checks if a namespace ID meets format requirements
func IsValidNamespaceID(namespaceID string) bool {
	if len(namespaceID) < 1 || len(namespaceID) > 50 {
		return false
	}
	return identifierRegex.MatchString(namespaceID)
}

// Validate ensures the session meets all requirements
// ARCHITECTURAL DISCOVERY: Validation at type level ensures consistency
// across all components without duplicating validation logic
func (s *Session) Validate() error {
	if s.ID == "" {
		return ErrInvalidSessionID
	}
	if !IsValidNamespaceID(s.NamespaceID) {
		return ErrInvalidNamespaceID
	}
	if s.Status != SessionStatusActive && s.Status != SessionStatusCompleted {
		return ErrInvalidStatus
	}
	return nil
}

// Validate ensures the student record meets all requirements
func (st *Student) Validate() error {
	if !IsValidUserID(st.ID) {
		return ErrInvalidUserID
	}
	if len(st.Name) < 1 || len(st.Name) > 100 {
		return ErrInvalidStudentName
	}
	return nil
}

// Validate enforces the revision's structural invariant: exactly one of
// diff/fullCode populated, and the isDiff tag matching the populated field.
func (r *Revision) Validate() error {
	hasDiff := r.Diff != nil
	hasFull := r.FullCode != nil

	if hasDiff == hasFull {
		return ErrAmbiguousRevision
	}
	if r.IsDiff != hasDiff {
		return ErrRevisionTagMismatch
	}
	if r.SessionID == "" {
		return ErrInvalidSessionID
	}
	if !IsValidUserID(r.StudentID) {
		return ErrInvalidUserID
	}
	return nil
}
