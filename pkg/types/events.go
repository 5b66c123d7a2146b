package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Broadcast event name constants defined exactly once so the server hub
// and the client transport demultiplex by the same strings
const (
	EventStudentJoined          = "student_joined"
	EventStudentCodeUpdated     = "student_code_updated"
	EventSessionEnded           = "session_ended"
	EventFeaturedStudentChanged = "featured_student_changed"
	EventSessionReplaced        = "session_replaced"
	EventProblemUpdated         = "problem_updated"
)

// SessionEvent is the tagged union consumed by the synchronizer's reducer.
// ARCHITECTURAL DISCOVERY: One variant per broadcast event name keeps the
// reducer a single type switch and makes the ordering properties testable.
type SessionEvent interface {
	EventName() string
	Session() string
	At() time.Time
}

// EventHeader carries the envelope fields every event shares. Variants
// embed it; the fields are excluded from the payload JSON because the
// envelope serializes them separately.
type EventHeader struct {
	SessionID string    `json:"-"`
	Timestamp time.Time `json:"-"`
}

func (h EventHeader) Session() string { return h.SessionID }
func (h EventHeader) At() time.Time   { return h.Timestamp }

// JoinedStudent is the participant record inside a student_joined payload.
// The wire uses userId here while full-state responses use id, so the
// variant keeps its own struct instead of reusing Student.
type JoinedStudent struct {
	UserID            string         `json:"userId"`
	Name              string         `json:"name"`
	Code              string         `json:"code"`
	ExecutionSettings map[string]any `json:"executionSettings,omitempty"`
}

type StudentJoinedEvent struct {
	EventHeader
	Student JoinedStudent `json:"student"`
}

func (StudentJoinedEvent) EventName() string { return EventStudentJoined }

type StudentCodeUpdatedEvent struct {
	EventHeader
	StudentID         string         `json:"studentId"`
	Code              string         `json:"code"`
	ExecutionSettings map[string]any `json:"executionSettings,omitempty"`
	LastUpdate        *time.Time     `json:"lastUpdate,omitempty"`
}

func (StudentCodeUpdatedEvent) EventName() string { return EventStudentCodeUpdated }

type SessionEndedEvent struct {
	EventHeader
	EndedAt *time.Time `json:"endedAt,omitempty"`
}

func (SessionEndedEvent) EventName() string { return EventSessionEnded }

// FeaturedStudentChangedEvent clears the projection when both fields are
// nil; that is a valid payload, not a decode failure.
type FeaturedStudentChangedEvent struct {
	EventHeader
	FeaturedStudentID *string `json:"featuredStudentId"`
	FeaturedCode      *string `json:"featuredCode"`
}

func (FeaturedStudentChangedEvent) EventName() string { return EventFeaturedStudentChanged }

type SessionReplacedEvent struct {
	EventHeader
	NewSessionID string `json:"newSessionId"`
}

func (SessionReplacedEvent) EventName() string { return EventSessionReplaced }

type ProblemUpdatedEvent struct {
	EventHeader
	Problem *Problem `json:"problem"`
}

func (ProblemUpdatedEvent) EventName() string { return EventProblemUpdated }

// eventEnvelope is the wire framing for all broadcast events
type eventEnvelope struct {
	Event     string          `json:"event"`
	SessionID string          `json:"sessionId"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EncodeEvent wraps a typed event into its wire envelope
func EncodeEvent(ev SessionEvent) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	envelope := eventEnvelope{
		Event:     ev.EventName(),
		SessionID: ev.Session(),
		Timestamp: ev.At(),
		Payload:   payload,
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event envelope: %w", err)
	}
	return data, nil
}

// DecodeEvent parses a wire envelope into the matching typed event.
// The transport calls this without interpreting payloads; it only
// demultiplexes by event name and stamps the arrival header.
func DecodeEvent(data []byte) (SessionEvent, error) {
	var envelope eventEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event envelope: %w", err)
	}

	header := EventHeader{
		SessionID: envelope.SessionID,
		Timestamp: envelope.Timestamp,
	}

	switch envelope.Event {
	case EventStudentJoined:
		var ev StudentJoinedEvent
		if err := unmarshalPayload(envelope.Payload, &ev); err != nil {
			return nil, err
		}
		ev.EventHeader = header
		return ev, nil

	case EventStudentCodeUpdated:
		var ev StudentCodeUpdatedEvent
		if err := unmarshalPayload(envelope.Payload, &ev); err != nil {
			return nil, err
		}
		ev.EventHeader = header
		return ev, nil

	case EventSessionEnded:
		var ev SessionEndedEvent
		if err := unmarshalPayload(envelope.Payload, &ev); err != nil {
			return nil, err
		}
		ev.EventHeader = header
		return ev, nil

	case EventFeaturedStudentChanged:
		var ev FeaturedStudentChangedEvent
		if err := unmarshalPayload(envelope.Payload, &ev); err != nil {
			return nil, err
		}
		ev.EventHeader = header
		return ev, nil

	case EventSessionReplaced:
		var ev SessionReplacedEvent
		if err := unmarshalPayload(envelope.Payload, &ev); err != nil {
			return nil, err
		}
		ev.EventHeader = header
		return ev, nil

	case EventProblemUpdated:
		var ev ProblemUpdatedEvent
		if err := unmarshalPayload(envelope.Payload, &ev); err != nil {
			return nil, err
		}
		ev.EventHeader = header
		return ev, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, envelope.Event)
	}
}

func unmarshalPayload(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return nil // events like session_ended may carry an empty payload
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("failed to unmarshal event payload: %w", err)
	}
	return nil
}
