package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"codesession/pkg/interfaces"
	"codesession/pkg/types"
)

// mockStore serves only session lookups; nothing else is reachable from
// the subscription path
type mockStore struct {
	sessions map[string]*types.Session
}

func (m *mockStore) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, interfaces.ErrSessionNotFound
	}
	return session, nil
}

func (m *mockStore) CreateSession(ctx context.Context, session *types.Session) error { return nil }
func (m *mockStore) UpdateSession(ctx context.Context, session *types.Session) error { return nil }
func (m *mockStore) ListActiveSessions(ctx context.Context) ([]*types.Session, error) {
	return nil, nil
}
func (m *mockStore) UpsertStudent(ctx context.Context, sessionID string, student *types.Student) error {
	return nil
}
func (m *mockStore) GetStudent(ctx context.Context, sessionID, studentID string) (*types.Student, error) {
	return nil, interfaces.ErrStudentNotFound
}
func (m *mockStore) ListStudents(ctx context.Context, sessionID string) ([]*types.Student, error) {
	return nil, nil
}
func (m *mockStore) AppendRevision(ctx context.Context, revision *types.Revision) error { return nil }
func (m *mockStore) ListRevisions(ctx context.Context, sessionID, studentID string) ([]*types.Revision, error) {
	return nil, nil
}
func (m *mockStore) HealthCheck(ctx context.Context) error { return nil }
func (m *mockStore) Close() error                          { return nil }

func newSubscribeServer(t *testing.T) (*httptest.Server, *Hub) {
	t.Helper()
	store := &mockStore{sessions: map[string]*types.Session{
		"session-1": {ID: "session-1", NamespaceID: "ns-1", Status: types.SessionStatusActive},
	}}

	hub := NewHub(NewRegistry())
	if err := hub.Start(context.Background()); err != nil {
		t.Fatalf("hub Start failed: %v", err)
	}
	t.Cleanup(func() { _ = hub.Stop() })

	handler := NewHandler(hub, store)
	server := httptest.NewServer(http.HandlerFunc(handler.HandleSubscribe))
	t.Cleanup(server.Close)
	return server, hub
}

func dial(t *testing.T, server *httptest.Server, sessionID, clientID string) *websocket.Conn {
	t.Helper()
	endpoint := "ws" + strings.TrimPrefix(server.URL, "http") +
		"?session_id=" + sessionID + "&client_id=" + clientID
	conn, _, err := websocket.DefaultDialer.Dial(endpoint, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var frame map[string]any
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	return frame
}

func TestSubscribeAckThenFanOut(t *testing.T) {
	server, hub := newSubscribeServer(t)
	conn := dial(t, server, "session-1", "viewer-1")

	// First frame is always the subscription acknowledgment
	ack := readFrame(t, conn)
	if ack["event"] != SubscribedAck {
		t.Fatalf("expected %q frame first, got %v", SubscribedAck, ack["event"])
	}
	if ack["sessionId"] != "session-1" {
		t.Errorf("ack carries wrong session: %v", ack["sessionId"])
	}

	err := hub.Publish(types.StudentJoinedEvent{
		EventHeader: types.EventHeader{SessionID: "session-1", Timestamp: time.Now()},
		Student:     types.JoinedStudent{UserID: "s1", Name: "Ann"},
	})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	frame := readFrame(t, conn)
	if frame["event"] != types.EventStudentJoined {
		t.Errorf("expected student_joined, got %v", frame["event"])
	}
}

func TestSubscribeIsolatesSessionChannels(t *testing.T) {
	server, hub := newSubscribeServer(t)
	conn := dial(t, server, "session-1", "viewer-1")
	readFrame(t, conn) // ack

	// An event on another channel must never reach this subscriber
	_ = hub.Publish(types.SessionEndedEvent{
		EventHeader: types.EventHeader{SessionID: "session-2", Timestamp: time.Now()},
	})
	_ = hub.Publish(types.SessionEndedEvent{
		EventHeader: types.EventHeader{SessionID: "session-1", Timestamp: time.Now()},
	})

	frame := readFrame(t, conn)
	if frame["sessionId"] != "session-1" {
		t.Errorf("received frame for wrong session: %v", frame["sessionId"])
	}
	if frame["event"] != types.EventSessionEnded {
		t.Errorf("expected session_ended, got %v", frame["event"])
	}
}

func TestSubscribeValidation(t *testing.T) {
	server, _ := newSubscribeServer(t)

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"missing params", "", http.StatusBadRequest},
		{"missing client", "?session_id=session-1", http.StatusBadRequest},
		{"bad client format", "?session_id=session-1&client_id=bad%20id", http.StatusBadRequest},
		{"unknown session", "?session_id=nope&client_id=viewer-1", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(server.URL + tt.query)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("expected %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}
