package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"codesession/pkg/types"
)

// clientStateStub serves GET /sessions/{id}/state for any session id
func clientStateStub(t *testing.T, students ...*types.Student) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/sessions/"), "/")
		if len(parts) != 2 || parts[1] != "state" {
			http.NotFound(w, r)
			return
		}
		state := types.SessionState{
			Session:         &types.Session{ID: parts[0], NamespaceID: "ns-1", Status: types.SessionStatusActive},
			Students:        students,
			FeaturedStudent: &types.FeaturedStudent{},
		}
		_ = json.NewEncoder(w).Encode(state)
	}))
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestSessionClientStartAndEventFlow(t *testing.T) {
	joined := encodeTestEvent(t, types.StudentJoinedEvent{
		EventHeader: types.EventHeader{SessionID: "session-1", Timestamp: time.Now()},
		Student:     types.JoinedStudent{UserID: "student-1", Name: "Ann", Code: "x = 1"},
	})
	wsServer := broadcastStub(t, joined)
	defer wsServer.Close()
	httpServer := clientStateStub(t)
	defer httpServer.Close()

	c := NewSessionClient(ClientConfig{
		HTTPBaseURL:  httpServer.URL,
		WSBaseURL:    wsURL(wsServer),
		ClientID:     "viewer-1",
		PollInterval: time.Hour,
		Retry:        testPolicy(),
		Transport:    DefaultTransportConfig(),
	}, "session-1")
	defer c.Close()

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !c.Sync().IsLoaded() {
		t.Fatal("initial load did not complete")
	}

	waitUntil(t, 2*time.Second, func() bool {
		return c.ConnectionState().State == types.ConnectionConnected
	}, "transport never connected")

	waitUntil(t, 2*time.Second, func() bool {
		_, ok := c.Sync().Student("student-1")
		return ok
	}, "broadcast event never reached the mirror")

	student, _ := c.Sync().Student("student-1")
	if student.Code != "x = 1" {
		t.Errorf("unexpected mirrored code: %q", student.Code)
	}
}

func TestSessionClientStartFailsOnLoadError(t *testing.T) {
	httpServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "Session not found"})
	}))
	defer httpServer.Close()

	c := NewSessionClient(ClientConfig{
		HTTPBaseURL: httpServer.URL,
		WSBaseURL:   "ws://127.0.0.1:1",
		ClientID:    "viewer-1",
		Retry:       testPolicy(),
	}, "missing")
	defer c.Close()

	if err := c.Start(context.Background()); err == nil {
		t.Fatal("expected Start to fail on load error")
	}
	if c.Sync().IsLoaded() {
		t.Error("mirror should not be loaded after a failed start")
	}
}

func TestSessionClientPollFallback(t *testing.T) {
	// No reachable broadcast endpoint; the poller must converge alone
	httpServer := clientStateStub(t, &types.Student{ID: "student-1", Name: "Ann", Code: "polled"})
	defer httpServer.Close()

	c := NewSessionClient(ClientConfig{
		HTTPBaseURL:  httpServer.URL,
		WSBaseURL:    "ws://127.0.0.1:1",
		ClientID:     "viewer-1",
		PollInterval: 10 * time.Millisecond,
		Retry:        testPolicy(),
		Transport:    TransportConfig{SubscribeTimeout: 50 * time.Millisecond, MaxAttempts: 1},
	}, "session-1")
	defer c.Close()

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitUntil(t, 2*time.Second, func() bool {
		student, ok := c.Sync().Student("student-1")
		return ok && student.Code == "polled"
	}, "poll fallback never updated the mirror")
}

func TestSessionClientSwitchSession(t *testing.T) {
	joined := encodeTestEvent(t, types.StudentJoinedEvent{
		EventHeader: types.EventHeader{SessionID: "session-1", Timestamp: time.Now()},
		Student:     types.JoinedStudent{UserID: "student-1", Name: "Ann"},
	})
	wsServer := broadcastStub(t, joined)
	defer wsServer.Close()
	httpServer := clientStateStub(t)
	defer httpServer.Close()

	c := NewSessionClient(ClientConfig{
		HTTPBaseURL:  httpServer.URL,
		WSBaseURL:    wsURL(wsServer),
		ClientID:     "viewer-1",
		PollInterval: time.Hour,
		Retry:        testPolicy(),
		Transport:    DefaultTransportConfig(),
	}, "session-1")
	defer c.Close()

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitUntil(t, 2*time.Second, func() bool {
		_, ok := c.Sync().Student("student-1")
		return ok
	}, "event never arrived before the switch")

	if err := c.SwitchSession(context.Background(), "session-2"); err != nil {
		t.Fatalf("SwitchSession failed: %v", err)
	}

	if got := c.Sync().SessionID(); got != "session-2" {
		t.Errorf("expected session-2, got %s", got)
	}
	if !c.Sync().IsLoaded() {
		t.Error("switched mirror should be reloaded")
	}
	if _, ok := c.Sync().Student("student-1"); ok {
		t.Error("old session's students leaked across the switch")
	}
	session := c.Sync().Session()
	if session == nil || session.ID != "session-2" {
		t.Errorf("mirror session not rebuilt: %+v", session)
	}
}
