package broadcast

import (
	"testing"
)

func boundConn(clientID, sessionID string) *Connection {
	conn := NewConnection(nil)
	conn.Bind(clientID, sessionID)
	return conn
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	registry := NewRegistry()

	c1 := boundConn("client-1", "session-1")
	c2 := boundConn("client-2", "session-1")
	c3 := boundConn("client-3", "session-2")

	for _, c := range []*Connection{c1, c2, c3} {
		if err := registry.Register(c); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}

	if got := len(registry.GetSessionConnections("session-1")); got != 2 {
		t.Errorf("expected 2 subscribers on session-1, got %d", got)
	}
	if got := len(registry.GetSessionConnections("session-2")); got != 1 {
		t.Errorf("expected 1 subscriber on session-2, got %d", got)
	}
	if got := registry.GetSessionConnections("no-such-session"); got != nil {
		t.Errorf("expected nil for unknown session, got %v", got)
	}
}

func TestRegistryRejectsInvalidConnections(t *testing.T) {
	registry := NewRegistry()

	if err := registry.Register(nil); err != ErrNilConnection {
		t.Errorf("expected ErrNilConnection, got %v", err)
	}
	if err := registry.Register(NewConnection(nil)); err != ErrConnectionUnbound {
		t.Errorf("expected ErrConnectionUnbound, got %v", err)
	}
}

func TestRegistryReconnectReplacesConnection(t *testing.T) {
	registry := NewRegistry()

	old := boundConn("client-1", "session-1")
	if err := registry.Register(old); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	replacement := boundConn("client-1", "session-1")
	if err := registry.Register(replacement); err != nil {
		t.Fatalf("Register of replacement failed: %v", err)
	}

	conns := registry.GetSessionConnections("session-1")
	if len(conns) != 1 {
		t.Fatalf("expected 1 connection after reconnect, got %d", len(conns))
	}
	if conns[0] != replacement {
		t.Error("replacement connection should be the registered one")
	}
}

func TestRegistryUnregisterIsIdentityChecked(t *testing.T) {
	registry := NewRegistry()

	old := boundConn("client-1", "session-1")
	replacement := boundConn("client-1", "session-1")
	_ = registry.Register(old)
	_ = registry.Register(replacement)

	// The stale connection's cleanup must not evict its replacement
	registry.Unregister(old)
	if got := len(registry.GetSessionConnections("session-1")); got != 1 {
		t.Errorf("stale unregister evicted the replacement, %d left", got)
	}

	registry.Unregister(replacement)
	if got := len(registry.GetSessionConnections("session-1")); got != 0 {
		t.Errorf("expected empty channel, got %d", got)
	}
}

func TestRegistryStats(t *testing.T) {
	registry := NewRegistry()
	_ = registry.Register(boundConn("client-1", "session-1"))
	_ = registry.Register(boundConn("client-2", "session-1"))
	_ = registry.Register(boundConn("client-3", "session-2"))

	stats := registry.GetStats()
	if stats["total_connections"] != 3 {
		t.Errorf("expected 3 connections, got %d", stats["total_connections"])
	}
	if stats["active_sessions"] != 2 {
		t.Errorf("expected 2 sessions, got %d", stats["active_sessions"])
	}
}

func TestRegistryUnregisterUnknownIsNoop(t *testing.T) {
	registry := NewRegistry()
	registry.Unregister(nil)
	registry.Unregister(boundConn("ghost", "nowhere"))
}
