package broadcast

import (
	"log"
	"sync"
)

// Registry tracks subscriber connections per session channel
// ARCHITECTURAL DISCOVERY: Pure connection management without event
// semantics keeps the fan-out path a straight map iteration
type Registry struct {
	mu       sync.RWMutex // RWMutex optimizes for read-heavy fan-out patterns
	sessions map[string]map[string]*Connection // sessionID -> clientID -> Connection
}

// NewRegistry creates a new connection registry
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]map[string]*Connection),
	}
}

// Register adds a connection to its session channel
// FUNCTIONAL DISCOVERY: An existing connection for the same client is
// closed asynchronously to prevent duplicate delivery after reconnects
func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}
	if !conn.IsBound() {
		return ErrConnectionUnbound
	}

	clientID := conn.GetClientID()
	sessionID := conn.GetSessionID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if subscribers, exists := r.sessions[sessionID]; exists {
		if existing, ok := subscribers[clientID]; ok {
			go func() {
				if err := existing.Close(); err != nil {
					log.Printf("Failed to close replaced connection: %v", err)
				}
			}() // Close asynchronously to avoid deadlock
		}
	} else {
		r.sessions[sessionID] = make(map[string]*Connection)
	}

	r.sessions[sessionID][clientID] = conn
	return nil
}

// Unregister removes a specific connection from its session channel.
// Idempotent, and only removes the connection if it is the one currently
// registered, so an old connection's cleanup never evicts its replacement.
func (r *Registry) Unregister(conn *Connection) {
	if conn == nil {
		return
	}

	clientID := conn.GetClientID()
	sessionID := conn.GetSessionID()

	r.mu.Lock()
	defer r.mu.Unlock()

	subscribers, exists := r.sessions[sessionID]
	if !exists {
		return
	}
	if registered, ok := subscribers[clientID]; !ok || registered != conn {
		return
	}

	delete(subscribers, clientID)
	if len(subscribers) == 0 {
		delete(r.sessions, sessionID) // Clean up empty maps to prevent leaks
	}
}

// GetSessionConnections returns all subscriber connections for a session
func (r *Registry) GetSessionConnections(sessionID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subscribers, exists := r.sessions[sessionID]
	if !exists {
		return nil
	}

	connections := make([]*Connection, 0, len(subscribers))
	for _, conn := range subscribers {
		connections = append(connections, conn)
	}
	return connections
}

// GetStats returns registry statistics for monitoring and debugging
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, subscribers := range r.sessions {
		total += len(subscribers)
	}

	return map[string]int{
		"total_connections": total,
		"active_sessions":   len(r.sessions),
	}
}
