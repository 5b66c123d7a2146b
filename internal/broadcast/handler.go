package broadcast

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"codesession/pkg/interfaces"
	"codesession/pkg/types"
)

// SubscribedAck is the acknowledgment frame sent once a subscriber is
// registered on its session channel; the client transport treats this as
// the transition from connecting to connected.
const SubscribedAck = "subscribed"

// WebSocket upgrader with production-ready settings
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for development; deployments should
		// implement stricter origin checking
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Handler upgrades subscriber requests and binds them to session channels
// ARCHITECTURAL DISCOVERY: Multi-stage validation (parameters -> session ->
// upgrade -> bind -> register) prevents invalid connections from consuming
// resources
type Handler struct {
	hub   *Hub
	store interfaces.Store
}

// NewHandler creates a new subscription handler with dependency injection
func NewHandler(hub *Hub, store interfaces.Store) *Handler {
	return &Handler{
		hub:   hub,
		store: store,
	}
}

// HandleSubscribe handles websocket subscription requests for a session's
// event channel
func (h *Handler) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	clientID := r.URL.Query().Get("client_id")

	if sessionID == "" || clientID == "" {
		http.Error(w, "Missing required query parameters: session_id, client_id", http.StatusBadRequest)
		return
	}

	if !types.IsValidUserID(clientID) {
		http.Error(w, "Invalid client_id format", http.StatusBadRequest)
		return
	}

	// Session must exist; completed sessions can still be subscribed to
	// so late viewers observe the replacement pointer
	if _, err := h.store.GetSession(r.Context(), sessionID); err != nil {
		if err == interfaces.ErrSessionNotFound {
			http.Error(w, "Session not found", http.StatusNotFound)
		} else {
			http.Error(w, "Session lookup failed", http.StatusInternalServerError)
		}
		return
	}

	// Upgrade after validation prevents resource waste on invalid requests
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	sub := NewConnection(conn)
	sub.Bind(clientID, sessionID)

	if err := h.hub.RegisterConnection(sub); err != nil {
		log.Printf("Failed to register connection: %v", err)
		_ = sub.Close()
		return
	}

	// Subscription acknowledgment flips the client state machine to
	// connected; sent through the write channel so ordering with the
	// first fanned-out event is preserved
	ack := map[string]any{
		"event":     SubscribedAck,
		"sessionId": sessionID,
		"timestamp": time.Now(),
	}
	if err := sub.WriteJSON(ack); err != nil {
		log.Printf("Failed to send subscription ack to %s: %v", clientID, err)
		_ = h.hub.UnregisterConnection(sub)
		_ = sub.Close()
		return
	}

	go h.handleConnection(sub)
}

// handleConnection manages the connection lifecycle with heartbeat monitoring
// TECHNICAL DISCOVERY: 60-second read deadline with 30-second ping interval
// provides reliable connection health monitoring for classroom environments
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		// Deferred cleanup ensures resources are released even if
		// connection handling exits unexpectedly
		if err := h.hub.UnregisterConnection(conn); err != nil {
			h.hub.registry.Unregister(conn) // hub stopped; clean up directly
		}
		_ = conn.Close()
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
		log.Printf("Failed to set read deadline: %v", err)
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			case <-conn.ctx.Done():
				return
			}
		}
	}()

	// Read pump: subscribers are listen-only, but the read loop must run
	// to process control frames and detect the close
	for {
		if _, _, err := conn.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error for client %s: %v", conn.GetClientID(), err)
			}
			return
		}
	}
}
