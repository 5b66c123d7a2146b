package broadcast

import (
	"context"
	"log"
	"sync"

	"codesession/pkg/types"
)

// Hub coordinates session-event fan-out and connection lifecycle
// ARCHITECTURAL DISCOVERY: Central coordination point for all event flow
// maintains clean separation between WebSocket handling and fan-out
type Hub struct {
	// FUNCTIONAL DISCOVERY: Buffered channels prevent blocking during event bursts
	publishChannel    chan types.SessionEvent // 1000 buffer handles classroom edit bursts
	registerChannel   chan *Connection        // 100 buffer for connection lifecycle events
	unregisterChannel chan *Connection
	shutdownChannel   chan struct{} // Unbuffered for immediate shutdown signaling

	registry *Registry

	running bool
	mu      sync.RWMutex
}

// NewHub creates a new hub over the given registry
func NewHub(registry *Registry) *Hub {
	return &Hub{
		publishChannel:    make(chan types.SessionEvent, 1000),
		registerChannel:   make(chan *Connection, 100),
		unregisterChannel: make(chan *Connection, 100),
		shutdownChannel:   make(chan struct{}),
		registry:          registry,
	}
}

// Start begins hub processing
// FUNCTIONAL DISCOVERY: Single hub goroutine prevents race conditions
// while maintaining high throughput event processing
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.mu.Unlock()

	log.Println("Starting broadcast hub...")
	go h.run(ctx)
	return nil
}

// Stop gracefully shuts down the hub
func (h *Hub) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return ErrHubNotRunning
	}
	h.running = false

	log.Println("Stopping broadcast hub...")

	// Safe channel close using select to prevent panic
	select {
	case <-h.shutdownChannel:
		// Channel already closed
	default:
		close(h.shutdownChannel)
	}

	return nil
}

// Publish queues a session event for fan-out to the event's session channel
func (h *Hub) Publish(event types.SessionEvent) error {
	h.mu.RLock()
	if !h.running {
		h.mu.RUnlock()
		return ErrHubNotRunning
	}
	h.mu.RUnlock()

	// Non-blocking send with error handling prevents hub lockup
	select {
	case h.publishChannel <- event:
		return nil
	default:
		return ErrPublishChannelFull
	}
}

// RegisterConnection queues a connection for registration
func (h *Hub) RegisterConnection(conn *Connection) error {
	h.mu.RLock()
	if !h.running {
		h.mu.RUnlock()
		return ErrHubNotRunning
	}
	h.mu.RUnlock()

	select {
	case h.registerChannel <- conn:
		return nil
	default:
		return ErrPublishChannelFull
	}
}

// UnregisterConnection queues a connection for deregistration
func (h *Hub) UnregisterConnection(conn *Connection) error {
	h.mu.RLock()
	if !h.running {
		h.mu.RUnlock()
		return ErrHubNotRunning
	}
	h.mu.RUnlock()

	select {
	case h.unregisterChannel <- conn:
		return nil
	default:
		return ErrPublishChannelFull
	}
}

// run is the main hub processing loop
// TECHNICAL DISCOVERY: Single select loop handles all coordination,
// preventing race conditions while maintaining high throughput
func (h *Hub) run(ctx context.Context) {
	defer log.Println("Hub processing stopped")

	for {
		select {
		case event := <-h.publishChannel:
			h.fanOut(event)

		case conn := <-h.registerChannel:
			h.handleRegistration(conn)

		case conn := <-h.unregisterChannel:
			h.registry.Unregister(conn)

		case <-h.shutdownChannel:
			log.Println("Hub shutdown requested")
			return

		case <-ctx.Done():
			log.Println("Hub context cancelled")
			return
		}
	}
}

// fanOut encodes an event once and delivers it to every subscriber of
// the event's session channel
// FUNCTIONAL DISCOVERY: Delivery continues despite individual failures;
// a slow or dead subscriber never stalls the rest of the classroom
func (h *Hub) fanOut(event types.SessionEvent) {
	data, err := types.EncodeEvent(event)
	if err != nil {
		log.Printf("Failed to encode event %s for session %s: %v",
			event.EventName(), event.Session(), err)
		return
	}

	connections := h.registry.GetSessionConnections(event.Session())
	for _, conn := range connections {
		if err := conn.Write(data); err != nil {
			log.Printf("Failed to deliver %s to client %s: %v",
				event.EventName(), conn.GetClientID(), err)
		}
	}
}

// handleRegistration processes connection registration
func (h *Hub) handleRegistration(conn *Connection) {
	if conn == nil {
		log.Printf("Attempted to register nil connection")
		return
	}

	if err := h.registry.Register(conn); err != nil {
		log.Printf("Connection registration failed for client %s: %v",
			conn.GetClientID(), err)
		if closeErr := conn.Close(); closeErr != nil {
			log.Printf("Failed to close connection after registration failure: %v", closeErr)
		}
	} else {
		log.Printf("Connection registered: client=%s session=%s",
			conn.GetClientID(), conn.GetSessionID())
	}
}
