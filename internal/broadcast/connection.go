package broadcast

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Connection wraps one subscriber's websocket
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent
// race conditions. Interface boundary maintained - no event semantics in
// the connection wrapper, it only moves bytes.
type Connection struct {
	conn      *websocket.Conn
	writeCh   chan []byte // 100 buffer prevents blocking during event bursts
	clientID  string      // Set after binding
	sessionID string      // Set after binding
	bound     bool
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	mu        sync.RWMutex // Protect binding fields
}

// NewConnection creates a new subscriber connection wrapper
func NewConnection(conn *websocket.Conn) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:    conn,
		writeCh: make(chan []byte, 100),
		ctx:     ctx,
		cancel:  cancel,
	}

	// Start the single writer goroutine
	go c.writeLoop()

	return c
}

// ARCHITECTURAL DISCOVERY: Single writer goroutine pattern eliminates races
func (c *Connection) writeLoop() {
	defer func() {
		for len(c.writeCh) > 0 {
			<-c.writeCh // Drain remaining messages
		}
		close(c.writeCh)
	}()

	for {
		select {
		case data, ok := <-c.writeCh:
			if !ok {
				return
			}

			// 5-second timeout balances responsiveness vs classroom network stability
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// Write queues raw bytes for delivery with timeout and error handling
func (c *Connection) Write(data []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(5 * time.Second):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// WriteJSON marshals v and queues it for delivery
func (c *Connection) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}
	return c.Write(data)
}

// Close shuts the connection down exactly once
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
		// writeCh is closed by the writeLoop goroutine
	})
	return err
}

// Bind attaches the subscriber identity after validation
func (c *Connection) Bind(clientID, sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.clientID = clientID
	c.sessionID = sessionID
	c.bound = true
}

func (c *Connection) IsBound() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bound
}

func (c *Connection) GetClientID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clientID
}

func (c *Connection) GetSessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}
