package client

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"codesession/pkg/types"
)

// subscribedAck mirrors the acknowledgment frame the broadcast endpoint
// sends after registering a subscriber
const subscribedAck = "subscribed"

// TransportConfig bounds the transport's connection behavior
type TransportConfig struct {
	SubscribeTimeout time.Duration
	MaxAttempts      int
}

// DefaultTransportConfig returns the reference bounds: a 10-second
// acknowledgment deadline and 5 connection attempts before giving up
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		SubscribeTimeout: 10 * time.Second,
		MaxAttempts:      5,
	}
}

// Transport subscribes to a session's broadcast channel over websocket
// and surfaces decoded events plus a connection state machine:
// connecting until the subscription acknowledgment arrives, connected
// after it, disconnected on clean close, failed on error or timeout.
// Attempts count across reconnects and are bounded by MaxAttempts.
type Transport struct {
	baseURL   string
	sessionID string
	clientID  string
	config    TransportConfig
	dialer    *websocket.Dialer

	mu   sync.RWMutex
	info types.ConnectionInfo
	conn *websocket.Conn

	events    chan types.SessionEvent
	done      chan struct{}
	closeOnce sync.Once

	// onStateChange, when set, is invoked after every state transition
	// outside the transport lock
	onStateChange func(types.ConnectionInfo)
}

// NewTransport creates a transport for one session subscription.
// baseURL uses the ws or wss scheme, e.g. "ws://localhost:8080".
func NewTransport(baseURL, sessionID, clientID string, config TransportConfig) *Transport {
	if config.SubscribeTimeout <= 0 {
		config.SubscribeTimeout = DefaultTransportConfig().SubscribeTimeout
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = DefaultTransportConfig().MaxAttempts
	}
	return &Transport{
		baseURL:   baseURL,
		sessionID: sessionID,
		clientID:  clientID,
		config:    config,
		dialer: &websocket.Dialer{
			HandshakeTimeout: config.SubscribeTimeout,
		},
		info: types.ConnectionInfo{
			State:       types.ConnectionDisconnected,
			MaxAttempts: config.MaxAttempts,
		},
		events: make(chan types.SessionEvent, 100),
		done:   make(chan struct{}),
	}
}

// OnStateChange registers a callback for state transitions. Must be set
// before Connect.
func (t *Transport) OnStateChange(fn func(types.ConnectionInfo)) {
	t.onStateChange = fn
}

// Connect dials the broadcast endpoint and waits for the subscription
// acknowledgment. Each call consumes one attempt; once the bound is
// exhausted the transport stays failed.
func (t *Transport) Connect() error {
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}

	t.mu.Lock()
	if t.info.Attempts >= t.config.MaxAttempts {
		t.info.State = types.ConnectionFailed
		t.info.Error = ErrMaxAttemptsReached.Error()
		info := t.info
		t.mu.Unlock()
		t.notify(info)
		return ErrMaxAttemptsReached
	}
	t.info.Attempts++
	t.mu.Unlock()

	t.setState(types.ConnectionConnecting, "")

	endpoint := fmt.Sprintf("%s/ws?session_id=%s&client_id=%s",
		t.baseURL, url.QueryEscape(t.sessionID), url.QueryEscape(t.clientID))

	conn, _, err := t.dialer.Dial(endpoint, nil)
	if err != nil {
		t.setState(types.ConnectionFailed, fmt.Sprintf("dial failed: %v", err))
		return fmt.Errorf("failed to connect to broadcast channel: %w", err)
	}

	if err := t.awaitAck(conn); err != nil {
		_ = conn.Close()
		t.setState(types.ConnectionFailed, err.Error())
		return err
	}

	t.mu.Lock()
	t.conn = conn
	t.info.StartedAt = time.Now()
	t.mu.Unlock()
	t.setState(types.ConnectionConnected, "")

	go t.readLoop(conn)
	return nil
}

// awaitAck blocks until the server's subscription acknowledgment frame
// arrives or the subscribe timeout elapses
func (t *Transport) awaitAck(conn *websocket.Conn) error {
	if err := conn.SetReadDeadline(time.Now().Add(t.config.SubscribeTimeout)); err != nil {
		return fmt.Errorf("failed to arm subscribe deadline: %w", err)
	}
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	_, data, err := conn.ReadMessage()
	if err != nil {
		return ErrSubscribeTimeout
	}

	var frame struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(data, &frame); err != nil || frame.Event != subscribedAck {
		return fmt.Errorf("unexpected frame before subscription acknowledgment")
	}
	return nil
}

// readLoop decodes broadcast frames into session events until the
// connection closes
func (t *Transport) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.setState(types.ConnectionDisconnected, "")
			} else {
				select {
				case <-t.done:
					t.setState(types.ConnectionDisconnected, "")
				default:
					t.setState(types.ConnectionFailed, fmt.Sprintf("connection lost: %v", err))
				}
			}
			return
		}

		event, err := types.DecodeEvent(data)
		if err != nil {
			log.Printf("Skipping undecodable broadcast frame: %v", err)
			continue
		}

		// Frames for other sessions are dropped at the edge so the
		// reducer only ever sees its own channel
		if event.Session() != t.sessionID {
			continue
		}

		select {
		case t.events <- event:
		case <-t.done:
			return
		}
	}
}

// Events returns the stream of decoded session events
func (t *Transport) Events() <-chan types.SessionEvent {
	return t.events
}

// State returns a snapshot of the connection state machine
func (t *Transport) State() types.ConnectionInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.info
}

// IsConnected reports whether the subscription is live
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.info.State == types.ConnectionConnected
}

// Close releases the subscription and closes the event stream. Safe to
// call more than once.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		t.mu.Lock()
		conn := t.conn
		t.conn = nil
		t.mu.Unlock()
		if conn != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
		}
		t.setState(types.ConnectionDisconnected, "")
	})
	return nil
}

func (t *Transport) setState(state types.ConnectionState, errMsg string) {
	t.mu.Lock()
	t.info.State = state
	t.info.Error = errMsg
	info := t.info
	t.mu.Unlock()
	t.notify(info)
}

func (t *Transport) notify(info types.ConnectionInfo) {
	if t.onStateChange != nil {
		t.onStateChange(info)
	}
}
