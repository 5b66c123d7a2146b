package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"codesession/pkg/types"
)

// ClientConfig groups the endpoints and tuning for one composed session
// client. Zero values fall back to the component defaults.
type ClientConfig struct {
	HTTPBaseURL    string
	WSBaseURL      string
	ClientID       string
	DebounceWindow time.Duration
	PollInterval   time.Duration
	Retry          RetryPolicy
	Transport      TransportConfig
}

// SessionClient wires the synchronizer, broadcast transport, and polling
// fallback into one lifecycle. The transport feeds events into the
// mirror while it is live; the poller takes over full-state re-fetches
// whenever it is not. Switching sessions tears down the old subscription
// and rebuilds the mirror from scratch.
type SessionClient struct {
	config ClientConfig
	api    *API
	mirror *Synchronizer
	poller *Poller

	mu        sync.Mutex
	transport *Transport
	runCtx    context.Context
	cancel    context.CancelFunc
	running   bool
	wg        sync.WaitGroup
}

// NewSessionClient composes a client for sessionID. Call Start to load
// state and begin receiving updates.
func NewSessionClient(config ClientConfig, sessionID string) *SessionClient {
	api := NewAPI(config.HTTPBaseURL, NewFetcher(nil, config.Retry))
	c := &SessionClient{
		config: config,
		api:    api,
		mirror: NewSynchronizer(api, sessionID, config.DebounceWindow),
	}
	c.poller = NewPoller(config.PollInterval, c.shouldPoll, c.fetchState, c.mirror.ReplaceState)
	return c
}

// Sync exposes the underlying mirror for reads and action methods
func (c *SessionClient) Sync() *Synchronizer {
	return c.mirror
}

// ConnectionState reports the broadcast transport's state machine, or a
// disconnected snapshot before Start
func (c *SessionClient) ConnectionState() types.ConnectionInfo {
	c.mu.Lock()
	transport := c.transport
	c.mu.Unlock()
	if transport == nil {
		return types.ConnectionInfo{State: types.ConnectionDisconnected}
	}
	return transport.State()
}

// Start performs the initial full-state load, subscribes to the
// broadcast channel, and launches the polling fallback. A load failure
// aborts the start; calling Start again retries it.
func (c *SessionClient) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	c.mu.Unlock()

	if err := c.mirror.Load(ctx); err != nil {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.runCtx = runCtx
	c.cancel = cancel
	c.mu.Unlock()

	c.subscribe(runCtx, c.mirror.SessionID())

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.poller.Run(runCtx)
	}()
	return nil
}

// SwitchSession moves the client to another session: the old
// subscription is released, the mirror is discarded and reloaded, and a
// fresh transport subscribes to the new channel.
func (c *SessionClient) SwitchSession(ctx context.Context, sessionID string) error {
	if sessionID == c.mirror.SessionID() {
		return nil
	}

	c.mu.Lock()
	old := c.transport
	c.transport = nil
	running := c.running
	c.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	c.mirror.SetSession(sessionID)

	if !running {
		return nil
	}
	if err := c.mirror.Load(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	runCtx := c.runCtx
	c.mu.Unlock()
	if runCtx == nil {
		return nil
	}
	// The new subscription shares the original run context so Close
	// still tears everything down
	c.subscribe(runCtx, sessionID)
	return nil
}

// Close releases the subscription, stops the poll loop, and drops any
// pending debounced write
func (c *SessionClient) Close() error {
	c.mu.Lock()
	cancel := c.cancel
	transport := c.transport
	c.cancel = nil
	c.runCtx = nil
	c.transport = nil
	c.running = false
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if transport != nil {
		_ = transport.Close()
	}
	c.mirror.Close()
	c.wg.Wait()
	return nil
}

// subscribe builds a transport for sessionID and launches its connect
// and pump loops under ctx
func (c *SessionClient) subscribe(ctx context.Context, sessionID string) {
	transport := NewTransport(c.config.WSBaseURL, sessionID, c.config.ClientID, c.config.Transport)

	lost := make(chan struct{}, 1)
	transport.OnStateChange(func(info types.ConnectionInfo) {
		if info.State == types.ConnectionFailed {
			select {
			case lost <- struct{}{}:
			default:
			}
		}
	})

	c.mu.Lock()
	c.transport = transport
	c.mu.Unlock()

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.maintainConnection(ctx, transport, lost)
	}()
	go func() {
		defer c.wg.Done()
		c.mirror.Pump(ctx, transport.Events())
	}()
}

// maintainConnection redials after failures until the transport's
// attempt budget runs out; from then on the poller alone keeps the
// mirror converging
func (c *SessionClient) maintainConnection(ctx context.Context, transport *Transport, lost <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := transport.Connect()
		if errors.Is(err, ErrMaxAttemptsReached) || errors.Is(err, ErrTransportClosed) {
			return
		}
		if err != nil {
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-lost:
		case <-ctx.Done():
			return
		}
	}
}

// shouldPoll gates the fallback loop: only after the initial load, and
// only while the broadcast subscription is not live
func (c *SessionClient) shouldPoll() bool {
	if !c.mirror.IsLoaded() {
		return false
	}
	c.mu.Lock()
	transport := c.transport
	c.mu.Unlock()
	return transport == nil || !transport.IsConnected()
}

func (c *SessionClient) fetchState(ctx context.Context) (*types.SessionState, error) {
	return c.api.GetSessionState(ctx, c.mirror.SessionID())
}
