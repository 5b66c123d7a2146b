package client

import (
	"context"
	"log"
	"sync"
	"time"

	"codesession/pkg/types"
)

// Poller re-fetches full session state on a fixed interval whenever the
// broadcast transport is not delivering events. It is the fallback path:
// silent while the subscription is live, active while it is not.
//
// At most one fetch is in flight; ticks that land during a slow fetch
// are skipped rather than queued, so a degraded server never faces a
// backlog of overlapping polls.
type Poller struct {
	interval   time.Duration
	shouldPoll func() bool
	fetch      func(context.Context) (*types.SessionState, error)
	apply      func(*types.SessionState)

	mu       sync.Mutex
	inFlight bool
}

// NewPoller wires the fallback loop. shouldPoll gates each tick (the
// synchronizer passes "initial load done and transport not connected"),
// fetch retrieves full state, apply replaces the mirror with it.
func NewPoller(interval time.Duration, shouldPoll func() bool, fetch func(context.Context) (*types.SessionState, error), apply func(*types.SessionState)) *Poller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Poller{
		interval:   interval,
		shouldPoll: shouldPoll,
		fetch:      fetch,
		apply:      apply,
	}
}

// Run drives the poll loop until ctx is cancelled
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.Tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Tick performs one gated poll cycle. Exported so the loop's behavior
// is drivable without waiting on real time.
func (p *Poller) Tick(ctx context.Context) {
	if !p.shouldPoll() {
		return
	}

	p.mu.Lock()
	if p.inFlight {
		p.mu.Unlock()
		return
	}
	p.inFlight = true
	p.mu.Unlock()

	go func() {
		defer func() {
			p.mu.Lock()
			p.inFlight = false
			p.mu.Unlock()
		}()

		state, err := p.fetch(ctx)
		if err != nil {
			log.Printf("Poll fetch failed: %v", err)
			return
		}
		p.apply(state)
	}()
}
