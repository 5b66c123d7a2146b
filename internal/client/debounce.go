package client

import (
	"sync"
	"time"
)

// CodeMutation is the argument record of a debounced code write
type CodeMutation struct {
	SessionID         string
	StudentID         string
	Code              string
	ExecutionSettings map[string]any
}

// MutationQueue coalesces rapid local edits into a single outbound write
// per quiescent period. State is an explicit {pending, timer} pair: each
// enqueue replaces the pending record and restarts the timer, so only
// the last call within a window is ever committed.
type MutationQueue struct {
	window time.Duration
	commit func(CodeMutation)

	mu      sync.Mutex
	pending *CodeMutation
	timer   *time.Timer
}

// NewMutationQueue creates a queue that invokes commit once per
// quiescent window with the most recent mutation
func NewMutationQueue(window time.Duration, commit func(CodeMutation)) *MutationQueue {
	return &MutationQueue{
		window: window,
		commit: commit,
	}
}

// Enqueue records a mutation and (re)starts the debounce window.
// Any previously pending mutation is discarded.
func (q *MutationQueue) Enqueue(m CodeMutation) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.timer != nil {
		q.timer.Stop()
	}
	q.pending = &m
	q.timer = time.AfterFunc(q.window, q.fire)
}

// Flush commits any pending mutation immediately, bypassing the window.
// Used on teardown so the last edit is not lost.
func (q *MutationQueue) Flush() {
	q.fire()
}

// Cancel drops the pending mutation without committing it
func (q *MutationQueue) Cancel() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.pending = nil
}

func (q *MutationQueue) fire() {
	q.mu.Lock()
	m := q.pending
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	q.pending = nil
	q.mu.Unlock()

	// Commit outside the lock so a slow write cannot block new enqueues
	if m != nil {
		q.commit(*m)
	}
}
