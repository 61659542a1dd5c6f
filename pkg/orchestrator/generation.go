package orchestrator

import (
	"context"
	"sync"
)

// Generation represents a single in-flight stream. It is cancelable and
// waitable; the underlying stream is always driven by context cancellation.
type Generation struct {
	SessionID string
	MessageID string
	// ResponseIndex is the response branch this stream writes to, pinned when
	// the stream starts. Patches are dropped while another branch is active.
	ResponseIndex int

	done chan struct{}

	mu        sync.Mutex
	requestID string
	cancel    context.CancelFunc
	aborted   bool
	failed    bool
}

func newGeneration(sessionID, messageID string, responseIndex int, cancel context.CancelFunc) *Generation {
	return &Generation{
		SessionID:     sessionID,
		MessageID:     messageID,
		ResponseIndex: responseIndex,
		done:          make(chan struct{}),
		cancel:        cancel,
	}
}

// setRequestID records the server-issued correlation id from the start event.
func (g *Generation) setRequestID(id string) {
	g.mu.Lock()
	g.requestID = id
	g.mu.Unlock()
}

// RequestID returns the server-issued id, or "" before the start event.
func (g *Generation) RequestID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requestID
}

// Abort cancels the stream locally and marks the generation user-aborted so
// the completion path skips post-stream side effects. Safe to call twice.
func (g *Generation) Abort() {
	g.mu.Lock()
	g.aborted = true
	cancel := g.cancel
	g.cancel = nil
	g.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (g *Generation) Aborted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.aborted
}

func (g *Generation) markFailed() {
	g.mu.Lock()
	g.failed = true
	g.mu.Unlock()
}

func (g *Generation) Failed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.failed
}

func (g *Generation) finish() {
	g.mu.Lock()
	cancel := g.cancel
	g.cancel = nil
	g.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	close(g.done)
}

// Wait blocks until the stream has fully drained.
func (g *Generation) Wait() {
	<-g.done
}

// IsRunning reports whether the stream is still being consumed.
func (g *Generation) IsRunning() bool {
	select {
	case <-g.done:
		return false
	default:
		return true
	}
}
