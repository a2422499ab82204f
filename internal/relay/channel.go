// Package relay hands values typed by a browser to a program that is blocked
// inside input().
//
// HOW THE HAND-OFF WORKS:
// HTTP is request/response, so a running program cannot ask the browser for a
// value mid-execution. Instead the browser makes a SECOND request (POST /input)
// carrying the same X-Session-ID header. The Registry maps that session ID to
// the Channel owned by the in-flight execution, and Supply() drops the value
// into its queue. The evaluator goroutine sits in RequestValue() until it
// arrives.
//
//	POST /execute ──► Orchestrator ──► Registry.Open("s1") ──► Channel
//	                                                         ▲   │
//	POST /input   ──► Registry.Supply("s1", "bob") ──────────┘   ▼
//	                                          evaluator: RequestValue() → "bob"
package relay

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Supply and RequestValue once the channel's
// execution has finished.
var ErrClosed = errors.New("relay: channel closed")

// Channel is a FIFO queue of text values for one execution.
//
// Supply never blocks (the queue is unbounded); RequestValue blocks until a
// value arrives, the channel is closed, or ctx is done. There is no timeout at
// this layer; the orchestrator owns ctx.
type Channel struct {
	SessionID string

	mu     sync.Mutex
	queue  []string
	ready  chan struct{} // signalled (cap 1) whenever queue becomes non-empty
	done   chan struct{}
	closed bool
}

// NewChannel creates an empty channel for sessionID.
func NewChannel(sessionID string) *Channel {
	return &Channel{
		SessionID: sessionID,
		ready:     make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Supply enqueues one value.
func (c *Channel) Supply(value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	c.queue = append(c.queue, value)

	// Non-blocking signal: if a wake-up is already pending, the reader will
	// see the whole queue anyway.
	select {
	case c.ready <- struct{}{}:
	default:
	}
	return nil
}

// RequestValue dequeues the oldest value, blocking until one is available.
func (c *Channel) RequestValue(ctx context.Context) (string, error) {
	for {
		c.mu.Lock()
		if len(c.queue) > 0 {
			v := c.queue[0]
			c.queue[0] = ""
			c.queue = c.queue[1:]
			c.mu.Unlock()
			return v, nil
		}
		closed := c.closed
		c.mu.Unlock()

		if closed {
			return "", ErrClosed
		}

		select {
		case <-c.ready:
		case <-c.done:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// Pending reports how many supplied values have not been consumed yet.
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Close wakes any blocked reader and rejects further values. Safe to call
// more than once.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.queue = nil
	close(c.done)
}
