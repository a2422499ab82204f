package relay

import (
	"errors"
	"sync"
)

// ErrNoActiveSession means no execution is currently waiting on the session.
var ErrNoActiveSession = errors.New("No active session")

// Registry maps session IDs to the channel of their in-flight execution.
//
// Entries are independent, so a single mutex around the map is enough; no
// lock is ever held while a channel blocks.
type Registry struct {
	mu       sync.Mutex
	channels map[string]*Channel
}

// NewRegistry creates an empty registry. The server owns it for its lifetime.
func NewRegistry() *Registry {
	return &Registry{
		channels: make(map[string]*Channel),
	}
}

// Open registers a fresh channel for sessionID.
//
// LAST WRITER WINS:
// A second execution under the same session ID replaces the first one's
// channel. The replaced channel is closed, so if the older program was blocked
// in input() it fails instead of waiting forever for a value that will now be
// routed to the newer execution.
func (r *Registry) Open(sessionID string) *Channel {
	ch := NewChannel(sessionID)

	r.mu.Lock()
	prev := r.channels[sessionID]
	r.channels[sessionID] = ch
	r.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	return ch
}

// Release removes ch from the registry and closes it. If the session has
// already been taken over by a newer channel, that entry is left alone.
func (r *Registry) Release(ch *Channel) {
	r.mu.Lock()
	if cur, ok := r.channels[ch.SessionID]; ok && cur == ch {
		delete(r.channels, ch.SessionID)
	}
	r.mu.Unlock()

	ch.Close()
}

// Supply forwards value to the session's channel. It never blocks.
func (r *Registry) Supply(sessionID, value string) error {
	r.mu.Lock()
	ch, ok := r.channels[sessionID]
	r.mu.Unlock()

	if !ok {
		return ErrNoActiveSession
	}
	if err := ch.Supply(value); err != nil {
		// Lost the race with Release: the execution just finished.
		return ErrNoActiveSession
	}
	return nil
}

// Lookup returns the session's channel, if any.
func (r *Registry) Lookup(sessionID string) (*Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[sessionID]
	return ch, ok
}

// Active returns the number of registered sessions.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

// Close closes every registered channel. Called on server shutdown so that
// programs blocked in input() unwind.
func (r *Registry) Close() {
	r.mu.Lock()
	channels := r.channels
	r.channels = make(map[string]*Channel)
	r.mu.Unlock()

	for _, ch := range channels {
		ch.Close()
	}
}
