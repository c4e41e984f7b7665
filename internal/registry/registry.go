// Package registry correlates asynchronous engine responses back to the
// caller goroutine waiting on the original request. It is a plain concurrent
// map from request id to a resolvable handle; the transport that carried the
// response is an adapter concern, not ours.
package registry

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/frostr/iglood/internal/protocol"
)

// Registry holds at most one pending call per request id.
type Registry struct {
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]chan protocol.Outcome
}

func New(logger *slog.Logger) *Registry {
	return &Registry{
		logger:  logger,
		pending: make(map[string]chan protocol.Outcome),
	}
}

// Register creates the pending call for a request and returns the channel its
// outcome will arrive on. Registering an id twice is a caller bug.
func (r *Registry) Register(id string) (<-chan protocol.Outcome, error) {
	if id == "" {
		return nil, fmt.Errorf("request id is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.pending[id]; ok {
		return nil, fmt.Errorf("pending call already registered for request %s", id)
	}

	// Buffer of one so Deliver never blocks on a caller that has not yet
	// reached its select.
	ch := make(chan protocol.Outcome, 1)
	r.pending[id] = ch
	return ch, nil
}

// Deliver resolves the pending call for id. At-most-once: the first delivery
// wins, anything after (or a delivery for an id that timed out and was
// cancelled) is a logged no-op.
func (r *Registry) Deliver(id string, out protocol.Outcome) bool {
	r.mu.Lock()
	ch, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()

	if !ok {
		// The caller side already timed out and moved on; not an error.
		r.logger.Warn("no pending call for delivered result", "request_id", id, "code", string(out.Code))
		return false
	}

	ch <- out
	return true
}

// Cancel removes the pending call without resolving it. Used on deadline
// expiry or caller withdrawal, where the caller synthesizes its own outcome.
func (r *Registry) Cancel(id string) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}

// Pending returns the number of unresolved calls.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
