// Package health tracks whether the execution engine is currently usable.
//
// The state machine:
//
//	UNKNOWN  -> STARTING            first start attempt
//	STARTING -> READY | DEAD        readiness signal / start timeout
//	READY    -> STALE               heartbeat timeout
//	READY    -> UNKNOWN             idle teardown
//	STALE    -> READY | DEAD        fresh signal / failed liveness probe
//	STALE    -> UNKNOWN             idle teardown
//	DEAD     -> STARTING            next start attempt
//
// Every transition is validated and published on the events hub; nothing is
// silently skipped.
package health

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/frostr/iglood/internal/events"
)

// State of the execution engine.
type State int

const (
	Unknown State = iota
	Starting
	Ready
	Stale
	Dead
)

func (s State) String() string {
	switch s {
	case Unknown:
		return "unknown"
	case Starting:
		return "starting"
	case Ready:
		return "ready"
	case Stale:
		return "stale"
	case Dead:
		return "dead"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var validTransitions = map[State]map[State]bool{
	Unknown:  {Starting: true},
	Starting: {Ready: true, Dead: true},
	Ready:    {Stale: true, Unknown: true},
	Stale:    {Ready: true, Dead: true, Unknown: true},
	Dead:     {Starting: true},
}

// Tracker is the single authority on engine health. It is mutated only by the
// lifecycle manager and by readiness/activity signals from the engine.
type Tracker struct {
	hub    *events.Hub
	logger *slog.Logger
	now    func() time.Time

	mu         sync.Mutex
	state      State
	lastSignal time.Time
}

func NewTracker(hub *events.Hub, logger *slog.Logger) *Tracker {
	return &Tracker{
		hub:    hub,
		logger: logger,
		now:    time.Now,
		state:  Unknown,
	}
}

// State returns the current state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// LastSignal returns the time of the most recent readiness/activity signal.
func (t *Tracker) LastSignal() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastSignal
}

// Transition moves the machine to the target state, rejecting anything the
// state machine does not permit.
func (t *Tracker) Transition(to State) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transitionLocked(to)
}

func (t *Tracker) transitionLocked(to State) error {
	from := t.state
	if !validTransitions[from][to] {
		return fmt.Errorf("invalid health transition %s -> %s", from, to)
	}

	t.state = to
	if to == Ready {
		t.lastSignal = t.now()
	}

	t.logger.Info("engine health transition", "from", from.String(), "to", to.String())
	if t.hub != nil {
		t.hub.Publish(events.Event{
			Type: events.TypeHealthTransition,
			From: from.String(),
			To:   to.String(),
		})
	}
	return nil
}

// Signal records a readiness or activity signal from the engine: STARTING and
// STALE move to READY, READY refreshes its heartbeat clock. Signals in any
// other state are ignored (a late heartbeat from a torn-down engine proves
// nothing).
func (t *Tracker) Signal() {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case Starting, Stale:
		_ = t.transitionLocked(Ready)
	case Ready:
		t.lastSignal = t.now()
	default:
		t.logger.Debug("ignoring engine signal", "state", t.state.String())
	}
}

// Decay moves READY to STALE when no signal has arrived within timeout.
// Returns true if a transition happened.
func (t *Tracker) Decay(timeout time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != Ready {
		return false
	}
	if t.now().Sub(t.lastSignal) < timeout {
		return false
	}
	_ = t.transitionLocked(Stale)
	return true
}
