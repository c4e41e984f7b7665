// Package lifecycle starts the execution engine on demand, tracks its
// readiness, and tears it down after an idle period. The engine is a single
// exclusive resource: at most one instance exists and at most one start is in
// flight, no matter how many requests are waiting on it.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/frostr/iglood/internal/engine"
	"github.com/frostr/iglood/internal/events"
	"github.com/frostr/iglood/internal/health"
)

var (
	// ErrStartTimeout means the engine produced no readiness signal within the
	// start timeout (or the waiter's deadline expired first).
	ErrStartTimeout = errors.New("engine start timed out")

	// ErrStartFailed means the start attempt itself failed; health is DEAD and
	// the next EnsureReady initiates a fresh start.
	ErrStartFailed = errors.New("engine start failed")
)

// Config carries the engine lifecycle timing from the service config.
type Config struct {
	StartTimeout    time.Duration
	HealthTimeout   time.Duration
	ProbeTimeout    time.Duration
	IdleUnloadAfter time.Duration
}

// Manager owns engine startup, heartbeat bookkeeping, and idle teardown.
type Manager struct {
	eng     engine.Engine
	tracker *health.Tracker
	hub     *events.Hub
	logger  *slog.Logger
	cfg     Config
	now     func() time.Time
	tick    time.Duration

	mu        sync.Mutex
	starting  bool
	startDone chan struct{}
	startErr  error
	lastWork  time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(eng engine.Engine, tracker *health.Tracker, hub *events.Hub, logger *slog.Logger, cfg Config) *Manager {
	return &Manager{
		eng:     eng,
		tracker: tracker,
		hub:     hub,
		logger:  logger.With("component", "lifecycle"),
		cfg:     cfg,
		now:     time.Now,
		tick:    time.Second,
		stopCh:  make(chan struct{}),
	}
}

// Start launches the background bookkeeping loop: heartbeat consumption,
// READY decay, and idle teardown.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go m.loop(ctx)
}

// Stop halts the bookkeeping loop and tears down a running engine.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	m.teardown(ctx)
}

// EnsureReady blocks until the engine is usable or the attempt definitively
// fails. Already READY returns immediately; STALE is probed first; a start in
// progress is awaited, never duplicated. The waiter's ctx bounds only the
// wait — an in-flight start continues for the benefit of other requests.
func (m *Manager) EnsureReady(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return ErrStartTimeout
		}

		switch m.tracker.State() {
		case health.Ready:
			return nil

		case health.Stale:
			if m.probe(ctx) {
				return nil
			}
			// Probe failed: health is DEAD now, loop into a fresh start.

		case health.Starting, health.Unknown, health.Dead:
			if err := m.awaitStart(ctx); err != nil {
				return err
			}
			// Start succeeded; loop to observe READY (or a rapid decay).
		}
	}
}

// NoteDispatch records engine activity: rearms the idle timer and refreshes
// the heartbeat clock.
func (m *Manager) NoteDispatch() {
	m.mu.Lock()
	m.lastWork = m.now()
	m.mu.Unlock()
	m.tracker.Signal()
}

// probe runs a liveness round-trip against a STALE engine. On success the
// tracker recovers to READY; on failure it goes DEAD.
func (m *Manager) probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	if err := m.eng.Probe(probeCtx); err != nil {
		m.logger.Warn("stale engine failed liveness probe", "error", err)
		_ = m.tracker.Transition(health.Dead)
		return false
	}
	m.tracker.Signal()
	return true
}

// awaitStart joins the in-flight start or initiates one, then waits for it.
func (m *Manager) awaitStart(ctx context.Context) error {
	m.mu.Lock()
	if !m.starting {
		if err := m.tracker.Transition(health.Starting); err != nil {
			// Another goroutine won the race and the state moved on; let the
			// caller re-observe it.
			m.mu.Unlock()
			return nil
		}
		m.starting = true
		m.startDone = make(chan struct{})
		go m.runStart()
	}
	done := m.startDone
	m.mu.Unlock()

	select {
	case <-done:
		m.mu.Lock()
		err := m.startErr
		m.mu.Unlock()
		return err
	case <-ctx.Done():
		// This waiter gives up; the start itself keeps going.
		return ErrStartTimeout
	}
}

// runStart performs one engine start attempt under the start timeout.
func (m *Manager) runStart() {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.StartTimeout)
	defer cancel()

	m.logger.Info("starting engine")
	if m.hub != nil {
		m.hub.Publish(events.Event{Type: events.TypeEngineStart})
	}

	err := m.eng.Start(ctx)
	if err == nil {
		err = m.eng.WaitReady(ctx)
	}

	if err != nil {
		m.logger.Error("engine start failed", "error", err)
		_ = m.tracker.Transition(health.Dead)

		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		_ = m.eng.Stop(stopCtx)
		stopCancel()

		if errors.Is(err, context.DeadlineExceeded) {
			err = ErrStartTimeout
		} else {
			err = ErrStartFailed
		}
	} else {
		m.tracker.Signal()
		m.logger.Info("engine ready")
	}

	m.mu.Lock()
	m.startErr = err
	m.starting = false
	m.lastWork = m.now()
	done := m.startDone
	m.mu.Unlock()

	close(done)
}

func (m *Manager) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-m.eng.Beats():
			m.tracker.Signal()
		case <-ticker.C:
			m.tracker.Decay(m.cfg.HealthTimeout)
			m.maybeUnload(ctx)
		}
	}
}

// maybeUnload tears down an engine that has been idle past the threshold.
func (m *Manager) maybeUnload(ctx context.Context) {
	state := m.tracker.State()
	if state != health.Ready && state != health.Stale {
		return
	}

	m.mu.Lock()
	idle := m.now().Sub(m.lastWork)
	inStart := m.starting
	m.mu.Unlock()

	if inStart || idle < m.cfg.IdleUnloadAfter {
		return
	}

	m.logger.Info("engine idle, unloading", "idle", idle.String())
	m.teardown(ctx)
}

func (m *Manager) teardown(ctx context.Context) {
	state := m.tracker.State()
	if state != health.Ready && state != health.Stale {
		return
	}

	if err := m.eng.Stop(ctx); err != nil {
		m.logger.Warn("engine stop failed during teardown", "error", err)
	}
	_ = m.tracker.Transition(health.Unknown)
	if m.hub != nil {
		m.hub.Publish(events.Event{Type: events.TypeEngineStop})
	}
}
