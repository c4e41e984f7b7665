// Package engine wraps the opaque execution engine: the slow-to-start signer
// process that actually performs the requested operations. The router core
// never inspects payloads; it only starts the engine, waits for its readiness
// signal, invokes it, and watches its heartbeat.
package engine

import (
	"context"
	"time"

	"github.com/frostr/iglood/internal/protocol"
)

//go:generate mockgen -destination=mocks/mock_engine.go -package=mocks github.com/frostr/iglood/internal/engine Engine

// Invoker executes one operation against a running engine.
type Invoker interface {
	// Invoke returns the engine's result, a *ReportedError when the engine ran
	// but reported failure, or a transport error otherwise.
	Invoke(ctx context.Context, op protocol.Operation, payload string) (string, error)
}

// Engine is the full lifecycle surface consumed by the lifecycle manager.
type Engine interface {
	Invoker

	// Start launches the engine process. It returns once the process is
	// running; readiness arrives later via the engine's explicit signal.
	Start(ctx context.Context) error

	// WaitReady blocks until the engine announces readiness, the context
	// expires, or the engine exits.
	WaitReady(ctx context.Context) error

	// Beats delivers readiness/heartbeat signals for health bookkeeping.
	Beats() <-chan time.Time

	// Probe performs a liveness round-trip against a supposedly-live engine.
	Probe(ctx context.Context) error

	// Stop terminates the engine. Safe to call when not running.
	Stop(ctx context.Context) error
}

// ReportedError is a failure the engine itself reported for an invocation.
// Its message passes through to the caller verbatim.
type ReportedError struct {
	Message string
}

func (e *ReportedError) Error() string {
	return e.Message
}
