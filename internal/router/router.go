// Package router is the request pipeline: deduplication, permission check,
// engine readiness, dispatch, and outcome delivery. Every request that enters
// leaves with exactly one terminal outcome, whatever path it took.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/frostr/iglood/internal/audit"
	"github.com/frostr/iglood/internal/dedup"
	"github.com/frostr/iglood/internal/engine"
	"github.com/frostr/iglood/internal/events"
	"github.com/frostr/iglood/internal/health"
	"github.com/frostr/iglood/internal/lifecycle"
	"github.com/frostr/iglood/internal/permission"
	"github.com/frostr/iglood/internal/protocol"
	"github.com/frostr/iglood/internal/queue"
	"github.com/frostr/iglood/internal/registry"
)

// Authorizer resolves permission checks that no stored rule answers. The real
// implementation prompts the user and persists the decision before returning.
type Authorizer interface {
	Decide(ctx context.Context, req protocol.Request) (bool, error)
}

// Config carries the router's timing from the service config.
type Config struct {
	InvokeTimeout time.Duration
}

// Router owns the request pipeline end to end.
type Router struct {
	perms     *permission.Engine
	dedupe    *dedup.Deduplicator
	tracker   *health.Tracker
	lc        *lifecycle.Manager
	inv       engine.Invoker
	queue     *queue.Queue
	pending   *registry.Registry
	auditLog  *audit.Log
	hub       *events.Hub
	authorize Authorizer
	logger    *slog.Logger
	cfg       Config
}

func New(
	perms *permission.Engine,
	dedupe *dedup.Deduplicator,
	tracker *health.Tracker,
	lc *lifecycle.Manager,
	inv engine.Invoker,
	q *queue.Queue,
	pending *registry.Registry,
	auditLog *audit.Log,
	hub *events.Hub,
	authorize Authorizer,
	logger *slog.Logger,
	cfg Config,
) *Router {
	if cfg.InvokeTimeout <= 0 {
		cfg.InvokeTimeout = 20 * time.Second
	}
	return &Router{
		perms:     perms,
		dedupe:    dedupe,
		tracker:   tracker,
		lc:        lc,
		inv:       inv,
		queue:     q,
		pending:   pending,
		auditLog:  auditLog,
		hub:       hub,
		authorize: authorize,
		logger:    logger.With("component", "router"),
		cfg:       cfg,
	}
}

// Handle routes one request to its terminal outcome. It blocks until the
// outcome is known, the request's deadline passes, or ctx is done; an
// early-done ctx withdraws the request with an unavailable outcome so the
// caller can retry through the submit entry.
func (r *Router) Handle(ctx context.Context, req protocol.Request) protocol.Outcome {
	logger := r.logger.With("request_id", req.ID, "caller", req.Caller, "operation", string(req.Operation))
	logger.Info("request received", "priority", req.Priority.String(), "kind", req.Kind)
	if r.hub != nil {
		r.hub.Publish(events.Event{
			Type:      events.TypeRequestReceived,
			RequestID: req.ID,
			Caller:    req.Caller,
			Operation: string(req.Operation),
			Priority:  req.Priority.String(),
		})
	}

	fp := protocol.Fingerprint(req)
	if r.dedupe.Admit(fp) == dedup.ResultDuplicate {
		return r.finish(req, protocol.Outcome{
			RequestID: req.ID,
			Code:      protocol.OutcomeDuplicate,
			Error:     "duplicate request suppressed",
		})
	}

	if r.decide(ctx, req) != permission.Allowed {
		return r.finish(req, protocol.Outcome{
			RequestID: req.ID,
			Code:      protocol.OutcomeDenied,
			Error:     "permission denied",
		})
	}

	// Only allowed requests enter the seen state; a denied flood never
	// shadows a later legitimate request.
	r.dedupe.Mark(fp)

	handle, err := r.pending.Register(req.ID)
	if err != nil {
		return r.finish(req, protocol.Outcome{
			RequestID: req.ID,
			Code:      protocol.OutcomeDuplicate,
			Error:     err.Error(),
		})
	}

	if r.tracker.State() == health.Ready {
		go r.dispatch(req)
	} else if !r.queue.Enqueue(req) {
		r.pending.Cancel(req.ID)
		return r.finish(req, protocol.Outcome{
			RequestID: req.ID,
			Code:      protocol.OutcomeBusy,
			Error:     "queue at capacity",
		})
	}

	deadline := time.NewTimer(time.Until(req.Deadline))
	defer deadline.Stop()

	select {
	case out := <-handle:
		return r.finish(req, out)

	case <-deadline.C:
		r.queue.Remove(req.ID)
		r.pending.Cancel(req.ID)
		return r.finish(req, protocol.Outcome{
			RequestID: req.ID,
			Code:      protocol.OutcomeTimeout,
			Error:     "request deadline exceeded",
		})

	case <-ctx.Done():
		// The caller's budget ran out before the request's own deadline; the
		// request is withdrawn, not failed.
		r.queue.Remove(req.ID)
		r.pending.Cancel(req.ID)
		return r.finish(req, protocol.Outcome{
			RequestID: req.ID,
			Code:      protocol.OutcomeUnavailable,
			Error:     "result not available in time",
		})
	}
}

// decide runs the stored-rule check and, for undetermined tuples, consults the
// authorization collaborator. The collaborator persists its decision, so a
// reload plus re-check is the authoritative answer afterward.
func (r *Router) decide(ctx context.Context, req protocol.Request) permission.Decision {
	decision := r.perms.Check(req.Caller, req.Operation, req.Kind)
	if decision != permission.Undetermined {
		return decision
	}
	if r.authorize == nil {
		return permission.Denied
	}

	allowed, err := r.authorize.Decide(ctx, req)
	if err != nil {
		r.logger.Warn("authorization collaborator failed", "request_id", req.ID, "error", err)
		return permission.Denied
	}
	if !allowed {
		return permission.Denied
	}

	if err := r.perms.Reload(ctx); err != nil {
		r.logger.Warn("permission reload failed after approval", "request_id", req.ID, "error", err)
		// The in-memory snapshot is stale but the approval itself stands.
		return permission.Allowed
	}
	return r.perms.Check(req.Caller, req.Operation, req.Kind)
}

// dispatch invokes the engine for one request and delivers the outcome. It
// runs in its own goroutine; the waiting Handle call picks the outcome up
// through the registry.
func (r *Router) dispatch(req protocol.Request) {
	r.lc.NoteDispatch()

	deadline := req.Deadline
	if invokeBy := time.Now().Add(r.cfg.InvokeTimeout); invokeBy.Before(deadline) {
		deadline = invokeBy
	}
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	result, err := r.inv.Invoke(ctx, req.Operation, req.Payload)
	out := protocol.Outcome{RequestID: req.ID}

	switch {
	case err == nil:
		out.Code = protocol.OutcomeOK
		out.Result = result

	case errors.Is(err, context.DeadlineExceeded):
		out.Code = protocol.OutcomeTimeout
		out.Error = "engine did not answer in time"

	default:
		var reported *engine.ReportedError
		out.Code = protocol.OutcomeEngineError
		if errors.As(err, &reported) {
			// The engine's own message passes through verbatim.
			out.Error = reported.Message
		} else {
			out.Error = fmt.Sprintf("engine transport: %v", err)
		}
	}

	r.pending.Deliver(req.ID, out)
}

// Run is the release loop: it waits for queued work to come due, ensures the
// engine is up, and dispatches the released batch. Blocks until ctx is done.
func (r *Router) Run(ctx context.Context) {
	for {
		var timer *time.Timer
		if at, ok := r.queue.NextRelease(); ok {
			timer = time.NewTimer(time.Until(at))
		} else {
			timer = time.NewTimer(time.Hour)
		}

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-r.queue.Wake():
		case <-timer.C:
		}
		timer.Stop()

		r.pump(ctx)
	}
}

// pump performs one release cycle if any band is due.
func (r *Router) pump(ctx context.Context) {
	at, ok := r.queue.NextRelease()
	if !ok || at.After(time.Now()) {
		return
	}

	if err := r.lc.EnsureReady(ctx); err != nil {
		// The interactive band learns about the failure now; batched bands
		// stay queued for the next attempt and may still time out.
		failed := r.queue.DrainBand(protocol.PriorityHigh)
		r.logger.Error("engine start failed, failing interactive batch",
			"error", err, "count", len(failed))
		for _, req := range failed {
			r.pending.Deliver(req.ID, protocol.Outcome{
				RequestID: req.ID,
				Code:      protocol.OutcomeStartFailed,
				Error:     err.Error(),
			})
		}
		// The surviving bands wait out a fresh window before the next start
		// attempt; without this the past-due release times would spin the
		// loop against an engine that fails fast.
		r.queue.Rearm()
		return
	}

	batch := r.queue.DrainAll()
	if len(batch) == 0 {
		return
	}

	r.logger.Info("releasing queued batch", "count", len(batch))
	if r.hub != nil {
		r.hub.Publish(events.Event{Type: events.TypeQueueRelease, Count: len(batch)})
	}
	for _, req := range batch {
		go r.dispatch(req)
	}
}

// finish records and publishes a terminal outcome, then returns it. The audit
// write uses its own context; the request's may already be done.
func (r *Router) finish(req protocol.Request, out protocol.Outcome) protocol.Outcome {
	completedAt := time.Now().UTC()

	if r.auditLog != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.auditLog.Append(ctx, req, out, completedAt); err != nil {
			r.logger.Warn("outcome audit write failed", "request_id", req.ID, "error", err)
		}
		cancel()
	}

	if r.hub != nil {
		r.hub.Publish(events.Event{
			Type:      events.TypeRequestOutcome,
			RequestID: req.ID,
			Code:      string(out.Code),
			Error:     out.Error,
		})
	}

	logger := r.logger.With("request_id", req.ID, "code", string(out.Code))
	if out.OK() {
		logger.Info("request completed")
	} else {
		logger.Info("request finished", "error", out.Error)
	}
	return out
}
