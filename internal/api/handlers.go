package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/frostr/iglood/internal/protocol"
)

// parseRequest decodes and validates an entry body into a routed request.
func (s *Server) parseRequest(r *http.Request) (protocol.Request, *requestBody, error) {
	var body requestBody
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		return protocol.Request{}, nil, fmt.Errorf("invalid request body: %w", err)
	}

	op, err := protocol.ParseOperation(body.Operation)
	if err != nil {
		return protocol.Request{}, nil, err
	}
	if body.Caller == "" {
		return protocol.Request{}, nil, fmt.Errorf("caller is required")
	}

	kind := protocol.KindNone
	if body.Kind != nil {
		kind = *body.Kind
	}

	req := protocol.NewRequest(body.ID, op, body.Caller, kind, body.Payload, s.config.RequestTimeout)
	return req, &body, nil
}

// handleRequest is the synchronous entry: the caller blocks for at most the
// sync budget. A request the router cannot finish in time is withdrawn and
// answered 503 so the caller falls back to the submit entry.
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	req, _, err := s.parseRequest(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.SyncBudget)
	defer cancel()

	out := s.handler.Handle(ctx, req)
	s.writeJSON(w, statusFor(out.Code), toOutcomeBody(out))
}

// handleSubmit is the asynchronous entry: the request is accepted immediately
// and its outcome is POSTed to the caller's callback URL when known.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	req, body, err := s.parseRequest(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if body.CallbackURL == "" {
		s.writeError(w, http.StatusBadRequest, "callback_url is required")
		return
	}
	cb, err := url.Parse(body.CallbackURL)
	if err != nil || (cb.Scheme != "http" && cb.Scheme != "https") || cb.Host == "" {
		s.writeError(w, http.StatusBadRequest, "callback_url must be an absolute http(s) URL")
		return
	}

	go func() {
		out := s.handler.Handle(context.Background(), req)
		s.deliverCallback(body.CallbackURL, out)
	}()

	s.writeJSON(w, http.StatusAccepted, submitAccepted{RequestID: req.ID, Status: "accepted"})
}

// deliverCallback POSTs a terminal outcome to the caller's callback URL.
// Delivery is best effort; the outcome is already in the audit log.
func (s *Server) deliverCallback(callbackURL string, out protocol.Outcome) {
	payload, err := json.Marshal(toOutcomeBody(out))
	if err != nil {
		s.logger.Error("callback encode failed", "request_id", out.RequestID, "error", err)
		return
	}

	resp, err := s.callback.Post(callbackURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		s.logger.Warn("callback delivery failed", "request_id", out.RequestID, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		s.logger.Warn("callback rejected", "request_id", out.RequestID, "status", resp.StatusCode)
	}
}

// handleOutcomes lists recent terminal outcomes, newest first.
func (s *Server) handleOutcomes(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	entries, err := s.outcomes.Recent(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "outcome query failed")
		return
	}

	out := make([]outcomeEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, outcomeEntry{
			RequestID:   e.RequestID,
			Caller:      e.Caller,
			Operation:   string(e.Operation),
			Kind:        e.Kind,
			Code:        string(e.Code),
			Error:       e.Error,
			ReceivedAt:  e.ReceivedAt,
			CompletedAt: e.CompletedAt,
			LatencyMS:   e.LatencyMS,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

// handleHealthz reports router health without authentication.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthzBody{
		Status:        "ok",
		EngineState:   s.tracker.State().String(),
		QueueDepth:    s.queue.Len(),
		PendingCalls:  s.pending.Pending(),
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

// statusFor maps outcome codes onto HTTP statuses for the synchronous entry.
func statusFor(code protocol.OutcomeCode) int {
	switch code {
	case protocol.OutcomeOK:
		return http.StatusOK
	case protocol.OutcomeDenied:
		return http.StatusForbidden
	case protocol.OutcomeDuplicate:
		return http.StatusConflict
	case protocol.OutcomeBusy:
		return http.StatusTooManyRequests
	case protocol.OutcomeTimeout:
		return http.StatusGatewayTimeout
	case protocol.OutcomeStartFailed, protocol.OutcomeEngineError:
		return http.StatusBadGateway
	case protocol.OutcomeUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
