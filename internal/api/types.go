package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/frostr/iglood/internal/protocol"
)

// requestBody is the JSON body of both entry endpoints. Kind is a pointer so
// "no kind" and "kind 0" stay distinguishable.
type requestBody struct {
	ID          string `json:"id,omitempty"`
	Operation   string `json:"operation"`
	Caller      string `json:"caller"`
	Kind        *int   `json:"kind,omitempty"`
	Payload     string `json:"payload,omitempty"`
	CallbackURL string `json:"callback_url,omitempty"`
}

// outcomeBody is the JSON shape of a terminal outcome, returned inline by the
// synchronous entry and POSTed to the callback URL by the submit entry.
type outcomeBody struct {
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Result    string `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
}

func toOutcomeBody(out protocol.Outcome) outcomeBody {
	return outcomeBody{
		RequestID: out.RequestID,
		Code:      string(out.Code),
		Result:    out.Result,
		Error:     out.Error,
	}
}

// submitAccepted is the 202 body of the submit entry.
type submitAccepted struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

// healthzBody is the unauthenticated health snapshot.
type healthzBody struct {
	Status        string `json:"status"`
	EngineState   string `json:"engine_state"`
	QueueDepth    int    `json:"queue_depth"`
	PendingCalls  int    `json:"pending_calls"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// outcomeEntry is one row of the outcomes listing.
type outcomeEntry struct {
	RequestID   string    `json:"request_id"`
	Caller      string    `json:"caller"`
	Operation   string    `json:"operation"`
	Kind        int       `json:"kind"`
	Code        string    `json:"code"`
	Error       string    `json:"error,omitempty"`
	ReceivedAt  time.Time `json:"received_at"`
	CompletedAt time.Time `json:"completed_at"`
	LatencyMS   int64     `json:"latency_ms"`
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("response encode failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorBody{Error: msg})
}
