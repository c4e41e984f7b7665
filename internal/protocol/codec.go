package protocol

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// EngineRequest is the wire envelope written to the engine's stdin, one JSON
// document per invocation.
type EngineRequest struct {
	Protocol   int       `json:"protocol"`
	RequestID  string    `json:"request_id"`
	Operation  Operation `json:"operation"`
	Payload    string    `json:"payload,omitempty"`
	DeadlineAt time.Time `json:"deadline_at"`
}

// EngineResponse is the wire envelope read from the engine's stdout.
type EngineResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"` // ok | error
	Result    string `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
}

// EncodeEngineRequest serializes a request to JSON and writes it to w.
func EncodeEngineRequest(w io.Writer, req *EngineRequest) error {
	if req.Protocol != 1 {
		return fmt.Errorf("unsupported protocol version: %d", req.Protocol)
	}
	if req.RequestID == "" {
		return fmt.Errorf("request_id is required")
	}

	encoder := json.NewEncoder(w)
	if err := encoder.Encode(req); err != nil {
		return fmt.Errorf("failed to encode engine request: %w", err)
	}
	return nil
}

// DecodeEngineResponse reads and validates one response document from r.
func DecodeEngineResponse(r io.Reader) (*EngineResponse, error) {
	var resp EngineResponse

	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields() // Strict parsing

	if err := decoder.Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode engine response: %w", err)
	}
	if err := validateEngineResponse(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func validateEngineResponse(resp *EngineResponse) error {
	if resp.RequestID == "" {
		return fmt.Errorf("response missing required field: request_id")
	}
	if resp.Status == "" {
		return fmt.Errorf("response missing required field: status")
	}
	if resp.Status != "ok" && resp.Status != "error" {
		return fmt.Errorf("invalid status value: %q (must be 'ok' or 'error')", resp.Status)
	}
	if resp.Status == "error" && resp.Error == "" {
		return fmt.Errorf("response has status=error but no error message")
	}
	return nil
}

// ValidateEngineResponse checks a decoded response envelope. Exposed for the
// engine adapter's streaming decoder, which cannot use DecodeEngineResponse.
func ValidateEngineResponse(resp *EngineResponse) error {
	return validateEngineResponse(resp)
}
