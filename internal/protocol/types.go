package protocol

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Operation is a NIP-55 operation requested by an external caller.
type Operation string

const (
	OpGetPublicKey Operation = "get_public_key"
	OpSignEvent    Operation = "sign_event"
	OpNIP04Encrypt Operation = "nip04_encrypt"
	OpNIP04Decrypt Operation = "nip04_decrypt"
	OpNIP44Encrypt Operation = "nip44_encrypt"
	OpNIP44Decrypt Operation = "nip44_decrypt"

	// OpPing is the engine liveness probe. It never appears in caller
	// requests and is not permission-checked.
	OpPing Operation = "ping"
)

// ParseOperation validates a caller-supplied operation string.
func ParseOperation(s string) (Operation, error) {
	switch Operation(s) {
	case OpGetPublicKey, OpSignEvent, OpNIP04Encrypt, OpNIP04Decrypt, OpNIP44Encrypt, OpNIP44Decrypt:
		return Operation(s), nil
	}
	return "", fmt.Errorf("unknown operation %q", s)
}

// KindNone marks a request with no kind discriminator and doubles as the
// wildcard marker in stored permission rules.
const KindNone = -1

// kindClientAuth is the NIP-42 relay auth event kind; auth handshakes are
// interactive and block the caller's connection, so they jump the queue.
const kindClientAuth = 22242

// Priority bands control batching and preemption.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// PriorityFor derives the band from operation and kind. Identity lookups and
// auth-handshake signs are interactive; other recognized operations batch at
// normal priority.
func PriorityFor(op Operation, kind int) Priority {
	switch op {
	case OpGetPublicKey:
		return PriorityHigh
	case OpSignEvent:
		if kind == kindClientAuth {
			return PriorityHigh
		}
		return PriorityNormal
	case OpNIP04Encrypt, OpNIP04Decrypt, OpNIP44Encrypt, OpNIP44Decrypt:
		return PriorityNormal
	}
	return PriorityLow
}

// Request is the immutable routed unit, created once at entry time and
// referenced by ID everywhere else.
type Request struct {
	ID         string
	Operation  Operation
	Caller     string
	Kind       int
	Payload    string
	ReceivedAt time.Time
	Priority   Priority
	Deadline   time.Time
}

// NewRequest builds a Request, assigning an ID when the caller supplied none
// and deriving priority and deadline.
func NewRequest(id string, op Operation, caller string, kind int, payload string, timeout time.Duration) Request {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	return Request{
		ID:         id,
		Operation:  op,
		Caller:     caller,
		Kind:       kind,
		Payload:    payload,
		ReceivedAt: now,
		Priority:   PriorityFor(op, kind),
		Deadline:   now.Add(timeout),
	}
}

// OutcomeCode classifies the terminal result of a request.
type OutcomeCode string

const (
	OutcomeOK          OutcomeCode = "ok"
	OutcomeDenied      OutcomeCode = "denied"
	OutcomeDuplicate   OutcomeCode = "duplicate"
	OutcomeBusy        OutcomeCode = "busy"
	OutcomeStartFailed OutcomeCode = "start_failed"
	OutcomeTimeout     OutcomeCode = "timeout"
	OutcomeEngineError OutcomeCode = "engine_error"

	// OutcomeUnavailable tells a query-style caller to fall back to the
	// submit entry; the request itself was withdrawn, not failed.
	OutcomeUnavailable OutcomeCode = "unavailable"
)

// Outcome is the single terminal result delivered for a request.
type Outcome struct {
	RequestID string      `json:"request_id"`
	Code      OutcomeCode `json:"code"`
	Result    string      `json:"result,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// OK reports whether the outcome carries a successful engine result.
func (o Outcome) OK() bool {
	return o.Code == OutcomeOK
}
