package protocol

import (
	"testing"
	"time"
)

func TestParseOperation(t *testing.T) {
	t.Parallel()

	valid := []string{
		"get_public_key", "sign_event",
		"nip04_encrypt", "nip04_decrypt",
		"nip44_encrypt", "nip44_decrypt",
	}
	for _, s := range valid {
		op, err := ParseOperation(s)
		if err != nil {
			t.Errorf("ParseOperation(%q): %v", s, err)
		}
		if string(op) != s {
			t.Errorf("ParseOperation(%q) = %q", s, op)
		}
	}

	for _, s := range []string{"", "ping", "delete_key", "SIGN_EVENT"} {
		if _, err := ParseOperation(s); err == nil {
			t.Errorf("ParseOperation(%q) should fail", s)
		}
	}
}

func TestPriorityFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		op   Operation
		kind int
		want Priority
	}{
		{OpGetPublicKey, KindNone, PriorityHigh},
		{OpSignEvent, 22242, PriorityHigh},
		{OpSignEvent, 1, PriorityNormal},
		{OpSignEvent, KindNone, PriorityNormal},
		{OpNIP04Encrypt, KindNone, PriorityNormal},
		{OpNIP44Decrypt, KindNone, PriorityNormal},
		{Operation("bogus"), KindNone, PriorityLow},
	}
	for _, tt := range tests {
		if got := PriorityFor(tt.op, tt.kind); got != tt.want {
			t.Errorf("PriorityFor(%s, %d) = %s, want %s", tt.op, tt.kind, got, tt.want)
		}
	}
}

func TestNewRequestAssignsIDAndDeadline(t *testing.T) {
	t.Parallel()

	before := time.Now().UTC()
	req := NewRequest("", OpSignEvent, "com.example.app", 1, `{"kind":1}`, 30*time.Second)

	if req.ID == "" {
		t.Error("expected assigned ID")
	}
	if req.Priority != PriorityNormal {
		t.Errorf("unexpected priority %s", req.Priority)
	}
	if req.Deadline.Before(before.Add(29 * time.Second)) {
		t.Errorf("deadline too early: %v", req.Deadline)
	}

	req2 := NewRequest("caller-id-1", OpGetPublicKey, "com.example.app", KindNone, "", time.Second)
	if req2.ID != "caller-id-1" {
		t.Errorf("caller-assigned ID not preserved: %q", req2.ID)
	}
	if req2.Priority != PriorityHigh {
		t.Errorf("identity lookup should be high priority, got %s", req2.Priority)
	}
}
