package protocol

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestEncodeDecodeEngineRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	req := &EngineRequest{
		Protocol:   1,
		RequestID:  "req-1",
		Operation:  OpSignEvent,
		Payload:    `{"kind":1}`,
		DeadlineAt: time.Now().Add(time.Second),
	}
	if err := EncodeEngineRequest(&buf, req); err != nil {
		t.Fatalf("EncodeEngineRequest: %v", err)
	}
	if !strings.HasSuffix(buf.String(), "\n") {
		t.Error("encoded request should be newline-terminated")
	}

	resp, err := DecodeEngineResponse(strings.NewReader(
		`{"request_id":"req-1","status":"ok","result":"sig"}`))
	if err != nil {
		t.Fatalf("DecodeEngineResponse: %v", err)
	}
	if resp.RequestID != "req-1" || resp.Result != "sig" {
		t.Errorf("unexpected response: %#v", resp)
	}
}

func TestEncodeEngineRequestRejectsBadEnvelope(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := EncodeEngineRequest(&buf, &EngineRequest{Protocol: 2, RequestID: "x"}); err == nil {
		t.Error("expected error for unsupported protocol version")
	}
	if err := EncodeEngineRequest(&buf, &EngineRequest{Protocol: 1}); err == nil {
		t.Error("expected error for missing request_id")
	}
}

func TestDecodeEngineResponseValidation(t *testing.T) {
	t.Parallel()

	cases := []string{
		`{"status":"ok"}`,                               // no request_id
		`{"request_id":"r"}`,                            // no status
		`{"request_id":"r","status":"maybe"}`,           // bad status
		`{"request_id":"r","status":"error"}`,           // error without message
		`{"request_id":"r","status":"ok","extra":true}`, // unknown field
	}
	for _, c := range cases {
		if _, err := DecodeEngineResponse(strings.NewReader(c)); err == nil {
			t.Errorf("expected decode error for %s", c)
		}
	}
}
