package events

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestHubPublishSubscribe(t *testing.T) {
	t.Parallel()

	h := NewHub(8)
	ch, cancel := h.Subscribe()
	defer cancel()

	h.Publish(Event{Type: TypeHealthTransition, From: "unknown", To: "starting"})

	select {
	case ev := <-ch:
		if ev.Type != TypeHealthTransition {
			t.Errorf("unexpected event type %q", ev.Type)
		}
		if ev.ID == 0 {
			t.Error("event ID not assigned")
		}
		if ev.From != "unknown" || ev.To != "starting" {
			t.Errorf("transition fields lost: %#v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestHubSnapshotSince(t *testing.T) {
	t.Parallel()

	h := NewHub(4)
	for i := 0; i < 6; i++ {
		h.Publish(Event{Type: TypeRequestOutcome})
	}

	// Buffer holds the last 4 events (IDs 3..6).
	all := h.SnapshotSince(0)
	if len(all) != 4 {
		t.Fatalf("expected 4 buffered events, got %d", len(all))
	}
	if all[0].ID != 3 || all[3].ID != 6 {
		t.Errorf("unexpected snapshot bounds: first=%d last=%d", all[0].ID, all[3].ID)
	}

	tail := h.SnapshotSince(5)
	if len(tail) != 1 || tail[0].ID != 6 {
		t.Errorf("unexpected tail snapshot: %#v", tail)
	}
}

func TestHubSlowSubscriberDoesNotBlock(t *testing.T) {
	t.Parallel()

	h := NewHub(4)
	_, cancel := h.Subscribe()
	defer cancel()

	// Fill the subscriber buffer and keep publishing; Publish must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 300; i++ {
			h.Publish(Event{Type: TypeQueueRelease, Count: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}

func TestEventJSONOmitsUnsetFields(t *testing.T) {
	t.Parallel()

	h := NewHub(4)
	h.Publish(Event{Type: TypeEngineStart})

	b, err := json.Marshal(h.SnapshotSince(0)[0])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, field := range []string{"request_id", "caller", "from", "count"} {
		if strings.Contains(string(b), field) {
			t.Errorf("unset field %q serialized: %s", field, b)
		}
	}
}
