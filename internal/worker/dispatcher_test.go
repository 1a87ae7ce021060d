package worker

import (
	"context"
	"encoding/json"
	"testing"
)

func TestDispatcherEnqueue(t *testing.T) {
	queue := newFakeQueue()
	d := NewDispatcher(queue, "conversion_queue")

	if err := d.Enqueue(context.Background(), "j1"); err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}

	sent := queue.sent["conversion_queue"]
	if len(sent) != 1 {
		t.Fatalf("expected one message, got %d", len(sent))
	}
	var payload taskPayload
	if err := json.Unmarshal(sent[0], &payload); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if payload.JobID != "j1" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}
