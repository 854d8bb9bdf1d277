package amqp

import (
	"encoding/json"
	"testing"
	"time"
)

func TestMutationEventMessage_RoundTrip(t *testing.T) {
	msg := &MutationEventMessage{
		EventID:   "evt-1",
		UserID:    "user-1",
		Entity:    "expense",
		EntityID:  "e1",
		Operation: "created",
		Payload:   json.RawMessage(`{"category":"housing","amount_units":800}`),
		Timestamp: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	body, err := msg.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}

	got, err := MutationEventMessageFromJSON(body)
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	if got.EventID != msg.EventID || got.Entity != msg.Entity || got.Operation != msg.Operation {
		t.Errorf("decoded = %+v, want %+v", got, msg)
	}
	// The payload travels verbatim; consumers decode it themselves
	if string(got.Payload) != string(msg.Payload) {
		t.Errorf("payload = %s, want %s", got.Payload, msg.Payload)
	}
}

func TestProcessMonthMessage_RoundTrip(t *testing.T) {
	body, err := NewProcessMonthMessage("user-1", "2024-06").ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}

	got, err := ProcessMonthMessageFromJSON(body)
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	if got.UserID != "user-1" || got.Month != "2024-06" {
		t.Errorf("decoded = %+v", got)
	}
	if got.Timestamp.IsZero() {
		t.Error("timestamp should be set")
	}
}

func TestMessageDecoding_RejectsMalformedBody(t *testing.T) {
	if _, err := MutationEventMessageFromJSON([]byte("not json")); err == nil {
		t.Error("expected error for malformed mutation event")
	}
	if _, err := ProcessMonthMessageFromJSON([]byte(`{"month":`)); err == nil {
		t.Error("expected error for truncated command")
	}
}
