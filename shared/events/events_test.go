package events

import (
	"encoding/json"
	"testing"
)

func TestNewEnvelope(t *testing.T) {
	env, err := New("control-plane", "req-1", EventRequestCompleted, map[string]string{"service": "svc-a"})
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	if env.EventType != "request_completed" {
		t.Fatalf("unexpected event type %q", env.EventType)
	}
	if env.EventID.String() == "00000000-0000-0000-0000-000000000000" {
		t.Fatalf("event id must be assigned")
	}
	if env.OccurredAt.IsZero() {
		t.Fatalf("occurred_at must be set")
	}

	var payload map[string]string
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["service"] != "svc-a" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestNewEnvelopeRejectsUnmarshalablePayload(t *testing.T) {
	if _, err := New("control-plane", "", EventAlertRaised, make(chan int)); err == nil {
		t.Fatalf("expected marshal error")
	}
}
