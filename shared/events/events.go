package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope is the wire format for control-plane events exported to Kafka.
type Envelope struct {
	EventID    uuid.UUID       `json:"event_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Service    string          `json:"service"`
	RequestID  string          `json:"request_id,omitempty"`
	EventType  string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload"`
}

const (
	TopicRequestCompletions = "controlplane.request.completions"
	TopicServiceHealth      = "controlplane.service.health"
	TopicAuditEntries       = "controlplane.audit.entries"
	TopicAlerts             = "controlplane.alerts"
)

const (
	EventRequestCompleted  = "request_completed"
	EventRequestFailed     = "request_failed"
	EventServiceUnhealthy  = "service_unhealthy"
	EventServiceRegistered = "service_registered"
	EventAuditEntry        = "audit_entry"
	EventAlertRaised       = "alert_raised"
)

func New(service string, requestID string, eventType string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:    uuid.New(),
		OccurredAt: time.Now().UTC(),
		Service:    service,
		RequestID:  requestID,
		EventType:  eventType,
		Payload:    raw,
	}, nil
}
