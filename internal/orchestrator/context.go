package orchestrator

import (
	"strings"
	"time"
)

// Priority orders queued requests waiting for a concurrency slot.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	default:
		return "low"
	}
}

func ParsePriority(raw string) Priority {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "critical":
		return PriorityCritical
	case "high":
		return PriorityHigh
	case "normal":
		return PriorityNormal
	default:
		return PriorityLow
	}
}

// RequestContext is the per-call envelope threaded from the gateway through
// dispatch. It is created once per inbound request and read-only afterwards.
type RequestContext struct {
	RequestID string            `json:"request_id"`
	UserID    string            `json:"user_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Priority  Priority          `json:"priority"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Response is produced exactly once per dispatched request. Backend failures
// are reported here with Success=false, never as returned errors.
type Response struct {
	Success       bool   `json:"success"`
	Data          any    `json:"data,omitempty"`
	Error         string `json:"error,omitempty"`
	ServiceName   string `json:"serviceName"`
	ExecutionTime int64  `json:"executionTime"`
	RequestID     string `json:"requestId"`
}
