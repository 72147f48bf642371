package hub

import "fmt"

// Threshold-based alert rules evaluated on every accepted sample. Rules fire
// against the incoming value, not the stored aggregate, so a single bad
// sample is enough to open an alert.
const (
	responseTimeElevatedMS = 1000
	responseTimeHighMS     = 3000

	errorRateElevatedPct = 5
	errorRateHighPct     = 15
	errorRateCriticalPct = 50

	queueLengthLarge = 25
)

func (h *Hub) evaluateRulesLocked(name string, value float64, tags map[string]string) []Alert {
	service := tags["service"]
	if service == "" {
		service = "control-plane"
	}

	var raised []Alert
	add := func(severity Severity, message string) {
		if a, ok := h.raiseLocked(service, severity, message); ok {
			raised = append(raised, a)
		}
	}

	switch name {
	case "response_time":
		if value > responseTimeHighMS {
			add(SeverityHigh, fmt.Sprintf("high response time: %.0fms", value))
		} else if value > responseTimeElevatedMS {
			add(SeverityMedium, fmt.Sprintf("elevated response time: %.0fms", value))
		}
	case "error_rate":
		if value > errorRateCriticalPct {
			add(SeverityCritical, fmt.Sprintf("critical error rate: %.1f%%", value))
		} else if value > errorRateHighPct {
			add(SeverityHigh, fmt.Sprintf("high error rate: %.1f%%", value))
		} else if value > errorRateElevatedPct {
			add(SeverityMedium, fmt.Sprintf("elevated error rate: %.1f%%", value))
		}
	case "queue_length":
		if value > queueLengthLarge {
			add(SeverityHigh, fmt.Sprintf("large request queue: %.0f waiting", value))
		}
	}
	return raised
}
