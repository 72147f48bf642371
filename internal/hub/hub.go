package hub

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"intelligence-control-plane/shared/logx"
)

const (
	maxSamplesPerMetric = 1000
	maxLogEntries       = 10000
	maxAlerts           = 1000
)

type Sample struct {
	Timestamp time.Time         `json:"timestamp"`
	Value     float64           `json:"value"`
	Tags      map[string]string `json:"tags,omitempty"`
}

type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Service   string         `json:"service"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

type CheckResult struct {
	Name   string `json:"name"`
	Status string `json:"status"` // pass | fail | warn
}

type HealthCheck struct {
	Status         string        `json:"status"` // healthy | degraded | unhealthy
	Timestamp      time.Time     `json:"timestamp"`
	ResponseTimeMS int64         `json:"response_time_ms,omitempty"`
	Error          string        `json:"error,omitempty"`
	Checks         []CheckResult `json:"checks,omitempty"`
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type Alert struct {
	ID        string    `json:"id"`
	Service   string    `json:"service"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Resolved  bool      `json:"resolved"`
}

// MetricSink mirrors accepted samples to an external store (InfluxDB). The
// in-memory series stays authoritative.
type MetricSink interface {
	WriteSample(ctx context.Context, measurement string, tags map[string]string, value float64, ts time.Time) error
}

// Hub stores bounded metric series, a log ring buffer, per-service health
// records, and the alert list. All collections evict oldest first so memory
// stays constant under sustained load.
type Hub struct {
	logger logx.Logger
	sink   MetricSink

	mu      sync.Mutex
	metrics map[string][]Sample
	logs    []LogEntry
	health  map[string]HealthCheck
	alerts  []Alert

	// AlertHook receives every newly raised alert outside the hub lock.
	AlertHook func(Alert)
}

func New(logger logx.Logger) *Hub {
	return &Hub{
		logger:  logger,
		metrics: make(map[string][]Sample),
		health:  make(map[string]HealthCheck),
	}
}

// SetSink attaches an optional external metric mirror.
func (h *Hub) SetSink(sink MetricSink) { h.sink = sink }

func (h *Hub) RecordMetric(name string, value float64, tags map[string]string) {
	now := time.Now().UTC()
	sample := Sample{Timestamp: now, Value: value, Tags: tags}

	h.mu.Lock()
	series := append(h.metrics[name], sample)
	if len(series) > maxSamplesPerMetric {
		series = series[len(series)-maxSamplesPerMetric:]
	}
	h.metrics[name] = series
	raised := h.evaluateRulesLocked(name, value, tags)
	h.mu.Unlock()

	for _, a := range raised {
		h.notify(a)
	}

	// The mirror is best-effort; callers record metrics on the request path
	// and must not wait on external I/O.
	if h.sink != nil {
		go h.mirrorSample(name, tags, value, now)
	}
}

func (h *Hub) mirrorSample(name string, tags map[string]string, value float64, ts time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.sink.WriteSample(ctx, name, tags, value, ts); err != nil {
		h.logger.Warn(ctx, "metric_sink_failed", "metric mirror write failed",
			slog.String("metric", name),
			slog.String("error", err.Error()),
		)
	}
}

// GetAggregatedMetrics computes one aggregate over samples newer than since.
func (h *Hub) GetAggregatedMetrics(name string, aggregation string, since time.Duration) (float64, error) {
	cutoff := time.Now().UTC().Add(-since)

	h.mu.Lock()
	var values []float64
	for _, s := range h.metrics[name] {
		if since <= 0 || s.Timestamp.After(cutoff) {
			values = append(values, s.Value)
		}
	}
	h.mu.Unlock()

	if aggregation == "count" {
		return float64(len(values)), nil
	}
	if len(values) == 0 {
		return 0, nil
	}

	switch aggregation {
	case "avg":
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum / float64(len(values)), nil
	case "sum":
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum, nil
	case "min":
		min := values[0]
		for _, v := range values[1:] {
			if v < min {
				min = v
			}
		}
		return min, nil
	case "max":
		max := values[0]
		for _, v := range values[1:] {
			if v > max {
				max = v
			}
		}
		return max, nil
	default:
		return 0, fmt.Errorf("unknown aggregation %q", aggregation)
	}
}

// Log appends to the ring buffer and mirrors to the structured logger.
func (h *Hub) Log(level string, service string, message string, metadata map[string]any, requestID string) {
	entry := LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     strings.ToLower(strings.TrimSpace(level)),
		Service:   service,
		Message:   message,
		Metadata:  metadata,
		RequestID: requestID,
	}

	h.mu.Lock()
	h.logs = append(h.logs, entry)
	if len(h.logs) > maxLogEntries {
		h.logs = h.logs[len(h.logs)-maxLogEntries:]
	}
	h.mu.Unlock()

	attrs := []slog.Attr{slog.String("component", service)}
	if requestID != "" {
		attrs = append(attrs, slog.String("request_id", requestID))
	}
	ctx := context.Background()
	switch entry.Level {
	case "debug":
		h.logger.Debug(ctx, "hub_log", message, attrs...)
	case "warn", "warning":
		h.logger.Warn(ctx, "hub_log", message, attrs...)
	case "error":
		h.logger.Error(ctx, "hub_log", message, attrs...)
	default:
		h.logger.Info(ctx, "hub_log", message, attrs...)
	}
}

// GetLogs returns up to limit most-recent entries matching the filters; empty
// filter values match everything.
func (h *Hub) GetLogs(level string, service string, limit int) []LogEntry {
	if limit <= 0 {
		limit = 100
	}
	level = strings.ToLower(strings.TrimSpace(level))

	h.mu.Lock()
	defer h.mu.Unlock()
	var out []LogEntry
	for i := len(h.logs) - 1; i >= 0 && len(out) < limit; i-- {
		e := h.logs[i]
		if level != "" && e.Level != level {
			continue
		}
		if service != "" && e.Service != service {
			continue
		}
		out = append(out, e)
	}
	return out
}

// RecordHealthCheck overwrites the service's latest record and raises an
// alert when the result is not healthy.
func (h *Hub) RecordHealthCheck(service string, check HealthCheck) {
	if check.Timestamp.IsZero() {
		check.Timestamp = time.Now().UTC()
	}

	h.mu.Lock()
	h.health[service] = check
	var raised []Alert
	if check.Status != "healthy" {
		severity := SeverityHigh
		if check.Status == "degraded" {
			severity = SeverityMedium
		}
		msg := fmt.Sprintf("health check reported %s", check.Status)
		if a, ok := h.raiseLocked(service, severity, msg); ok {
			raised = append(raised, a)
		}
	}
	h.mu.Unlock()

	for _, a := range raised {
		h.notify(a)
	}
}

func (h *Hub) HealthChecks() map[string]HealthCheck {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]HealthCheck, len(h.health))
	for k, v := range h.health {
		out[k] = v
	}
	return out
}

func (h *Hub) GetAlerts(resolved bool) []Alert {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Alert
	for _, a := range h.alerts {
		if a.Resolved == resolved {
			out = append(out, a)
		}
	}
	return out
}

// ResolveAlert flips an open alert to resolved. Resolution is one-way.
func (h *Hub) ResolveAlert(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.alerts {
		if h.alerts[i].ID == id && !h.alerts[i].Resolved {
			h.alerts[i].Resolved = true
			return true
		}
	}
	return false
}

// raiseLocked appends a new alert unless an identical unresolved one is
// already open for the service.
func (h *Hub) raiseLocked(service string, severity Severity, message string) (Alert, bool) {
	for _, a := range h.alerts {
		if !a.Resolved && a.Service == service && a.Message == message {
			return Alert{}, false
		}
	}
	a := Alert{
		ID:        uuid.NewString(),
		Service:   service,
		Severity:  severity,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
	h.alerts = append(h.alerts, a)
	if len(h.alerts) > maxAlerts {
		h.alerts = h.alerts[len(h.alerts)-maxAlerts:]
	}
	return a, true
}

func (h *Hub) notify(a Alert) {
	h.logger.Warn(context.Background(), "alert_raised", a.Message,
		slog.String("alert_id", a.ID),
		slog.String("service", a.Service),
		slog.String("severity", string(a.Severity)),
	)
	if h.AlertHook != nil {
		h.AlertHook(a)
	}
}

// Overview is a derived snapshot; the hub owns no state beyond what it
// re-aggregates here.
type Overview struct {
	ServiceCount    int     `json:"serviceCount"`
	HealthyCount    int     `json:"healthyCount"`
	ActiveAlerts    int     `json:"activeAlerts"`
	TotalRequests   float64 `json:"totalRequests"`
	AvgLatencyMS    float64 `json:"avgLatencyMs"`
	AvgErrorRate    float64 `json:"avgErrorRate"`
	MetricNames     int     `json:"metricNames"`
	LogEntriesCount int     `json:"logEntries"`
}

func (h *Hub) SystemOverview() Overview {
	h.mu.Lock()
	healthTotal := len(h.health)
	healthy := 0
	for _, c := range h.health {
		if c.Status == "healthy" {
			healthy++
		}
	}
	active := 0
	for _, a := range h.alerts {
		if !a.Resolved {
			active++
		}
	}
	metricNames := len(h.metrics)
	logCount := len(h.logs)
	h.mu.Unlock()

	total, _ := h.GetAggregatedMetrics("request_count", "sum", 0)
	avgLatency, _ := h.GetAggregatedMetrics("response_time", "avg", 0)
	avgErr, _ := h.GetAggregatedMetrics("error_rate", "avg", 0)

	return Overview{
		ServiceCount:    healthTotal,
		HealthyCount:    healthy,
		ActiveAlerts:    active,
		TotalRequests:   total,
		AvgLatencyMS:    avgLatency,
		AvgErrorRate:    avgErr,
		MetricNames:     metricNames,
		LogEntriesCount: logCount,
	}
}

func (h *Hub) metricNames() []string {
	names := make([]string, 0, len(h.metrics))
	for name := range h.metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
