package orchestrator

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"intelligence-control-plane/internal/registry"
	"intelligence-control-plane/shared/logx"
)

// SubCheck is one named check inside a probe result.
type SubCheck struct {
	Name   string `json:"name"`
	Status string `json:"status"` // pass | fail | warn
}

// ProbeResult is what a single health probe reports for one service.
type ProbeResult struct {
	State          registry.HealthState
	ResponseTimeMS int64
	Error          string
	Checks         []SubCheck
}

// Probe checks one service. Implementations must respect ctx.
type Probe interface {
	Check(ctx context.Context, def registry.ServiceDefinition) ProbeResult
}

// ProbeFunc adapts a function to Probe, used to inject deterministic results
// in tests.
type ProbeFunc func(ctx context.Context, def registry.ServiceDefinition) ProbeResult

func (f ProbeFunc) Check(ctx context.Context, def registry.ServiceDefinition) ProbeResult {
	return f(ctx, def)
}

// HTTPProbe pings the service's health endpoint. 2xx is healthy, any other
// response is degraded, a transport failure is unhealthy.
type HTTPProbe struct {
	Client *http.Client
}

func NewHTTPProbe() *HTTPProbe {
	return &HTTPProbe{Client: &http.Client{Timeout: 5 * time.Second}}
}

func (p *HTTPProbe) Check(ctx context.Context, def registry.ServiceDefinition) ProbeResult {
	path := def.HealthPath
	if path == "" {
		path = "/healthz"
	}
	url := strings.TrimRight(def.BaseURL, "/") + path

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ProbeResult{State: registry.HealthUnhealthy, Error: err.Error()}
	}
	resp, err := p.Client.Do(req)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		return ProbeResult{
			State:          registry.HealthUnhealthy,
			ResponseTimeMS: elapsed,
			Error:          err.Error(),
			Checks:         []SubCheck{{Name: "http_ping", Status: "fail"}},
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return ProbeResult{
			State:          registry.HealthHealthy,
			ResponseTimeMS: elapsed,
			Checks:         []SubCheck{{Name: "http_ping", Status: "pass"}},
		}
	}
	return ProbeResult{
		State:          registry.HealthDegraded,
		ResponseTimeMS: elapsed,
		Error:          resp.Status,
		Checks:         []SubCheck{{Name: "http_ping", Status: "warn"}},
	}
}

// Monitor probes every registered service on a fixed interval, independent of
// request flow. Probe results flip the registry health flag; non-healthy
// results raise a serviceUnhealthy event.
type Monitor struct {
	registry *registry.Registry
	probe    Probe
	interval time.Duration
	events   *Events
	logger   logx.Logger

	// Recorder receives every probe result; the caller wires it to the
	// observability hub.
	Recorder func(service string, res ProbeResult)
}

func NewMonitor(reg *registry.Registry, probe Probe, interval time.Duration, events *Events, logger logx.Logger) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{
		registry: reg,
		probe:    probe,
		interval: interval,
		events:   events,
		logger:   logger,
	}
}

// Run blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckAll(ctx)
		}
	}
}

// CheckAll probes every registered service once.
func (m *Monitor) CheckAll(ctx context.Context) {
	for _, def := range m.registry.Discover() {
		res := m.probe.Check(ctx, def)
		m.registry.SetHealth(def.Name, res.State)
		if m.Recorder != nil {
			m.Recorder(def.Name, res)
		}
		if res.State != registry.HealthHealthy {
			m.events.emitServiceUnhealthy(HealthEvent{
				Service:    def.Name,
				Definition: def,
				State:      res.State,
			})
			m.logger.Warn(ctx, "service_unhealthy", "health probe failed",
				slog.String("service", def.Name),
				slog.String("state", string(res.State)),
				slog.String("error", res.Error),
			)
		}
	}
}
