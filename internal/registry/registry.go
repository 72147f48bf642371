package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type ServiceType string

const (
	TypeAI        ServiceType = "ai"
	TypeAnalytics ServiceType = "analytics"
	TypeHybrid    ServiceType = "hybrid"
)

type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
)

// ServiceDefinition is the static description of one backing service.
// Definitions are immutable once registered; re-registering a name replaces
// the whole entry and resets its runtime state.
type ServiceDefinition struct {
	Name                  string        `json:"name"`
	Type                  ServiceType   `json:"type"`
	Version               string        `json:"version"`
	BaseURL               string        `json:"base_url"`
	HealthPath            string        `json:"health_path"`
	PriorityWeight        int           `json:"priority_weight"`
	Capabilities          []string      `json:"capabilities"`
	Dependencies          []string      `json:"dependencies"`
	MaxConcurrentRequests int           `json:"max_concurrent_requests"`
	Timeout               time.Duration `json:"timeout"`
	RetryAttempts         int           `json:"retry_attempts"`
}

type entry struct {
	def    ServiceDefinition
	health HealthState
}

// Registry is the catalogue of registered services plus their health flags.
// The orchestrator is the only writer of health state.
type Registry struct {
	mu       sync.RWMutex
	services map[string]*entry
}

func New() *Registry {
	return &Registry{services: make(map[string]*entry)}
}

// Register adds or replaces a definition by name. A replaced entry starts
// healthy again; active counters and queues live in the orchestrator and are
// keyed by name there.
func (r *Registry) Register(def ServiceDefinition) error {
	if strings.TrimSpace(def.Name) == "" {
		return fmt.Errorf("service name is required")
	}
	if def.MaxConcurrentRequests <= 0 {
		return fmt.Errorf("service %q: max_concurrent_requests must be > 0", def.Name)
	}
	if def.Timeout <= 0 {
		def.Timeout = 30 * time.Second
	}

	r.mu.Lock()
	r.services[def.Name] = &entry{def: def, health: HealthHealthy}
	r.mu.Unlock()
	return nil
}

func (r *Registry) Get(name string) (ServiceDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.services[name]
	if !ok {
		return ServiceDefinition{}, false
	}
	return e.def, true
}

// Discover returns every registered definition, sorted by name for stable
// admin output.
func (r *Registry) Discover() []ServiceDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ServiceDefinition, 0, len(r.services))
	for _, e := range r.services {
		out = append(out, e.def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) ByCapability(tag string) []ServiceDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ServiceDefinition
	for _, e := range r.services {
		for _, c := range e.def.Capabilities {
			if c == tag {
				out = append(out, e.def)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DependenciesOf resolves a service's dependency names at read time. Dangling
// names are silently skipped; ValidateDependencies reports them.
func (r *Registry) DependenciesOf(name string) []ServiceDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.services[name]
	if !ok {
		return nil
	}
	var out []ServiceDefinition
	for _, dep := range e.def.Dependencies {
		if d, ok := r.services[dep]; ok {
			out = append(out, d.def)
		}
	}
	return out
}

// ValidateDependencies reports every dangling dependency reference as a
// human-readable string. It never fails.
func (r *Registry) ValidateDependencies() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var problems []string
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, dep := range r.services[name].def.Dependencies {
			if _, ok := r.services[dep]; !ok {
				problems = append(problems, fmt.Sprintf("service %q depends on unknown service %q", name, dep))
			}
		}
	}
	return problems
}

func (r *Registry) Health(name string) (HealthState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.services[name]
	if !ok {
		return "", false
	}
	return e.health, true
}

func (r *Registry) SetHealth(name string, state HealthState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.services[name]; ok {
		e.health = state
	}
}

// Routable reports whether a service may accept new routed requests. Degraded
// and unhealthy services are both closed to new admissions; in-flight
// requests are unaffected.
func (r *Registry) Routable(name string) bool {
	state, ok := r.Health(name)
	return ok && state == HealthHealthy
}
