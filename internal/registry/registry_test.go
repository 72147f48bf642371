package registry

import (
	"testing"
	"time"
)

func def(name string, deps ...string) ServiceDefinition {
	return ServiceDefinition{
		Name:                  name,
		Type:                  TypeAI,
		Version:               "1.0.0",
		BaseURL:               "http://localhost:9000",
		HealthPath:            "/healthz",
		MaxConcurrentRequests: 4,
		Timeout:               5 * time.Second,
		Dependencies:          deps,
	}
}

func TestRegisterAndDiscoverRoundTrip(t *testing.T) {
	r := New()
	want := def("document-intelligence")
	want.Capabilities = []string{"document-analysis", "summarization"}
	if err := r.Register(want); err != nil {
		t.Fatalf("register: %v", err)
	}

	got := r.Discover()
	if len(got) != 1 {
		t.Fatalf("expected 1 service, got %d", len(got))
	}
	if got[0].Name != want.Name || got[0].MaxConcurrentRequests != want.MaxConcurrentRequests {
		t.Fatalf("discover mismatch: %#v", got[0])
	}

	// Re-registering the same name replaces, not duplicates.
	want.Version = "1.1.0"
	if err := r.Register(want); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	got = r.Discover()
	if len(got) != 1 {
		t.Fatalf("expected replacement, got %d entries", len(got))
	}
	if got[0].Version != "1.1.0" {
		t.Fatalf("expected replaced version, got %q", got[0].Version)
	}
}

func TestRegisterValidation(t *testing.T) {
	r := New()
	if err := r.Register(ServiceDefinition{Name: " "}); err == nil {
		t.Fatalf("expected error for empty name")
	}
	if err := r.Register(ServiceDefinition{Name: "x"}); err == nil {
		t.Fatalf("expected error for zero concurrency")
	}
}

func TestByCapability(t *testing.T) {
	r := New()
	a := def("svc-a")
	a.Capabilities = []string{"chat"}
	b := def("svc-b")
	b.Capabilities = []string{"chat", "search"}
	_ = r.Register(a)
	_ = r.Register(b)

	got := r.ByCapability("chat")
	if len(got) != 2 {
		t.Fatalf("expected 2 chat services, got %d", len(got))
	}
	if got := r.ByCapability("search"); len(got) != 1 || got[0].Name != "svc-b" {
		t.Fatalf("unexpected search result: %#v", got)
	}
}

func TestDependencyResolution(t *testing.T) {
	r := New()
	_ = r.Register(def("insight-fusion", "document-intelligence", "performance-analytics"))
	_ = r.Register(def("document-intelligence"))

	deps := r.DependenciesOf("insight-fusion")
	if len(deps) != 1 || deps[0].Name != "document-intelligence" {
		t.Fatalf("expected dangling dep skipped at read time: %#v", deps)
	}

	problems := r.ValidateDependencies()
	if len(problems) != 1 {
		t.Fatalf("expected 1 dangling dependency, got %#v", problems)
	}
}

func TestHealthFlags(t *testing.T) {
	r := New()
	_ = r.Register(def("svc-a"))
	if !r.Routable("svc-a") {
		t.Fatalf("new service must start healthy")
	}
	r.SetHealth("svc-a", HealthDegraded)
	if r.Routable("svc-a") {
		t.Fatalf("degraded service must not be routable")
	}
	if state, ok := r.Health("svc-a"); !ok || state != HealthDegraded {
		t.Fatalf("unexpected health: %v %v", state, ok)
	}
	if r.Routable("missing") {
		t.Fatalf("unknown service must not be routable")
	}
}
