// Package catalog loads the service and route tables from a JSON document so
// deployments can change topology without a rebuild.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"intelligence-control-plane/internal/gateway"
	"intelligence-control-plane/internal/registry"
)

type Service struct {
	Name                  string   `json:"name"`
	Type                  string   `json:"type"`
	Version               string   `json:"version"`
	BaseURL               string   `json:"base_url"`
	HealthPath            string   `json:"health_path"`
	PriorityWeight        int      `json:"priority_weight"`
	Capabilities          []string `json:"capabilities"`
	Dependencies          []string `json:"dependencies"`
	MaxConcurrentRequests int      `json:"max_concurrent_requests"`
	TimeoutMS             int      `json:"timeout_ms"`
	RetryAttempts         int      `json:"retry_attempts"`
}

type RateLimit struct {
	WindowSeconds int `json:"window_seconds"`
	MaxRequests   int `json:"max_requests"`
}

type Policy struct {
	RequireAuth         bool       `json:"require_auth"`
	AllowedRoles        []string   `json:"allowed_roles"`
	RequiredPermissions []string   `json:"required_permissions"`
	RateLimit           *RateLimit `json:"rate_limit"`
	AuditLog            bool       `json:"audit_log"`
	EncryptResponse     bool       `json:"encrypt_response"`
}

type Route struct {
	Method  string `json:"method"`
	Pattern string `json:"pattern"`
	Service string `json:"service"`
	Policy  Policy `json:"policy"`
}

type Document struct {
	Services []Service `json:"services"`
	Routes   []Route   `json:"routes"`
}

func Load(path string) (Document, error) {
	if strings.TrimSpace(path) == "" {
		return Document{}, errors.New("catalog path is required")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("read catalog: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return Document{}, fmt.Errorf("parse catalog: %w", err)
	}
	if len(doc.Services) == 0 {
		return Document{}, errors.New("catalog must define services")
	}

	names := make(map[string]bool, len(doc.Services))
	for _, svc := range doc.Services {
		if strings.TrimSpace(svc.Name) == "" {
			return Document{}, errors.New("service name is required")
		}
		if names[svc.Name] {
			return Document{}, fmt.Errorf("duplicate service %q", svc.Name)
		}
		names[svc.Name] = true
	}
	for _, route := range doc.Routes {
		if !names[route.Service] {
			return Document{}, fmt.Errorf("route %s %s references unknown service %q", route.Method, route.Pattern, route.Service)
		}
	}
	return doc, nil
}

func (s Service) Definition() registry.ServiceDefinition {
	return registry.ServiceDefinition{
		Name:                  s.Name,
		Type:                  registry.ServiceType(s.Type),
		Version:               s.Version,
		BaseURL:               s.BaseURL,
		HealthPath:            s.HealthPath,
		PriorityWeight:        s.PriorityWeight,
		Capabilities:          s.Capabilities,
		Dependencies:          s.Dependencies,
		MaxConcurrentRequests: s.MaxConcurrentRequests,
		Timeout:               time.Duration(s.TimeoutMS) * time.Millisecond,
		RetryAttempts:         s.RetryAttempts,
	}
}

func (r Route) Mapping() gateway.RouteMapping {
	var rl *gateway.RateLimitConfig
	if r.Policy.RateLimit != nil {
		rl = &gateway.RateLimitConfig{
			WindowSeconds: r.Policy.RateLimit.WindowSeconds,
			MaxRequests:   r.Policy.RateLimit.MaxRequests,
		}
	}
	return gateway.RouteMapping{
		Method:  r.Method,
		Pattern: r.Pattern,
		Service: r.Service,
		Policy: gateway.SecurityPolicy{
			RequireAuth:         r.Policy.RequireAuth,
			AllowedRoles:        r.Policy.AllowedRoles,
			RequiredPermissions: r.Policy.RequiredPermissions,
			RateLimit:           rl,
			AuditLog:            r.Policy.AuditLog,
			EncryptResponse:     r.Policy.EncryptResponse,
		},
	}
}

func DefaultPath(env string) (string, error) {
	root, err := findRepoRoot()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(env) == "" {
		env = "dev"
	}
	return filepath.Join(root, "configs", env+".catalog.json"), nil
}

func findRepoRoot() (string, error) {
	start, err := os.Getwd()
	if err != nil {
		return "", err
	}
	dir := start
	for i := 0; i < 8; i++ {
		candidate := filepath.Join(dir, "configs")
		if fi, err := os.Stat(candidate); err == nil && fi.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", errors.New("repo root not found")
}
