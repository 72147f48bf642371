package gateway

import (
	"fmt"
	"strings"
	"sync"
)

// RateLimitConfig is a fixed window: at most MaxRequests per WindowSeconds
// per caller identifier.
type RateLimitConfig struct {
	WindowSeconds int `json:"windowSeconds"`
	MaxRequests   int `json:"maxRequests"`
}

// SecurityPolicy is the auth/authz/rate-limit/audit ruleset attached to one
// route. Validated once at registration, never at request time.
type SecurityPolicy struct {
	RequireAuth         bool             `json:"requireAuth"`
	AllowedRoles        []string         `json:"allowedRoles,omitempty"`
	RequiredPermissions []string         `json:"requiredPermissions,omitempty"`
	RateLimit           *RateLimitConfig `json:"rateLimit,omitempty"`
	AuditLog            bool             `json:"auditLog"`
	EncryptResponse     bool             `json:"encryptResponse"`
}

// RouteMapping binds a URL pattern and method to a target service plus its
// policy. Patterns support :param segments and a trailing * wildcard.
type RouteMapping struct {
	Pattern string         `json:"pattern"`
	Method  string         `json:"method"`
	Service string         `json:"service"`
	Policy  SecurityPolicy `json:"policy"`

	// Optional per-route payload hooks, applied after auth and before dispatch.
	TransformRequest  func(payload map[string]any, params map[string]string) map[string]any `json:"-"`
	TransformResponse func(data any) any                                                    `json:"-"`
}

// RouteTable is the ordered route list. First structural+method match wins,
// so more specific patterns must be registered first.
type RouteTable struct {
	mu     sync.RWMutex
	routes []RouteMapping
}

func NewRouteTable() *RouteTable {
	return &RouteTable{}
}

// Add validates and appends a route. Re-adding the same method+pattern
// replaces the existing entry in place, keeping its position.
func (t *RouteTable) Add(route RouteMapping) error {
	route.Method = strings.ToUpper(strings.TrimSpace(route.Method))
	route.Pattern = strings.TrimSpace(route.Pattern)

	if route.Pattern == "" || !strings.HasPrefix(route.Pattern, "/") {
		return fmt.Errorf("route pattern must start with /: %q", route.Pattern)
	}
	if route.Method == "" {
		return fmt.Errorf("route %s: method required", route.Pattern)
	}
	if strings.TrimSpace(route.Service) == "" {
		return fmt.Errorf("route %s: target service required", route.Pattern)
	}
	if rl := route.Policy.RateLimit; rl != nil {
		if rl.WindowSeconds <= 0 || rl.MaxRequests <= 0 {
			return fmt.Errorf("route %s: rate limit window and max must be positive", route.Pattern)
		}
	}
	for i, role := range route.Policy.AllowedRoles {
		role = strings.ToUpper(strings.TrimSpace(role))
		if role == "" {
			return fmt.Errorf("route %s: empty role in allowedRoles", route.Pattern)
		}
		route.Policy.AllowedRoles[i] = role
	}
	if !route.Policy.RequireAuth && (len(route.Policy.AllowedRoles) > 0 || len(route.Policy.RequiredPermissions) > 0) {
		return fmt.Errorf("route %s: role/permission checks require requireAuth", route.Pattern)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for i, existing := range t.routes {
		if existing.Method == route.Method && existing.Pattern == route.Pattern {
			t.routes[i] = route
			return nil
		}
	}
	t.routes = append(t.routes, route)
	return nil
}

func (t *RouteTable) Remove(method string, pattern string) bool {
	method = strings.ToUpper(strings.TrimSpace(method))
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, existing := range t.routes {
		if existing.Method == method && existing.Pattern == pattern {
			t.routes = append(t.routes[:i], t.routes[i+1:]...)
			return true
		}
	}
	return false
}

// Match returns the first route whose pattern and method match, along with
// any extracted path parameters.
func (t *RouteTable) Match(method string, path string) (RouteMapping, map[string]string, bool) {
	method = strings.ToUpper(strings.TrimSpace(method))
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, route := range t.routes {
		if route.Method != method {
			continue
		}
		if params, ok := matchPattern(route.Pattern, path); ok {
			return route, params, true
		}
	}
	return RouteMapping{}, nil, false
}

func (t *RouteTable) Routes() []RouteMapping {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]RouteMapping, len(t.routes))
	copy(out, t.routes)
	return out
}

// matchPattern compares segment by segment. ":name" binds one segment, "*"
// matches the remainder of the path (including nothing).
func matchPattern(pattern string, path string) (map[string]string, bool) {
	patParts := splitPath(pattern)
	pathParts := splitPath(path)

	params := map[string]string{}
	for i, part := range patParts {
		if part == "*" {
			return params, true
		}
		if i >= len(pathParts) {
			return nil, false
		}
		if strings.HasPrefix(part, ":") {
			params[part[1:]] = pathParts[i]
			continue
		}
		if part != pathParts[i] {
			return nil, false
		}
	}
	if len(pathParts) != len(patParts) {
		return nil, false
	}
	return params, true
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
