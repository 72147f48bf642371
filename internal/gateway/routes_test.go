package gateway

import "testing"

func TestRouteMatching(t *testing.T) {
	table := NewRouteTable()
	add := func(method, pattern, service string) {
		t.Helper()
		if err := table.Add(RouteMapping{Method: method, Pattern: pattern, Service: service}); err != nil {
			t.Fatalf("add %s %s: %v", method, pattern, err)
		}
	}
	add("POST", "/api/ai/document", "document-intelligence")
	add("GET", "/api/analytics/:report", "performance-analytics")
	add("GET", "/api/admin/*", "admin-service")

	route, _, ok := table.Match("POST", "/api/ai/document")
	if !ok || route.Service != "document-intelligence" {
		t.Fatalf("exact match failed: %v %v", route, ok)
	}

	if _, _, ok := table.Match("GET", "/api/ai/document"); ok {
		t.Fatalf("method mismatch must not match")
	}

	route, params, ok := table.Match("GET", "/api/analytics/performance")
	if !ok || route.Service != "performance-analytics" || params["report"] != "performance" {
		t.Fatalf("param match failed: %v %v", route, params)
	}

	if _, _, ok := table.Match("GET", "/api/analytics/performance/extra"); ok {
		t.Fatalf("extra segment must not match a non-wildcard pattern")
	}

	if _, _, ok := table.Match("GET", "/api/admin/rate-limits/user-1"); !ok {
		t.Fatalf("wildcard must match nested paths")
	}
}

func TestFirstMatchWins(t *testing.T) {
	table := NewRouteTable()
	if err := table.Add(RouteMapping{Method: "GET", Pattern: "/api/:section", Service: "generic"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := table.Add(RouteMapping{Method: "GET", Pattern: "/api/special", Service: "special"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	route, _, ok := table.Match("GET", "/api/special")
	if !ok || route.Service != "generic" {
		t.Fatalf("registration order must win, got %v", route.Service)
	}
}

func TestAddValidation(t *testing.T) {
	table := NewRouteTable()
	cases := []RouteMapping{
		{Method: "GET", Pattern: "no-slash", Service: "svc"},
		{Method: "", Pattern: "/x", Service: "svc"},
		{Method: "GET", Pattern: "/x", Service: ""},
		{Method: "GET", Pattern: "/x", Service: "svc", Policy: SecurityPolicy{RateLimit: &RateLimitConfig{WindowSeconds: 0, MaxRequests: 5}}},
		{Method: "GET", Pattern: "/x", Service: "svc", Policy: SecurityPolicy{AllowedRoles: []string{"MANAGER"}}},
	}
	for i, c := range cases {
		if err := table.Add(c); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestAddNormalizesRoles(t *testing.T) {
	table := NewRouteTable()
	err := table.Add(RouteMapping{
		Method:  "post",
		Pattern: "/api/x",
		Service: "svc",
		Policy:  SecurityPolicy{RequireAuth: true, AllowedRoles: []string{"manager"}},
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	route, _, ok := table.Match("POST", "/api/x")
	if !ok || route.Policy.AllowedRoles[0] != "MANAGER" {
		t.Fatalf("roles must be uppercased, got %v", route.Policy.AllowedRoles)
	}
}

func TestReplaceAndRemove(t *testing.T) {
	table := NewRouteTable()
	_ = table.Add(RouteMapping{Method: "GET", Pattern: "/api/x", Service: "one"})
	_ = table.Add(RouteMapping{Method: "GET", Pattern: "/api/x", Service: "two"})
	if got := table.Routes(); len(got) != 1 || got[0].Service != "two" {
		t.Fatalf("re-add must replace, got %v", got)
	}
	if !table.Remove("GET", "/api/x") {
		t.Fatalf("remove must succeed")
	}
	if table.Remove("GET", "/api/x") {
		t.Fatalf("second remove must fail")
	}
	if _, _, ok := table.Match("GET", "/api/x"); ok {
		t.Fatalf("removed route must not match")
	}
}
