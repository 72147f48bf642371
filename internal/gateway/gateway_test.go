package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"intelligence-control-plane/internal/hub"
	"intelligence-control-plane/internal/orchestrator"
	"intelligence-control-plane/internal/registry"
	"intelligence-control-plane/shared/authx"
	"intelligence-control-plane/shared/httpx"
	"intelligence-control-plane/shared/logx"
)

type stubVerifier map[string]authx.Principal

func (s stubVerifier) Verify(ctx context.Context, raw string) (authx.Principal, error) {
	p, ok := s[raw]
	if !ok {
		return authx.Principal{}, authx.ErrInvalidToken
	}
	return p, nil
}

type stubRevocations map[string]int

func (s stubRevocations) CurrentTokenVersion(ctx context.Context, subject string) (int, bool, error) {
	v, ok := s[subject]
	return v, ok, nil
}

type gatewayFixture struct {
	gw         *Gateway
	orch       *orchestrator.Orchestrator
	hub        *hub.Hub
	dispatched *int
	lastReqCtx *orchestrator.RequestContext
}

func newFixture(t *testing.T, opts ...Option) *gatewayFixture {
	t.Helper()
	logger := logx.NewWithWriter(io.Discard, "test", "test", "", "error")

	dispatched := 0
	var lastReqCtx orchestrator.RequestContext
	transport := orchestrator.TransportFunc(func(ctx context.Context, def registry.ServiceDefinition, payload any, rc orchestrator.RequestContext) (any, error) {
		dispatched++
		lastReqCtx = rc
		if m, ok := payload.(map[string]any); ok && m["fail"] == "yes" {
			return nil, errors.New("backend exploded")
		}
		return map[string]any{"echo": payload}, nil
	})

	reg := registry.New()
	orch := orchestrator.New(reg, transport, orchestrator.NewEvents(), logger)
	if err := orch.RegisterService(registry.ServiceDefinition{
		Name:                  "document-intelligence",
		Type:                  registry.TypeAI,
		BaseURL:               "http://localhost:9100",
		MaxConcurrentRequests: 4,
		Timeout:               time.Second,
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	routes := NewRouteTable()
	mustAdd := func(r RouteMapping) {
		t.Helper()
		if err := routes.Add(r); err != nil {
			t.Fatalf("add route: %v", err)
		}
	}
	mustAdd(RouteMapping{
		Method:  "POST",
		Pattern: "/api/ai/document",
		Service: "document-intelligence",
		Policy: SecurityPolicy{
			RequireAuth:         true,
			AllowedRoles:        []string{"PARTNER", "MANAGER", "ASSOCIATE"},
			RequiredPermissions: []string{"ai:invoke"},
			RateLimit:           &RateLimitConfig{WindowSeconds: 60, MaxRequests: 3},
			AuditLog:            true,
		},
	})
	mustAdd(RouteMapping{
		Method:  "GET",
		Pattern: "/api/public/ping",
		Service: "document-intelligence",
		Policy:  SecurityPolicy{},
	})

	verifier := stubVerifier{
		"partner-token": {Subject: "u-partner", Role: "PARTNER", Permissions: []string{"ai:invoke"}, SessionID: "s1"},
		"manager-token": {Subject: "u-manager", Role: "MANAGER", Permissions: []string{"ai:invoke"}},
		"intern-token":  {Subject: "u-intern", Role: "INTERN", Permissions: []string{"ai:invoke"}},
		"no-perm-token": {Subject: "u-noperm", Role: "MANAGER", Permissions: nil},
		"stale-token":   {Subject: "u-stale", Role: "MANAGER", Permissions: []string{"ai:invoke"}, TokenVersion: 1},
	}

	h := hub.New(logger)
	gw := New(routes, orch, h, verifier, logger, opts...)
	return &gatewayFixture{gw: gw, orch: orch, hub: h, dispatched: &dispatched, lastReqCtx: &lastReqCtx}
}

func do(gw *Gateway, method, path, token, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) httpx.ErrorEnvelope {
	t.Helper()
	var env httpx.ErrorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode error envelope: %v (%s)", err, rec.Body.String())
	}
	return env
}

func TestUnmatchedRouteReturns404(t *testing.T) {
	f := newFixture(t)
	rec := do(f.gw, "GET", "/api/nope", "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	env := decodeError(t, rec)
	if env.Success || env.StatusCode != 404 || env.Error != "route not found" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestUnauthenticatedNeverReachesOrchestrator(t *testing.T) {
	f := newFixture(t)

	rec := do(f.gw, "POST", "/api/ai/document", "", `{"q":1}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	rec = do(f.gw, "POST", "/api/ai/document", "garbage", `{"q":1}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", rec.Code)
	}
	if *f.dispatched != 0 {
		t.Fatalf("unauthenticated requests must never be dispatched, got %d", *f.dispatched)
	}
}

func TestRoleAndPermissionChecks(t *testing.T) {
	f := newFixture(t)

	rec := do(f.gw, "POST", "/api/ai/document", "intern-token", `{"q":1}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for disallowed role, got %d", rec.Code)
	}
	if env := decodeError(t, rec); env.Error != "insufficient role" {
		t.Fatalf("unexpected message: %q", env.Error)
	}

	rec = do(f.gw, "POST", "/api/ai/document", "no-perm-token", `{"q":1}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for missing permission, got %d", rec.Code)
	}
	if env := decodeError(t, rec); env.Error != "insufficient permissions" {
		t.Fatalf("unexpected message: %q", env.Error)
	}
	if *f.dispatched != 0 {
		t.Fatalf("forbidden requests must never be dispatched")
	}
}

func TestRevokedTokenRejected(t *testing.T) {
	f := newFixture(t, WithRevocationChecker(stubRevocations{"u-stale": 2}))
	rec := do(f.gw, "POST", "/api/ai/document", "stale-token", `{"q":1}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("token below stored version must be rejected, got %d", rec.Code)
	}
}

func TestRateLimitOverHTTP(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 3; i++ {
		if rec := do(f.gw, "POST", "/api/ai/document", "partner-token", `{"q":1}`); rec.Code != http.StatusOK {
			t.Fatalf("request %d should pass, got %d: %s", i, rec.Code, rec.Body.String())
		}
	}
	rec := do(f.gw, "POST", "/api/ai/document", "partner-token", `{"q":1}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("4th request must be limited, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("429 must carry Retry-After")
	}
	if env := decodeError(t, rec); !strings.Contains(env.Error, "retry in") {
		t.Fatalf("429 must surface a wait hint, got %q", env.Error)
	}

	// Other identifiers are unaffected.
	if rec := do(f.gw, "POST", "/api/ai/document", "manager-token", `{"q":1}`); rec.Code != http.StatusOK {
		t.Fatalf("other user must not be limited, got %d", rec.Code)
	}
}

func TestSuccessEnvelopeAndSecurityHeaders(t *testing.T) {
	f := newFixture(t)
	rec := do(f.gw, "POST", "/api/ai/document", "partner-token", `{"q":"analyze"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var env httpx.SuccessEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !env.Success || env.RequestID == "" {
		t.Fatalf("unexpected envelope: %+v", env)
	}

	for header, want := range map[string]string{
		"X-Content-Type-Options":    "nosniff",
		"X-Frame-Options":           "DENY",
		"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Fatalf("header %s: got %q want %q", header, got, want)
		}
	}
}

func TestSecurityHeadersOnErrors(t *testing.T) {
	f := newFixture(t)
	rec := do(f.gw, "GET", "/missing", "", "")
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("error responses must carry security headers too")
	}
}

func TestBackendFailureMapsTo500(t *testing.T) {
	f := newFixture(t)
	rec := do(f.gw, "POST", "/api/ai/document", "partner-token", `{"fail":"yes"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if env := decodeError(t, rec); env.Error != "backend exploded" {
		t.Fatalf("backend message must surface, got %q", env.Error)
	}
}

func TestShuttingDownMapsTo503(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := f.orch.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	rec := do(f.gw, "POST", "/api/ai/document", "partner-token", `{"q":1}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while draining, got %d", rec.Code)
	}
}

func TestPriorityDerivedFromRole(t *testing.T) {
	f := newFixture(t)
	if rec := do(f.gw, "POST", "/api/ai/document", "partner-token", `{"q":1}`); rec.Code != http.StatusOK {
		t.Fatalf("dispatch failed: %d", rec.Code)
	}
	if f.lastReqCtx.Priority != orchestrator.PriorityCritical {
		t.Fatalf("partner must dispatch at critical, got %v", f.lastReqCtx.Priority)
	}
	if f.lastReqCtx.UserID != "u-partner" || f.lastReqCtx.SessionID != "s1" {
		t.Fatalf("identity must thread into the request context: %+v", f.lastReqCtx)
	}

	if rec := do(f.gw, "POST", "/api/ai/document", "manager-token", `{"q":1}`); rec.Code != http.StatusOK {
		t.Fatalf("dispatch failed")
	}
	if f.lastReqCtx.Priority != orchestrator.PriorityHigh {
		t.Fatalf("manager must dispatch at high, got %v", f.lastReqCtx.Priority)
	}
}

func TestUnauthenticatedRouteUsesLowPriority(t *testing.T) {
	f := newFixture(t)
	if rec := do(f.gw, "GET", "/api/public/ping", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("public route failed: %d", rec.Code)
	}
	if f.lastReqCtx.Priority != orchestrator.PriorityLow {
		t.Fatalf("anonymous callers dispatch at low, got %v", f.lastReqCtx.Priority)
	}
}

func TestEncryptedRoute(t *testing.T) {
	enc, err := NewResponseEncoder(testKey())
	if err != nil {
		t.Fatalf("encoder: %v", err)
	}
	f := newFixture(t, WithResponseEncoder(enc))
	if err := f.gw.AddRoute(RouteMapping{
		Method:  "POST",
		Pattern: "/api/hybrid/insights",
		Service: "document-intelligence",
		Policy: SecurityPolicy{
			RequireAuth:     true,
			AllowedRoles:    []string{"PARTNER"},
			EncryptResponse: true,
		},
	}); err != nil {
		t.Fatalf("add route: %v", err)
	}

	rec := do(f.gw, "POST", "/api/hybrid/insights", "partner-token", `{"q":"fuse"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var env httpx.SuccessEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	wrapper, ok := env.Data.(map[string]any)
	if !ok || wrapper["encrypted"] != true {
		t.Fatalf("payload must be marked encrypted: %#v", env.Data)
	}
	var plain map[string]any
	if err := enc.Decode(wrapper["payload"].(string), &plain); err != nil {
		t.Fatalf("payload must round-trip: %v", err)
	}
	if _, ok := plain["echo"]; !ok {
		t.Fatalf("decrypted payload missing data: %v", plain)
	}
}

func TestAuditTrail(t *testing.T) {
	f := newFixture(t)

	do(f.gw, "POST", "/api/ai/document", "partner-token", `{"q":1}`)
	do(f.gw, "POST", "/api/ai/document", "", `{"q":1}`)

	entries := f.gw.AuditEntries(AuditFilter{})
	if len(entries) != 2 {
		t.Fatalf("expected 2 audit entries (success on audited route + 401), got %d", len(entries))
	}

	denied := f.gw.AuditEntries(AuditFilter{StatusCode: 401})
	if len(denied) != 1 || denied[0].Path != "/api/ai/document" {
		t.Fatalf("status filter broken: %v", denied)
	}

	byUser := f.gw.AuditEntries(AuditFilter{UserID: "u-partner"})
	if len(byUser) != 1 || byUser[0].StatusCode != 200 {
		t.Fatalf("user filter broken: %v", byUser)
	}
}

func TestUnauditedRouteSuccessSkipsAudit(t *testing.T) {
	f := newFixture(t)
	if rec := do(f.gw, "GET", "/api/public/ping", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("public route failed: %d", rec.Code)
	}
	if got := f.gw.AuditEntries(AuditFilter{}); len(got) != 0 {
		t.Fatalf("successful request on non-audited route must not be audited, got %v", got)
	}
}

func TestRequestMetricsRecorded(t *testing.T) {
	f := newFixture(t)
	do(f.gw, "POST", "/api/ai/document", "partner-token", `{"q":1}`)
	do(f.gw, "POST", "/api/ai/document", "partner-token", `{"fail":"yes"}`)

	count, err := f.hub.GetAggregatedMetrics("request_count", "count", 0)
	if err != nil || count != 2 {
		t.Fatalf("expected 2 request_count samples, got %v %v", count, err)
	}
	if n, _ := f.hub.GetAggregatedMetrics("response_time", "count", 0); n != 2 {
		t.Fatalf("expected 2 response_time samples, got %v", n)
	}
	if n, _ := f.hub.GetAggregatedMetrics("error_rate", "count", 0); n != 1 {
		t.Fatalf("failures must record an error_rate sample, got %v", n)
	}
}
