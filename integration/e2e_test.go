package integration

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"intelligence-control-plane/internal/catalog"
	"intelligence-control-plane/internal/gateway"
	"intelligence-control-plane/internal/hub"
	"intelligence-control-plane/internal/orchestrator"
	"intelligence-control-plane/internal/registry"
	"intelligence-control-plane/shared/authx"
	"intelligence-control-plane/shared/httpx"
	"intelligence-control-plane/shared/logx"
)

type staticVerifier map[string]authx.Principal

func (s staticVerifier) Verify(ctx context.Context, raw string) (authx.Principal, error) {
	p, ok := s[raw]
	if !ok {
		return authx.Principal{}, authx.ErrInvalidToken
	}
	return p, nil
}

// TestCatalogDrivenPipeline exercises the full in-process path: the shipped
// dev catalog loaded from configs/, the gateway in front, the orchestrator
// dispatching through an in-memory transport, and the hub collecting the
// resulting telemetry.
func TestCatalogDrivenPipeline(t *testing.T) {
	path, err := catalog.DefaultPath("dev")
	if err != nil {
		t.Fatalf("locate catalog: %v", err)
	}
	doc, err := catalog.Load(path)
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}

	logger := logx.NewWithWriter(io.Discard, "e2e", "test", "", "error")
	transport := orchestrator.TransportFunc(func(ctx context.Context, def registry.ServiceDefinition, payload any, rc orchestrator.RequestContext) (any, error) {
		return map[string]any{"service": def.Name, "status": "processed"}, nil
	})

	orch := orchestrator.New(registry.New(), transport, orchestrator.NewEvents(), logger)
	for _, svc := range doc.Services {
		if err := orch.RegisterService(svc.Definition()); err != nil {
			t.Fatalf("register %s: %v", svc.Name, err)
		}
	}

	routes := gateway.NewRouteTable()
	for _, route := range doc.Routes {
		if err := routes.Add(route.Mapping()); err != nil {
			t.Fatalf("add route %s: %v", route.Pattern, err)
		}
	}

	verifier := staticVerifier{
		"partner": {Subject: "u-1", Role: "PARTNER", Permissions: []string{"ai:invoke", "insights:read"}},
		"intern":  {Subject: "u-2", Role: "INTERN"},
	}

	enc, err := gateway.NewResponseEncoder(base64.StdEncoding.EncodeToString(make([]byte, 32)))
	if err != nil {
		t.Fatalf("encoder: %v", err)
	}

	observe := hub.New(logger)
	gw := gateway.New(routes, orch, observe, verifier, logger, gateway.WithResponseEncoder(enc))

	do := func(method, path, token, body string) *httptest.ResponseRecorder {
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

	rec := do("POST", "/api/ai/document", "partner", `{"document":"q3-report.pdf"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("document route failed: %d %s", rec.Code, rec.Body.String())
	}
	var env httpx.SuccessEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !env.Success || env.RequestID == "" {
		t.Fatalf("unexpected envelope: %+v", env)
	}

	// The chat route admits interns; the document route does not.
	if rec := do("POST", "/api/ai/chat", "intern", `{"message":"hi"}`); rec.Code != http.StatusOK {
		t.Fatalf("chat route must admit interns: %d %s", rec.Code, rec.Body.String())
	}
	if rec := do("POST", "/api/ai/document", "intern", `{"document":"x"}`); rec.Code != http.StatusForbidden {
		t.Fatalf("document route must reject interns: %d", rec.Code)
	}

	// The insights route caps at 10 per 300s.
	for i := 0; i < 10; i++ {
		if rec := do("POST", "/api/hybrid/insights", "partner", `{}`); rec.Code != http.StatusOK {
			t.Fatalf("insights request %d failed: %d %s", i, rec.Code, rec.Body.String())
		}
	}
	if rec := do("POST", "/api/hybrid/insights", "partner", `{}`); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("11th insights request must be limited, got %d", rec.Code)
	}

	if entries := gw.AuditEntries(gateway.AuditFilter{PathPrefix: "/api/ai/document"}); len(entries) != 2 {
		t.Fatalf("expected 2 audited document requests, got %d", len(entries))
	}
	if n, _ := observe.GetAggregatedMetrics("request_count", "count", 0); n == 0 {
		t.Fatalf("hub must have request samples")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := orch.Shutdown(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if rec := do("POST", "/api/ai/chat", "partner", `{}`); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("post-shutdown requests must get 503, got %d", rec.Code)
	}
}
