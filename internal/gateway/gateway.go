package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"intelligence-control-plane/internal/hub"
	"intelligence-control-plane/internal/orchestrator"
	"intelligence-control-plane/shared/authx"
	"intelligence-control-plane/shared/httpx"
	"intelligence-control-plane/shared/logx"
	"intelligence-control-plane/shared/metricsx"
)

// TokenVerifier validates a raw bearer token and derives the caller identity.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (authx.Principal, error)
}

// RevocationChecker reports the minimum acceptable token version for a
// subject. Tokens older than the stored version are treated as revoked.
type RevocationChecker interface {
	CurrentTokenVersion(ctx context.Context, subject string) (int, bool, error)
}

// AuditSink receives audit entries for durable storage, in addition to the
// in-memory log.
type AuditSink interface {
	Store(ctx context.Context, entry AuditEntry) error
}

// Gateway turns raw inbound HTTP requests into authorized, rate-limited,
// audited calls into the orchestrator.
type Gateway struct {
	routes   *RouteTable
	orch     *orchestrator.Orchestrator
	hub      *hub.Hub
	verifier TokenVerifier
	limiter  *RateLimiter
	audit    *AuditLog
	logger   logx.Logger

	revocations RevocationChecker
	auditSink   AuditSink
	crypt       *ResponseEncoder

	// AuditHook fires for every appended entry, outside the request path's
	// critical section. Wired to the event exporter.
	AuditHook func(entry AuditEntry)

	mu       sync.Mutex
	handled  map[string]int64
	failed   map[string]int64
}

type Option func(*Gateway)

func WithRevocationChecker(rc RevocationChecker) Option {
	return func(g *Gateway) { g.revocations = rc }
}

func WithAuditSink(sink AuditSink) Option {
	return func(g *Gateway) { g.auditSink = sink }
}

func WithResponseEncoder(enc *ResponseEncoder) Option {
	return func(g *Gateway) { g.crypt = enc }
}

func New(routes *RouteTable, orch *orchestrator.Orchestrator, observe *hub.Hub, verifier TokenVerifier, logger logx.Logger, opts ...Option) *Gateway {
	g := &Gateway{
		routes:   routes,
		orch:     orch,
		hub:      observe,
		verifier: verifier,
		limiter:  NewRateLimiter(),
		audit:    NewAuditLog(),
		logger:   logger,
		handled:  make(map[string]int64),
		failed:   make(map[string]int64),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	httpx.SetSecurityHeaders(w.Header())

	requestID := httpx.RequestIDFromContext(r.Context())
	if requestID == "" {
		requestID = uuid.NewString()
	}

	route, params, ok := g.routes.Match(r.Method, r.URL.Path)
	if !ok {
		g.finish(r, route, requestID, "", http.StatusNotFound, start, false)
		httpx.WriteError(w, http.StatusNotFound, "route not found")
		return
	}

	var principal authx.Principal
	if route.Policy.RequireAuth {
		p, status, msg := g.authenticate(r)
		if status != 0 {
			metricsx.IncAuthFailure()
			g.finish(r, route, requestID, p.Subject, status, start, false)
			httpx.WriteError(w, status, msg)
			return
		}
		principal = p

		if status, msg := g.authorize(route, principal); status != 0 {
			metricsx.IncAuthFailure()
			g.finish(r, route, requestID, principal.Subject, status, start, false)
			httpx.WriteError(w, status, msg)
			return
		}
	}

	if cfg := route.Policy.RateLimit; cfg != nil {
		identifier := principal.Subject
		if identifier == "" {
			identifier = httpx.ClientIP(r)
		}
		if allowed, retryAfter := g.limiter.Allow(identifier, *cfg); !allowed {
			metricsx.IncRateLimited()
			seconds := int(retryAfter.Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			g.finish(r, route, requestID, principal.Subject, http.StatusTooManyRequests, start, false)
			httpx.WriteError(w, http.StatusTooManyRequests, fmt.Sprintf("rate limit exceeded, retry in %ds", seconds))
			return
		}
	}

	payload, err := extractPayload(r, params)
	if err != nil {
		g.finish(r, route, requestID, principal.Subject, http.StatusBadRequest, start, false)
		httpx.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if route.TransformRequest != nil {
		payload = route.TransformRequest(payload, params)
	}

	reqCtx := orchestrator.RequestContext{
		RequestID: requestID,
		UserID:    principal.Subject,
		SessionID: principal.SessionID,
		Timestamp: start,
		Priority:  priorityForRole(principal.Role),
		Metadata: map[string]string{
			"path":       r.URL.Path,
			"method":     r.Method,
			"ip":         httpx.ClientIP(r),
			"user_agent": r.UserAgent(),
		},
	}

	resp, err := g.orch.RouteRequest(r.Context(), route.Service, payload, reqCtx)
	if err != nil {
		status, msg := mapDispatchError(err)
		g.finish(r, route, requestID, principal.Subject, status, start, false)
		httpx.WriteError(w, status, msg)
		return
	}
	if !resp.Success {
		g.finish(r, route, requestID, principal.Subject, http.StatusInternalServerError, start, false)
		httpx.WriteError(w, http.StatusInternalServerError, resp.Error)
		return
	}

	data := resp.Data
	if route.TransformResponse != nil {
		data = route.TransformResponse(data)
	}
	if route.Policy.EncryptResponse {
		if g.crypt == nil {
			g.logger.Error(r.Context(), "encrypt_unavailable", "route requires response encryption but no key is configured",
				slog.String("route", route.Pattern))
			g.finish(r, route, requestID, principal.Subject, http.StatusInternalServerError, start, false)
			httpx.WriteError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		encoded, err := g.crypt.Encode(data)
		if err != nil {
			g.finish(r, route, requestID, principal.Subject, http.StatusInternalServerError, start, false)
			httpx.WriteError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		data = map[string]any{"encrypted": true, "payload": encoded}
	}

	g.finish(r, route, requestID, principal.Subject, http.StatusOK, start, true)
	httpx.WriteSuccess(w, data, requestID, resp.ExecutionTime)
}

// authenticate returns a non-zero status and message on failure.
func (g *Gateway) authenticate(r *http.Request) (authx.Principal, int, string) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" || !strings.HasPrefix(header, "Bearer ") {
		return authx.Principal{}, http.StatusUnauthorized, "authentication required"
	}
	raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))

	principal, err := g.verifier.Verify(r.Context(), raw)
	if err != nil {
		return authx.Principal{}, http.StatusUnauthorized, "invalid token"
	}

	if g.revocations != nil && principal.TokenVersion > 0 {
		current, found, err := g.revocations.CurrentTokenVersion(r.Context(), principal.Subject)
		if err != nil {
			g.logger.Warn(r.Context(), "revocation_check_failed", "token version lookup failed",
				slog.String("subject", principal.Subject),
				slog.String("error", err.Error()),
			)
		} else if found && principal.TokenVersion < current {
			return authx.Principal{}, http.StatusUnauthorized, "invalid token"
		}
	}
	return principal, 0, ""
}

func (g *Gateway) authorize(route RouteMapping, principal authx.Principal) (int, string) {
	if roles := route.Policy.AllowedRoles; len(roles) > 0 {
		allowed := false
		for _, role := range roles {
			if role == principal.Role {
				allowed = true
				break
			}
		}
		if !allowed {
			return http.StatusForbidden, "insufficient role"
		}
	}
	if !principal.HasPermissions(route.Policy.RequiredPermissions) {
		return http.StatusForbidden, "insufficient permissions"
	}
	return 0, ""
}

func mapDispatchError(err error) (int, string) {
	switch {
	case errors.Is(err, orchestrator.ErrServiceNotFound):
		return http.StatusNotFound, "service not found"
	case errors.Is(err, orchestrator.ErrShuttingDown):
		return http.StatusServiceUnavailable, "service unavailable"
	default:
		// Unhealthy services are indistinguishable from generic failures to
		// the caller; topology leaks only through internal alerting.
		return http.StatusInternalServerError, "service error"
	}
}

// finish records the per-request observability output: response-time and
// request-count samples, the queue-length gauge, an error-rate sample on
// failures, and an audit entry when the route's policy asks for one.
func (g *Gateway) finish(r *http.Request, route RouteMapping, requestID string, userID string, status int, start time.Time, success bool) {
	elapsed := time.Since(start)
	service := route.Service
	if service == "" {
		service = "unmatched"
	}
	tags := map[string]string{
		"service":    service,
		"method":     r.Method,
		"status":     strconv.Itoa(status),
		"request_id": requestID,
	}

	g.hub.RecordMetric("response_time", float64(elapsed.Milliseconds()), tags)
	g.hub.RecordMetric("request_count", 1, tags)
	if route.Service != "" {
		g.hub.RecordMetric("queue_length", float64(g.orch.QueueLength(route.Service)), map[string]string{"service": service})
	}

	g.mu.Lock()
	g.handled[service]++
	if !success {
		g.failed[service]++
	}
	rate := float64(g.failed[service]) / float64(g.handled[service]) * 100
	g.mu.Unlock()
	if !success {
		g.hub.RecordMetric("error_rate", rate, map[string]string{"service": service})
	}

	// Error responses are always audited; successes only when the route's
	// policy asks for it.
	if !route.Policy.AuditLog && status < 400 {
		return
	}
	entry := AuditEntry{
		Timestamp:      start.UTC(),
		RequestID:      requestID,
		UserID:         userID,
		Path:           r.URL.Path,
		Method:         r.Method,
		StatusCode:     status,
		ResponseTimeMS: elapsed.Milliseconds(),
		UserAgent:      r.UserAgent(),
		IP:             httpx.ClientIP(r),
	}
	g.audit.Append(entry)
	if g.auditSink != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := g.auditSink.Store(ctx, entry); err != nil {
				g.logger.Warn(ctx, "audit_sink_failed", "durable audit write failed",
					slog.String("request_id", entry.RequestID),
					slog.String("error", err.Error()),
				)
			}
		}()
	}
	if g.AuditHook != nil {
		g.AuditHook(entry)
	}
}

// priorityForRole maps organizational seniority onto dispatch priority.
func priorityForRole(role string) orchestrator.Priority {
	switch role {
	case "PARTNER":
		return orchestrator.PriorityCritical
	case "MANAGER":
		return orchestrator.PriorityHigh
	case "ASSOCIATE":
		return orchestrator.PriorityNormal
	default:
		return orchestrator.PriorityLow
	}
}

func extractPayload(r *http.Request, params map[string]string) (map[string]any, error) {
	payload := map[string]any{}
	if r.Body != nil && (r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch) {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
	}
	for key, values := range r.URL.Query() {
		if len(values) == 1 {
			payload[key] = values[0]
		} else {
			payload[key] = values
		}
	}
	for key, value := range params {
		payload[key] = value
	}
	return payload, nil
}

// AuditEntries exposes the in-memory audit log for the admin surface.
func (g *Gateway) AuditEntries(f AuditFilter) []AuditEntry {
	return g.audit.Entries(f)
}

func (g *Gateway) RateLimitStatus(identifier string) []WindowStatus {
	return g.limiter.Status(identifier)
}

func (g *Gateway) Routes() []RouteMapping {
	return g.routes.Routes()
}

func (g *Gateway) AddRoute(route RouteMapping) error {
	return g.routes.Add(route)
}

func (g *Gateway) RemoveRoute(method string, pattern string) bool {
	return g.routes.Remove(method, pattern)
}
