package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"intelligence-control-plane/internal/registry"
)

// Transport executes one call against a backing service. Implementations own
// per-attempt timeouts and retries up to the definition's RetryAttempts; the
// queueing layer above never retries.
type Transport interface {
	Invoke(ctx context.Context, def registry.ServiceDefinition, payload any, reqCtx RequestContext) (any, error)
}

// TransportFunc adapts a plain function, used for local services and tests.
type TransportFunc func(ctx context.Context, def registry.ServiceDefinition, payload any, reqCtx RequestContext) (any, error)

func (f TransportFunc) Invoke(ctx context.Context, def registry.ServiceDefinition, payload any, reqCtx RequestContext) (any, error) {
	return f(ctx, def, payload, reqCtx)
}

// HTTPTransport POSTs the payload to the service's invoke endpoint. Retries
// cover transport errors and 5xx responses; 4xx responses fail immediately.
type HTTPTransport struct {
	client   *http.Client
	breakers sync.Map // service name -> *circuitBreaker
}

func NewHTTPTransport() *HTTPTransport {
	return &HTTPTransport{client: &http.Client{}}
}

func (t *HTTPTransport) Invoke(ctx context.Context, def registry.ServiceDefinition, payload any, reqCtx RequestContext) (any, error) {
	breaker := t.breakerFor(def.Name)
	if breaker.Open() {
		return nil, fmt.Errorf("service %s circuit open", def.Name)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	attempts := def.RetryAttempts
	if attempts < 0 {
		attempts = 0
	}

	var lastErr error
	for attempt := 0; attempt <= attempts; attempt++ {
		out, retryable, err := t.attempt(ctx, def, body, reqCtx)
		if err == nil {
			breaker.Success()
			return out, nil
		}
		lastErr = err
		breaker.Fail()
		if !retryable || ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (t *HTTPTransport) attempt(ctx context.Context, def registry.ServiceDefinition, body []byte, reqCtx RequestContext) (any, bool, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, def.Timeout)
	defer cancel()

	url := strings.TrimRight(def.BaseURL, "/") + "/invoke"
	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", reqCtx.RequestID)

	resp, err := t.client.Do(req)
	if err != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return nil, true, fmt.Errorf("service %s timed out after %s", def.Name, def.Timeout)
		}
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("service %s returned status %d", def.Name, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, false, fmt.Errorf("service %s rejected request: status %d", def.Name, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}
	if len(raw) == 0 {
		return nil, false, nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false, fmt.Errorf("service %s returned invalid json: %w", def.Name, err)
	}
	return out, false, nil
}

func (t *HTTPTransport) breakerFor(service string) *circuitBreaker {
	if v, ok := t.breakers.Load(service); ok {
		return v.(*circuitBreaker)
	}
	v, _ := t.breakers.LoadOrStore(service, newCircuitBreaker(5, 30*time.Second))
	return v.(*circuitBreaker)
}

type circuitBreaker struct {
	mu            sync.Mutex
	failures      int
	openUntil     time.Time
	threshold     int
	resetDuration time.Duration
}

func newCircuitBreaker(threshold int, reset time.Duration) *circuitBreaker {
	return &circuitBreaker{threshold: threshold, resetDuration: reset}
}

func (b *circuitBreaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openUntil.IsZero() {
		return false
	}
	if time.Now().After(b.openUntil) {
		b.openUntil = time.Time{}
		b.failures = 0
		return false
	}
	return true
}

func (b *circuitBreaker) Fail() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.threshold {
		b.openUntil = time.Now().Add(b.resetDuration)
	}
}

func (b *circuitBreaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.openUntil = time.Time{}
}
