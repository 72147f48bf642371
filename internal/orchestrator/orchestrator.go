package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"sync"

	"intelligence-control-plane/internal/registry"
	"intelligence-control-plane/shared/logx"
	"intelligence-control-plane/shared/metricsx"
)

var (
	// Precondition failures, surfaced as errors before any dispatch occurs.
	ErrServiceNotFound  = errors.New("service not found")
	ErrServiceUnhealthy = errors.New("service unhealthy")
	ErrShuttingDown     = errors.New("orchestrator shutting down")
)

// Orchestrator admits requests into per-service concurrency slots, queues
// overflow by priority, and dispatches through a pluggable transport. It is
// the single owner of active counters and wait queues.
type Orchestrator struct {
	registry  *registry.Registry
	transport Transport
	events    *Events
	logger    logx.Logger

	mu            sync.Mutex
	states        map[string]*serviceState
	totalActive   int
	draining      bool
	drained       chan struct{}
	drainedClosed bool
}

type serviceState struct {
	active  int
	waiters []*waiter
	seq     uint64
}

type waiter struct {
	priority Priority
	seq      uint64
	ready    chan struct{}
	granted  bool
}

func New(reg *registry.Registry, transport Transport, events *Events, logger logx.Logger) *Orchestrator {
	if events == nil {
		events = NewEvents()
	}
	return &Orchestrator{
		registry:  reg,
		transport: transport,
		events:    events,
		logger:    logger,
		states:    make(map[string]*serviceState),
		drained:   make(chan struct{}),
	}
}

func (o *Orchestrator) Events() *Events { return o.events }

func (o *Orchestrator) Registry() *registry.Registry { return o.registry }

// RegisterService adds or replaces a definition and announces it. Runtime
// state for a replaced name is kept so in-flight accounting stays correct.
func (o *Orchestrator) RegisterService(def registry.ServiceDefinition) error {
	if err := o.registry.Register(def); err != nil {
		return err
	}
	o.mu.Lock()
	if _, ok := o.states[def.Name]; !ok {
		o.states[def.Name] = &serviceState{}
	}
	o.mu.Unlock()
	o.events.emitServiceRegistered(def)
	return nil
}

// RouteRequest admits, dispatches, and reports. The three precondition
// failures (unknown service, unhealthy service, draining) return errors;
// every backend failure resolves as a Response with Success=false.
func (o *Orchestrator) RouteRequest(ctx context.Context, serviceName string, payload any, reqCtx RequestContext) (Response, error) {
	def, ok := o.registry.Get(serviceName)
	if !ok {
		return Response{}, ErrServiceNotFound
	}
	if !o.registry.Routable(serviceName) {
		return Response{}, ErrServiceUnhealthy
	}

	if err := o.admit(ctx, def, reqCtx.Priority); err != nil {
		if errors.Is(err, ErrShuttingDown) {
			return Response{}, err
		}
		// Cancelled or timed out while queued: the caller never held a slot.
		return o.failed(def.Name, reqCtx, 0, "request cancelled while queued: "+err.Error()), nil
	}

	start := time.Now()
	data, err := o.transport.Invoke(ctx, def, payload, reqCtx)
	duration := time.Since(start)
	o.release(def.Name, def.MaxConcurrentRequests)

	metricsx.ObserveDispatchLatency(def.Name, duration)
	if err != nil {
		metricsx.IncDispatch(def.Name, false)
		return o.failed(def.Name, reqCtx, duration, err.Error()), nil
	}

	metricsx.IncDispatch(def.Name, true)
	o.events.emitRequestCompleted(CompletionEvent{
		Service:   def.Name,
		RequestID: reqCtx.RequestID,
		Duration:  duration,
	})
	o.logger.Debug(ctx, "request_dispatched", "request dispatched",
		slog.String("service", def.Name),
		slog.String("request_id", reqCtx.RequestID),
		slog.Int64("duration_ms", duration.Milliseconds()),
	)
	return Response{
		Success:       true,
		Data:          data,
		ServiceName:   def.Name,
		ExecutionTime: duration.Milliseconds(),
		RequestID:     reqCtx.RequestID,
	}, nil
}

func (o *Orchestrator) failed(service string, reqCtx RequestContext, duration time.Duration, msg string) Response {
	o.events.emitRequestFailed(CompletionEvent{
		Service:   service,
		RequestID: reqCtx.RequestID,
		Duration:  duration,
		Error:     msg,
	})
	return Response{
		Success:       false,
		Error:         msg,
		ServiceName:   service,
		ExecutionTime: duration.Milliseconds(),
		RequestID:     reqCtx.RequestID,
	}
}

// admit grants a concurrency slot, queueing the caller when the service is at
// capacity. A freed slot is handed directly to the best queued waiter, so
// nobody polls.
func (o *Orchestrator) admit(ctx context.Context, def registry.ServiceDefinition, priority Priority) error {
	o.mu.Lock()
	if o.draining {
		o.mu.Unlock()
		return ErrShuttingDown
	}
	st := o.state(def.Name)
	if st.active < def.MaxConcurrentRequests {
		st.active++
		o.totalActive++
		o.updateGauges(def.Name, st)
		o.mu.Unlock()
		return nil
	}

	st.seq++
	w := &waiter{priority: priority, seq: st.seq, ready: make(chan struct{})}
	st.insert(w)
	o.updateGauges(def.Name, st)
	o.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		o.mu.Lock()
		if w.granted {
			// The slot was handed over in the same instant; give it back.
			o.releaseLocked(def.Name, def.MaxConcurrentRequests)
			o.mu.Unlock()
			return ctx.Err()
		}
		st.remove(w)
		o.updateGauges(def.Name, st)
		o.mu.Unlock()
		return ctx.Err()
	}
}

func (o *Orchestrator) release(name string, maxConcurrent int) {
	o.mu.Lock()
	o.releaseLocked(name, maxConcurrent)
	o.mu.Unlock()
}

func (o *Orchestrator) releaseLocked(name string, maxConcurrent int) {
	st := o.state(name)
	st.active--
	o.totalActive--
	if st.active < maxConcurrent {
		if w := st.pop(); w != nil {
			st.active++
			o.totalActive++
			w.granted = true
			close(w.ready)
		}
	}
	o.updateGauges(name, st)
	if o.draining && o.totalActive == 0 && !o.drainedClosed {
		o.drainedClosed = true
		close(o.drained)
	}
}

func (o *Orchestrator) state(name string) *serviceState {
	st, ok := o.states[name]
	if !ok {
		st = &serviceState{}
		o.states[name] = st
	}
	return st
}

func (o *Orchestrator) updateGauges(name string, st *serviceState) {
	metricsx.SetActiveRequests(name, st.active)
	metricsx.SetQueueDepth(name, len(st.waiters))
}

// insert keeps waiters ordered by priority descending, arrival ascending.
func (st *serviceState) insert(w *waiter) {
	idx := len(st.waiters)
	for i, existing := range st.waiters {
		if existing.priority < w.priority {
			idx = i
			break
		}
	}
	st.waiters = append(st.waiters, nil)
	copy(st.waiters[idx+1:], st.waiters[idx:])
	st.waiters[idx] = w
}

func (st *serviceState) pop() *waiter {
	if len(st.waiters) == 0 {
		return nil
	}
	w := st.waiters[0]
	st.waiters = st.waiters[1:]
	return w
}

func (st *serviceState) remove(w *waiter) {
	for i, existing := range st.waiters {
		if existing == w {
			st.waiters = append(st.waiters[:i], st.waiters[i+1:]...)
			return
		}
	}
}

// ServiceStatus is the admin view of one service's runtime state.
type ServiceStatus struct {
	Name           string               `json:"name"`
	Health         registry.HealthState `json:"health"`
	ActiveRequests int                  `json:"activeRequests"`
	QueueLength    int                  `json:"queueLength"`
}

func (o *Orchestrator) Status() []ServiceStatus {
	defs := o.registry.Discover()
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]ServiceStatus, 0, len(defs))
	for _, def := range defs {
		st := o.state(def.Name)
		health, _ := o.registry.Health(def.Name)
		out = append(out, ServiceStatus{
			Name:           def.Name,
			Health:         health,
			ActiveRequests: st.active,
			QueueLength:    len(st.waiters),
		})
	}
	return out
}

func (o *Orchestrator) QueueLength(name string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.state(name).waiters)
}

// Shutdown stops admitting new requests immediately and blocks until every
// in-flight and already-queued request has completed, or ctx expires.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if !o.draining {
		o.draining = true
		if o.totalActive == 0 && !o.drainedClosed {
			o.drainedClosed = true
			close(o.drained)
		}
	}
	o.mu.Unlock()

	o.events.emitShutdownStarted()
	o.logger.Info(ctx, "shutdown_started", "draining in-flight requests")

	select {
	case <-o.drained:
		o.events.emitShutdownCompleted()
		o.logger.Info(ctx, "shutdown_completed", "all requests drained")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
