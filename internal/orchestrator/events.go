package orchestrator

import (
	"sync"
	"time"

	"intelligence-control-plane/internal/registry"
)

// CompletionEvent describes one finished dispatch, successful or not.
type CompletionEvent struct {
	Service   string
	RequestID string
	Duration  time.Duration
	Error     string
}

// HealthEvent fires when a periodic probe reports a non-healthy state.
type HealthEvent struct {
	Service    string
	Definition registry.ServiceDefinition
	State      registry.HealthState
}

// Events holds explicitly registered listeners per event category. Listeners
// run synchronously on the emitting goroutine and must not block.
type Events struct {
	mu                sync.RWMutex
	requestCompleted  []func(CompletionEvent)
	requestFailed     []func(CompletionEvent)
	serviceUnhealthy  []func(HealthEvent)
	serviceRegistered []func(registry.ServiceDefinition)
	shutdownStarted   []func()
	shutdownCompleted []func()
}

func NewEvents() *Events {
	return &Events{}
}

func (e *Events) OnRequestCompleted(fn func(CompletionEvent)) {
	e.mu.Lock()
	e.requestCompleted = append(e.requestCompleted, fn)
	e.mu.Unlock()
}

func (e *Events) OnRequestFailed(fn func(CompletionEvent)) {
	e.mu.Lock()
	e.requestFailed = append(e.requestFailed, fn)
	e.mu.Unlock()
}

func (e *Events) OnServiceUnhealthy(fn func(HealthEvent)) {
	e.mu.Lock()
	e.serviceUnhealthy = append(e.serviceUnhealthy, fn)
	e.mu.Unlock()
}

func (e *Events) OnServiceRegistered(fn func(registry.ServiceDefinition)) {
	e.mu.Lock()
	e.serviceRegistered = append(e.serviceRegistered, fn)
	e.mu.Unlock()
}

func (e *Events) OnShutdownStarted(fn func()) {
	e.mu.Lock()
	e.shutdownStarted = append(e.shutdownStarted, fn)
	e.mu.Unlock()
}

func (e *Events) OnShutdownCompleted(fn func()) {
	e.mu.Lock()
	e.shutdownCompleted = append(e.shutdownCompleted, fn)
	e.mu.Unlock()
}

func (e *Events) emitRequestCompleted(ev CompletionEvent) {
	e.mu.RLock()
	listeners := e.requestCompleted
	e.mu.RUnlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

func (e *Events) emitRequestFailed(ev CompletionEvent) {
	e.mu.RLock()
	listeners := e.requestFailed
	e.mu.RUnlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

func (e *Events) emitServiceUnhealthy(ev HealthEvent) {
	e.mu.RLock()
	listeners := e.serviceUnhealthy
	e.mu.RUnlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

func (e *Events) emitServiceRegistered(def registry.ServiceDefinition) {
	e.mu.RLock()
	listeners := e.serviceRegistered
	e.mu.RUnlock()
	for _, fn := range listeners {
		fn(def)
	}
}

func (e *Events) emitShutdownStarted() {
	e.mu.RLock()
	listeners := e.shutdownStarted
	e.mu.RUnlock()
	for _, fn := range listeners {
		fn()
	}
}

func (e *Events) emitShutdownCompleted() {
	e.mu.RLock()
	listeners := e.shutdownCompleted
	e.mu.RUnlock()
	for _, fn := range listeners {
		fn()
	}
}
