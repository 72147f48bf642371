package metricsx

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "service_dispatch_total",
			Help: "Total dispatched requests by target service and outcome.",
		},
		[]string{"service", "outcome"},
	)
	dispatchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "service_dispatch_duration_seconds",
			Help:    "Backend dispatch latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service"},
	)
	activeRequests = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "service_active_requests",
			Help: "In-flight requests per backing service.",
		},
		[]string{"service"},
	)
	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "service_queue_depth",
			Help: "Queued waiters per backing service.",
		},
		[]string{"service"},
	)
	rateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_rate_limited_total",
			Help: "Total requests rejected by the rate limiter.",
		},
	)
	authFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_auth_failures_total",
			Help: "Total authentication/authorization rejections.",
		},
	)
)

func Register() {
	prometheus.MustRegister(httpRequests, httpLatency, dispatches, dispatchLatency, activeRequests, queueDepth, rateLimited, authFailures)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lrw, r)
		status := strconv.Itoa(lrw.statusCode)
		httpRequests.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		httpLatency.WithLabelValues(r.Method, r.URL.Path, status).Observe(time.Since(start).Seconds())
	})
}

func IncDispatch(service string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	dispatches.WithLabelValues(service, outcome).Inc()
}

func ObserveDispatchLatency(service string, d time.Duration) {
	dispatchLatency.WithLabelValues(service).Observe(d.Seconds())
}

func SetActiveRequests(service string, n int) {
	activeRequests.WithLabelValues(service).Set(float64(n))
}

func SetQueueDepth(service string, n int) {
	queueDepth.WithLabelValues(service).Set(float64(n))
}

func IncRateLimited() {
	rateLimited.Inc()
}

func IncAuthFailure() {
	authFailures.Inc()
}

type statusResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
