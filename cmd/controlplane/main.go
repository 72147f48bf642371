package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"intelligence-control-plane/internal/catalog"
	"intelligence-control-plane/internal/gateway"
	"intelligence-control-plane/internal/hub"
	"intelligence-control-plane/internal/notify"
	"intelligence-control-plane/internal/orchestrator"
	"intelligence-control-plane/internal/registry"
	"intelligence-control-plane/internal/store"
	"intelligence-control-plane/shared/authx"
	"intelligence-control-plane/shared/cachex"
	"intelligence-control-plane/shared/config"
	"intelligence-control-plane/shared/events"
	"intelligence-control-plane/shared/httpx"
	"intelligence-control-plane/shared/influxx"
	"intelligence-control-plane/shared/logx"
	"intelligence-control-plane/shared/metricsx"
	"intelligence-control-plane/shared/mqx"
	"intelligence-control-plane/shared/observability"
)

type statusResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Env     string `json:"env,omitempty"`
	Version string `json:"version,omitempty"`
}

func main() {
	cfg, readyProblems := config.Load("control-plane", 8080)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)

	if cfg.OIDCIssuer == "" || cfg.OIDCAudience == "" {
		readyProblems = append(readyProblems,
			config.Problem{Field: "OIDC_ISSUER", Message: "OIDC_ISSUER and OIDC_AUDIENCE are required"})
		logger.Error(context.Background(), "config_invalid", "invalid config",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.Any("problems", readyProblems),
		)
		os.Exit(1)
	}

	if cfg.OtelEnabled {
		if shutdown, err := observability.InitTracer(context.Background(), observability.TracerConfig{
			ServiceName: cfg.ServiceName,
			Env:         cfg.Env,
			Endpoint:    cfg.OtelEndpoint,
			Insecure:    cfg.OtelInsecure,
			SampleRatio: cfg.OtelSampleRatio,
		}); err == nil {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	metricsx.Register()

	catalogPath := cfg.CatalogPath
	if catalogPath == "" {
		if p, err := catalog.DefaultPath(cfg.Env); err == nil {
			catalogPath = p
		}
	}
	doc, err := catalog.Load(catalogPath)
	if err != nil {
		logger.Error(context.Background(), "catalog_load_failed", "catalog load failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("path", catalogPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	reg := registry.New()
	orchEvents := orchestrator.NewEvents()
	orch := orchestrator.New(reg, orchestrator.NewHTTPTransport(), orchEvents, logger)
	for _, svc := range doc.Services {
		if err := orch.RegisterService(svc.Definition()); err != nil {
			logger.Error(context.Background(), "service_register_failed", "service registration failed",
				slog.String("error_code", "FAILED_PRECONDITION"),
				slog.String("service", svc.Name),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}
	if dangling := reg.ValidateDependencies(); len(dangling) > 0 {
		logger.Warn(context.Background(), "dangling_dependencies", "catalog declares unknown dependencies",
			slog.Any("problems", dangling),
		)
	}

	observe := hub.New(logger)
	if cfg.InfluxURL != "" {
		if influx, err := influxx.New(cfg); err != nil {
			logger.Warn(context.Background(), "influx_init_failed", "metric mirror disabled",
				slog.String("error", err.Error()))
		} else {
			defer influx.Close()
			observe.SetSink(influx)
		}
	}

	var enqueuer *notify.Enqueuer
	if cfg.AsynqEnabled && cfg.AsynqRedisAddr != "" {
		enqueuer = notify.NewEnqueuer(asynq.RedisClientOpt{
			Addr:     cfg.AsynqRedisAddr,
			Password: cfg.AsynqRedisPass,
			DB:       cfg.AsynqRedisDB,
		}, cfg.AsynqQueue)
		defer enqueuer.Close()
	}

	var producer *mqx.Producer
	if len(cfg.KafkaBrokers) > 0 {
		producer, err = mqx.NewProducer(cfg)
		if err != nil {
			logger.Warn(context.Background(), "kafka_init_failed", "event export disabled",
				slog.String("error", err.Error()))
		} else {
			defer producer.Close()
		}
	}
	// publish runs on dispatch listeners and hooks, which fire synchronously
	// on the request path; the broker round-trip happens off it.
	publish := func(topic string, requestID string, eventType string, payload any) {
		if producer == nil {
			return
		}
		env, err := events.New(cfg.ServiceName, requestID, eventType, payload)
		if err != nil {
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := producer.PublishEnvelope(ctx, topic, env); err != nil {
				logger.Warn(ctx, "event_publish_failed", "event publish failed",
					slog.String("topic", topic),
					slog.String("error", err.Error()),
				)
			}
		}()
	}

	orchEvents.OnRequestCompleted(func(ev orchestrator.CompletionEvent) {
		publish(events.TopicRequestCompletions, ev.RequestID, events.EventRequestCompleted, ev)
	})
	orchEvents.OnRequestFailed(func(ev orchestrator.CompletionEvent) {
		publish(events.TopicRequestCompletions, ev.RequestID, events.EventRequestFailed, ev)
	})
	orchEvents.OnServiceUnhealthy(func(ev orchestrator.HealthEvent) {
		publish(events.TopicServiceHealth, "", events.EventServiceUnhealthy, map[string]any{
			"service": ev.Service,
			"state":   string(ev.State),
		})
	})

	observe.AlertHook = func(a hub.Alert) {
		if enqueuer != nil {
			if err := enqueuer.Enqueue(a); err != nil {
				logger.Warn(context.Background(), "alert_enqueue_failed", "alert notification enqueue failed",
					slog.String("alert_id", a.ID),
					slog.String("error", err.Error()),
				)
			}
		}
		publish(events.TopicAlerts, "", events.EventAlertRaised, a)
	}

	for _, svc := range doc.Services {
		publish(events.TopicServiceHealth, "", events.EventServiceRegistered, map[string]any{
			"service": svc.Name,
			"type":    svc.Type,
			"version": svc.Version,
		})
	}

	verifier, err := authx.NewJWTVerifier(cfg.OIDCIssuer, cfg.OIDCAudience, cfg.OIDCJWKSURL, cfg.JWKSTTLSeconds, cfg.JWTClockSkewSec)
	if err != nil {
		logger.Error(context.Background(), "verifier_init_failed", "JWT verifier init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	var gwOpts []gateway.Option
	if cfg.RedisAddr != "" {
		if cache, err := cachex.New(cfg); err != nil {
			logger.Warn(context.Background(), "redis_init_failed", "session revocation disabled",
				slog.String("error", err.Error()))
		} else {
			defer cache.Close()
			gwOpts = append(gwOpts, gateway.WithRevocationChecker(cache))
		}
	}
	if cfg.AuditEnabled && cfg.DatabaseURL != "" {
		if pool, err := store.NewPool(cfg); err != nil {
			logger.Warn(context.Background(), "db_init_failed", "durable audit sink disabled",
				slog.String("error", err.Error()))
		} else {
			defer pool.Close()
			gwOpts = append(gwOpts, gateway.WithAuditSink(store.NewAuditRepo(pool)))
		}
	}
	if cfg.ResponseCryptKey != "" {
		enc, err := gateway.NewResponseEncoder(cfg.ResponseCryptKey)
		if err != nil {
			logger.Error(context.Background(), "crypt_init_failed", "response encryption key invalid",
				slog.String("error_code", "FAILED_PRECONDITION"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
		gwOpts = append(gwOpts, gateway.WithResponseEncoder(enc))
	}

	routes := gateway.NewRouteTable()
	for _, route := range doc.Routes {
		if err := routes.Add(route.Mapping()); err != nil {
			logger.Error(context.Background(), "route_register_failed", "route registration failed",
				slog.String("error_code", "FAILED_PRECONDITION"),
				slog.String("pattern", route.Pattern),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	gw := gateway.New(routes, orch, observe, verifier, logger, gwOpts...)
	gw.AuditHook = func(entry gateway.AuditEntry) {
		publish(events.TopicAuditEntries, entry.RequestID, events.EventAuditEntry, entry)
	}

	monitor := orchestrator.NewMonitor(reg, orchestrator.NewHTTPProbe(),
		time.Duration(cfg.HealthIntervalSec)*time.Second, orchEvents, logger)
	monitor.Recorder = func(service string, res orchestrator.ProbeResult) {
		check := hub.HealthCheck{
			Status:         string(res.State),
			Timestamp:      time.Now().UTC(),
			ResponseTimeMS: res.ResponseTimeMS,
			Error:          res.Error,
		}
		for _, sub := range res.Checks {
			check.Checks = append(check.Checks, hub.CheckResult{Name: sub.Name, Status: sub.Status})
		}
		observe.RecordHealthCheck(service, check)
	}
	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	defer stopMonitor()
	go monitor.Run(monitorCtx)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, statusResponse{
			Status:  "ok",
			Service: cfg.ServiceName,
			Env:     cfg.Env,
			Version: version,
		})
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if len(readyProblems) > 0 {
			httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status":   "not_ready",
				"problems": readyProblems,
			})
			return
		}
		httpx.WriteJSON(w, http.StatusOK, statusResponse{
			Status:  "ready",
			Service: cfg.ServiceName,
			Env:     cfg.Env,
			Version: version,
		})
	})
	mux.Handle("GET /metrics", metricsx.Handler())

	registerAdminRoutes(mux, gw, orch, observe)

	mux.Handle("/api/", gw)

	var handler http.Handler = mux
	handler = metricsx.Instrument(handler)
	handler = httpx.WithRequestLog(logger, httpx.RequestLogOptions{SkipPaths: map[string]bool{
		"/healthz": true,
		"/metrics": true,
	}}, handler)
	handler = httpx.WithRequestID(handler)
	handler = httpx.WithRecover(logger, handler)
	if cfg.OtelEnabled {
		handler = otelhttp.NewHandler(handler, "http.server")
	}

	server := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.HTTPPort)),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "service_start", "starting control plane",
			slog.String("addr", server.Addr),
			slog.Int("services", len(doc.Services)),
			slog.Int("routes", len(doc.Routes)),
			slog.String("log_level", cfg.LogLevel),
		)
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info(context.Background(), "shutdown_signal", "received signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "server_failed", "server failed",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	stopMonitor()

	grace := time.Duration(cfg.ShutdownGraceSec) * time.Second
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), grace)
	defer cancelDrain()
	if err := orch.Shutdown(drainCtx); err != nil {
		logger.Warn(context.Background(), "drain_incomplete", "in-flight requests not fully drained",
			slog.String("error", err.Error()),
		)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(context.Background(), "shutdown_failed", "shutdown failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
	}
	logger.Info(context.Background(), "service_stop", "control plane stopped")
}
