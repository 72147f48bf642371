package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"intelligence-control-plane/internal/gateway"
	"intelligence-control-plane/internal/hub"
	"intelligence-control-plane/internal/orchestrator"
	"intelligence-control-plane/shared/httpx"
)

// Admin surface: internal read interfaces plus route management. Assumed to
// be reachable only from inside the deployment perimeter.
func registerAdminRoutes(mux *http.ServeMux, gw *gateway.Gateway, orch *orchestrator.Orchestrator, observe *hub.Hub) {
	mux.HandleFunc("GET /admin/services", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, orch.Status())
	})

	mux.HandleFunc("GET /admin/audit", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := gateway.AuditFilter{
			UserID:     q.Get("user_id"),
			PathPrefix: q.Get("path"),
		}
		if v := q.Get("status"); v != "" {
			filter.StatusCode, _ = strconv.Atoi(v)
		}
		if v := q.Get("since"); v != "" {
			if ts, err := time.Parse(time.RFC3339, v); err == nil {
				filter.Since = ts
			}
		}
		if v := q.Get("limit"); v != "" {
			filter.Limit, _ = strconv.Atoi(v)
		}
		httpx.WriteJSON(w, http.StatusOK, gw.AuditEntries(filter))
	})

	mux.HandleFunc("GET /admin/rate-limits", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, gw.RateLimitStatus(r.URL.Query().Get("identifier")))
	})

	mux.HandleFunc("GET /admin/routes", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, gw.Routes())
	})

	mux.HandleFunc("POST /admin/routes", func(w http.ResponseWriter, r *http.Request) {
		var route gateway.RouteMapping
		if err := decodeJSON(r, &route); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid route document")
			return
		}
		if err := gw.AddRoute(route); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		httpx.WriteJSON(w, http.StatusCreated, route)
	})

	mux.HandleFunc("DELETE /admin/routes", func(w http.ResponseWriter, r *http.Request) {
		method := r.URL.Query().Get("method")
		pattern := r.URL.Query().Get("pattern")
		if !gw.RemoveRoute(method, pattern) {
			httpx.WriteError(w, http.StatusNotFound, "route not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /admin/overview", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, observe.SystemOverview())
	})

	mux.HandleFunc("GET /admin/alerts", func(w http.ResponseWriter, r *http.Request) {
		resolved := r.URL.Query().Get("resolved") == "true"
		httpx.WriteJSON(w, http.StatusOK, observe.GetAlerts(resolved))
	})

	mux.HandleFunc("POST /admin/alerts/{id}/resolve", func(w http.ResponseWriter, r *http.Request) {
		if !observe.ResolveAlert(r.PathValue("id")) {
			httpx.WriteError(w, http.StatusNotFound, "alert not found or already resolved")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /admin/logs", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))
		httpx.WriteJSON(w, http.StatusOK, observe.GetLogs(q.Get("level"), q.Get("service"), limit))
	})

	mux.HandleFunc("GET /admin/metrics/export", func(w http.ResponseWriter, r *http.Request) {
		format := r.URL.Query().Get("format")
		if format == "" {
			format = "json"
		}
		out, err := observe.ExportMetrics(format)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		if format == "json" {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
		} else {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(out)
	})

	mux.HandleFunc("GET /admin/metrics/aggregate", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		name := q.Get("name")
		agg := q.Get("agg")
		if agg == "" {
			agg = "avg"
		}
		var since time.Duration
		if v := q.Get("since"); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				since = d
			}
		}
		value, err := observe.GetAggregatedMetrics(name, agg, since)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"name":        name,
			"aggregation": agg,
			"value":       value,
		})
	})

	mux.HandleFunc("GET /admin/health-checks", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, observe.HealthChecks())
	})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
