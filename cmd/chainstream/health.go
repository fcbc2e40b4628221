package main

import (
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/chainstream/internal/connection"
)

// newHTTPHandler serves Prometheus metrics and a health summary.
func newHTTPHandler(a *app, reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		// Check connection
		state := a.conn.State()
		health.Components["connection"] = map[string]any{
			"state":     state.String(),
			"attempts":  a.conn.Attempts(),
			"client_id": a.conn.ClientID().String(),
		}
		if state != connection.StateConnected {
			health.Status = "degraded"
		}

		health.Components["subscriptions"] = map[string]any{
			"active": a.subs.Count(),
			"gaps":   len(a.subs.GapRecords()),
		}

		// Check database
		if a.pool != nil {
			if err := a.pool.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["postgres"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["postgres"] = "connected"
			}
		}

		// Check relay
		if a.nc != nil {
			health.Components["nats"] = a.nc.Status().String()
			if !a.nc.IsConnected() && health.Status == "healthy" {
				health.Status = "degraded"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(health)
	})

	return mux
}
