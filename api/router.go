// Package api serves the worker's operational endpoints.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/mediapipe/api/handlers"
	"github.com/angelmondragon/mediapipe/api/middleware"
	"github.com/angelmondragon/mediapipe/pkg/config"
	"github.com/angelmondragon/mediapipe/pkg/logger"
)

// NewRouter wires /healthz, /readyz and /metrics.
func NewRouter(cfg *config.Config, logg *logger.Logger, gatherer prometheus.Gatherer, deps map[string]handlers.Pinger) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Get("/healthz", handlers.Healthz(cfg))
	r.Get("/readyz", handlers.Readyz(cfg, logg, deps))
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return r
}
