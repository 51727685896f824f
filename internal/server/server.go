// Package server assembles the HTTP surface of the scrape worker.
package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scrapepanel/scrape-jobs/internal/api"
	"github.com/scrapepanel/scrape-jobs/internal/metrics"
	"github.com/scrapepanel/scrape-jobs/internal/queue"
)

// Deps are the components the HTTP handlers operate on.
type Deps struct {
	Version    string
	DeadLetter queue.Queue
	Replayer   api.Replayer
	Targets    api.TargetResolver
	Health     map[string]api.HealthCheck
}

// NewRouter creates and configures the HTTP router with all routes.
func NewRouter(deps Deps, logger *slog.Logger, cfg Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)
	r.Use(api.RequestID)
	r.Use(api.RequestLogger(logger))
	r.Use(api.ValidateContentType)

	// Optional API key authentication
	if cfg.APIKey != "" {
		r.Use(api.KeyAuth(cfg.APIKey, "/metrics", "/v1/health"))
	}

	// Prometheus metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	systemHandler := api.NewSystemHandler(deps.Version, deps.Health)
	deadLetterHandler := api.NewDeadLetterHandler(deps.DeadLetter, deps.Replayer, deps.Targets)

	r.Get("/v1/health", systemHandler.Health)

	r.Route("/v1/dead-letter", func(r chi.Router) {
		r.Get("/", deadLetterHandler.List)
		r.Post("/replay", deadLetterHandler.ReplayAll)
		r.Get("/{id}", deadLetterHandler.Get)
		r.Post("/{id}/replay", deadLetterHandler.Replay)
		r.Delete("/{id}", deadLetterHandler.Delete)
	})

	return r
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		duration := time.Since(start).Seconds()
		path := metricRoutePattern(r)
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, fmt.Sprintf("%d", ww.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, path, fmt.Sprintf("%d", ww.Status())).Observe(duration)
	})
}

func metricRoutePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
