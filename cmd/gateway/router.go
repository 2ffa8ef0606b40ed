package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/marcelojorasoe/skills-getting-started-with-github-copilot/cmd/gateway/internal/handlers"
	"github.com/marcelojorasoe/skills-getting-started-with-github-copilot/cmd/gateway/internal/middleware"
	"github.com/marcelojorasoe/skills-getting-started-with-github-copilot/internal/health"
	"github.com/marcelojorasoe/skills-getting-started-with-github-copilot/internal/registry"
	"github.com/marcelojorasoe/skills-getting-started-with-github-copilot/internal/streaming"
)

type routerDeps struct {
	registry  *registry.Registry
	stream    *streaming.Manager
	health    *health.Manager
	redis     *redis.Client        // nil disables idempotency keys
	audit     handlers.EventLister // nil disables the history route
	staticDir string
	logger    *zap.Logger
}

// newRouter builds the gateway handler. Middleware wraps each route rather
// than the mux so the matched pattern is known when spans and metrics are
// labelled.
func newRouter(d routerDeps) http.Handler {
	var cache redis.UniversalClient
	if d.redis != nil {
		cache = d.redis
	}

	rootHandler := handlers.NewRootHandler(d.staticDir, d.logger)
	activityHandler := handlers.NewActivityHandler(d.registry, d.logger)
	eventsHandler := handlers.NewEventsHandler(d.stream, d.logger)
	healthHandler := health.NewHTTPHandler(d.health, d.logger)

	tracingMiddleware := middleware.NewTracingMiddleware(d.logger).Middleware
	metricsMiddleware := middleware.NewMetricsMiddleware(d.logger).Middleware
	idempotencyMiddleware := middleware.NewIdempotencyMiddleware(cache, d.logger).Middleware

	observed := func(h http.Handler) http.Handler {
		return tracingMiddleware(metricsMiddleware(h))
	}

	mux := http.NewServeMux()

	healthHandler.RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.Handle("GET /{$}", observed(http.HandlerFunc(rootHandler.Redirect)))
	mux.Handle("GET "+handlers.IndexPath, observed(http.HandlerFunc(rootHandler.Index)))
	mux.Handle("GET /static/", observed(
		http.StripPrefix("/static/", http.FileServer(http.Dir(d.staticDir))),
	))

	mux.Handle("GET /activities", observed(http.HandlerFunc(activityHandler.ListActivities)))
	mux.Handle("GET /activities/events", observed(http.HandlerFunc(eventsHandler.Stream)))
	mux.Handle("POST /activities/{name}/signup", observed(
		idempotencyMiddleware(http.HandlerFunc(activityHandler.Signup)),
	))
	mux.Handle("DELETE /activities/{name}/unregister", observed(
		idempotencyMiddleware(http.HandlerFunc(activityHandler.Unregister)),
	))
	if d.audit != nil {
		historyHandler := handlers.NewHistoryHandler(d.registry, d.audit, d.logger)
		mux.Handle("GET /activities/{name}/history", observed(http.HandlerFunc(historyHandler.GetHistory)))
	}

	return middleware.CORS(mux)
}
