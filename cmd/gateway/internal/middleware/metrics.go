package middleware

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/marcelojorasoe/skills-getting-started-with-github-copilot/internal/metrics"
)

// MetricsMiddleware records request counts and latency per route and logs
// each completed request.
type MetricsMiddleware struct {
	logger *zap.Logger
}

// NewMetricsMiddleware creates a new metrics middleware
func NewMetricsMiddleware(logger *zap.Logger) *MetricsMiddleware {
	return &MetricsMiddleware{logger: logger}
}

// Middleware returns the HTTP middleware function
func (mm *MetricsMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := newResponseRecorder(w, false)
		next.ServeHTTP(rec, r)

		route := routeOf(r)
		elapsed := time.Since(start)
		metrics.RecordHTTPRequest(r.Method, route, strconv.Itoa(rec.statusCode), elapsed.Seconds())

		mm.logger.Info("Request completed",
			zap.String("trace_id", TraceIDFromContext(r.Context())),
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", rec.statusCode),
			zap.Duration("duration", elapsed),
		)
	})
}
