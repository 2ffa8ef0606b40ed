package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/marcelojorasoe/skills-getting-started-with-github-copilot/internal/tracing"
)

type contextKey string

const (
	traceIDKey contextKey = "trace_id"
	spanIDKey  contextKey = "span_id"
)

// TraceIDFromContext returns the request trace id set by TracingMiddleware
func TraceIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(traceIDKey).(string)
	return v
}

// TracingMiddleware starts a server span per request and exposes its ids as
// X-Trace-ID and X-Span-ID. With tracing disabled the ids are generated locally.
type TracingMiddleware struct {
	logger *zap.Logger
}

// NewTracingMiddleware creates a new tracing middleware
func NewTracingMiddleware(logger *zap.Logger) *TracingMiddleware {
	return &TracingMiddleware{
		logger: logger,
	}
}

// Middleware returns the HTTP middleware function
func (tm *TracingMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := tracing.Extract(r.Context(), r.Header)
		ctx, span := tracing.StartHTTPSpan(ctx, r.Method, routeOf(r))
		defer span.End()

		traceID, spanID := "", ""
		if sc := span.SpanContext(); sc.IsValid() {
			traceID, spanID = sc.TraceID().String(), sc.SpanID().String()
		} else {
			traceID = tm.extractTraceID(r)
			if traceID == "" {
				traceID = tm.generateTraceID()
			}
			spanID = tm.generateSpanID()
		}

		ctx = context.WithValue(ctx, traceIDKey, traceID)
		ctx = context.WithValue(ctx, spanIDKey, spanID)

		w.Header().Set("X-Trace-ID", traceID)
		w.Header().Set("X-Span-ID", spanID)

		tm.logger.Debug("Request received",
			zap.String("trace_id", traceID),
			zap.String("span_id", spanID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
		)

		rec := newResponseRecorder(w, false)
		next.ServeHTTP(rec, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.response.status_code", rec.statusCode))
		if rec.statusCode >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(rec.statusCode))
		}
	})
}

// extractTraceID extracts trace ID from request headers
func (tm *TracingMiddleware) extractTraceID(r *http.Request) string {
	if traceID, _, _, ok := tracing.ParseTraceparent(r.Header.Get("traceparent")); ok {
		return traceID
	}
	if traceID := r.Header.Get("X-Trace-ID"); traceID != "" {
		return traceID
	}
	if requestID := r.Header.Get("X-Request-ID"); requestID != "" {
		return requestID
	}
	return ""
}

func (tm *TracingMiddleware) generateTraceID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

func (tm *TracingMiddleware) generateSpanID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:16]
}
