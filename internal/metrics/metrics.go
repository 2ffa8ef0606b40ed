package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Membership metrics
	Signups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activities_signups_total",
			Help: "Total number of signup attempts",
		},
		[]string{"activity", "result"},
	)

	Unregistrations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activities_unregistrations_total",
			Help: "Total number of unregister attempts",
		},
		[]string{"activity", "result"},
	)

	Participants = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "activities_participants",
			Help: "Current roster size per activity",
		},
		[]string{"activity"},
	)

	CatalogReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activities_catalog_reloads_total",
			Help: "Total number of catalog reload attempts",
		},
		[]string{"status"},
	)

	// HTTP metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activities_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "activities_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	IdempotencyHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "activities_idempotency_hits_total",
			Help: "Responses replayed from the idempotency cache",
		},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "activities_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// Audit log metrics
	AuditWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activities_audit_writes_total",
			Help: "Membership events written to the audit log",
		},
		[]string{"status"},
	)

	AuditQueueDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "activities_audit_queue_dropped_total",
			Help: "Membership events dropped because the write queue was full",
		},
	)

	// Stream metrics
	StreamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "activities_stream_subscribers",
			Help: "Open membership event stream subscriptions",
		},
	)
)

// Result labels
const (
	ResultSuccess      = "success"
	ResultNotFound     = "not_found"
	ResultInvalidState = "invalid_state"
)

// UnknownActivity replaces the activity label for names that do not exist so
// arbitrary path values cannot create new series.
const UnknownActivity = "unknown"

// RecordSignup records a signup attempt
func RecordSignup(activity, result string) {
	if result == ResultNotFound {
		activity = UnknownActivity
	}
	Signups.WithLabelValues(activity, result).Inc()
}

// RecordUnregister records an unregister attempt
func RecordUnregister(activity, result string) {
	if result == ResultNotFound {
		activity = UnknownActivity
	}
	Unregistrations.WithLabelValues(activity, result).Inc()
}

// SetParticipants sets the roster size gauge for activity
func SetParticipants(activity string, n int) {
	Participants.WithLabelValues(activity).Set(float64(n))
}

// RecordHTTPRequest records a completed HTTP request
func RecordHTTPRequest(method, route, code string, durationSeconds float64) {
	HTTPRequests.WithLabelValues(method, route, code).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(durationSeconds)
}
